// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ucp bridges a completion-based communication transport to
// cooperative tasks built on [code.hybscloud.com/kont].
//
// The transport reports each operation either as an immediate status or
// as an in-flight handle ([StatusPtr]) whose completion is observed only
// while its [Worker] is progressed. A [Request] wraps one such handle,
// polls it through a per-operation [CompletionPoller], and returns it to
// the transport exactly once.
//
// # Architecture
//
//   - Transport: the native layer behind the [Transport] interface. [Loopback] is an in-process implementation.
//   - Ownership: a [Registry] owns workers. Endpoints, listeners and in-flight requests lease their worker.
//   - Non-blocking: [Request.Poll] returns [code.hybscloud.com/iox.ErrWouldBlock] while pending and registers a [Waker].
//   - Wakeups: the worker keeps a side table from handle to waker, fired by [Worker.Progress]. Last registration wins.
//   - Errors: connection failures are [*EndpointError]; operation failures resolve the Request, nothing is retried.
//
// # API Topologies
//
//   - Endpoints: [NewEndpoint], [Worker.Dial], [Worker.Listen], [Listener.Accept], [Endpoint.Close].
//   - Barrier: [Endpoint.Flush] blocks, [Endpoint.FlushBegin] is fire-and-forget.
//   - Operations: [Endpoint.Put], [Endpoint.Get], [Endpoint.TagSend], [Worker.TagRecv], [Endpoint.StreamSend], [Endpoint.StreamRecv].
//   - Cont-world: [AwaitBind], [AwaitThen], [AwaitDone], [AwaitMatch].
//   - Expr-world: [ExprAwaitBind], [ExprAwaitThen], [ExprAwaitDone], [ExprAwaitMatch]. Bridge via [Reify] and [Reflect].
//
// # Integration
//
//   - Stepping: [Step] and [Advance] evaluate a protocol one await at a time for an external event loop.
//   - Scheduling: [Executor] interleaves tasks on one goroutine and re-advances only woken tasks.
//   - Blocking: [Exec], [ExecExpr] and [Request.Wait] busy-poll the worker using adaptive backoff.
//
// # Example
//
//	reg := ucp.NewRegistry(ucp.NewLoopback())
//	w, _ := reg.NewWorker()
//	ep, _ := w.Dial(netip.MustParseAddrPort("10.0.0.2:13337"))
//	protocol := ucp.ExprAwaitMatch(ep.TagSend(msg, 7),
//		func(err error) kont.Expr[error] { return kont.ExprReturn(err) },
//		func(struct{}) kont.Expr[error] { return kont.ExprReturn[error](nil) },
//	)
//	ex := ucp.NewExecutor(w)
//	task := ucp.Spawn(ex, protocol)
//	_ = ex.Run(ctx)
//	err, _ := task.Result()
package ucp
