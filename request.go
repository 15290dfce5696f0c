// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ucp

import (
	"context"
	"runtime"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
)

// Waker resumes the task awaiting a request.
type Waker interface {
	Wake()
}

// WakerFunc adapts a function to Waker.
type WakerFunc func()

// Wake calls f.
func (f WakerFunc) Wake() { f() }

// Request states.
const (
	requestPending uint32 = iota
	requestResolved
	requestReleased
)

// Request is the future of one transport operation.
//
// A Request owns exactly one native handle and returns it to the
// transport exactly once: when Poll first observes completion, when
// Release is called while pending, or, for a Request dropped without
// either, when the garbage collector reclaims it.
//
// A Request is driven by a single task at a time. Polling the same
// Request concurrently from several goroutines is not supported.
type Request[T any] struct {
	w       *Worker
	req     StatusPtr
	poller  CompletionPoller[T]
	state   atomix.Uint32
	value   T
	err     error
	cleanup runtime.Cleanup
}

// NewRequest wraps a handle returned by a transport operation initiated
// on w. Sentinel handles yield an already resolved Request that never
// touches the transport.
func NewRequest[T any](w *Worker, req StatusPtr, poller CompletionPoller[T]) *Request[T] {
	r := &Request[T]{w: w, req: req, poller: poller}
	if !req.IsPtr() {
		r.err = statusErr(req.Status())
		r.state.Store(requestResolved)
		return r
	}
	w.leases.Add(1)
	r.cleanup = runtime.AddCleanup(r, freeOrphan, orphan{w: w, req: req})
	return r
}

// orphan is what the cleanup of an unreachable Request needs to return
// its handle. It must not refer back to the Request.
type orphan struct {
	w   *Worker
	req StatusPtr
}

func freeOrphan(o orphan) {
	o.w.free(o.req)
}

// resolvedRequest returns a Request that failed before reaching the transport.
func resolvedRequest[T any](w *Worker, err error) *Request[T] {
	r := &Request[T]{w: w, req: StatusPtrOf(StatusOK), err: err}
	r.state.Store(requestResolved)
	return r
}

// Handle returns the native handle. It may be a sentinel.
func (r *Request[T]) Handle() StatusPtr {
	return r.req
}

// Done reports whether the Request has resolved or been released.
func (r *Request[T]) Done() bool {
	return r.state.Load() != requestPending
}

// Poll attempts to resolve the Request.
//
// It returns iox.ErrWouldBlock while the operation is in flight, after
// installing wk to be woken by the worker's progress once it completes.
// Only the most recent waker is honored. A nil wk polls without
// registering. Once resolved, Poll keeps returning the same result
// without querying the transport again.
func (r *Request[T]) Poll(wk Waker) (T, error) {
	switch r.state.Load() {
	case requestResolved:
		return r.value, r.err
	case requestReleased:
		var zero T
		return zero, ErrReleased
	}
	if v, err := r.poller.PollCompletion(r.w.t, r.req); !iox.IsWouldBlock(err) {
		return r.resolve(v, err)
	}
	if wk == nil {
		var zero T
		return zero, iox.ErrWouldBlock
	}
	r.w.register(r.req, wk)
	// A completion between the first query and the registration above
	// would never reach wk.
	if v, err := r.poller.PollCompletion(r.w.t, r.req); !iox.IsWouldBlock(err) {
		return r.resolve(v, err)
	}
	var zero T
	return zero, iox.ErrWouldBlock
}

func (r *Request[T]) resolve(v T, err error) (T, error) {
	if !r.state.CompareAndSwap(requestPending, requestResolved) {
		var zero T
		return zero, ErrReleased
	}
	r.value, r.err = v, err
	r.cleanup.Stop()
	r.w.free(r.req)
	return v, err
}

// Release drops the Request. A pending native operation is not canceled:
// it may still run to completion, its result discarded. Release is
// idempotent and safe to call from the Request's own waker.
func (r *Request[T]) Release() {
	if r.state.CompareAndSwap(requestPending, requestReleased) {
		r.cleanup.Stop()
		r.w.free(r.req)
	}
}

// Wait blocks until the Request resolves, driving the worker's progress
// and backing off with iox.Backoff while nothing completes. If ctx is
// done first, the Request is released and ctx.Err() returned.
func (r *Request[T]) Wait(ctx context.Context) (T, error) {
	var bo iox.Backoff
	for {
		v, err := r.Poll(nil)
		if !iox.IsWouldBlock(err) {
			return v, err
		}
		if err := ctx.Err(); err != nil {
			r.Release()
			var zero T
			return zero, err
		}
		if r.w.Progress() > 0 {
			bo.Reset()
			continue
		}
		bo.Wait()
	}
}
