// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ucp

import (
	"code.hybscloud.com/iox"
	"code.hybscloud.com/kont"
)

// awaitHandler implements kont.Handler for await effects.
// Busy-polls the worker, converting non-blocking dispatch into blocking
// evaluation for Exec/ExecExpr.
// Value type: passed to evalFrames on the stack, avoiding heap allocation.
type awaitHandler[R any] struct {
	w *Worker
}

// Dispatch implements kont.Handler via structural interface assertion.
func (h awaitHandler[R]) Dispatch(op kont.Operation) (kont.Resumed, bool) {
	aop, ok := op.(awaitDispatcher)
	if !ok {
		panic("ucp: unhandled effect in awaitHandler")
	}
	return dispatchWait(h.w, aop), true
}

// dispatchWait polls until the request resolves, progressing w between
// polls and backing off with iox.Backoff while nothing completes.
func dispatchWait(w *Worker, aop awaitDispatcher) kont.Resumed {
	var bo iox.Backoff
	for {
		v, err := aop.DispatchAwait(nil)
		if err == nil {
			return v
		}
		if w.Progress() > 0 {
			bo.Reset()
			continue
		}
		bo.Wait()
	}
}

// Exec runs a Cont-world protocol on the calling goroutine, driving w's
// progress until every await resolves. Does not spawn goroutines.
func Exec[R any](w *Worker, protocol kont.Eff[R]) R {
	h := awaitHandler[box[R]]{w: w}
	return kont.Handle(boxEff(protocol), h).v
}

// ExecExpr runs an Expr-world protocol on the calling goroutine, driving
// w's progress until every await resolves. Does not spawn goroutines.
func ExecExpr[R any](w *Worker, protocol kont.Expr[R]) R {
	h := awaitHandler[box[R]]{w: w}
	return kont.HandleExpr(boxExpr(protocol), h).v
}
