// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ucp

import (
	"code.hybscloud.com/kont"
)

// box carries a protocol result through kont's erased evaluator, which
// cannot complete with a nil interface value such as a nil error.
type box[R any] struct {
	v R
}

func boxExpr[R any](protocol kont.Expr[R]) kont.Expr[box[R]] {
	return kont.ExprMap(protocol, func(r R) box[R] { return box[R]{v: r} })
}

func boxEff[R any](protocol kont.Eff[R]) kont.Eff[box[R]] {
	return kont.Bind(protocol, func(r R) kont.Eff[box[R]] { return kont.Pure(box[R]{v: r}) })
}

// Suspension is a protocol paused at an await.
type Suspension[R any] = kont.Suspension[box[R]]

// Step evaluates a protocol until the first await.
// Returns (result, nil) on completion, or (zero, suspension) if pending.
func Step[R any](protocol kont.Expr[R]) (R, *Suspension[R]) {
	result, susp := kont.StepExpr(boxExpr(protocol))
	return result.v, susp
}

// Advance polls the request the suspension awaits, registering wk for
// wakeup. It never drives the worker: completion requires its Progress.
//
// On success (nil error), the suspension is consumed and the protocol
// advances to the next await or completion.
// On iox.ErrWouldBlock, the suspension is unconsumed and wk will be woken
// once the request completes.
func Advance[R any](wk Waker, susp *Suspension[R]) (R, *Suspension[R], error) {
	aop, ok := susp.Op().(awaitDispatcher)
	if !ok {
		panic("ucp: unhandled effect in Advance")
	}
	v, err := aop.DispatchAwait(wk)
	if err != nil {
		var zero R
		return zero, susp, err
	}
	result, next := susp.Resume(v)
	return result.v, next, nil
}

// Discard drops a pending suspension and releases the request it awaits.
func Discard[R any](susp *Suspension[R]) {
	if aop, ok := susp.Op().(awaitDispatcher); ok {
		aop.ReleaseAwait()
	}
	susp.Discard()
}
