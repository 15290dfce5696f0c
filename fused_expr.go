// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ucp

import (
	"code.hybscloud.com/kont"
)

// Pre-allocated return frame, avoiding a heap escape per constructor.
var exprReturnFrame kont.Frame = kont.ReturnFrame{}

// identityResume is the identity resume function for EffectFrame construction.
func identityResume(v kont.Erased) kont.Erased { return v }

func awaitBindUnwind[T, B any](data, _, _ kont.Erased, current kont.Erased) (kont.Erased, kont.Frame) {
	f := data.(func(kont.Either[error, T]) kont.Expr[B])
	result := f(current.(kont.Either[error, T]))
	return kont.Erased(result.Value), result.Frame
}

// ExprAwaitBind awaits r and passes its outcome to f.
// Fuses ExprPerform(Await[T]{Request: r}) + ExprBind.
func ExprAwaitBind[T, B any](r *Request[T], f func(kont.Either[error, T]) kont.Expr[B]) kont.Expr[B] {
	bf := kont.AcquireUnwindFrame()
	bf.Data1 = f
	bf.Unwind = awaitBindUnwind[T, B]
	ef := kont.AcquireEffectFrame()
	ef.Operation = Await[T]{Request: r}
	ef.Resume = identityResume
	ef.Next = bf
	return kont.ExprSuspend[B](ef)
}

// ExprAwaitThen awaits r, discards its outcome and continues with next.
// Fuses ExprPerform(Await[T]{Request: r}) + ExprThen.
func ExprAwaitThen[T, B any](r *Request[T], next kont.Expr[B]) kont.Expr[B] {
	tf := kont.AcquireThenFrame()
	tf.Second = kont.Expr[kont.Erased]{Value: kont.Erased(next.Value), Frame: next.Frame}
	tf.Next = exprReturnFrame
	ef := kont.AcquireEffectFrame()
	ef.Operation = Await[T]{Request: r}
	ef.Resume = identityResume
	ef.Next = tf
	return kont.ExprSuspend[B](ef)
}

// ExprAwaitDone awaits r and returns its outcome.
func ExprAwaitDone[T any](r *Request[T]) kont.Expr[kont.Either[error, T]] {
	return ExprAwaitBind(r, func(e kont.Either[error, T]) kont.Expr[kont.Either[error, T]] {
		return kont.ExprReturn(e)
	})
}

func awaitMatchUnwind[T, B any](data, data2, _ kont.Erased, current kont.Erased) (kont.Erased, kont.Frame) {
	onErr := data.(func(error) kont.Expr[B])
	onOK := data2.(func(T) kont.Expr[B])
	e := current.(kont.Either[error, T])
	var result kont.Expr[B]
	if err, ok := e.GetLeft(); ok {
		result = onErr(err)
	} else {
		v, _ := e.GetRight()
		result = onOK(v)
	}
	return kont.Erased(result.Value), result.Frame
}

// ExprAwaitMatch awaits r and calls onErr or onOK.
// Fuses ExprPerform(Await[T]{Request: r}) + ExprBind + Either branch.
func ExprAwaitMatch[T, B any](r *Request[T], onErr func(error) kont.Expr[B], onOK func(T) kont.Expr[B]) kont.Expr[B] {
	bf := kont.AcquireUnwindFrame()
	bf.Data1 = onErr
	bf.Data2 = onOK
	bf.Unwind = awaitMatchUnwind[T, B]
	ef := kont.AcquireEffectFrame()
	ef.Operation = Await[T]{Request: r}
	ef.Resume = identityResume
	ef.Next = bf
	return kont.ExprSuspend[B](ef)
}
