// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ucp

import (
	"code.hybscloud.com/kont"
)

// AwaitBind awaits r and passes its outcome to f.
// Fuses Perform(Await[T]{Request: r}) + Bind.
func AwaitBind[T, B any](r *Request[T], f func(kont.Either[error, T]) kont.Eff[B]) kont.Eff[B] {
	return kont.Bind(kont.Perform(Await[T]{Request: r}), f)
}

// AwaitThen awaits r, discards its outcome and continues with next.
// Fuses Perform(Await[T]{Request: r}) + Then.
func AwaitThen[T, B any](r *Request[T], next kont.Eff[B]) kont.Eff[B] {
	return kont.Then(kont.Perform(Await[T]{Request: r}), next)
}

// AwaitDone awaits r and returns its outcome.
func AwaitDone[T any](r *Request[T]) kont.Eff[kont.Either[error, T]] {
	return kont.Perform(Await[T]{Request: r})
}

// AwaitMatch awaits r and calls onErr or onOK.
// Fuses Perform(Await[T]{Request: r}) + Bind + Either branch.
func AwaitMatch[T, B any](r *Request[T], onErr func(error) kont.Eff[B], onOK func(T) kont.Eff[B]) kont.Eff[B] {
	return kont.Bind(kont.Perform(Await[T]{Request: r}), func(e kont.Either[error, T]) kont.Eff[B] {
		if err, ok := e.GetLeft(); ok {
			return onErr(err)
		}
		v, _ := e.GetRight()
		return onOK(v)
	})
}
