// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ucp

import (
	"code.hybscloud.com/iox"
	"code.hybscloud.com/kont"
)

// Await is the effect operation for suspending until a request resolves.
// Perform(Await[T]{Request: r}) resumes with Right(value) on success or
// Left(err) on failure.
type Await[T any] struct {
	kont.Phantom[kont.Either[error, T]]
	Request *Request[T]
}

// DispatchAwait polls the request once on behalf of the task woken by wk.
// Non-blocking: returns iox.ErrWouldBlock while the request is in flight.
func (a Await[T]) DispatchAwait(wk Waker) (kont.Resumed, error) {
	v, err := a.Request.Poll(wk)
	if err == nil {
		return kont.Right[error, T](v), nil
	}
	if iox.IsWouldBlock(err) {
		return nil, err
	}
	return kont.Left[error, T](err), nil
}

// ReleaseAwait releases the awaited request.
// Called when a task is discarded while suspended on it.
func (a Await[T]) ReleaseAwait() {
	a.Request.Release()
}

// awaitDispatcher is the structural interface of await operations.
type awaitDispatcher interface {
	DispatchAwait(wk Waker) (kont.Resumed, error)
	ReleaseAwait()
}
