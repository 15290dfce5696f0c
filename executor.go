// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ucp

import (
	"context"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/kont"
)

// Executor interleaves protocols on the calling goroutine over one worker.
//
// Each round progresses the worker, then advances only the tasks whose
// waker fired since their last suspension. When no task moves and the
// worker reports no completion, the executor backs off with iox.Backoff.
// An Executor is not safe for concurrent use.
type Executor struct {
	w     *Worker
	tasks []runnable
}

// runnable is the type-erased view of a Task.
type runnable interface {
	run() (done, moved bool)
	discard()
}

// NewExecutor creates an executor driving w.
func NewExecutor(w *Worker) *Executor {
	return &Executor{w: w}
}

// Len returns the number of unfinished tasks.
func (ex *Executor) Len() int {
	return len(ex.tasks)
}

// Serial identifies a task within the process.
type Serial = uint32

var taskSerial atomix.Uint32

// Task is a protocol spawned on an Executor.
type Task[R any] struct {
	serial Serial
	susp   *Suspension[R]
	result R
	woken  atomix.Uint32
	done   atomix.Uint32
}

// Spawn steps protocol to its first await and queues it on ex.
// A protocol that never awaits is done on return.
func Spawn[R any](ex *Executor, protocol kont.Expr[R]) *Task[R] {
	t := &Task[R]{serial: taskSerial.Add(1)}
	t.result, t.susp = Step[R](protocol)
	if t.susp == nil {
		t.done.Store(1)
		return t
	}
	t.woken.Store(1)
	ex.tasks = append(ex.tasks, t)
	return t
}

// Serial returns the task's serial number.
func (t *Task[R]) Serial() Serial {
	return t.serial
}

// Wake marks the task runnable. It is the task's Waker.
func (t *Task[R]) Wake() {
	t.woken.Store(1)
}

// Done reports whether the protocol has completed.
func (t *Task[R]) Done() bool {
	return t.done.Load() != 0
}

// Result returns the protocol's result once Done.
func (t *Task[R]) Result() (R, bool) {
	if !t.Done() {
		var zero R
		return zero, false
	}
	return t.result, true
}

func (t *Task[R]) run() (done, moved bool) {
	if !t.woken.CompareAndSwap(1, 0) {
		return false, false
	}
	for {
		result, next, err := Advance(t, t.susp)
		if err != nil {
			return false, moved
		}
		moved = true
		t.result, t.susp = result, next
		if next == nil {
			t.done.Store(1)
			return true, true
		}
	}
}

func (t *Task[R]) discard() {
	Discard(t.susp)
	t.susp = nil
}

// Run drives every task to completion. If ctx is done first, Run returns
// ctx.Err() and the unfinished tasks stay queued; call Run again or
// Discard them.
func (ex *Executor) Run(ctx context.Context) error {
	var bo iox.Backoff
	for len(ex.tasks) > 0 {
		progress := ex.w.Progress() > 0
		live := ex.tasks[:0]
		for _, t := range ex.tasks {
			done, moved := t.run()
			if moved {
				progress = true
			}
			if !done {
				live = append(live, t)
			}
		}
		clear(ex.tasks[len(live):])
		ex.tasks = live
		if progress {
			bo.Reset()
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		bo.Wait()
	}
	return nil
}

// Discard drops every unfinished task, releasing the requests they await.
func (ex *Executor) Discard() {
	for _, t := range ex.tasks {
		t.discard()
	}
	clear(ex.tasks)
	ex.tasks = ex.tasks[:0]
}
