// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ucp_test

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/ucp"
)

func TestRequestSentinel(t *testing.T) {
	p := newPair(t)
	defer p.close(t)

	var poller countingPoller
	r := ucp.NewRequest[struct{}](p.w1, ucp.StatusPtrOf(ucp.StatusErrCanceled), &poller)
	if !r.Done() {
		t.Fatal("sentinel request should be resolved")
	}
	if _, err := r.Poll(nil); !errors.Is(err, ucp.StatusErrCanceled) {
		t.Fatalf("Poll: got %v, want %v", err, ucp.StatusErrCanceled)
	}
	r.Release()
	if poller.n != 0 {
		t.Fatalf("sentinel queried the transport %d times", poller.n)
	}
	if s := p.lb.Stats(); s.Allocated != 0 || s.Released != 0 {
		t.Fatalf("sentinel touched the transport: %+v", s)
	}
}

func TestRequestTerminalObservationIsCached(t *testing.T) {
	p := newPair(t)
	defer p.close(t)

	region := make([]byte, 4)
	addr, key := p.lb.Expose(region)
	var poller countingPoller
	r := ucp.NewRequest[struct{}](p.w1, p.lb.Put(p.client.Handle(), []byte("abcd"), addr, key), &poller)

	if _, err := r.Poll(nil); !iox.IsWouldBlock(err) {
		t.Fatalf("Poll before progress: got %v, want ErrWouldBlock", err)
	}
	if got := p.w1.Leases(); got != 2 {
		t.Fatalf("leases while pending: got %d, want 2", got)
	}
	p.w1.Progress()
	for range 3 {
		if _, err := r.Poll(nil); err != nil {
			t.Fatalf("Poll after progress: %v", err)
		}
	}
	if poller.n != 2 {
		t.Fatalf("transport queried %d times, want 2", poller.n)
	}
	if s := p.lb.Stats(); s.Released != 1 || s.Live != 0 {
		t.Fatalf("stats: %+v", s)
	}
	if got := p.w1.Leases(); got != 1 {
		t.Fatalf("leases after resolve: got %d, want 1", got)
	}
	if string(region) != "abcd" {
		t.Fatalf("region: got %q", region)
	}
}

func TestRequestReleasePending(t *testing.T) {
	p := newPair(t)
	defer p.close(t)

	region := make([]byte, 4)
	addr, key := p.lb.Expose(region)
	r := p.client.Put([]byte("wxyz"), addr, key)
	r.Release()
	r.Release()

	if _, err := r.Poll(nil); !errors.Is(err, ucp.ErrReleased) {
		t.Fatalf("Poll after Release: got %v, want ErrReleased", err)
	}
	if s := p.lb.Stats(); s.Released != 1 || s.Live != 1 {
		t.Fatalf("stats after Release: %+v", s)
	}
	// The operation still runs; its handle is freed on completion.
	p.w1.Progress()
	if s := p.lb.Stats(); s.Live != 0 {
		t.Fatalf("stats after progress: %+v", s)
	}
	if string(region) != "wxyz" {
		t.Fatalf("region: got %q", region)
	}
}

func TestRequestReleaseAfterResolve(t *testing.T) {
	p := newPair(t)
	defer p.close(t)

	region := make([]byte, 2)
	addr, key := p.lb.Expose(region)
	r := p.client.Put([]byte("hi"), addr, key)
	if _, err := await(t, p, r); err != nil {
		t.Fatalf("Put: %v", err)
	}
	r.Release()
	if _, err := r.Poll(nil); err != nil {
		t.Fatalf("Poll after resolve and Release: %v", err)
	}
	if s := p.lb.Stats(); s.Allocated != 1 || s.Released != 1 {
		t.Fatalf("stats: %+v", s)
	}
}

func TestRequestReleaseFromOwnWaker(t *testing.T) {
	p := newPair(t)
	defer p.close(t)

	r := p.client.TagSend([]byte("ping"), 1)
	woken := 0
	wk := ucp.WakerFunc(func() {
		woken++
		r.Release()
	})
	if _, err := r.Poll(wk); !iox.IsWouldBlock(err) {
		t.Fatalf("Poll: got %v, want ErrWouldBlock", err)
	}
	p.w1.Progress()
	if woken != 1 {
		t.Fatalf("woken %d times, want 1", woken)
	}
	if _, err := r.Poll(nil); !errors.Is(err, ucp.ErrReleased) {
		t.Fatalf("Poll: got %v, want ErrReleased", err)
	}
	if s := p.lb.Stats(); s.Released != 1 || s.Live != 0 {
		t.Fatalf("stats: %+v", s)
	}
}

func TestRequestCompletionBeforeRegister(t *testing.T) {
	p := newPair(t)
	defer p.close(t)

	var wc wakeCounter
	poller := countingPoller{between: func() { p.w1.Progress() }}
	r := ucp.NewRequest[struct{}](p.w1, p.lb.TagSend(p.client.Handle(), []byte("x"), 3), &poller)

	// The first query sees the send in flight; it completes before the
	// waker is registered, so only the second query can observe it.
	if _, err := r.Poll(&wc); err != nil {
		t.Fatalf("Poll: got %v, want nil", err)
	}
	if poller.n != 2 {
		t.Fatalf("transport queried %d times, want 2", poller.n)
	}
	if wc.n != 0 {
		t.Fatalf("waker fired %d times, want 0", wc.n)
	}
}

func TestRequestLastWakerWins(t *testing.T) {
	p := newPair(t)
	defer p.close(t)

	r := p.client.TagSend([]byte("x"), 3)
	var first, second wakeCounter
	if _, err := r.Poll(&first); !iox.IsWouldBlock(err) {
		t.Fatalf("Poll: %v", err)
	}
	if _, err := r.Poll(&second); !iox.IsWouldBlock(err) {
		t.Fatalf("Poll: %v", err)
	}
	p.w1.Progress()
	if first.n != 0 || second.n != 1 {
		t.Fatalf("wakeups: first %d, second %d", first.n, second.n)
	}
	// The registration is consumed by the wakeup.
	p.w1.Progress()
	if second.n != 1 {
		t.Fatalf("second woken %d times, want 1", second.n)
	}
	if _, err := r.Poll(nil); err != nil {
		t.Fatalf("Poll: %v", err)
	}
}

func TestRequestWait(t *testing.T) {
	p := newPair(t)
	defer p.close(t)

	region := make([]byte, 3)
	addr, key := p.lb.Expose(region)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := p.client.Put([]byte("abc"), addr, key).Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if string(region) != "abc" {
		t.Fatalf("region: got %q", region)
	}
}

func TestRequestWaitCanceled(t *testing.T) {
	p := newPair(t)
	defer p.close(t)

	// Nothing is ever sent with this tag.
	r := p.w2.TagRecv(make([]byte, 8), 99, ^ucp.Tag(0))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := r.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait: got %v, want DeadlineExceeded", err)
	}
	if !r.Done() {
		t.Fatal("request should be released")
	}
	if s := p.lb.Stats(); s.Released != 1 || s.Live != 0 {
		t.Fatalf("stats: %+v", s)
	}
}

func TestRequestDroppedIsReclaimed(t *testing.T) {
	p := newPair(t)
	defer p.close(t)

	func() {
		_ = p.client.TagSend([]byte("lost"), 5)
	}()
	deadline := time.Now().Add(5 * time.Second)
	for p.lb.Stats().Released == 0 {
		if time.Now().After(deadline) {
			t.Fatal("dropped request was never released")
		}
		runtime.GC()
		time.Sleep(time.Millisecond)
	}
	p.w1.Progress()
	if s := p.lb.Stats(); s.Released != 1 || s.Live != 0 {
		t.Fatalf("stats: %+v", s)
	}
}
