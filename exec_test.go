// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ucp_test

import (
	"testing"

	"code.hybscloud.com/kont"
	"code.hybscloud.com/ucp"
)

// Exec and ExecExpr only progress the worker they are given, so these
// tests keep both ends of the exchange on one worker.

func TestExecAwaitBind(t *testing.T) {
	p := newPair(t)
	defer p.close(t)

	region := make([]byte, 5)
	addr, key := p.lb.Expose(region)
	protocol := ucp.AwaitBind(p.client.Put([]byte("hello"), addr, key),
		func(e kont.Either[error, struct{}]) kont.Eff[string] {
			if err, ok := e.GetLeft(); ok {
				return kont.Pure(err.Error())
			}
			return kont.Pure(string(region))
		},
	)
	if got := ucp.Exec(p.w1, protocol); got != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestExecAwaitThenMatch(t *testing.T) {
	p := newPair(t)
	defer p.close(t)

	buf := make([]byte, 4)
	protocol := ucp.AwaitThen(p.server.TagSend([]byte("loop"), 3),
		ucp.AwaitMatch(p.w1.TagRecv(buf, 3, ^ucp.Tag(0)),
			func(err error) kont.Eff[int] { return kont.Pure(-1) },
			func(info ucp.TagInfo) kont.Eff[int] { return kont.Pure(info.Length) },
		),
	)
	// The send runs on w2, the receive on w1.
	p.w2.Progress()
	if got := ucp.Exec(p.w1, protocol); got != 4 {
		t.Fatalf("got %d, want 4", got)
	}
	if string(buf) != "loop" {
		t.Fatalf("buf: got %q", buf)
	}
}

func TestExecAwaitDoneLeft(t *testing.T) {
	p := newPair(t)
	defer p.close(t)

	if err := p.client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	e := ucp.Exec(p.w1, ucp.AwaitDone(p.client.StreamSend([]byte("x"))))
	err, ok := e.GetLeft()
	if !ok || err != ucp.ErrEndpointClosed {
		t.Fatalf("got %v, want Left(ErrEndpointClosed)", e)
	}
}

func TestExecExpr(t *testing.T) {
	p := newPair(t)
	defer p.close(t)

	region := make([]byte, 3)
	addr, key := p.lb.Expose(region)
	got := make([]byte, 3)
	protocol := ucp.ExprAwaitThen(p.client.Put([]byte("abc"), addr, key),
		ucp.ExprAwaitBind(p.client.Get(got, addr, key),
			func(e kont.Either[error, struct{}]) kont.Expr[bool] {
				return kont.ExprReturn(!e.IsLeft())
			},
		),
	)
	if !ucp.ExecExpr(p.w1, protocol) {
		t.Fatal("Get failed")
	}
	if string(got) != "abc" {
		t.Fatalf("got %q, want %q", got, "abc")
	}
}

func TestReifyReflect(t *testing.T) {
	p := newPair(t)
	defer p.close(t)

	addr, key := p.lb.Expose(make([]byte, 1))
	eff := ucp.AwaitMatch(p.client.Put([]byte{1}, addr, key),
		func(error) kont.Eff[string] { return kont.Pure("failed") },
		func(struct{}) kont.Eff[string] { return kont.Pure("done") },
	)
	if got := ucp.ExecExpr(p.w1, ucp.Reify(eff)); got != "done" {
		t.Fatalf("Reify: got %q", got)
	}

	expr := ucp.ExprAwaitMatch(p.client.Put([]byte{2}, addr, key),
		func(error) kont.Expr[string] { return kont.ExprReturn("failed") },
		func(struct{}) kont.Expr[string] { return kont.ExprReturn("done") },
	)
	if got := ucp.Exec(p.w1, ucp.Reflect(expr)); got != "done" {
		t.Fatalf("Reflect: got %q", got)
	}
}

func TestExecUnhandledPanics(t *testing.T) {
	type bogus struct{ kont.Phantom[int] }

	reg := ucp.NewRegistry(ucp.NewLoopback())
	w, err := reg.NewWorker()
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic for unhandled effect")
		}
		msg, ok := r.(string)
		if !ok || msg != "ucp: unhandled effect in awaitHandler" {
			t.Fatalf("unexpected panic: %v", r)
		}
	}()
	ucp.Exec(w, kont.Perform(bogus{}))
}

// sendOK completes with a nil error once the send resolves.
func sendOK(ep *ucp.Endpoint) kont.Expr[error] {
	return ucp.ExprAwaitMatch(ep.TagSend([]byte("ok"), 8),
		func(err error) kont.Expr[error] { return kont.ExprReturn(err) },
		func(struct{}) kont.Expr[error] { return kont.ExprReturn[error](nil) },
	)
}

func TestNilInterfaceResult(t *testing.T) {
	p := newPair(t)
	defer p.close(t)

	if err := advanceAll(p, sendOK(p.client)); err != nil {
		t.Fatalf("Step+Advance: got %v, want nil", err)
	}
	if err := ucp.ExecExpr(p.w1, sendOK(p.client)); err != nil {
		t.Fatalf("ExecExpr: got %v, want nil", err)
	}
	if err := ucp.Exec(p.w1, ucp.Reflect(sendOK(p.client))); err != nil {
		t.Fatalf("Exec: got %v, want nil", err)
	}
	if err := ucp.ExecExpr(p.w1, kont.ExprReturn[error](nil)); err != nil {
		t.Fatalf("ExecExpr pure: got %v, want nil", err)
	}

	ex := ucp.NewExecutor(p.w1)
	task := ucp.Spawn(ex, sendOK(p.client))
	if err := ex.Run(t.Context()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err, ok := task.Result(); !ok || err != nil {
		t.Fatalf("Executor: got %v %v, want nil true", err, ok)
	}
	if s := p.lb.Stats(); s.Allocated != 4 || s.Live != 0 {
		t.Fatalf("stats: %+v", s)
	}
}
