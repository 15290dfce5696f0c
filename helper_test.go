// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ucp_test

import (
	"net/netip"
	"testing"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/kont"
	"code.hybscloud.com/ucp"
	"github.com/sirupsen/logrus"
)

var listenAddr = netip.MustParseAddrPort("127.0.0.1:13337")

// pair is a connected client/server over one loopback transport.
// The client endpoint lives on w1, the listener and accepted server
// endpoint on w2.
type pair struct {
	lb     *ucp.Loopback
	reg    *ucp.Registry
	w1, w2 *ucp.Worker
	ln     *ucp.Listener
	client *ucp.Endpoint
	server *ucp.Endpoint
}

func newPair(tb testing.TB, opts ...ucp.LoopbackOption) *pair {
	tb.Helper()
	p := &pair{lb: ucp.NewLoopback(opts...)}
	p.reg = ucp.NewRegistry(p.lb, ucp.WithLogLevel(logrus.PanicLevel))
	var err error
	if p.w1, err = p.reg.NewWorker(); err != nil {
		tb.Fatalf("NewWorker: %v", err)
	}
	if p.w2, err = p.reg.NewWorker(); err != nil {
		tb.Fatalf("NewWorker: %v", err)
	}
	if p.ln, err = p.w2.Listen(listenAddr); err != nil {
		tb.Fatalf("Listen: %v", err)
	}
	if p.client, err = p.w1.Dial(listenAddr); err != nil {
		tb.Fatalf("Dial: %v", err)
	}
	if p.server, err = p.ln.Accept(); err != nil {
		tb.Fatalf("Accept: %v", err)
	}
	return p
}

// progress drives both workers once.
func (p *pair) progress() int {
	return p.w1.Progress() + p.w2.Progress()
}

// close tears the pair down and closes both workers.
func (p *pair) close(tb testing.TB) {
	tb.Helper()
	_ = p.client.Close()
	_ = p.server.Close()
	_ = p.ln.Close()
	if err := p.reg.Close(); err != nil {
		tb.Fatalf("Registry.Close: %v", err)
	}
}

// await drives both workers until r resolves.
func await[T any](tb testing.TB, p *pair, r *ucp.Request[T]) (T, error) {
	tb.Helper()
	for range 1000 {
		v, err := r.Poll(nil)
		if !iox.IsWouldBlock(err) {
			return v, err
		}
		p.progress()
	}
	tb.Fatal("request did not resolve")
	panic("unreachable")
}

// advanceAll drives a protocol to completion via Step+Advance, progressing
// both workers whenever the current await would block.
func advanceAll[R any](p *pair, protocol kont.Expr[R]) R {
	result, susp := ucp.Step[R](protocol)
	for susp != nil {
		var err error
		result, susp, err = ucp.Advance(nil, susp)
		if err != nil {
			p.progress()
		}
	}
	return result
}

// countingPoller maps the transport status like the built-in pollers and
// counts how often it queried the transport.
type countingPoller struct {
	n int
	// between runs after the first query, before Poll registers its waker.
	between func()
}

func (c *countingPoller) PollCompletion(t ucp.Transport, req ucp.StatusPtr) (struct{}, error) {
	c.n++
	st := t.RequestStatus(req)
	if c.n == 1 && c.between != nil {
		c.between()
	}
	switch st {
	case ucp.StatusOK:
		return struct{}{}, nil
	case ucp.StatusInProgress:
		return struct{}{}, iox.ErrWouldBlock
	default:
		return struct{}{}, st
	}
}

// wakeCounter counts wakeups.
type wakeCounter struct {
	n int
}

func (w *wakeCounter) Wake() { w.n++ }
