// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ucp

import (
	"net/netip"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
)

// Listener accepts endpoints connected to a local address.
type Listener struct {
	w      *Worker
	handle ListenerHandle
	addr   netip.AddrPort
	closed atomix.Uint32
}

// Listen binds addr on w.
func (w *Worker) Listen(addr netip.AddrPort) (*Listener, error) {
	sa, ok := sockaddrOf(addr)
	if !ok {
		return nil, newEndpointError("listen", addr, StatusErrInvalidAddr)
	}
	if err := w.acquire(); err != nil {
		return nil, err
	}
	h, st := w.t.CreateListener(w.handle, &ListenerParams{SockAddr: sa})
	if st != StatusOK {
		w.release()
		return nil, newEndpointError("listen", addr, st)
	}
	w.log.WithField("listener", addr).Trace("create listener")
	return &Listener{w: w, handle: h, addr: addr}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() netip.AddrPort {
	return l.addr
}

// Accept returns the next connected endpoint.
// Non-blocking: returns iox.ErrWouldBlock when no connection is pending;
// connections arrive as the peer dials, progress is not required.
func (l *Listener) Accept() (*Endpoint, error) {
	if l.closed.Load() != 0 {
		return nil, ErrListenerClosed
	}
	h, st := l.w.t.Accept(l.handle)
	switch st {
	case StatusOK:
	case StatusErrNoElem, StatusInProgress:
		return nil, iox.ErrWouldBlock
	default:
		return nil, newEndpointError("accept", l.addr, st)
	}
	// The listener's own lease keeps the worker open here.
	l.w.leases.Add(1)
	return l.w.adopt(h, netip.AddrPort{}), nil
}

// Close unbinds the listener. Accepted endpoints are unaffected.
func (l *Listener) Close() error {
	if !l.closed.CompareAndSwap(0, 1) {
		return ErrListenerClosed
	}
	l.w.t.DestroyListener(l.handle)
	l.w.release()
	l.w.log.WithField("listener", l.addr).Trace("destroy listener")
	return nil
}
