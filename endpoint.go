// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ucp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"runtime"

	"code.hybscloud.com/atomix"
	"github.com/google/uuid"
)

// Endpoint is a connection to one remote peer over a Worker.
//
// Operations initiated on an Endpoint have no completion order among
// themselves; Flush is the only ordering and visibility barrier.
// Resolve or release every Request of an Endpoint before closing it:
// Close cancels what is still outstanding.
type Endpoint struct {
	id      uuid.UUID
	w       *Worker
	handle  EndpointHandle
	raddr   netip.AddrPort
	closed  atomix.Uint32
	cleanup runtime.Cleanup
}

// NewEndpoint connects to addr over w without blocking.
// Failures are reported as *EndpointError.
func NewEndpoint(w *Worker, addr netip.AddrPort) (*Endpoint, error) {
	sa, ok := sockaddrOf(addr)
	if !ok {
		return nil, newEndpointError("dial", addr, StatusErrInvalidAddr)
	}
	if err := w.acquire(); err != nil {
		return nil, err
	}
	params := EndpointParams{SockAddr: sa, ErrMode: ErrHandlingModeNone}
	h, st := w.t.CreateEndpoint(w.handle, &params)
	if st != StatusOK {
		w.release()
		return nil, newEndpointError("dial", addr, st)
	}
	return w.adopt(h, addr), nil
}

// Dial connects to addr. It is shorthand for NewEndpoint(w, addr).
func (w *Worker) Dial(addr netip.AddrPort) (*Endpoint, error) {
	return NewEndpoint(w, addr)
}

// adopt wraps a native endpoint whose lease the caller already holds.
func (w *Worker) adopt(h EndpointHandle, addr netip.AddrPort) *Endpoint {
	ep := &Endpoint{id: uuid.New(), w: w, handle: h, raddr: addr}
	ep.cleanup = runtime.AddCleanup(ep, destroyOrphanEndpoint, orphanEndpoint{w: w, handle: h})
	w.log.WithField("endpoint", ep.id).Trace("create endpoint")
	return ep
}

type orphanEndpoint struct {
	w      *Worker
	handle EndpointHandle
}

func destroyOrphanEndpoint(o orphanEndpoint) {
	if err := o.w.destroyEndpoint(o.handle); err != nil {
		o.w.log.WithError(err).Debug("orphan endpoint teardown failed")
	}
}

// Worker returns the worker the endpoint was created on.
func (ep *Endpoint) Worker() *Worker {
	return ep.w
}

// Handle returns the native endpoint handle.
func (ep *Endpoint) Handle() EndpointHandle {
	return ep.handle
}

// RemoteAddr returns the dialed address.
// It is the zero AddrPort for endpoints obtained from a Listener.
func (ep *Endpoint) RemoteAddr() netip.AddrPort {
	return ep.raddr
}

// PrintInfo writes a description of the endpoint to out.
func (ep *Endpoint) PrintInfo(out io.Writer) {
	fmt.Fprintf(out, "#\n# endpoint %s\n#   handle: %#x\n#   worker: %s\n#   remote: %s\n#   err mode: none\n#   closed: %t\n",
		ep.id, uintptr(ep.handle), ep.w.id, ep.raddr, ep.closed.Load() != 0)
}

func (ep *Endpoint) isClosed() bool {
	return ep.closed.Load() != 0
}

// Flush blocks until every RMA and atomic operation initiated on ep
// before the call is complete at the remote side, driving the worker's
// progress meanwhile. Reads of remote-written memory issued after Flush
// returns nil observe those writes.
func (ep *Endpoint) Flush(ctx context.Context) error {
	if ep.isClosed() {
		return ErrEndpointClosed
	}
	_, err := NewRequest[struct{}](ep.w, ep.w.t.Flush(ep.handle), pollNormal{}).Wait(ctx)
	return err
}

// FlushBegin initiates a flush and never observes its outcome.
// It does not block: an in-flight flush is handed to the worker, whose
// progress releases it once complete.
func (ep *Endpoint) FlushBegin() {
	if ep.isClosed() {
		return
	}
	ep.w.detach(NewRequest[struct{}](ep.w, ep.w.t.Flush(ep.handle), pollNormal{}))
}

// Put writes buf to raddr in the remote region named by rkey.
// buf must not be modified until the Request resolves.
func (ep *Endpoint) Put(buf []byte, raddr uint64, rkey RemoteKey) *Request[struct{}] {
	if ep.isClosed() {
		return resolvedRequest[struct{}](ep.w, ErrEndpointClosed)
	}
	return NewRequest[struct{}](ep.w, ep.w.t.Put(ep.handle, buf, raddr, rkey), pollNormal{})
}

// Get reads len(buf) bytes at raddr in the remote region named by rkey.
func (ep *Endpoint) Get(buf []byte, raddr uint64, rkey RemoteKey) *Request[struct{}] {
	if ep.isClosed() {
		return resolvedRequest[struct{}](ep.w, ErrEndpointClosed)
	}
	return NewRequest[struct{}](ep.w, ep.w.t.Get(ep.handle, buf, raddr, rkey), pollNormal{})
}

// TagSend sends buf as a message labeled tag to the peer's worker.
func (ep *Endpoint) TagSend(buf []byte, tag Tag) *Request[struct{}] {
	if ep.isClosed() {
		return resolvedRequest[struct{}](ep.w, ErrEndpointClosed)
	}
	return NewRequest[struct{}](ep.w, ep.w.t.TagSend(ep.handle, buf, tag), pollNormal{})
}

// StreamSend appends buf to the endpoint's byte stream.
func (ep *Endpoint) StreamSend(buf []byte) *Request[struct{}] {
	if ep.isClosed() {
		return resolvedRequest[struct{}](ep.w, ErrEndpointClosed)
	}
	return NewRequest[struct{}](ep.w, ep.w.t.StreamSend(ep.handle, buf), pollNormal{})
}

// StreamRecv receives at least one byte of the peer's stream into buf.
// The Request yields the number of bytes received.
func (ep *Endpoint) StreamRecv(buf []byte) *Request[int] {
	if ep.isClosed() {
		return resolvedRequest[int](ep.w, ErrEndpointClosed)
	}
	return NewRequest[int](ep.w, ep.w.t.StreamRecv(ep.handle, buf), pollStream{})
}

// TagRecv receives the first message whose tag matches tag under mask.
func (w *Worker) TagRecv(buf []byte, tag, mask Tag) *Request[TagInfo] {
	if err := w.acquire(); err != nil {
		return resolvedRequest[TagInfo](w, err)
	}
	defer w.release()
	return NewRequest[TagInfo](w, w.t.TagRecv(w.handle, buf, tag, mask), pollTag{})
}

// Close tears down the native connection without waiting for
// outstanding operations, which resolve with StatusErrCanceled. Their
// Requests stay valid and must still be resolved or released.
func (ep *Endpoint) Close() error {
	if !ep.closed.CompareAndSwap(0, 1) {
		return ErrEndpointClosed
	}
	ep.cleanup.Stop()
	ep.w.log.WithField("endpoint", ep.id).Trace("destroy endpoint")
	return ep.w.destroyEndpoint(ep.handle)
}

// Shutdown flushes outstanding operations, then closes the endpoint.
func (ep *Endpoint) Shutdown(ctx context.Context) error {
	err := ep.Flush(ctx)
	if errors.Is(err, ErrEndpointClosed) {
		return err
	}
	return errors.Join(err, ep.Close())
}

// destroyEndpoint force-closes h and returns the endpoint's lease.
func (w *Worker) destroyEndpoint(h EndpointHandle) error {
	defer w.release()
	_, err := NewRequest[struct{}](w, w.t.CloseEndpoint(h, CloseModeForce), pollNormal{}).Wait(context.Background())
	if s, ok := err.(Status); ok {
		return newEndpointError("close", netip.AddrPort{}, s)
	}
	return err
}
