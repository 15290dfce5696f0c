// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ucp

import (
	"net/netip"
	"slices"
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/lfq"
)

// streamCapacity is the default bound of a loopback stream ring, in chunks.
// A full ring keeps the peer's StreamSend in progress.
const streamCapacity = 4

// Loopback is an in-process Transport. Peers live in the same process
// and exchange data through memory.
//
// Initiated operations are deferred: each worker's Progress runs them in
// initiation order per endpoint, so an operation is observed only after
// the initiating worker progresses, and a flush completes after every
// earlier operation on its endpoint. A stream send held back by a full
// ring stalls only its own endpoint. A flush with nothing outstanding
// completes inline.
//
// Misuse of request handles (use after release, double release) panics.
type Loopback struct {
	streamCap int
	allocated atomix.Uint64
	released  atomix.Uint64

	mu        sync.Mutex
	next      uintptr
	workers   map[WorkerHandle]*lbWorker
	endpoints map[EndpointHandle]*lbEndpoint
	listeners map[ListenerHandle]*lbListener
	bound     map[netip.AddrPort]*lbListener
	requests  map[StatusPtr]*lbRequest
	regions   map[RemoteKey]*lbRegion
}

// LoopbackOption configures a Loopback.
type LoopbackOption func(*Loopback)

// minStreamCapacity is the smallest ring lfq.SPSC accepts.
const minStreamCapacity = 2

// WithStreamCapacity bounds every stream ring to n chunks.
// Values below 2 are raised to 2.
func WithStreamCapacity(n int) LoopbackOption {
	return func(lb *Loopback) {
		lb.streamCap = max(n, minStreamCapacity)
	}
}

// LoopbackStats counts request handles.
type LoopbackStats struct {
	Allocated uint64 // live handles ever returned
	Released  uint64 // ReleaseRequest calls
	Live      int    // handles still tracked, released or not
}

// NewLoopback creates an empty loopback transport.
func NewLoopback(opts ...LoopbackOption) *Loopback {
	lb := &Loopback{
		streamCap: streamCapacity,
		workers:   make(map[WorkerHandle]*lbWorker),
		endpoints: make(map[EndpointHandle]*lbEndpoint),
		listeners: make(map[ListenerHandle]*lbListener),
		bound:     make(map[netip.AddrPort]*lbListener),
		requests:  make(map[StatusPtr]*lbRequest),
		regions:   make(map[RemoteKey]*lbRegion),
	}
	for _, opt := range opts {
		opt(lb)
	}
	return lb
}

type lbWorker struct {
	notify     func(StatusPtr)
	ops        []*lbOp
	recvs      []*lbRequest
	unexpected []lbMessage
	endpoints  map[*lbEndpoint]struct{}
	fired      []StatusPtr
}

type lbMessage struct {
	tag  Tag
	data []byte
}

type lbEndpoint struct {
	handle EndpointHandle
	w      *lbWorker
	peer   *lbEndpoint
	rx     lfq.SPSC[[]byte]
	rest   []byte
	recvs  []*lbRequest
	ops    int
	closed bool
}

type lbListener struct {
	w       *lbWorker
	addr    netip.AddrPort
	backlog []*lbEndpoint
}

type lbRegion struct {
	base uint64
	mem  []byte
}

type lbRequest struct {
	id        StatusPtr
	w         *lbWorker
	status    Status
	info      RequestInfo
	buf       []byte
	tag, mask Tag
	stream    *lbEndpoint // posted stream receive
	posted    bool        // posted tag receive
	released  bool
}

type opKind uint8

const (
	opPut opKind = iota
	opGet
	opFlush
	opClose
	opTagSend
	opStreamSend
)

type lbOp struct {
	kind  opKind
	ep    *lbEndpoint
	req   *lbRequest
	buf   []byte
	raddr uint64
	rkey  RemoteKey
	tag   Tag
}

// Expose makes buf remotely accessible and returns its address and key.
func (lb *Loopback) Expose(buf []byte) (uint64, RemoteKey) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	key := RemoteKey(lb.handle())
	base := uint64(key) << 32
	lb.regions[key] = &lbRegion{base: base, mem: buf}
	return base, key
}

// Version implements Versioner.
func (lb *Loopback) Version() string {
	return "1.0.0"
}

// Stats returns the request handle counters.
func (lb *Loopback) Stats() LoopbackStats {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return LoopbackStats{
		Allocated: lb.allocated.Load(),
		Released:  lb.released.Load(),
		Live:      len(lb.requests),
	}
}

func (lb *Loopback) handle() uintptr {
	lb.next++
	return lb.next
}

func (lb *Loopback) newRequest(w *lbWorker) *lbRequest {
	r := &lbRequest{id: StatusPtr(lb.handle()), w: w, status: StatusInProgress}
	lb.requests[r.id] = r
	lb.allocated.Add(1)
	return r
}

// finish completes r. Released requests are freed instead of reported.
func (lb *Loopback) finish(r *lbRequest, st Status) {
	r.status = st
	if r.released {
		delete(lb.requests, r.id)
		return
	}
	r.w.fired = append(r.w.fired, r.id)
}

func (lb *Loopback) enqueue(ep *lbEndpoint, op *lbOp) StatusPtr {
	op.ep = ep
	op.req = lb.newRequest(ep.w)
	ep.w.ops = append(ep.w.ops, op)
	ep.ops++
	return op.req.id
}

func (lb *Loopback) span(rkey RemoteKey, raddr uint64, n int) ([]byte, bool) {
	reg, ok := lb.regions[rkey]
	if !ok || raddr < reg.base {
		return nil, false
	}
	off := raddr - reg.base
	if off+uint64(n) > uint64(len(reg.mem)) {
		return nil, false
	}
	return reg.mem[off : off+uint64(n)], true
}

// CreateWorker implements Transport.
func (lb *Loopback) CreateWorker(notify func(StatusPtr)) (WorkerHandle, Status) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	h := WorkerHandle(lb.handle())
	lb.workers[h] = &lbWorker{notify: notify, endpoints: make(map[*lbEndpoint]struct{})}
	return h, StatusOK
}

// DestroyWorker implements Transport.
func (lb *Loopback) DestroyWorker(h WorkerHandle) Status {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	w, ok := lb.workers[h]
	if !ok {
		return StatusErrInvalidParam
	}
	if len(w.endpoints) > 0 {
		return StatusErrBusy
	}
	for _, l := range lb.listeners {
		if l.w == w {
			return StatusErrBusy
		}
	}
	delete(lb.workers, h)
	return StatusOK
}

// Progress implements Transport.
func (lb *Loopback) Progress(h WorkerHandle) int {
	lb.mu.Lock()
	w, ok := lb.workers[h]
	if !ok {
		lb.mu.Unlock()
		return 0
	}
	lb.runOps(w)
	lb.matchTags(w)
	for ep := range w.endpoints {
		lb.fillStream(ep)
	}
	fired := w.fired
	w.fired = nil
	lb.mu.Unlock()

	for _, req := range fired {
		w.notify(req)
	}
	return len(fired)
}

// runOps executes w's operations in initiation order. An endpoint whose
// stream send is held back by a full ring keeps its remaining operations
// queued behind it; other endpoints go on.
func (lb *Loopback) runOps(w *lbWorker) {
	pending := w.ops
	w.ops = nil
	var kept []*lbOp
	var blocked map[*lbEndpoint]bool
	for _, op := range pending {
		if op.ep.closed {
			lb.finish(op.req, StatusErrCanceled)
			continue
		}
		if blocked[op.ep] {
			kept = append(kept, op)
			continue
		}
		st, ok := lb.execute(op)
		if !ok {
			if blocked == nil {
				blocked = make(map[*lbEndpoint]bool)
			}
			blocked[op.ep] = true
			kept = append(kept, op)
			continue
		}
		op.ep.ops--
		lb.finish(op.req, st)
	}
	w.ops = append(kept, w.ops...)
}

// execute runs op. It reports false when the peer's stream ring is full.
func (lb *Loopback) execute(op *lbOp) (Status, bool) {
	switch op.kind {
	case opPut:
		mem, ok := lb.span(op.rkey, op.raddr, len(op.buf))
		if !ok {
			return StatusErrInvalidParam, true
		}
		copy(mem, op.buf)
	case opGet:
		mem, ok := lb.span(op.rkey, op.raddr, len(op.buf))
		if !ok {
			return StatusErrInvalidParam, true
		}
		copy(op.buf, mem)
	case opFlush:
	case opClose:
		lb.teardown(op.ep)
	case opTagSend:
		peer := op.ep.peer
		if peer == nil {
			return StatusErrConnectionReset, true
		}
		peer.w.unexpected = append(peer.w.unexpected, lbMessage{tag: op.tag, data: slices.Clone(op.buf)})
	case opStreamSend:
		peer := op.ep.peer
		if peer == nil {
			return StatusErrConnectionReset, true
		}
		chunk := slices.Clone(op.buf)
		if err := peer.rx.Enqueue(&chunk); err != nil {
			return StatusInProgress, false
		}
	}
	return StatusOK, true
}

func (lb *Loopback) matchTags(w *lbWorker) {
	recvs := w.recvs[:0]
	for _, r := range w.recvs {
		i := slices.IndexFunc(w.unexpected, func(m lbMessage) bool {
			return m.tag&r.mask == r.tag&r.mask
		})
		if i < 0 {
			recvs = append(recvs, r)
			continue
		}
		m := w.unexpected[i]
		w.unexpected = slices.Delete(w.unexpected, i, i+1)
		copy(r.buf, m.data)
		r.info = RequestInfo{Tag: m.tag, Length: len(m.data)}
		r.posted = false
		if len(m.data) > len(r.buf) {
			lb.finish(r, StatusErrMessageTruncated)
		} else {
			lb.finish(r, StatusOK)
		}
	}
	clear(w.recvs[len(recvs):])
	w.recvs = recvs
}

func (lb *Loopback) fillStream(ep *lbEndpoint) {
	for len(ep.recvs) > 0 {
		r := ep.recvs[0]
		if len(ep.rest) == 0 {
			chunk, err := ep.rx.Dequeue()
			if err != nil {
				if ep.peer == nil {
					lb.cancelStream(ep, StatusErrConnectionReset)
				}
				return
			}
			ep.rest = chunk
		}
		n := copy(r.buf, ep.rest)
		ep.rest = ep.rest[n:]
		ep.recvs[0] = nil
		ep.recvs = ep.recvs[1:]
		r.stream = nil
		r.info = RequestInfo{Length: n}
		lb.finish(r, StatusOK)
	}
}

func (lb *Loopback) cancelStream(ep *lbEndpoint, st Status) {
	for _, r := range ep.recvs {
		r.stream = nil
		lb.finish(r, st)
	}
	ep.recvs = nil
}

// teardown removes ep. Its outstanding operations and receives complete
// with StatusErrCanceled at the next progress of its worker; the peer
// sees a connection reset.
func (lb *Loopback) teardown(ep *lbEndpoint) {
	w := ep.w
	ops := w.ops[:0]
	for _, op := range w.ops {
		if op.ep == ep && op.kind != opClose {
			lb.finish(op.req, StatusErrCanceled)
			continue
		}
		ops = append(ops, op)
	}
	clear(w.ops[len(ops):])
	w.ops = ops
	lb.cancelStream(ep, StatusErrCanceled)
	ep.closed = true
	if ep.peer != nil {
		ep.peer.peer = nil
		ep.peer = nil
	}
	delete(lb.endpoints, ep.handle)
	delete(w.endpoints, ep)
}

func (lb *Loopback) newEndpoint(w *lbWorker) *lbEndpoint {
	ep := &lbEndpoint{handle: EndpointHandle(lb.handle()), w: w}
	ep.rx.Init(lb.streamCap)
	lb.endpoints[ep.handle] = ep
	w.endpoints[ep] = struct{}{}
	return ep
}

// CreateEndpoint implements Transport. Only ErrHandlingModeNone is
// supported; the peer must be listening on the address.
func (lb *Loopback) CreateEndpoint(h WorkerHandle, params *EndpointParams) (EndpointHandle, Status) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	w, ok := lb.workers[h]
	if !ok {
		return 0, StatusErrInvalidParam
	}
	if params.ErrMode != ErrHandlingModeNone {
		return 0, StatusErrUnsupported
	}
	addr, ok := addrPortOf(params.SockAddr)
	if !ok {
		return 0, StatusErrInvalidAddr
	}
	l, ok := lb.bound[addr]
	if !ok {
		return 0, StatusErrUnreachable
	}
	client, server := lb.newEndpoint(w), lb.newEndpoint(l.w)
	client.peer, server.peer = server, client
	l.backlog = append(l.backlog, server)
	return client.handle, StatusOK
}

// CloseEndpoint implements Transport. Force mode completes inline.
func (lb *Loopback) CloseEndpoint(h EndpointHandle, mode CloseMode) StatusPtr {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	ep, ok := lb.endpoints[h]
	if !ok {
		return StatusPtrOf(StatusErrInvalidParam)
	}
	if mode == CloseModeFlush && ep.ops > 0 {
		return lb.enqueue(ep, &lbOp{kind: opClose})
	}
	lb.teardown(ep)
	return StatusPtrOf(StatusOK)
}

// CreateListener implements Transport.
func (lb *Loopback) CreateListener(h WorkerHandle, params *ListenerParams) (ListenerHandle, Status) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	w, ok := lb.workers[h]
	if !ok {
		return 0, StatusErrInvalidParam
	}
	addr, ok := addrPortOf(params.SockAddr)
	if !ok {
		return 0, StatusErrInvalidAddr
	}
	if _, ok := lb.bound[addr]; ok {
		return 0, StatusErrBusy
	}
	l := &lbListener{w: w, addr: addr}
	lh := ListenerHandle(lb.handle())
	lb.listeners[lh] = l
	lb.bound[addr] = l
	return lh, StatusOK
}

// Accept implements Transport.
func (lb *Loopback) Accept(h ListenerHandle) (EndpointHandle, Status) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	l, ok := lb.listeners[h]
	if !ok {
		return 0, StatusErrInvalidParam
	}
	if len(l.backlog) == 0 {
		return 0, StatusErrNoElem
	}
	ep := l.backlog[0]
	l.backlog[0] = nil
	l.backlog = l.backlog[1:]
	return ep.handle, StatusOK
}

// DestroyListener implements Transport. Connections not yet accepted
// are torn down.
func (lb *Loopback) DestroyListener(h ListenerHandle) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	l, ok := lb.listeners[h]
	if !ok {
		return
	}
	for _, ep := range l.backlog {
		lb.teardown(ep)
	}
	delete(lb.listeners, h)
	delete(lb.bound, l.addr)
}

// Flush implements Transport.
func (lb *Loopback) Flush(h EndpointHandle) StatusPtr {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	ep, ok := lb.endpoints[h]
	if !ok {
		return StatusPtrOf(StatusErrInvalidParam)
	}
	if ep.ops == 0 {
		return StatusPtrOf(StatusOK)
	}
	return lb.enqueue(ep, &lbOp{kind: opFlush})
}

// Put implements Transport.
func (lb *Loopback) Put(h EndpointHandle, buf []byte, raddr uint64, rkey RemoteKey) StatusPtr {
	return lb.rma(opPut, h, buf, raddr, rkey)
}

// Get implements Transport.
func (lb *Loopback) Get(h EndpointHandle, buf []byte, raddr uint64, rkey RemoteKey) StatusPtr {
	return lb.rma(opGet, h, buf, raddr, rkey)
}

func (lb *Loopback) rma(kind opKind, h EndpointHandle, buf []byte, raddr uint64, rkey RemoteKey) StatusPtr {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	ep, ok := lb.endpoints[h]
	if !ok {
		return StatusPtrOf(StatusErrInvalidParam)
	}
	if _, ok := lb.span(rkey, raddr, len(buf)); !ok {
		return StatusPtrOf(StatusErrInvalidParam)
	}
	return lb.enqueue(ep, &lbOp{kind: kind, buf: buf, raddr: raddr, rkey: rkey})
}

// TagSend implements Transport.
func (lb *Loopback) TagSend(h EndpointHandle, buf []byte, tag Tag) StatusPtr {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	ep, ok := lb.endpoints[h]
	if !ok {
		return StatusPtrOf(StatusErrInvalidParam)
	}
	if ep.peer == nil {
		return StatusPtrOf(StatusErrConnectionReset)
	}
	return lb.enqueue(ep, &lbOp{kind: opTagSend, buf: buf, tag: tag})
}

// TagRecv implements Transport.
func (lb *Loopback) TagRecv(h WorkerHandle, buf []byte, tag, mask Tag) StatusPtr {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	w, ok := lb.workers[h]
	if !ok {
		return StatusPtrOf(StatusErrInvalidParam)
	}
	r := lb.newRequest(w)
	r.buf, r.tag, r.mask, r.posted = buf, tag, mask, true
	w.recvs = append(w.recvs, r)
	return r.id
}

// StreamSend implements Transport.
func (lb *Loopback) StreamSend(h EndpointHandle, buf []byte) StatusPtr {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	ep, ok := lb.endpoints[h]
	if !ok {
		return StatusPtrOf(StatusErrInvalidParam)
	}
	if ep.peer == nil {
		return StatusPtrOf(StatusErrConnectionReset)
	}
	return lb.enqueue(ep, &lbOp{kind: opStreamSend, buf: buf})
}

// StreamRecv implements Transport.
func (lb *Loopback) StreamRecv(h EndpointHandle, buf []byte) StatusPtr {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	ep, ok := lb.endpoints[h]
	if !ok {
		return StatusPtrOf(StatusErrInvalidParam)
	}
	r := lb.newRequest(ep.w)
	r.buf, r.stream = buf, ep
	ep.recvs = append(ep.recvs, r)
	return r.id
}

func (lb *Loopback) lookup(req StatusPtr) *lbRequest {
	r, ok := lb.requests[req]
	if !ok || r.released {
		panic("ucp: loopback request used after release")
	}
	return r
}

// RequestStatus implements Transport.
func (lb *Loopback) RequestStatus(req StatusPtr) Status {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.lookup(req).status
}

// RequestInfo implements Transport.
func (lb *Loopback) RequestInfo(req StatusPtr) RequestInfo {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.lookup(req).info
}

// ReleaseRequest implements Transport. A pending operation keeps running
// and is freed on completion; a pending receive is unposted.
func (lb *Loopback) ReleaseRequest(req StatusPtr) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	r, ok := lb.requests[req]
	if !ok || r.released {
		panic("ucp: loopback request released twice")
	}
	r.released = true
	lb.released.Add(1)
	switch {
	case r.status != StatusInProgress:
		delete(lb.requests, req)
	case r.posted:
		r.w.recvs = slices.DeleteFunc(r.w.recvs, func(x *lbRequest) bool { return x == r })
		delete(lb.requests, req)
	case r.stream != nil:
		r.stream.recvs = slices.DeleteFunc(r.stream.recvs, func(x *lbRequest) bool { return x == r })
		delete(lb.requests, req)
	}
}
