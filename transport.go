// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ucp

import (
	"golang.org/x/sys/unix"
)

// Native handles. Their values are meaningful only to the Transport.
type (
	WorkerHandle   uintptr
	EndpointHandle uintptr
	ListenerHandle uintptr
)

// RemoteKey names a remotely accessible memory region.
type RemoteKey uint64

// Tag is the matching label of a tagged message.
type Tag uint64

// ErrHandlingMode selects how the transport reacts to peer failure.
type ErrHandlingMode uint8

const (
	// ErrHandlingModeNone installs no custom error handler.
	// Endpoints are always created in this mode: it is what forces the
	// transport onto its TCP sockaddr path.
	ErrHandlingModeNone ErrHandlingMode = iota
	// ErrHandlingModePeer reports peer failures to a handler.
	ErrHandlingModePeer
)

// CloseMode selects how an endpoint is torn down.
type CloseMode uint8

const (
	// CloseModeForce releases the endpoint without peer confirmation.
	// Outstanding requests complete with StatusErrCanceled.
	CloseModeForce CloseMode = iota
	// CloseModeFlush completes outstanding operations first.
	CloseModeFlush
)

// EndpointParams are the creation parameters of a client endpoint.
type EndpointParams struct {
	SockAddr unix.Sockaddr
	ErrMode  ErrHandlingMode
}

// ListenerParams are the creation parameters of a listener.
type ListenerParams struct {
	SockAddr unix.Sockaddr
}

// RequestInfo is the payload description of a completed receive.
type RequestInfo struct {
	Tag    Tag
	Length int
}

// Transport is the native completion layer bridged by this package.
//
// Every operation initiator returns a StatusPtr: either an immediate status
// (sentinel) or a live request that the caller must eventually pass to
// ReleaseRequest exactly once. Completion of live requests is observed only
// through Progress, which reports each completed request to the notify
// function given to CreateWorker. Progress must not hold internal locks while
// calling notify.
type Transport interface {
	CreateWorker(notify func(req StatusPtr)) (WorkerHandle, Status)
	DestroyWorker(w WorkerHandle) Status
	Progress(w WorkerHandle) int

	CreateEndpoint(w WorkerHandle, params *EndpointParams) (EndpointHandle, Status)
	CloseEndpoint(ep EndpointHandle, mode CloseMode) StatusPtr
	CreateListener(w WorkerHandle, params *ListenerParams) (ListenerHandle, Status)
	Accept(l ListenerHandle) (EndpointHandle, Status)
	DestroyListener(l ListenerHandle)

	Flush(ep EndpointHandle) StatusPtr
	Put(ep EndpointHandle, buf []byte, raddr uint64, rkey RemoteKey) StatusPtr
	Get(ep EndpointHandle, buf []byte, raddr uint64, rkey RemoteKey) StatusPtr
	TagSend(ep EndpointHandle, buf []byte, tag Tag) StatusPtr
	TagRecv(w WorkerHandle, buf []byte, tag, mask Tag) StatusPtr
	StreamSend(ep EndpointHandle, buf []byte) StatusPtr
	StreamRecv(ep EndpointHandle, buf []byte) StatusPtr

	RequestStatus(req StatusPtr) Status
	RequestInfo(req StatusPtr) RequestInfo
	ReleaseRequest(req StatusPtr)
}

// Versioner is implemented by transports that report their API version.
// Registry.NewWorker refuses a transport outside APIConstraint.
type Versioner interface {
	Version() string
}
