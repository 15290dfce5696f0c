// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ucp

import (
	"errors"
	"net/netip"
)

var (
	// ErrWorkerBusy is returned when closing a worker that still has
	// live endpoints, listeners or in-flight requests.
	ErrWorkerBusy = errors.New("ucp: worker has live endpoints or requests")
	// ErrWorkerClosed is returned by operations on a closed worker.
	ErrWorkerClosed = errors.New("ucp: worker closed")
	// ErrEndpointClosed is returned by operations on a closed endpoint.
	ErrEndpointClosed = errors.New("ucp: endpoint closed")
	// ErrListenerClosed is returned by operations on a closed listener.
	ErrListenerClosed = errors.New("ucp: listener closed")
	// ErrReleased is returned by Poll on a request released while pending.
	ErrReleased = errors.New("ucp: request released")

	ErrUnreachable      = errors.New("ucp: destination unreachable")
	ErrNoResource       = errors.New("ucp: no resource")
	ErrProtocolMismatch = errors.New("ucp: protocol mismatch")
)

// ErrorKind classifies connection establishment and teardown failures.
type ErrorKind uint8

const (
	KindOther ErrorKind = iota
	KindUnreachable
	KindNoResource
	KindProtocolMismatch
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnreachable:
		return "unreachable"
	case KindNoResource:
		return "no resource"
	case KindProtocolMismatch:
		return "protocol mismatch"
	default:
		return "other"
	}
}

func kindOf(s Status) ErrorKind {
	switch s {
	case StatusErrUnreachable, StatusErrInvalidAddr, StatusErrConnectionReset:
		return KindUnreachable
	case StatusErrNoResource, StatusErrNoMemory, StatusErrBusy:
		return KindNoResource
	case StatusErrUnsupported, StatusErrNotImplemented:
		return KindProtocolMismatch
	default:
		return KindOther
	}
}

// EndpointError reports a failed endpoint or listener lifecycle call.
type EndpointError struct {
	Op     string
	Addr   netip.AddrPort
	Kind   ErrorKind
	Status Status
}

func newEndpointError(op string, addr netip.AddrPort, s Status) *EndpointError {
	return &EndpointError{Op: op, Addr: addr, Kind: kindOf(s), Status: s}
}

func (e *EndpointError) Error() string {
	msg := "ucp: " + e.Op
	if e.Addr.IsValid() {
		msg += " " + e.Addr.String()
	}
	return msg + ": " + e.Status.String()
}

// Unwrap returns the transport status.
func (e *EndpointError) Unwrap() error {
	return e.Status
}

// Is matches ErrUnreachable, ErrNoResource and ErrProtocolMismatch by kind.
func (e *EndpointError) Is(target error) bool {
	switch target {
	case ErrUnreachable:
		return e.Kind == KindUnreachable
	case ErrNoResource:
		return e.Kind == KindNoResource
	case ErrProtocolMismatch:
		return e.Kind == KindProtocolMismatch
	}
	return false
}
