// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ucp

import (
	"strconv"

	"code.hybscloud.com/iox"
)

// Status is a transport status code.
// Zero is success, one is in-progress, negative values are failures.
type Status int8

const (
	StatusOK                  Status = 0
	StatusInProgress          Status = 1
	StatusErrNoMessage        Status = -1
	StatusErrNoResource       Status = -2
	StatusErrIOError          Status = -3
	StatusErrNoMemory         Status = -4
	StatusErrInvalidParam     Status = -5
	StatusErrUnreachable      Status = -6
	StatusErrInvalidAddr      Status = -7
	StatusErrNotImplemented   Status = -8
	StatusErrMessageTruncated Status = -9
	StatusErrNoElem           Status = -12
	StatusErrBusy             Status = -15
	StatusErrCanceled         Status = -16
	StatusErrUnsupported      Status = -22
	StatusErrConnectionReset  Status = -25

	// statusErrLast bounds the sentinel range of StatusPtr.
	statusErrLast Status = -100
)

var statusText = map[Status]string{
	StatusOK:                  "success",
	StatusInProgress:          "operation in progress",
	StatusErrNoMessage:        "no pending message",
	StatusErrNoResource:       "no resources are available to initiate the operation",
	StatusErrIOError:          "input/output error",
	StatusErrNoMemory:         "out of memory",
	StatusErrInvalidParam:     "invalid parameter",
	StatusErrUnreachable:      "destination is unreachable",
	StatusErrInvalidAddr:      "address not valid",
	StatusErrNotImplemented:   "function not implemented",
	StatusErrMessageTruncated: "message truncated",
	StatusErrNoElem:           "no such element",
	StatusErrBusy:             "device is busy",
	StatusErrCanceled:         "request canceled",
	StatusErrUnsupported:      "operation is not supported",
	StatusErrConnectionReset:  "connection reset by remote peer",
}

// String returns the transport's description of s.
func (s Status) String() string {
	if text, ok := statusText[s]; ok {
		return text
	}
	return "unknown status " + strconv.Itoa(int(s))
}

// Error implements error. Only failure codes are meant to travel as errors.
func (s Status) Error() string {
	return "ucp: " + s.String()
}

// IsFailure reports whether s is a failure code.
func (s Status) IsFailure() bool {
	return s < 0
}

// statusErr maps a completion status to the bridge's ternary result:
// nil on success, iox.ErrWouldBlock while in progress, s itself on failure.
func statusErr(s Status) error {
	switch {
	case s == StatusOK:
		return nil
	case s == StatusInProgress:
		return iox.ErrWouldBlock
	default:
		return s
	}
}

// StatusPtr is the transport's pointer-sized completion handle.
//
// A StatusPtr is either a live request allocated by the transport, or,
// when its signed value lies in [statusErrLast, 0], an immediate status
// that was never allocated and must never be released.
type StatusPtr uintptr

// StatusPtrOf encodes an immediate status as a sentinel handle.
// It panics unless s lies in [statusErrLast, StatusOK].
func StatusPtrOf(s Status) StatusPtr {
	if s > 0 || s < statusErrLast {
		panic("ucp: status has no sentinel encoding")
	}
	return StatusPtr(int(s))
}

// IsErr reports whether p encodes an immediate failure.
func (p StatusPtr) IsErr() bool {
	v := int(p)
	return v < 0 && v >= int(statusErrLast)
}

// IsPtr reports whether p is a live transport request.
func (p StatusPtr) IsPtr() bool {
	return p != 0 && !p.IsErr()
}

// Status returns the immediate status encoded in p,
// or StatusInProgress if p is a live request.
func (p StatusPtr) Status() Status {
	if p.IsPtr() {
		return StatusInProgress
	}
	return Status(int(p))
}
