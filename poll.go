// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ucp

import "code.hybscloud.com/iox"

// CompletionPoller classifies a native request.
//
// PollCompletion returns iox.ErrWouldBlock while the request is pending,
// (value, nil) once it succeeded, and (value, err) once it failed.
// Implementations hold no state: any payload is read back from the
// transport through req, never captured by the poller.
type CompletionPoller[T any] interface {
	PollCompletion(t Transport, req StatusPtr) (T, error)
}

// TagInfo describes a received tagged message.
type TagInfo struct {
	Tag    Tag
	Length int
}

// pollNormal serves operations with no result payload:
// flush, put, get, tag send and stream send.
type pollNormal struct{}

func (pollNormal) PollCompletion(t Transport, req StatusPtr) (struct{}, error) {
	return struct{}{}, statusErr(t.RequestStatus(req))
}

// pollTag serves tag receives.
// A truncated message still reports the sender's tag and length.
type pollTag struct{}

func (pollTag) PollCompletion(t Transport, req StatusPtr) (TagInfo, error) {
	err := statusErr(t.RequestStatus(req))
	if iox.IsWouldBlock(err) {
		return TagInfo{}, err
	}
	info := t.RequestInfo(req)
	return TagInfo{Tag: info.Tag, Length: info.Length}, err
}

// pollStream serves stream receives and yields the received length.
type pollStream struct{}

func (pollStream) PollCompletion(t Transport, req StatusPtr) (int, error) {
	err := statusErr(t.RequestStatus(req))
	if iox.IsWouldBlock(err) {
		return 0, err
	}
	return t.RequestInfo(req).Length, err
}
