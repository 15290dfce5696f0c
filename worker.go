// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ucp

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Registry owns the workers created over one transport.
// A worker lives until it is closed, either directly or through
// Registry.Close; endpoints and requests only lease it.
type Registry struct {
	t   Transport
	cfg Config

	mu      sync.Mutex
	workers []*Worker
}

// NewRegistry creates a registry over t.
func NewRegistry(t Transport, opts ...Option) *Registry {
	return &Registry{t: t, cfg: newConfig(opts)}
}

// Transport returns the transport the registry was created over.
func (r *Registry) Transport() Transport {
	return r.t
}

// APIConstraint is the range of transport API versions the bridge speaks.
const APIConstraint = "^1.0.0"

// checkVersion rejects a Versioner transport whose version is malformed
// or outside APIConstraint.
func checkVersion(t Transport) error {
	v, ok := t.(Versioner)
	if !ok {
		return nil
	}
	got, err := semver.NewVersion(v.Version())
	if err != nil {
		return fmt.Errorf("%w: transport version %q: %v", ErrProtocolMismatch, v.Version(), err)
	}
	c, err := semver.NewConstraint(APIConstraint)
	if err != nil {
		return err
	}
	if !c.Check(got) {
		return fmt.Errorf("%w: transport version %s, want %s", ErrProtocolMismatch, got, APIConstraint)
	}
	return nil
}

// NewWorker creates a worker and registers it.
// It fails with ErrProtocolMismatch when the transport reports an
// incompatible API version.
func (r *Registry) NewWorker() (*Worker, error) {
	if err := checkVersion(r.t); err != nil {
		return nil, err
	}
	w := &Worker{
		id:     uuid.New(),
		reg:    r,
		t:      r.t,
		wakers: make(map[StatusPtr]Waker),
	}
	w.log = r.cfg.Logger.WithField("worker", w.id)
	h, st := r.t.CreateWorker(w.complete)
	if st != StatusOK {
		return nil, st
	}
	w.handle = h
	r.mu.Lock()
	r.workers = append(r.workers, w)
	r.mu.Unlock()
	w.log.Trace("create worker")
	return w, nil
}

// Workers returns the registered workers.
func (r *Registry) Workers() []*Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.workers)
}

// Close closes every registered worker. Workers that are still leased
// stay registered and their errors are joined in the result.
func (r *Registry) Close() error {
	var errs []error
	for _, w := range r.Workers() {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) remove(w *Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := slices.Index(r.workers, w); i >= 0 {
		r.workers = slices.Delete(r.workers, i, i+1)
	}
}

// Worker is a progress engine. Nothing completes unless Progress is
// called, typically once per scheduler tick or from a dedicated loop.
//
// Endpoints, listeners and in-flight requests each hold a lease on their
// worker; Close fails with ErrWorkerBusy until every lease is returned.
type Worker struct {
	id     uuid.UUID
	reg    *Registry
	t      Transport
	handle WorkerHandle
	log    logrus.Ext1FieldLogger
	leases atomix.Uint32

	mu       sync.Mutex
	closed   bool
	wakers   map[StatusPtr]Waker
	detached []*Request[struct{}]
}

// ID returns the worker's unique identifier.
func (w *Worker) ID() uuid.UUID {
	return w.id
}

// Handle returns the native worker handle.
func (w *Worker) Handle() WorkerHandle {
	return w.handle
}

// Leases returns the number of live endpoints, listeners and requests.
func (w *Worker) Leases() int {
	return int(w.leases.Load())
}

// Progress drives the transport once, wakes the tasks whose requests
// completed, and reaps detached requests. It returns the number of
// completions observed.
func (w *Worker) Progress() int {
	n := w.t.Progress(w.handle)
	w.reap()
	return n
}

// Detached returns the number of fire-and-forget requests still in flight.
func (w *Worker) Detached() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.detached)
}

// Close destroys the native worker and unregisters it.
func (w *Worker) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWorkerClosed
	}
	if w.leases.Load() > 0 {
		w.mu.Unlock()
		return ErrWorkerBusy
	}
	w.closed = true
	w.mu.Unlock()

	w.reg.remove(w)
	w.log.Trace("destroy worker")
	if st := w.t.DestroyWorker(w.handle); st != StatusOK {
		return st
	}
	return nil
}

func (w *Worker) acquire() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWorkerClosed
	}
	w.leases.Add(1)
	return nil
}

func (w *Worker) release() {
	w.leases.Add(^uint32(0))
}

// register installs wk as the waker for req, replacing any previous one.
func (w *Worker) register(req StatusPtr, wk Waker) {
	w.mu.Lock()
	w.wakers[req] = wk
	w.mu.Unlock()
}

// complete is the transport's notify callback. The waker is consumed by
// the wakeup and invoked without w.mu held, so it may release req.
func (w *Worker) complete(req StatusPtr) {
	w.mu.Lock()
	wk, ok := w.wakers[req]
	if ok {
		delete(w.wakers, req)
	}
	w.mu.Unlock()
	if ok {
		wk.Wake()
	}
}

// free returns req to the transport and drops its waker and lease.
func (w *Worker) free(req StatusPtr) {
	w.mu.Lock()
	delete(w.wakers, req)
	w.mu.Unlock()
	w.log.WithField("request", uintptr(req)).Trace("request free")
	w.t.ReleaseRequest(req)
	w.release()
}

// detach hands the release obligation of r to the worker.
func (w *Worker) detach(r *Request[struct{}]) {
	if r.Done() {
		return
	}
	w.mu.Lock()
	w.detached = append(w.detached, r)
	w.mu.Unlock()
}

func (w *Worker) reap() {
	w.mu.Lock()
	pending := w.detached
	w.detached = nil
	w.mu.Unlock()
	if len(pending) == 0 {
		return
	}

	live := pending[:0]
	for _, r := range pending {
		_, err := r.Poll(nil)
		switch {
		case iox.IsWouldBlock(err):
			live = append(live, r)
		case err != nil:
			w.log.WithError(err).Debug("detached request failed")
		}
	}
	clear(pending[len(live):])

	w.mu.Lock()
	w.detached = append(live, w.detached...)
	w.mu.Unlock()
}
