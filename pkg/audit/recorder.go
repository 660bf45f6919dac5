package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultWriteLimit   = 4
	DefaultWriteTimeout = 5 * time.Second
)

// FailureObserver is told about every artifact that could not be written.
type FailureObserver interface {
	ArtifactFailed(artifact string)
}

// Recorder dispatches the artifact writes of one request concurrently.
//
// Record never waits for the store: writes are queued and a background
// dispatcher feeds them to at most the write limit of concurrent writers.
// Writes run on a context detached from the request, so artifacts produced
// before a cancellation are still persisted.
type Recorder struct {
	requestID string
	store     ArtifactStore
	ctx       context.Context
	timeout   time.Duration
	observer  FailureObserver

	g        errgroup.Group
	dispatch sync.WaitGroup
	mu       sync.Mutex
	queue    []pendingWrite
	draining bool
	errs     []error
	written  []Artifact
}

type pendingWrite struct {
	artifact Artifact
	key      string
	body     []byte
}

type RecorderOption func(*Recorder)

func WithWriteLimit(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.g.SetLimit(n)
		}
	}
}

func WithWriteTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithFailureObserver(o FailureObserver) RecorderOption {
	return func(r *Recorder) { r.observer = o }
}

func NewRecorder(ctx context.Context, store ArtifactStore, requestID string, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		requestID: requestID,
		store:     store,
		ctx:       context.WithoutCancel(ctx),
		timeout:   DefaultWriteTimeout,
	}
	r.g.SetLimit(DefaultWriteLimit)
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Recorder) RequestID() string { return r.requestID }

// Record encodes v immediately and writes it in the background.
func (r *Recorder) Record(a Artifact, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		r.fail(a, fmt.Errorf("failed to encode %s: %w", a, err))
		return
	}
	r.RecordRaw(a, data)
}

// RecordRaw writes data as artifact a in the background.
func (r *Recorder) RecordRaw(a Artifact, data []byte) {
	if r.store == nil {
		return
	}
	w := pendingWrite{artifact: a, key: Key(r.requestID, a), body: append([]byte(nil), data...)}

	r.mu.Lock()
	r.queue = append(r.queue, w)
	start := !r.draining
	if start {
		r.draining = true
		r.dispatch.Add(1)
	}
	r.mu.Unlock()

	if start {
		go r.drain()
	}
}

// drain hands queued writes to the bounded group. Only the dispatcher blocks
// when the limit is reached.
func (r *Recorder) drain() {
	defer r.dispatch.Done()
	for {
		r.mu.Lock()
		if len(r.queue) == 0 {
			r.draining = false
			r.mu.Unlock()
			return
		}
		w := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()

		r.g.Go(func() error {
			r.write(w)
			return nil
		})
	}
}

func (r *Recorder) write(w pendingWrite) {
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()
	if err := r.store.Put(ctx, w.key, w.body); err != nil {
		r.fail(w.artifact, err)
		return
	}
	r.mu.Lock()
	r.written = append(r.written, w.artifact)
	r.mu.Unlock()
}

func (r *Recorder) fail(a Artifact, err error) {
	r.mu.Lock()
	r.errs = append(r.errs, fmt.Errorf("%w: %s/%s: %w", ErrArtifactPersistFailed, r.requestID, a, err))
	r.mu.Unlock()
	if r.observer != nil {
		r.observer.ArtifactFailed(string(a))
	}
}

// Flush waits for every dispatched write and returns all failures joined.
func (r *Recorder) Flush() error {
	r.dispatch.Wait()
	_ = r.g.Wait()
	r.mu.Lock()
	defer r.mu.Unlock()
	return errors.Join(r.errs...)
}

// Written lists the artifacts persisted so far, in completion order.
func (r *Recorder) Written() []Artifact {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Artifact(nil), r.written...)
}
