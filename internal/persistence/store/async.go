package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"voxelclaims.ai/internal/sim/model"
)

var ErrClosed = errors.New("store queue closed")

type Job func(ctx context.Context, s Store) (any, error)

type job struct {
	name string
	fn   Job
	done func(any, error)
}

// Async runs store jobs on a single worker goroutine. Jobs run in submission
// order, so read-modify-write jobs on one record never interleave.
type Async struct {
	s   Store
	log *slog.Logger

	ch   chan job
	wg   sync.WaitGroup
	once sync.Once
	mu   sync.RWMutex

	closed atomic.Bool

	submitted atomic.Uint64
	failed    atomic.Uint64
	timeout   time.Duration
}

type AsyncStats struct {
	QueueDepth    int
	QueueCapacity int
	Submitted     uint64
	Failed        uint64
}

func NewAsync(s Store, queueSize int, log *slog.Logger) *Async {
	if queueSize <= 0 {
		queueSize = 4096
	}
	if log == nil {
		log = slog.Default()
	}
	a := &Async{
		s:       s,
		log:     log.With("component", "store"),
		ch:      make(chan job, queueSize),
		timeout: 10 * time.Second,
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.loop()
	}()
	return a
}

// Submit queues fn. done is called on the worker goroutine with the result;
// callers that touch simulation state must re-post it onto their own loop.
// Submit blocks only while the queue is full.
func (a *Async) Submit(name string, fn Job, done func(any, error)) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed.Load() {
		return ErrClosed
	}
	a.submitted.Add(1)
	a.ch <- job{name: name, fn: fn, done: done}
	return nil
}

func (a *Async) loop() {
	for j := range a.ch {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		v, err := a.run(ctx, j)
		cancel()
		if err != nil {
			a.failed.Add(1)
			a.log.Warn("store job failed", "op", j.name, "err", err)
		}
		if j.done != nil {
			j.done(v, err)
		}
	}
}

func (a *Async) run(ctx context.Context, j job) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: %w: panic: %v", j.name, model.ErrStore, r)
		}
	}()
	v, err = j.fn(ctx, a.s)
	return v, model.StoreErr(j.name, err)
}

// Close drains queued jobs and closes the underlying store.
func (a *Async) Close() error {
	var err error
	a.once.Do(func() {
		a.mu.Lock()
		a.closed.Store(true)
		close(a.ch)
		a.mu.Unlock()
		a.wg.Wait()
		err = a.s.Close()
	})
	return err
}

func (a *Async) Stats() AsyncStats {
	return AsyncStats{
		QueueDepth:    len(a.ch),
		QueueCapacity: cap(a.ch),
		Submitted:     a.submitted.Load(),
		Failed:        a.failed.Load(),
	}
}
