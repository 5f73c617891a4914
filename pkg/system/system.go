// Package system provides the common actor base for the session runtime:
// an event-producing object with an unbounded FIFO mailbox, a single
// listener, and supervised background pipes that forward events between
// actors.
package system

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// stopMarker ends the listen loop; pipeFailure aborts it with an error.
// Both travel through the mailbox so they are ordered with respect to
// ordinary events.
type stopMarker struct{}

type pipeFailure struct {
	err error
}

// PipeError is surfaced by Err after a supervised pipe fails. It is
// fatal for the owning system: the listen channel closes and no further
// events are delivered.
type PipeError struct {
	System string
	Cause  error
}

func (e *PipeError) Error() string {
	return fmt.Sprintf("pipe in system %s failed: %v", e.System, e.Cause)
}

func (e *PipeError) Unwrap() error { return e.Cause }

// System is the actor base. E is the event type the system emits.
// Construction registers the system in the process-global (kind, id)
// index; Stop deregisters it.
//
// Events are delivered to the single Listen consumer in emit order.
// Pipes run concurrently, so no ordering holds across events emitted by
// different pipes.
type System[E any] struct {
	kind string
	id   int64

	mu       sync.Mutex
	queue    []any // E | pipeFailure | stopMarker
	wake     chan struct{}
	stopping bool
	stopped  bool
	listing  bool
	err      error

	pipes    sync.WaitGroup
	pipeCtx  context.Context
	pipeStop context.CancelFunc
}

// New registers and returns a system identified by (kind, id).
func New[E any](kind string, id int64) (*System[E], error) {
	s := &System[E]{
		kind: kind,
		id:   id,
		wake: make(chan struct{}, 1),
	}
	s.pipeCtx, s.pipeStop = context.WithCancel(context.Background())
	if err := register(kind, id, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Kind returns the system's kind string.
func (s *System[E]) Kind() string { return s.kind }

// ID returns the system's id.
func (s *System[E]) ID() int64 { return s.id }

// Emit enqueues an event. It never blocks; after Stop it is a no-op.
func (s *System[E]) Emit(event E) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, event)
	s.mu.Unlock()
	s.signal()
}

func (s *System[E]) push(item any) {
	s.mu.Lock()
	s.queue = append(s.queue, item)
	s.mu.Unlock()
	s.signal()
}

func (s *System[E]) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// AddPipe starts a supervised background task. When fn returns a non-nil
// error the system enqueues a pipe-failure marker, which Listen surfaces
// as a fatal error. Adding a pipe to a stopped system is an error.
func (s *System[E]) AddPipe(fn func(ctx context.Context) error) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("system %s (id=%d) is stopped", s.kind, s.id)
	}
	s.pipes.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.pipes.Done()
		if err := fn(s.pipeCtx); err != nil && s.pipeCtx.Err() == nil {
			s.push(pipeFailure{err: &PipeError{System: s.kind, Cause: err}})
		}
	}()
	return nil
}

// Listen returns the single delivery channel for this system's events.
// The channel closes when the system stops or a pipe fails; after close,
// Err reports the failure, if any. Calling Listen twice is an error.
func (s *System[E]) Listen() (<-chan E, error) {
	s.mu.Lock()
	if s.listing {
		s.mu.Unlock()
		return nil, fmt.Errorf("system %s (id=%d) is already being listened to", s.kind, s.id)
	}
	s.listing = true
	s.mu.Unlock()

	out := make(chan E)
	go s.deliver(out)
	return out, nil
}

func (s *System[E]) deliver(out chan<- E) {
	defer close(out)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 {
			s.mu.Unlock()
			<-s.wake
			s.mu.Lock()
		}
		item := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		switch v := item.(type) {
		case stopMarker:
			return
		case pipeFailure:
			s.mu.Lock()
			s.err = v.err
			s.mu.Unlock()
			return
		default:
			out <- item.(E)
		}
	}
}

// Err returns the pipe failure that terminated delivery, or nil.
func (s *System[E]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop waits for all pipes, enqueues the stop sentinel and deregisters
// the system. Idempotent. The context bounds the wait for pipes; events
// emitted by pipes while draining are still delivered.
func (s *System[E]) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.pipes.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		// Cancel stuck pipes rather than hang shutdown on them.
		slog.Warn("Timed out waiting for pipes", "system", s.kind, "id", s.id)
	}
	s.pipeStop()

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	deregister(s.kind, s.id)
	s.push(stopMarker{})
	return nil
}
