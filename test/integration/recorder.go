package integration

import (
	"sync"
	"testing"
	"time"

	"github.com/tabletale/tabletale/pkg/game"
	"github.com/tabletale/tabletale/pkg/universe"
)

// eventRecorder drains a universe's event channel into a slice the
// assertions poll. Events never block the systems that emit them.
type eventRecorder struct {
	mu     sync.Mutex
	events []universe.Event
	closed chan struct{}
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{closed: make(chan struct{})}
}

func (r *eventRecorder) consume(ch <-chan universe.Event) {
	for ev := range ch {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
	}
	close(r.closed)
}

func (r *eventRecorder) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-r.closed:
	case <-time.After(awaitTimeout):
		t.Fatal("event channel did not close")
	}
}

// snapshot returns all events recorded so far.
func (r *eventRecorder) snapshot() []universe.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]universe.Event(nil), r.events...)
}

// await polls until an event matching the predicate arrives.
func (r *eventRecorder) await(t *testing.T, what string, match func(universe.Event) bool) universe.Event {
	t.Helper()
	deadline := time.Now().Add(awaitTimeout)
	for {
		for _, ev := range r.snapshot() {
			if match(ev) {
				return ev
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// awaitGameEvent waits for an inner game event of type T for gameID and
// returns it.
func awaitGameEvent[T game.Event](t *testing.T, r *eventRecorder, gameID int64, what string) T {
	t.Helper()
	ev := r.await(t, what, func(ev universe.Event) bool {
		ge, ok := ev.(universe.GameEvent)
		if !ok || ge.GameID() != gameID {
			return false
		}
		_, ok = ge.Inner.(T)
		return ok
	})
	return ev.(universe.GameEvent).Inner.(T)
}

// gameEvents returns the inner game events recorded for gameID, in
// order.
func (r *eventRecorder) gameEvents(gameID int64) []game.Event {
	var out []game.Event
	for _, ev := range r.snapshot() {
		if ge, ok := ev.(universe.GameEvent); ok && ge.GameID() == gameID {
			out = append(out, ge.Inner)
		}
	}
	return out
}
