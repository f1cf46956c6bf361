package watch

import (
	"sync"

	"guardiaswap/api/internal/store"
)

// Subscription is one live watch on the collection. Snapshots and errors
// arrive on separate channels; both close when the subscription does.
type Subscription struct {
	hub       *Hub
	snapshots chan []store.Shift
	errs      chan error

	mu     sync.Mutex
	closed bool
}

// Snapshots delivers complete ordered lists. The channel holds only the
// latest snapshot: if the consumer lags, intermediate snapshots are
// coalesced away rather than queued.
func (s *Subscription) Snapshots() <-chan []store.Shift {
	return s.snapshots
}

// Errs delivers subscription errors. An error does not end the
// subscription; the consumer decides whether to Close and re-Subscribe.
func (s *Subscription) Errs() <-chan error {
	return s.errs
}

// Close stops all further delivery and releases the watch. Safe to call
// more than once; every call after the first is a no-op.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if s.hub != nil {
		s.hub.remove(s)
	}
	close(s.snapshots)
	close(s.errs)
}

// deliver replaces any undrained snapshot with the fresh one.
func (s *Subscription) deliver(snapshot []store.Shift) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.snapshots <- snapshot:
	default:
		select {
		case <-s.snapshots:
		default:
		}
		select {
		case s.snapshots <- snapshot:
		default:
		}
	}
}

func (s *Subscription) deliverError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.errs <- err:
	default:
	}
}
