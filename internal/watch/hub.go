// Package watch maintains a live view of the shifts collection and fans it
// out to subscribers as complete ordered snapshots.
package watch

import (
	"context"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"

	"guardiaswap/api/internal/store"
)

// Channel is the pub/sub channel mutations publish on. Every process
// watching the collection subscribes to it, so a write in one process
// refreshes the snapshot in all of them.
const Channel = "guardiaswap:shifts"

// Lister reads the full ordered collection. Satisfied by *store.PostgresStore.
type Lister interface {
	ListShifts(ctx context.Context) ([]store.Shift, error)
}

// Hub owns the current snapshot. Subscribers always receive the complete
// list ordered ascending by creation time, never a delta; a slow subscriber
// may skip intermediate snapshots but never sees a stale one after a fresh
// one.
type Hub struct {
	lister   Lister
	rdb      *redis.Client // nil: in-process notifications only
	disabled bool

	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	current []store.Shift
	loaded  bool
	stopped bool
	cancel  context.CancelFunc
}

// NewHub creates a hub over a live connection. rdb may be nil, in which case
// Notify refreshes synchronously instead of going through pub/sub.
func NewHub(lister Lister, rdb *redis.Client) *Hub {
	return &Hub{
		lister: lister,
		rdb:    rdb,
		subs:   make(map[*Subscription]struct{}),
	}
}

// NewDisabledHub creates the hub used when the backend connection is
// unavailable: every subscriber immediately gets an empty snapshot and
// not-loading, and nothing ever errors. An absent backend is "no data", not
// a fault.
func NewDisabledHub() *Hub {
	return &Hub{
		disabled: true,
		subs:     make(map[*Subscription]struct{}),
		current:  []store.Shift{},
		loaded:   true,
	}
}

// Start performs the initial load and, when a Redis client is present,
// begins listening for change notifications. The initial snapshot counts
// even when the collection is empty: it flips loading to false.
func (h *Hub) Start(ctx context.Context) {
	if h.disabled {
		return
	}

	ctx, h.cancel = context.WithCancel(ctx)
	h.refresh(ctx)

	if h.rdb == nil {
		return
	}
	pubsub := h.rdb.Subscribe(ctx, Channel)
	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				h.refresh(ctx)
			}
		}
	}()
}

// Stop cancels the change listener and closes every open subscription.
func (h *Hub) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.mu.Lock()
	h.stopped = true
	subs := make([]*Subscription, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
}

// Notify signals that the collection changed. With a Redis client the signal
// goes through pub/sub so that every watching process refreshes; without one
// the hub refreshes directly.
func (h *Hub) Notify(ctx context.Context) {
	if h.disabled {
		return
	}
	if h.rdb != nil {
		if err := h.rdb.Publish(ctx, Channel, "changed").Err(); err != nil {
			log.Printf("watch: publish change notification: %v", err)
			// Fall back to a local refresh so this process at least
			// converges.
			h.refresh(ctx)
		}
		return
	}
	h.refresh(ctx)
}

// Loading reports whether the first snapshot is still outstanding. The first
// delivery, or the first error, clears it.
func (h *Hub) Loading() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.loaded
}

// Current returns the latest snapshot.
func (h *Hub) Current() []store.Shift {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// refresh re-reads the complete ordered collection and broadcasts it. On a
// read error subscribers get the error and loading clears; there is no
// automatic retry. The next notification is the recovery path.
func (h *Hub) refresh(ctx context.Context) {
	shifts, err := h.lister.ListShifts(ctx)
	if err != nil {
		log.Printf("watch: refresh failed: %v", err)
		h.mu.Lock()
		h.loaded = true
		subs := h.snapshotSubs()
		h.mu.Unlock()
		for _, sub := range subs {
			sub.deliverError(err)
		}
		return
	}
	if shifts == nil {
		shifts = []store.Shift{}
	}

	h.mu.Lock()
	h.current = shifts
	h.loaded = true
	subs := h.snapshotSubs()
	h.mu.Unlock()
	for _, sub := range subs {
		sub.deliver(shifts)
	}
}

func (h *Hub) snapshotSubs() []*Subscription {
	subs := make([]*Subscription, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	return subs
}

// Subscribe opens a subscription. If a snapshot already exists (including
// the disabled hub's permanent empty one) it is delivered immediately.
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{
		hub:       h,
		snapshots: make(chan []store.Shift, 1),
		errs:      make(chan error, 1),
	}

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		sub.Close()
		return sub
	}
	h.subs[sub] = struct{}{}
	// Deliver the initial snapshot before releasing the lock. A refresh
	// racing the registration would otherwise deliver its newer snapshot
	// first and have this one overwrite it.
	if h.loaded {
		sub.deliver(h.current)
	}
	h.mu.Unlock()
	return sub
}

// SubscribeFunc adapts the subscription to the callback contract: onChange
// receives every snapshot, onError every subscription error. The returned
// function stops delivery and releases the watch; calling it more than once
// is a no-op.
func (h *Hub) SubscribeFunc(onChange func([]store.Shift), onError func(error)) func() {
	sub := h.Subscribe()
	go func() {
		for {
			select {
			case snapshot, ok := <-sub.Snapshots():
				if !ok {
					return
				}
				onChange(snapshot)
			case err, ok := <-sub.Errs():
				if !ok {
					return
				}
				onError(err)
			}
		}
	}()
	return sub.Close
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}
