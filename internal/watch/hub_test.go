package watch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"guardiaswap/api/internal/store"
)

// fakeLister serves whatever shifts the test loaded into it.
type fakeLister struct {
	mu     sync.Mutex
	shifts []store.Shift
	err    error
}

func (f *fakeLister) ListShifts(ctx context.Context) ([]store.Shift, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]store.Shift, len(f.shifts))
	copy(out, f.shifts)
	return out, nil
}

func (f *fakeLister) set(shifts []store.Shift) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shifts = shifts
}

func (f *fakeLister) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func waitSnapshot(t *testing.T, sub *Subscription) []store.Shift {
	t.Helper()
	select {
	case snapshot, ok := <-sub.Snapshots():
		if !ok {
			t.Fatal("subscription closed while waiting for snapshot")
		}
		return snapshot
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return nil
}

func ids(shifts []store.Shift) []string {
	out := make([]string, len(shifts))
	for i, s := range shifts {
		out[i] = s.ID
	}
	return out
}

func shiftAt(id, date string, at time.Time) store.Shift {
	return store.Shift{ID: id, Date: date, CreatedAt: at}
}

func TestFirstSnapshotClearsLoadingEvenWhenEmpty(t *testing.T) {
	lister := &fakeLister{}
	hub := NewHub(lister, nil)

	if !hub.Loading() {
		t.Fatal("expected loading before start")
	}

	sub := hub.Subscribe()
	defer sub.Close()
	hub.Start(context.Background())
	defer hub.Stop()

	snapshot := waitSnapshot(t, sub)
	if len(snapshot) != 0 {
		t.Fatalf("expected empty snapshot, got %v", ids(snapshot))
	}
	if hub.Loading() {
		t.Fatal("expected loading cleared after first snapshot")
	}
}

func TestSnapshotsTrackMutationsInOrder(t *testing.T) {
	base := time.Now().UTC().Truncate(time.Second)
	a := shiftAt("shift_a", "2024-06-01", base)
	b := shiftAt("shift_b", "2024-06-02", base.Add(time.Minute))

	lister := &fakeLister{}
	hub := NewHub(lister, nil)
	hub.Start(context.Background())
	defer hub.Stop()

	sub := hub.Subscribe()
	defer sub.Close()
	waitSnapshot(t, sub) // initial empty snapshot

	ctx := context.Background()

	lister.set([]store.Shift{a})
	hub.Notify(ctx)
	got := waitSnapshot(t, sub)
	if len(got) != 1 || got[0].ID != "shift_a" {
		t.Fatalf("after insert A: got %v", ids(got))
	}

	lister.set([]store.Shift{a, b})
	hub.Notify(ctx)
	got = waitSnapshot(t, sub)
	if len(got) != 2 || got[0].ID != "shift_a" || got[1].ID != "shift_b" {
		t.Fatalf("after insert B: got %v", ids(got))
	}
	if got[0].CreatedAt.After(got[1].CreatedAt) {
		t.Fatal("snapshot not ascending by createdAt")
	}

	lister.set([]store.Shift{b})
	hub.Notify(ctx)
	got = waitSnapshot(t, sub)
	if len(got) != 1 || got[0].ID != "shift_b" {
		t.Fatalf("after delete A: got %v", ids(got))
	}
}

func TestLateSubscriberGetsCurrentSnapshotImmediately(t *testing.T) {
	lister := &fakeLister{}
	lister.set([]store.Shift{shiftAt("shift_a", "2024-06-01", time.Now())})

	hub := NewHub(lister, nil)
	hub.Start(context.Background())
	defer hub.Stop()

	sub := hub.Subscribe()
	defer sub.Close()
	got := waitSnapshot(t, sub)
	if len(got) != 1 || got[0].ID != "shift_a" {
		t.Fatalf("expected immediate current snapshot, got %v", ids(got))
	}
}

func TestSlowSubscriberCoalescesToLatest(t *testing.T) {
	lister := &fakeLister{}
	hub := NewHub(lister, nil)
	hub.Start(context.Background())
	defer hub.Stop()

	sub := hub.Subscribe()
	defer sub.Close()
	waitSnapshot(t, sub)

	ctx := context.Background()
	lister.set([]store.Shift{shiftAt("shift_a", "2024-06-01", time.Now())})
	hub.Notify(ctx)
	lister.set([]store.Shift{shiftAt("shift_b", "2024-06-02", time.Now())})
	hub.Notify(ctx)

	// Without draining in between, only the latest snapshot is pending.
	got := waitSnapshot(t, sub)
	if len(got) != 1 || got[0].ID != "shift_b" {
		t.Fatalf("expected latest snapshot only, got %v", ids(got))
	}
	select {
	case extra := <-sub.Snapshots():
		t.Fatalf("unexpected queued snapshot: %v", ids(extra))
	default:
	}
}

func TestCloseIsIdempotentAndStopsDelivery(t *testing.T) {
	lister := &fakeLister{}
	hub := NewHub(lister, nil)
	hub.Start(context.Background())
	defer hub.Stop()

	sub := hub.Subscribe()
	waitSnapshot(t, sub)

	sub.Close()
	sub.Close() // second close is a no-op

	lister.set([]store.Shift{shiftAt("shift_a", "2024-06-01", time.Now())})
	hub.Notify(context.Background())

	if _, ok := <-sub.Snapshots(); ok {
		t.Fatal("expected closed snapshot channel")
	}
}

func TestRefreshErrorReachesErrorChannelAndClearsLoading(t *testing.T) {
	lister := &fakeLister{}
	lister.fail(errors.New("permission denied"))

	hub := NewHub(lister, nil)
	sub := hub.Subscribe()
	defer sub.Close()

	hub.Start(context.Background())
	defer hub.Stop()

	select {
	case err := <-sub.Errs():
		if err == nil {
			t.Fatal("expected error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error")
	}
	if hub.Loading() {
		t.Fatal("expected loading cleared after error")
	}

	// No automatic retry: recovery requires another notification.
	lister.fail(nil)
	lister.set([]store.Shift{shiftAt("shift_a", "2024-06-01", time.Now())})
	hub.Notify(context.Background())
	got := waitSnapshot(t, sub)
	if len(got) != 1 {
		t.Fatalf("expected recovery snapshot after notify, got %v", ids(got))
	}
}

func TestDisabledHubReportsEmptyNotLoading(t *testing.T) {
	hub := NewDisabledHub()
	if hub.Loading() {
		t.Fatal("disabled hub must not report loading")
	}

	sub := hub.Subscribe()
	defer sub.Close()
	got := waitSnapshot(t, sub)
	if len(got) != 0 {
		t.Fatalf("expected empty snapshot, got %v", ids(got))
	}

	select {
	case err := <-sub.Errs():
		t.Fatalf("disabled hub must not error, got %v", err)
	default:
	}
}

func TestSubscribeFuncCallbackContract(t *testing.T) {
	lister := &fakeLister{}
	hub := NewHub(lister, nil)
	hub.Start(context.Background())
	defer hub.Stop()

	snapshots := make(chan []store.Shift, 4)
	unsubscribe := hub.SubscribeFunc(
		func(s []store.Shift) { snapshots <- s },
		func(err error) { t.Errorf("unexpected error: %v", err) },
	)

	select {
	case got := <-snapshots:
		if len(got) != 0 {
			t.Fatalf("expected initial empty snapshot, got %v", ids(got))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback")
	}

	unsubscribe()
	unsubscribe() // no-op
}

// A subscriber arriving while a refresh is in flight must not end up with
// an older snapshot queued behind a newer one. Both delivers complete
// before the drain below, so the latest queued snapshot must reflect the
// full collection on every iteration.
func TestSubscribeDuringRefreshNeverRegresses(t *testing.T) {
	lister := &fakeLister{}
	hub := NewHub(lister, nil)
	hub.Start(context.Background())
	defer hub.Stop()

	ctx := context.Background()
	shifts := []store.Shift{}
	for i := 0; i < 200; i++ {
		shifts = append(shifts, store.Shift{ID: newTestID(i), Date: "2026-09-01", CreatedAt: time.Now()})
		lister.set(shifts)
		want := len(shifts)

		done := make(chan struct{})
		go func() {
			hub.Notify(ctx)
			close(done)
		}()

		sub := hub.Subscribe()
		last := waitSnapshot(t, sub)
		<-done
	drain:
		for {
			select {
			case snapshot, ok := <-sub.Snapshots():
				if !ok {
					t.Fatal("subscription closed mid-test")
				}
				last = snapshot
			default:
				break drain
			}
		}
		if len(last) != want {
			t.Fatalf("iteration %d: latest snapshot has %d shifts, want %d", i, len(last), want)
		}
		sub.Close()
	}
}

func newTestID(i int) string {
	return "shift_" + string(rune('a'+i%26)) + "_" + time.Now().Format("150405.000000000")
}
