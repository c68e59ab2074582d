package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/registry"
)

type fakeLocker struct {
	held     bool
	lost     bool
	acquired int
	renewed  int
	released int
	ttl      time.Duration
}

func (l *fakeLocker) Acquire(_ context.Context, _, _ string, ttl time.Duration) (bool, error) {
	if l.held {
		return false, nil
	}
	l.acquired++
	l.ttl = ttl
	return true, nil
}

func (l *fakeLocker) Renew(context.Context, string, string, time.Duration) (bool, error) {
	l.renewed++
	return !l.lost, nil
}

func (l *fakeLocker) Release(context.Context, string, string) (bool, error) {
	l.released++
	return true, nil
}

func seedStale(t *testing.T, store registry.Store, ids ...string) {
	t.Helper()
	old := time.Now().Add(-time.Hour)
	for _, id := range ids {
		if err := store.CreateSubmission(context.Background(), &registry.Submission{
			ID:          id,
			RepoURL:     "https://github.com/acme/" + id,
			SubmittedBy: "user-1",
			SubmittedAt: old,
		}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
}

func TestPendingReplayerReplaysStaleSubmissions(t *testing.T) {
	store := newTestStore(t)
	fetcher := serve(`{"name":"n","description":"d"}`)
	m := newTestMachine(t, store, fetcher, Config{})
	seedStale(t, store, "stale-1", "stale-2")
	submit(t, store, "fresh", "https://github.com/acme/fresh")

	locker := &fakeLocker{}
	replayer := NewPendingReplayer(m, store, locker, 5*time.Minute, time.Millisecond)
	if n := replayer.tick(context.Background()); n != 2 {
		t.Fatalf("expected two replayed, got %d", n)
	}
	if fetcher.count() != 2 {
		t.Fatalf("expected two fetches, got %d", fetcher.count())
	}
	if locker.acquired != 1 || locker.released != 1 {
		t.Fatalf("expected lock taken and released once, got %d/%d", locker.acquired, locker.released)
	}
	if locker.renewed != 1 {
		t.Fatalf("expected the lease renewed between replays, got %d", locker.renewed)
	}
	sub, _ := store.GetSubmission(context.Background(), "stale-1")
	if sub.StatusMessage != MsgVerified || sub.ValidatedAt == nil {
		t.Fatalf("expected stale submission validated, got %#v", sub)
	}
	if n := replayer.tick(context.Background()); n != 0 {
		t.Fatalf("validated submissions must not be replayed, got %d", n)
	}
}

func TestPendingReplayerSkipsWhenLockHeld(t *testing.T) {
	store := newTestStore(t)
	fetcher := serve(`{"name":"n","description":"d"}`)
	m := newTestMachine(t, store, fetcher, Config{})
	seedStale(t, store, "stale-1")

	replayer := NewPendingReplayer(m, store, &fakeLocker{held: true}, 5*time.Minute, time.Millisecond)
	if n := replayer.tick(context.Background()); n != 0 || fetcher.count() != 0 {
		t.Fatalf("expected no replay while another replica holds the lock")
	}
}

func TestPendingReplayerStartStops(t *testing.T) {
	store := newTestStore(t)
	m := newTestMachine(t, store, serve(`{}`), Config{})
	replayer := NewPendingReplayer(m, store, &fakeLocker{}, time.Minute, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		replayer.Start(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("replayer did not stop on context cancel")
	}
}

func TestPendingReplayerStopsWhenLeaseLost(t *testing.T) {
	store := newTestStore(t)
	fetcher := serve(`{"name":"n","description":"d"}`)
	m := newTestMachine(t, store, fetcher, Config{})
	seedStale(t, store, "stale-1", "stale-2", "stale-3")

	locker := &fakeLocker{lost: true}
	replayer := NewPendingReplayer(m, store, locker, 5*time.Minute, time.Millisecond)
	if n := replayer.tick(context.Background()); n != 1 {
		t.Fatalf("expected replay to stop after the first submission, got %d", n)
	}
	if fetcher.count() != 1 || locker.renewed != 1 {
		t.Fatalf("expected one fetch and one renewal, got %d/%d", fetcher.count(), locker.renewed)
	}
}

func TestPendingReplayerLeaseCoversOneRun(t *testing.T) {
	store := newTestStore(t)
	m := newTestMachine(t, store, serve(`{}`), Config{RunTimeout: 90 * time.Second})
	locker := &fakeLocker{}
	replayer := NewPendingReplayer(m, store, locker, time.Minute, time.Second)
	seedStale(t, store, "stale-1")
	replayer.tick(context.Background())
	if locker.ttl != 3*time.Minute {
		t.Fatalf("expected lease of twice the run timeout, got %v", locker.ttl)
	}
}
