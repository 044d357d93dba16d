package multiplayer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"git-arcade/models"
	"git-arcade/store"
)

func TestJoinQueuePairsWithWaitingOpponent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	enqueue(t, env.store, "alice", env.clock.Now())

	m, err := env.coord.JoinQueue(ctx, "bob", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if m == nil {
		t.Fatal("expected a match")
	}
	if m.Status != models.MatchStatusWaiting || m.Player1ID != "alice" || m.Player2ID != "bob" {
		t.Fatalf("unexpected match: %+v", m)
	}
	if _, err := env.store.GetQueueEntry(ctx, "alice"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("alice's queue entry should be consumed, got %v", err)
	}
}

func TestJoinQueueWithoutOpponentWaits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	m, err := env.coord.JoinQueue(ctx, "alice", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if m != nil {
		t.Fatalf("expected no match, got %+v", m)
	}
	if _, err := env.store.GetQueueEntry(ctx, "alice"); err != nil {
		t.Fatalf("alice should be queued: %v", err)
	}

	// Joining again replaces the entry instead of duplicating it.
	if _, err := env.coord.JoinQueue(ctx, "alice", "alice"); err != nil {
		t.Fatal(err)
	}
	if q, _ := env.store.WaitingQueue(ctx, ""); len(q) != 1 {
		t.Fatalf("expected one queue entry, got %d", len(q))
	}
}

func TestJoinQueueSkipsOpponentsInActiveMatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	enqueue(t, env.store, "carol", env.clock.Now())
	enqueue(t, env.store, "dave", env.clock.Now())
	m, err := env.store.CreateMatchForOpponent(ctx, env.deps.matchParams("carol", "carol", "dave", "dave"))
	if err != nil {
		t.Fatal(err)
	}
	env.store.MarkReady(ctx, m.ID, "carol", env.clock.Now())
	env.store.MarkReady(ctx, m.ID, "dave", env.clock.Now())

	// carol is back in the queue while still bound to an active match.
	enqueue(t, env.store, "carol", env.clock.Now())
	env.clock.Advance(time.Second)
	enqueue(t, env.store, "erin", env.clock.Now())

	got, err := env.coord.JoinQueue(ctx, "frank", "frank")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Player1ID != "erin" {
		t.Fatalf("expected a match with erin, got %+v", got)
	}
}

func TestConcurrentJoinCreatesOneMatch(t *testing.T) {
	for i := 0; i < 20; i++ {
		env := newTestEnv(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		results := make([]*models.Match, 2)
		for j, user := range []string{"alice", "bob"} {
			wg.Add(1)
			go func(j int, user string) {
				defer wg.Done()
				m, err := env.coord.JoinQueue(ctx, user, user)
				if err != nil {
					t.Error(err)
				}
				results[j] = m
			}(j, user)
		}
		wg.Wait()

		matches, _ := env.store.ListOpenMatches(ctx)
		if len(matches) > 1 {
			t.Fatalf("run %d: %d open matches for one pair", i, len(matches))
		}
		for _, m := range results {
			if m != nil && len(matches) == 1 && m.ID != matches[0].ID {
				t.Fatalf("run %d: a caller holds a match that is not the pair's match", i)
			}
		}
	}
}

func TestCleanupRemovesOwnStaleMatches(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	enqueue(t, env.store, "alice", env.clock.Now())
	enqueue(t, env.store, "bob", env.clock.Now())
	waiting, err := env.store.CreateMatchForOpponent(ctx, env.deps.matchParams("alice", "alice", "bob", "bob"))
	if err != nil {
		t.Fatal(err)
	}

	enqueue(t, env.store, "alice", env.clock.Now())
	enqueue(t, env.store, "carol", env.clock.Now())
	stale, err := env.store.CreateMatchForOpponent(ctx, env.deps.matchParams("alice", "alice", "carol", "carol"))
	if err != nil {
		t.Fatal(err)
	}
	env.store.MarkReady(ctx, stale.ID, "alice", env.clock.Now())
	env.store.MarkReady(ctx, stale.ID, "carol", env.clock.Now())
	env.store.ApplySubmission(ctx, stale.ID, "carol", true)

	env.clock.Advance(4 * time.Minute)
	env.coord.CleanupUserMatches(ctx, "alice")

	if _, err := env.store.GetMatch(ctx, waiting.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("waiting match should be deleted, got %v", err)
	}
	got, err := env.store.GetMatch(ctx, stale.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.MatchStatusFinished || got.WinnerReason != models.WinReasonStaleCleanup || got.WinnerID != "carol" {
		t.Fatalf("orphaned match not finished as expected: %+v", got)
	}
	if env.results.Len() != 1 {
		t.Fatalf("expected one recorded result, got %d", env.results.Len())
	}
}

func TestWaitFindsMatchCreatedByOpponent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if m, _ := env.coord.JoinQueue(ctx, "alice", "alice"); m != nil {
		t.Fatal("unexpected immediate match")
	}
	found := make(chan models.Match, 1)
	w := env.coord.Wait(ctx, "alice", "alice", func(m models.Match) { found <- m })
	defer w.Stop()

	m, err := env.coord.JoinQueue(ctx, "bob", "bob")
	if err != nil || m == nil {
		t.Fatalf("bob should pair with alice: %v", err)
	}

	select {
	case got := <-found:
		if got.ID != m.ID {
			t.Fatalf("alice adopted %s, bob created %s", got.ID, m.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("alice never learned about the match")
	}
	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("wait not torn down after the match")
	}
}

func TestWaitPollReinsertsExpiredEntry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.coord.JoinQueue(ctx, "alice", "alice")
	w := env.coord.Wait(ctx, "alice", "alice", func(models.Match) {})
	defer w.Stop()

	env.store.DeleteQueueEntry(ctx, "alice")
	env.clock.BlockUntilContext(ctx, 1)
	env.clock.Advance(env.deps.Config.QueuePoll)

	eventually(t, "alice re-enqueued", func() bool {
		_, err := env.store.GetQueueEntry(ctx, "alice")
		return err == nil
	})
}

func TestLeaveQueueStopsWaiting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.coord.JoinQueue(ctx, "alice", "alice")
	w := env.coord.Wait(ctx, "alice", "alice", func(models.Match) { t.Error("match after leaving") })
	w.Stop()
	if err := env.coord.LeaveQueue(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if err := env.coord.LeaveQueue(ctx, "alice"); err != nil {
		t.Fatalf("leaving twice should be a no-op: %v", err)
	}
	if env.deps.Hub.Subscribers() != 0 {
		t.Fatalf("listeners left behind: %d", env.deps.Hub.Subscribers())
	}

	enqueue(t, env.store, "bob", env.clock.Now())
	if m, _ := env.coord.JoinQueue(ctx, "carol", "carol"); m == nil || m.Player1ID != "bob" {
		t.Fatalf("carol should pair with bob, got %+v", m)
	}
}
