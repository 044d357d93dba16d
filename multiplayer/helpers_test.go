package multiplayer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"git-arcade/models"
	"git-arcade/realtime"
	"git-arcade/services"
	"git-arcade/store"
)

// fixedSource serves the same small world on every call.
type fixedSource struct {
	mu    sync.Mutex
	size  int
	calls int
}

func (f *fixedSource) RandomChallenges(_ context.Context, worldID, count int) ([]services.ChallengeInstance, error) {
	f.mu.Lock()
	f.calls++
	size := f.size
	f.mu.Unlock()
	if count > size {
		count = size
	}
	out := make([]services.ChallengeInstance, 0, count)
	for i := 1; i <= count; i++ {
		out = append(out, services.ChallengeInstance{
			ChallengeID: i,
			WorldID:     worldID,
			Question:    fmt.Sprintf("question %d", i),
			Answer:      fmt.Sprintf("git cmd%d", i),
		})
	}
	return out, nil
}

func (f *fixedSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type resultLog struct {
	mu      sync.Mutex
	results []models.MatchHistory
}

func (r *resultLog) RecordMultiplayerResult(_ context.Context, h models.MatchHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, h)
	return nil
}

func (r *resultLog) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

type testEnv struct {
	deps    *Deps
	store   *store.MemoryStore
	clock   *clockwork.FakeClock
	results *resultLog
	coord   *Coordinator
	players *Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	hub := realtime.NewHub()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	st := store.NewMemoryStore(hub, clock)

	cfg := DefaultConfig()
	cfg.ScoreLimit = 3
	results := &resultLog{}
	deps := &Deps{
		Store:      st,
		Hub:        hub,
		Clock:      clock,
		Challenges: &fixedSource{size: 5},
		Results:    results,
		Config:     cfg,
	}
	ctx, cancel := context.WithCancel(context.Background())
	coord := NewCoordinator(deps)
	players := NewRegistry(ctx, deps, coord)
	t.Cleanup(func() {
		players.Close()
		cancel()
	})
	return &testEnv{deps: deps, store: st, clock: clock, results: results, coord: coord, players: players}
}

func enqueue(t *testing.T, s store.Store, userID string, at time.Time) {
	t.Helper()
	err := s.InsertQueueEntry(context.Background(), &models.QueueEntry{UserID: userID, Username: userID, CreatedAt: at})
	if err != nil {
		t.Fatalf("enqueue %s: %v", userID, err)
	}
}

// eventually retries cond until it holds or a second has passed.
func eventually(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for: %s", msg)
}
