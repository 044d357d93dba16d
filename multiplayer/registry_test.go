package multiplayer

import (
	"context"
	"testing"
)

func TestRegistryPrunesIdlePlayers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.players.Get("bob", "bob")
	alice := env.players.Get("alice", "alice")
	_, cancel := alice.Subscribe(ctx)

	if n := env.players.Prune(); n != 0 {
		t.Fatalf("recently seen players were dropped: %d", n)
	}

	env.clock.Advance(PlayerIdleAfter + 1)
	env.players.Get("carol", "carol")
	if n := env.players.Prune(); n != 1 {
		t.Fatalf("expected only bob to be dropped, got %d", n)
	}
	if _, ok := env.players.Lookup("bob"); ok {
		t.Fatal("bob is still registered")
	}
	if _, ok := env.players.Lookup("alice"); !ok {
		t.Fatal("a streaming player was dropped")
	}

	cancel()
	if r := NewSweeper(env.deps, env.players).Sweep(ctx); r.IdlePlayers != 1 {
		t.Fatalf("expected the sweep to drop alice once her stream closed, got %+v", r)
	}
	if env.players.Len() != 1 {
		t.Fatalf("expected carol to remain, got %d players", env.players.Len())
	}
	if p := env.players.Get("bob", "bob"); p.Snapshot().Phase != PhaseIdle {
		t.Fatalf("a returning player should start idle, got %s", p.Snapshot().Phase)
	}
}

func TestRegistryKeepsQueuedPlayers(t *testing.T) {
	env := newTestEnv(t)
	alice := env.players.Get("alice", "alice")
	if _, err := alice.JoinQueue(context.Background()); err != nil {
		t.Fatal(err)
	}
	env.clock.Advance(PlayerIdleAfter + 1)
	if n := env.players.Prune(); n != 0 {
		t.Fatal("a queued player was dropped")
	}
}
