package multiplayer

import (
	"context"
	"errors"
	"testing"
	"time"

	"git-arcade/models"
	"git-arcade/store"
)

func newInviteEnv(t *testing.T) (*testEnv, *InviteService) {
	t.Helper()
	env := newTestEnv(t)
	ctx := context.Background()
	for _, name := range []string{"alice", "bob", "carol"} {
		if err := env.store.UpsertProfile(ctx, models.Profile{UserID: name, Username: name}); err != nil {
			t.Fatal(err)
		}
	}
	invites := NewInviteService(ctx, env.deps, env.players)
	t.Cleanup(invites.Close)
	return env, invites
}

func TestInviteAcceptMovesBothPlayersIntoMatch(t *testing.T) {
	env, invites := newInviteEnv(t)
	ctx := context.Background()
	alice := env.players.Get("alice", "alice")

	inv, err := invites.Send(ctx, "alice", "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if inv.Status != models.InviteStatusPending || inv.ReceiverUsername != "bob" {
		t.Fatalf("unexpected invite: %+v", inv)
	}
	if _, err := invites.Send(ctx, "bob", "bob", "alice"); !errors.Is(err, store.ErrInviteExists) {
		t.Fatalf("expected ErrInviteExists for the reverse invite, got %v", err)
	}

	accepted, m, err := invites.Accept(ctx, inv.ID, "bob", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if accepted.Status != models.InviteStatusAccepted || accepted.MatchID != m.ID {
		t.Fatalf("unexpected accepted invite: %+v", accepted)
	}
	if m.Player1ID != "alice" || m.Player2ID != "bob" {
		t.Fatalf("sender should be player1: %+v", m)
	}

	bob, _ := env.players.Lookup("bob")
	if bob.Snapshot().Phase != PhaseLobby {
		t.Fatalf("bob should be in the lobby, got %s", bob.Snapshot().Phase)
	}
	eventually(t, "alice follows the invite into the match", func() bool {
		s := alice.Snapshot()
		return s.Phase == PhaseLobby && s.Match.ID == m.ID
	})
	eventually(t, "tracker stopped", func() bool { return invites.Tracking() == 0 })
}

func TestInviteRejectAndCancel(t *testing.T) {
	_, invites := newInviteEnv(t)
	ctx := context.Background()

	inv, err := invites.Send(ctx, "alice", "alice", "carol")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := invites.Reject(ctx, inv.ID, "alice"); !errors.Is(err, store.ErrNotInviteParty) {
		t.Fatalf("only the receiver may reject, got %v", err)
	}
	rejected, err := invites.Reject(ctx, inv.ID, "carol")
	if err != nil {
		t.Fatal(err)
	}
	if rejected.Status != models.InviteStatusRejected {
		t.Fatalf("unexpected status %s", rejected.Status)
	}
	if _, _, err := invites.Accept(ctx, inv.ID, "carol", "carol"); !errors.Is(err, store.ErrInviteNotPending) {
		t.Fatalf("accepting a rejected invite should fail, got %v", err)
	}

	inv, err = invites.Send(ctx, "alice", "alice", "carol")
	if err != nil {
		t.Fatal(err)
	}
	cancelled, err := invites.Cancel(ctx, inv.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if cancelled.Status != models.InviteStatusCancelled {
		t.Fatalf("unexpected status %s", cancelled.Status)
	}
	eventually(t, "trackers stopped", func() bool { return invites.Tracking() == 0 })

	if pending, _ := invites.Pending(ctx, "carol"); len(pending) != 0 {
		t.Fatalf("expected no pending invites, got %d", len(pending))
	}
	if _, err := invites.Send(ctx, "alice", "alice", "alice"); !errors.Is(err, ErrSelfInvite) {
		t.Fatalf("expected ErrSelfInvite, got %v", err)
	}
	if _, err := invites.Send(ctx, "alice", "alice", "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for an unknown user, got %v", err)
	}
}

func TestInviteAcceptWaitsWhilePlaying(t *testing.T) {
	env, invites := newInviteEnv(t)
	ctx := context.Background()
	alice, bob := playing(t, env)
	running := bob.Snapshot().Match.ID

	toBob, err := invites.Send(ctx, "carol", "carol", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := invites.Accept(ctx, toBob.ID, "bob", "bob"); !errors.Is(err, ErrInMatch) {
		t.Fatalf("a playing receiver must not accept, got %v", err)
	}
	fromAlice, err := invites.Send(ctx, "alice", "alice", "carol")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := invites.Accept(ctx, fromAlice.ID, "carol", "carol"); !errors.Is(err, ErrInMatch) {
		t.Fatalf("accepting a playing sender's invite must fail, got %v", err)
	}

	for _, id := range []string{toBob.ID, fromAlice.ID} {
		inv, err := env.store.GetInvite(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if inv.Status != models.InviteStatusPending {
			t.Fatalf("invite %s should still be pending, got %s", id, inv.Status)
		}
	}
	for _, p := range []*Player{alice, bob} {
		snap := p.Snapshot()
		if snap.Phase != PhasePlaying || snap.Match.ID != running {
			t.Fatalf("%s left the running match: %+v", p.UserID, snap)
		}
	}
}

func TestBusySenderGivesUpInvitedMatch(t *testing.T) {
	env, invites := newInviteEnv(t)
	ctx := context.Background()
	alice, _ := playing(t, env)
	running := alice.Snapshot().Match.ID

	inv, err := invites.Send(ctx, "alice", "alice", "carol")
	if err != nil {
		t.Fatal(err)
	}
	// Accepted elsewhere; alice only learns of it from the invite feed.
	_, m, err := env.store.AcceptInvite(ctx, inv.ID, "carol", env.deps.matchParams("alice", "alice", "carol", "carol"), env.clock.Now())
	if err != nil {
		t.Fatal(err)
	}

	eventually(t, "invited match given up", func() bool {
		got, err := env.store.GetMatch(ctx, m.ID)
		return err == nil && got.Status == models.MatchStatusFinished
	})
	got, _ := env.store.GetMatch(ctx, m.ID)
	if got.WinnerID != "carol" || got.WinnerReason != models.WinReasonOpponentLeft {
		t.Fatalf("unexpected outcome: %+v", got)
	}
	if snap := alice.Snapshot(); snap.Phase != PhasePlaying || snap.Match.ID != running {
		t.Fatalf("alice left the running match: %+v", snap)
	}
}

func TestSearchExcludesCaller(t *testing.T) {
	_, invites := newInviteEnv(t)
	got, err := invites.Search(context.Background(), "alice", "")
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range got {
		if p.UserID == "alice" {
			t.Fatal("search returned the caller")
		}
	}
	if len(got) != 2 {
		t.Fatalf("expected bob and carol, got %+v", got)
	}
}

func TestSweepCleansAbandonedState(t *testing.T) {
	env, invites := newInviteEnv(t)
	ctx := context.Background()

	enqueue(t, env.store, "alice", env.clock.Now())
	enqueue(t, env.store, "bob", env.clock.Now())
	m, err := env.store.CreateMatchForOpponent(ctx, env.deps.matchParams("alice", "alice", "bob", "bob"))
	if err != nil {
		t.Fatal(err)
	}
	enqueue(t, env.store, "carol", env.clock.Now())
	if _, err := invites.Send(ctx, "carol", "carol", "alice"); err != nil {
		t.Fatal(err)
	}

	env.clock.Advance(6 * time.Minute)
	report := NewSweeper(env.deps, env.players).Sweep(ctx)

	if report.QueueEntries != 1 || report.ExpiredInvites != 1 || report.FinishedStale != 1 {
		t.Fatalf("unexpected sweep report: %+v", report)
	}
	got, err := env.store.GetMatch(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.MatchStatusFinished || got.WinnerReason != models.WinReasonStaleCleanup {
		t.Fatalf("orphaned match not finished: %+v", got)
	}
	if env.results.Len() != 1 {
		t.Fatalf("expected one recorded result, got %d", env.results.Len())
	}

	if again := NewSweeper(env.deps, env.players).Sweep(ctx); again.FinishedStale != 0 {
		t.Fatalf("second sweep finished %d matches", again.FinishedStale)
	}
}
