package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"git-arcade/models"
	"git-arcade/realtime"
)

func newTestStore(t *testing.T) (*MemoryStore, *realtime.Hub, *clockwork.FakeClock) {
	t.Helper()
	hub := realtime.NewHub()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewMemoryStore(hub, clock), hub, clock
}

func enqueue(t *testing.T, s *MemoryStore, userID string) {
	t.Helper()
	if err := s.InsertQueueEntry(context.Background(), &models.QueueEntry{UserID: userID, Username: userID}); err != nil {
		t.Fatalf("enqueue %s: %v", userID, err)
	}
}

func pairParams(p1, p2 string) CreateMatchParams {
	return CreateMatchParams{
		Player1ID: p1, Player1Username: p1,
		Player2ID: p2, Player2Username: p2,
		ScoreLimit: 5, GameDuration: 120,
	}
}

func TestWaitingQueueIsOldestFirst(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()

	enqueue(t, s, "carol")
	clock.Advance(time.Second)
	enqueue(t, s, "alice")
	clock.Advance(time.Second)
	enqueue(t, s, "bob")

	got, err := s.WaitingQueue(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].UserID != "carol" || got[1].UserID != "alice" {
		t.Fatalf("unexpected queue order: %+v", got)
	}
}

func TestCreateMatchConsumesBothQueueEntries(t *testing.T) {
	s, hub, _ := newTestStore(t)
	ctx := context.Background()
	inserts := hub.Subscribe(realtime.Filter{Table: TableMatches, Op: realtime.OpInsert, Column: "player1_id", Value: "alice"})
	defer inserts.Close()

	enqueue(t, s, "alice")
	enqueue(t, s, "bob")

	m, err := s.CreateMatchForOpponent(ctx, pairParams("alice", "bob"))
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != models.MatchStatusWaiting || m.Player1ID != "alice" || m.Player2ID != "bob" {
		t.Fatalf("unexpected match: %+v", m)
	}
	if q, _ := s.WaitingQueue(ctx, ""); len(q) != 0 {
		t.Fatalf("expected empty queue, got %d entries", len(q))
	}
	if len(inserts.C) != 1 {
		t.Fatalf("expected one insert notification for player1, got %d", len(inserts.C))
	}
}

func TestCreateMatchRequiresBothEntries(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	enqueue(t, s, "bob")
	if _, err := s.CreateMatchForOpponent(ctx, pairParams("alice", "bob")); !errors.Is(err, ErrOpponentUnavailable) {
		t.Fatalf("expected ErrOpponentUnavailable, got %v", err)
	}

	enqueue(t, s, "alice")
	s.DeleteQueueEntry(ctx, "bob")
	if _, err := s.CreateMatchForOpponent(ctx, pairParams("alice", "bob")); !errors.Is(err, ErrQueueEntryMissing) {
		t.Fatalf("expected ErrQueueEntryMissing, got %v", err)
	}
}

func TestConcurrentCreateYieldsOneMatch(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	enqueue(t, s, "alice")
	enqueue(t, s, "bob")

	var wg sync.WaitGroup
	results := make([]models.Match, 2)
	errs := make([]error, 2)
	for i, p := range []CreateMatchParams{pairParams("alice", "bob"), pairParams("bob", "alice")} {
		wg.Add(1)
		go func(i int, p CreateMatchParams) {
			defer wg.Done()
			results[i], errs[i] = s.CreateMatchForOpponent(ctx, p)
		}(i, p)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
		}
	}
	if created != 1 {
		t.Fatalf("expected exactly one creation, got %d (errs=%v)", created, errs)
	}
	open, err := s.ListOpenMatches(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 {
		t.Fatalf("expected 1 open match, got %d", len(open))
	}
}

func TestCreateMatchReturnsExistingOpenMatch(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	enqueue(t, s, "alice")
	enqueue(t, s, "bob")
	first, err := s.CreateMatchForOpponent(ctx, pairParams("alice", "bob"))
	if err != nil {
		t.Fatal(err)
	}

	enqueue(t, s, "alice")
	enqueue(t, s, "bob")
	again, err := s.CreateMatchForOpponent(ctx, pairParams("bob", "alice"))
	if !errors.Is(err, ErrMatchExists) {
		t.Fatalf("expected ErrMatchExists, got %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("expected existing match %s, got %s", first.ID, again.ID)
	}
}

func TestMarkReadyActivatesOnceBothReady(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()
	enqueue(t, s, "alice")
	enqueue(t, s, "bob")
	m, _ := s.CreateMatchForOpponent(ctx, pairParams("alice", "bob"))

	m, err := s.MarkReady(ctx, m.ID, "alice", clock.Now())
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != models.MatchStatusWaiting || !m.Player1Ready {
		t.Fatalf("expected waiting with player1 ready, got %+v", m)
	}
	// Repeating is a no-op.
	if m, _ = s.MarkReady(ctx, m.ID, "alice", clock.Now()); m.Status != models.MatchStatusWaiting {
		t.Fatalf("expected still waiting, got %s", m.Status)
	}

	clock.Advance(3 * time.Second)
	m, err = s.MarkReady(ctx, m.ID, "bob", clock.Now())
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != models.MatchStatusActive || m.StartedAt == nil {
		t.Fatalf("expected active with started_at, got %+v", m)
	}
	started := *m.StartedAt

	clock.Advance(time.Second)
	m, _ = s.MarkReady(ctx, m.ID, "bob", clock.Now())
	if !m.StartedAt.Equal(started) {
		t.Errorf("started_at moved from %v to %v", started, *m.StartedAt)
	}

	if _, err := s.MarkReady(ctx, m.ID, "mallory", clock.Now()); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("expected ErrNotParticipant, got %v", err)
	}
}

func activeMatch(t *testing.T, s *MemoryStore, clock clockwork.Clock) models.Match {
	t.Helper()
	ctx := context.Background()
	enqueue(t, s, "alice")
	enqueue(t, s, "bob")
	m, err := s.CreateMatchForOpponent(ctx, pairParams("alice", "bob"))
	if err != nil {
		t.Fatal(err)
	}
	s.MarkReady(ctx, m.ID, "alice", clock.Now())
	m, err = s.MarkReady(ctx, m.ID, "bob", clock.Now())
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestApplySubmissionScoringIsAsymmetric(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()
	m := activeMatch(t, s, clock)

	m, _ = s.ApplySubmission(ctx, m.ID, "alice", true)
	m, _ = s.ApplySubmission(ctx, m.ID, "alice", false)
	m, _ = s.ApplySubmission(ctx, m.ID, "bob", false)

	if m.Player1Score != 2 || m.Player2Score != 1 {
		t.Errorf("expected 2-1, got %d-%d", m.Player1Score, m.Player2Score)
	}
	if m.Player1ChallengeIndex != 2 || m.Player2ChallengeIndex != 1 {
		t.Errorf("expected indexes 2/1, got %d/%d", m.Player1ChallengeIndex, m.Player2ChallengeIndex)
	}
}

func TestApplySubmissionRejectsInactiveMatch(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	enqueue(t, s, "alice")
	enqueue(t, s, "bob")
	m, _ := s.CreateMatchForOpponent(ctx, pairParams("alice", "bob"))

	if _, err := s.ApplySubmission(ctx, m.ID, "alice", true); !errors.Is(err, ErrMatchNotActive) {
		t.Fatalf("expected ErrMatchNotActive, got %v", err)
	}
}

func TestFinishMatchOnlyOnce(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()
	m := activeMatch(t, s, clock)

	first, won, err := s.FinishMatch(ctx, m.ID, "alice", models.WinReasonScoreLimit, clock.Now())
	if err != nil || !won {
		t.Fatalf("expected first finish to win, got won=%v err=%v", won, err)
	}
	second, won, err := s.FinishMatch(ctx, m.ID, "bob", models.WinReasonTimeout, clock.Now())
	if err != nil {
		t.Fatal(err)
	}
	if won {
		t.Fatal("expected second finish to be a no-op")
	}
	if second.WinnerID != first.WinnerID || second.WinnerReason != models.WinReasonScoreLimit {
		t.Errorf("winner changed: %+v", second)
	}

	h := models.HistoryFromMatch(second)
	if ok, _ := s.RecordHistory(ctx, h); !ok {
		t.Fatal("expected first history record to be stored")
	}
	if ok, _ := s.RecordHistory(ctx, h); ok {
		t.Fatal("expected duplicate history record to be ignored")
	}
}

func TestEventsSinceExcludesOwnEvents(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()
	since := clock.Now()
	clock.Advance(time.Second)

	s.InsertEvent(ctx, &models.MatchEvent{MatchID: "m1", UserID: "alice", EventType: models.EventTyping})
	s.InsertEvent(ctx, &models.MatchEvent{MatchID: "m1", UserID: "bob", EventType: models.EventSubmitCorrect})
	s.InsertEvent(ctx, &models.MatchEvent{MatchID: "m2", UserID: "bob", EventType: models.EventTyping})

	got, err := s.EventsSince(ctx, "m1", "alice", since)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].UserID != "bob" {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestAcceptInviteCreatesMatch(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()
	now := clock.Now()

	inv := &models.Invite{SenderID: "alice", ReceiverID: "bob", ExpiresAt: now.Add(5 * time.Minute)}
	if err := s.CreateInvite(ctx, inv, now); err != nil {
		t.Fatal(err)
	}
	dup := &models.Invite{SenderID: "bob", ReceiverID: "alice", ExpiresAt: now.Add(5 * time.Minute)}
	if err := s.CreateInvite(ctx, dup, now); !errors.Is(err, ErrInviteExists) {
		t.Fatalf("expected ErrInviteExists, got %v", err)
	}

	if _, _, err := s.AcceptInvite(ctx, inv.ID, "alice", pairParams("alice", "bob"), now); !errors.Is(err, ErrNotInviteParty) {
		t.Fatalf("expected sender to be refused, got %v", err)
	}
	accepted, m, err := s.AcceptInvite(ctx, inv.ID, "bob", pairParams("alice", "bob"), now)
	if err != nil {
		t.Fatal(err)
	}
	if accepted.Status != models.InviteStatusAccepted || accepted.MatchID != m.ID {
		t.Fatalf("unexpected invite: %+v", accepted)
	}
	if _, err := s.RejectInvite(ctx, inv.ID, "bob"); !errors.Is(err, ErrInviteNotPending) {
		t.Fatalf("expected ErrInviteNotPending, got %v", err)
	}
}

func TestExpiredInviteCannotBeAccepted(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()
	now := clock.Now()

	inv := &models.Invite{SenderID: "alice", ReceiverID: "bob", ExpiresAt: now.Add(time.Minute)}
	s.CreateInvite(ctx, inv, now)

	later := now.Add(2 * time.Minute)
	if _, _, err := s.AcceptInvite(ctx, inv.ID, "bob", pairParams("alice", "bob"), later); !errors.Is(err, ErrInviteExpired) {
		t.Fatalf("expected ErrInviteExpired, got %v", err)
	}
	if pending, _ := s.PendingInvites(ctx, "bob", later); len(pending) != 0 {
		t.Fatalf("expected no pending invites, got %d", len(pending))
	}
}

func TestUpdateProgressCreatesRow(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	p, err := s.UpdateProgress(ctx, "alice", "Alice", func(p *models.UserProgress) { p.TotalXP += 50 })
	if err != nil {
		t.Fatal(err)
	}
	if p.Level != 1 || p.TotalXP != 50 || p.Username != "Alice" {
		t.Fatalf("unexpected progress: %+v", p)
	}
	p, _ = s.UpdateProgress(ctx, "alice", "", func(p *models.UserProgress) { p.TotalXP += 10 })
	if p.TotalXP != 60 || p.Username != "Alice" {
		t.Fatalf("unexpected progress after second update: %+v", p)
	}
}

func TestScoreSummaryGroupsByMode(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	for _, gs := range []models.GameScore{
		{UserID: "alice", Mode: models.ModeNormal, Score: 30},
		{UserID: "alice", Mode: models.ModeNormal, Score: 50},
		{UserID: "alice", Mode: models.ModeArcade, Score: 10},
		{UserID: "bob", Mode: models.ModeNormal, Score: 90},
	} {
		gs := gs
		s.SaveScore(ctx, &gs)
	}

	sum, err := s.ScoreSummary(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(sum) != 2 {
		t.Fatalf("expected 2 modes, got %d", len(sum))
	}
	if sum[1].Mode != models.ModeNormal || sum[1].Games != 2 || sum[1].Best != 50 || sum[1].Total != 80 {
		t.Errorf("unexpected normal summary: %+v", sum[1])
	}

	best, err := s.HighScore(ctx, models.ModeNormal, "")
	if err != nil || best.UserID != "bob" {
		t.Errorf("expected bob to hold the normal high score, got %+v (%v)", best, err)
	}
}
