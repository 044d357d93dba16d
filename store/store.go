// Package store is the backing-store contract of the game: reference tables,
// the multiplayer tables and the atomic procedures that two independent
// clients may race on. GormStore talks to Postgres; MemoryStore keeps
// everything in process.
package store

import (
	"context"
	"errors"
	"time"

	"git-arcade/models"
	"git-arcade/realtime"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrMatchExists         = errors.New("an open match already exists for this pair")
	ErrOpponentUnavailable = errors.New("opponent is no longer waiting")
	ErrQueueEntryMissing   = errors.New("caller is no longer waiting")
	ErrMatchNotActive      = errors.New("match is not active")
	ErrNotParticipant      = errors.New("user is not a participant of this match")
	ErrInviteNotPending    = errors.New("invite is not pending")
	ErrInviteExpired       = errors.New("invite has expired")
	ErrInviteExists        = errors.New("a pending invite already exists for this pair")
	ErrNotInviteParty      = errors.New("user may not act on this invite")
)

const (
	TableQueue   = "multiplayer_queue"
	TableMatches = "multiplayer_matches"
	TableEvents  = "multiplayer_events"
	TableInvites = "multiplayer_invites"
)

// ContentBundle is the reference data imported at start-up.
type ContentBundle struct {
	Worlds           []models.World           `json:"worlds"`
	Challenges       []models.Challenge       `json:"challenges"`
	GitStates        []models.GitState        `json:"git_states"`
	ValidTransitions []models.ValidTransition `json:"valid_transitions"`
	DynamicVariables []models.DynamicVariable `json:"dynamic_variables"`
}

// CreateMatchParams describes a new match. Player1 is the opponent that was
// already waiting (or the invite sender).
type CreateMatchParams struct {
	Player1ID       string
	Player1Username string
	Player2ID       string
	Player2Username string
	ScoreLimit      int
	GameDuration    int
}

type ReferenceStore interface {
	ListWorlds(ctx context.Context) ([]models.World, error)
	GetWorld(ctx context.Context, id int) (models.World, error)
	GetWorldBySlug(ctx context.Context, slug string) (models.World, error)
	ChallengesByWorld(ctx context.Context, worldID int) ([]models.Challenge, error)
	GetChallenge(ctx context.Context, id int) (models.Challenge, error)
	StatesByIDs(ctx context.Context, ids []int) ([]models.GitState, error)
	GetState(ctx context.Context, id int) (models.GitState, error)
	// TransitionsFrom returns the transitions leaving stateID in row order.
	TransitionsFrom(ctx context.Context, challengeID, stateID int) ([]models.ValidTransition, error)
	TransitionsByChallenge(ctx context.Context, challengeID int) ([]models.ValidTransition, error)
	DynamicVariables(ctx context.Context) ([]models.DynamicVariable, error)
	ImportContent(ctx context.Context, b ContentBundle) error
}

type QueueStore interface {
	InsertQueueEntry(ctx context.Context, e *models.QueueEntry) error
	DeleteQueueEntry(ctx context.Context, userID string) error
	GetQueueEntry(ctx context.Context, userID string) (models.QueueEntry, error)
	// WaitingQueue lists waiting entries oldest first, without excludeUserID.
	WaitingQueue(ctx context.Context, excludeUserID string) ([]models.QueueEntry, error)
	CleanupStaleQueue(ctx context.Context, before time.Time) (int64, error)
}

type MatchStore interface {
	// CreateMatchForOpponent atomically creates a waiting match and consumes
	// both queue entries. If an open match already exists for the pair it
	// returns that match together with ErrMatchExists.
	CreateMatchForOpponent(ctx context.Context, p CreateMatchParams) (models.Match, error)
	GetMatch(ctx context.Context, id string) (models.Match, error)
	OpenMatchForPair(ctx context.Context, a, b string) (models.Match, error)
	// OpenMatchForUser returns the newest waiting or active match of userID.
	OpenMatchForUser(ctx context.Context, userID string) (models.Match, error)
	MatchesForUser(ctx context.Context, userID string) ([]models.Match, error)
	ListOpenMatches(ctx context.Context) ([]models.Match, error)
	HasActiveMatch(ctx context.Context, userID string) (bool, error)
	DeleteMatch(ctx context.Context, id string) error
	// MarkReady sets the caller ready and, when both are ready, activates the
	// match in the same operation. Calling it again is a no-op.
	MarkReady(ctx context.Context, matchID, userID string, now time.Time) (models.Match, error)
	// ApplySubmission scores one answer: a correct answer adds a point to the
	// submitter, a wrong one to the opponent; the submitter's index always
	// advances. Returns ErrMatchNotActive unless the match is active.
	ApplySubmission(ctx context.Context, matchID, userID string, correct bool) (models.Match, error)
	// FinishMatch finishes an unfinished match. The bool reports whether this
	// call performed the transition.
	FinishMatch(ctx context.Context, matchID, winnerID, reason string, now time.Time) (models.Match, bool, error)
	// RecordHistory stores h unless a record for the match exists already.
	RecordHistory(ctx context.Context, h models.MatchHistory) (bool, error)
	HistoryForUser(ctx context.Context, userID string, limit int) ([]models.MatchHistory, error)

	InsertEvent(ctx context.Context, e *models.MatchEvent) error
	EventsSince(ctx context.Context, matchID, excludeUserID string, since time.Time) ([]models.MatchEvent, error)
	DeleteEventsBefore(ctx context.Context, before time.Time) (int64, error)
}

type InviteStore interface {
	UpsertProfile(ctx context.Context, p models.Profile) error
	GetProfile(ctx context.Context, userID string) (models.Profile, error)
	SearchProfiles(ctx context.Context, query, excludeUserID string, limit int) ([]models.Profile, error)

	CreateInvite(ctx context.Context, inv *models.Invite, now time.Time) error
	GetInvite(ctx context.Context, id string) (models.Invite, error)
	PendingInvites(ctx context.Context, userID string, now time.Time) ([]models.Invite, error)
	// AcceptInvite atomically creates (or adopts) the pair's match and marks
	// the invite accepted.
	AcceptInvite(ctx context.Context, inviteID, receiverID string, p CreateMatchParams, now time.Time) (models.Invite, models.Match, error)
	RejectInvite(ctx context.Context, inviteID, receiverID string) (models.Invite, error)
	CancelInvite(ctx context.Context, inviteID, senderID string) (models.Invite, error)
	ExpireInvites(ctx context.Context, now time.Time) (int64, error)
}

type StatsStore interface {
	SaveScore(ctx context.Context, s *models.GameScore) error
	TopScores(ctx context.Context, mode string, limit int) ([]models.GameScore, error)
	// HighScore returns the best score in mode, for userID when set.
	HighScore(ctx context.Context, mode, userID string) (models.GameScore, error)
	ScoreSummary(ctx context.Context, userID string) ([]models.ModeSummary, error)
	// UpdateProgress runs fn on the user's progress row (created on first
	// use) inside one atomic read-modify-write.
	UpdateProgress(ctx context.Context, userID, username string, fn func(*models.UserProgress)) (models.UserProgress, error)
	GetProgress(ctx context.Context, userID string) (models.UserProgress, error)
	TopXP(ctx context.Context, limit int) ([]models.UserProgress, error)
}

type Store interface {
	ReferenceStore
	QueueStore
	MatchStore
	InviteStore
	StatsStore
	Ping(ctx context.Context) error
	Close() error
}

func queueChange(op realtime.Op, e models.QueueEntry) realtime.Change {
	return realtime.Change{
		Table:  TableQueue,
		Op:     op,
		Keys:   map[string]string{"user_id": e.UserID, "id": e.ID},
		Record: e,
	}
}

func matchChange(op realtime.Op, m models.Match) realtime.Change {
	return realtime.Change{
		Table: TableMatches,
		Op:    op,
		Keys: map[string]string{
			"id":         m.ID,
			"player1_id": m.Player1ID,
			"player2_id": m.Player2ID,
			"status":     m.Status,
		},
		Record: m,
	}
}

func eventChange(e models.MatchEvent) realtime.Change {
	return realtime.Change{
		Table:  TableEvents,
		Op:     realtime.OpInsert,
		Keys:   map[string]string{"match_id": e.MatchID, "user_id": e.UserID},
		Record: e,
	}
}

func inviteChange(op realtime.Op, inv models.Invite) realtime.Change {
	return realtime.Change{
		Table: TableInvites,
		Op:    op,
		Keys: map[string]string{
			"id":          inv.ID,
			"sender_id":   inv.SenderID,
			"receiver_id": inv.ReceiverID,
		},
		Record: inv,
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(realtime.Change) {}

func publisherOrNop(p realtime.Publisher) realtime.Publisher {
	if p == nil {
		return nopPublisher{}
	}
	return p
}

// applySubmission mutates m for one scored answer; shared by both stores.
func applySubmission(m *models.Match, userID string, correct bool) {
	switch m.Role(userID) {
	case 1:
		if correct {
			m.Player1Score++
		} else {
			m.Player2Score++
		}
		m.Player1ChallengeIndex++
	case 2:
		if correct {
			m.Player2Score++
		} else {
			m.Player1Score++
		}
		m.Player2ChallengeIndex++
	}
}

// markReady mutates m for a ready call and reports whether m changed.
func markReady(m *models.Match, userID string, now time.Time) bool {
	if m.Status != models.MatchStatusWaiting {
		return false
	}
	changed := false
	switch m.Role(userID) {
	case 1:
		if !m.Player1Ready {
			m.Player1Ready, changed = true, true
		}
	case 2:
		if !m.Player2Ready {
			m.Player2Ready, changed = true, true
		}
	}
	if m.Player1Ready && m.Player2Ready {
		started := now
		m.Status = models.MatchStatusActive
		m.StartedAt = &started
		changed = true
	}
	return changed
}
