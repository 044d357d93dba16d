package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	QueueStatusWaiting = "waiting"
	QueueStatusMatched = "matched"
)

const (
	MatchStatusWaiting  = "waiting"
	MatchStatusActive   = "active"
	MatchStatusFinished = "finished"
)

const (
	WinReasonScoreLimit   = "score_limit"
	WinReasonTimeout      = "timeout"
	WinReasonOpponentLeft = "opponent_left"
	WinReasonStaleCleanup = "stale_cleanup"
)

const (
	EventTyping        = "typing"
	EventSubmitCorrect = "submit_correct"
	EventSubmitWrong   = "submit_wrong"
)

// QueueEntry is a user waiting to be paired.
type QueueEntry struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	UserID    string    `gorm:"uniqueIndex;not null" json:"user_id"`
	Username  string    `gorm:"not null" json:"username"`
	Status    string    `gorm:"type:varchar(16);default:'waiting';index" json:"status"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (QueueEntry) TableName() string { return "multiplayer_queue" }

// Match is the authoritative shared state of a 1v1 session.
type Match struct {
	ID string `gorm:"primaryKey;type:uuid" json:"id"`

	Player1ID             string `gorm:"index;not null" json:"player1_id"`
	Player1Username       string `json:"player1_username"`
	Player1Score          int    `gorm:"default:0" json:"player1_score"`
	Player1ChallengeIndex int    `gorm:"column:player1_current_challenge_index;default:0" json:"player1_current_challenge_index"`
	Player1Ready          bool   `gorm:"column:player1_is_ready;default:false" json:"player1_is_ready"`

	Player2ID             string `gorm:"index;not null" json:"player2_id"`
	Player2Username       string `json:"player2_username"`
	Player2Score          int    `gorm:"default:0" json:"player2_score"`
	Player2ChallengeIndex int    `gorm:"column:player2_current_challenge_index;default:0" json:"player2_current_challenge_index"`
	Player2Ready          bool   `gorm:"column:player2_is_ready;default:false" json:"player2_is_ready"`

	Status       string `gorm:"type:varchar(16);default:'waiting';index" json:"status"`
	WinnerID     string `json:"winner_id,omitempty"`
	WinnerReason string `gorm:"type:varchar(16)" json:"winner_reason,omitempty"`

	// GameDuration is in seconds.
	GameDuration int        `gorm:"default:120" json:"game_duration"`
	ScoreLimit   int        `gorm:"default:5" json:"score_limit"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	CreatedAt    time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (Match) TableName() string { return "multiplayer_matches" }

// Role returns 1 or 2 for a participant and 0 otherwise.
func (m Match) Role(userID string) int {
	switch userID {
	case m.Player1ID:
		return 1
	case m.Player2ID:
		return 2
	}
	return 0
}

func (m Match) IsParticipant(userID string) bool { return m.Role(userID) != 0 }

// Opponent returns the id and username of the other participant.
func (m Match) Opponent(userID string) (string, string) {
	if m.Role(userID) == 1 {
		return m.Player2ID, m.Player2Username
	}
	return m.Player1ID, m.Player1Username
}

func (m Match) ScoreOf(userID string) int {
	if m.Role(userID) == 2 {
		return m.Player2Score
	}
	return m.Player1Score
}

func (m Match) ChallengeIndexOf(userID string) int {
	if m.Role(userID) == 2 {
		return m.Player2ChallengeIndex
	}
	return m.Player1ChallengeIndex
}

func (m Match) IsOpen() bool {
	return m.Status == MatchStatusWaiting || m.Status == MatchStatusActive
}

// MatchEvent is an append-only, best-effort activity record.
type MatchEvent struct {
	ID        string            `gorm:"primaryKey;type:uuid" json:"id"`
	MatchID   string            `gorm:"type:uuid;index:idx_event_match_time,priority:1;not null" json:"match_id"`
	UserID    string            `gorm:"not null" json:"user_id"`
	EventType string            `gorm:"type:varchar(24);not null" json:"event_type"`
	Payload   datatypes.JSONMap `gorm:"type:jsonb" json:"payload"`
	CreatedAt time.Time         `gorm:"index:idx_event_match_time,priority:2" json:"created_at"`
}

func (MatchEvent) TableName() string { return "multiplayer_events" }

const (
	InviteStatusPending   = "pending"
	InviteStatusAccepted  = "accepted"
	InviteStatusRejected  = "rejected"
	InviteStatusCancelled = "cancelled"
	InviteStatusExpired   = "expired"
)

// Invite asks a specific opponent to start a match.
type Invite struct {
	ID               string    `gorm:"primaryKey;type:uuid" json:"id"`
	SenderID         string    `gorm:"index;not null" json:"sender_id"`
	SenderUsername   string    `json:"sender_username"`
	ReceiverID       string    `gorm:"index;not null" json:"receiver_id"`
	ReceiverUsername string    `json:"receiver_username"`
	Status           string    `gorm:"type:varchar(16);default:'pending';index" json:"status"`
	MatchID          string    `json:"match_id,omitempty"`
	ExpiresAt        time.Time `gorm:"index" json:"expires_at"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (Invite) TableName() string { return "multiplayer_invites" }

// MatchHistory is the immutable record written once per finished match.
type MatchHistory struct {
	ID              string    `gorm:"primaryKey;type:uuid" json:"id"`
	MatchID         string    `gorm:"uniqueIndex;not null" json:"match_id"`
	Player1ID       string    `gorm:"index;not null" json:"player1_id"`
	Player1Username string    `json:"player1_username"`
	Player1Score    int       `json:"player1_score"`
	Player2ID       string    `gorm:"index;not null" json:"player2_id"`
	Player2Username string    `json:"player2_username"`
	Player2Score    int       `json:"player2_score"`
	WinnerID        string    `json:"winner_id,omitempty"`
	WinnerReason    string    `json:"winner_reason"`
	DurationSeconds int       `json:"duration_seconds"`
	FinishedAt      time.Time `gorm:"index" json:"finished_at"`
}

func (MatchHistory) TableName() string { return "multiplayer_history" }

// HistoryFromMatch builds the history record for a finished match.
func HistoryFromMatch(m Match) MatchHistory {
	h := MatchHistory{
		MatchID:         m.ID,
		Player1ID:       m.Player1ID,
		Player1Username: m.Player1Username,
		Player1Score:    m.Player1Score,
		Player2ID:       m.Player2ID,
		Player2Username: m.Player2Username,
		Player2Score:    m.Player2Score,
		WinnerID:        m.WinnerID,
		WinnerReason:    m.WinnerReason,
	}
	if m.FinishedAt != nil {
		h.FinishedAt = *m.FinishedAt
		if m.StartedAt != nil {
			h.DurationSeconds = int(m.FinishedAt.Sub(*m.StartedAt).Seconds())
		}
	}
	return h
}
