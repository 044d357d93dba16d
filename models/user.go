package models

import (
	"time"
)

// Profile is a local snapshot of a player's identity, owned by the identity
// provider and refreshed whenever the player shows up with a username.
type Profile struct {
	UserID    string    `gorm:"primaryKey" json:"user_id"`
	Username  string    `gorm:"index;not null" json:"username"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Profile) TableName() string { return "profiles" }

const (
	ModeNormal      = "normal"
	ModeDojo        = "dojo"
	ModeArcade      = "arcade"
	ModeMultiplayer = "multiplayer"
)

// IsSinglePlayerMode reports whether mode is a valid single-player score mode.
func IsSinglePlayerMode(mode string) bool {
	switch mode {
	case ModeNormal, ModeDojo, ModeArcade:
		return true
	}
	return false
}

// GameScore is one finished single-player run.
type GameScore struct {
	ID             string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID         string `gorm:"index:idx_score_user_mode,priority:1;not null" json:"user_id"`
	Username       string `json:"username"`
	Mode           string `gorm:"type:varchar(16);index:idx_score_user_mode,priority:2;not null" json:"mode"`
	WorldID        int    `json:"world_id,omitempty"`
	Score          int    `gorm:"index" json:"score"`
	ChallengesDone int    `json:"challenges_done"`

	Timestamps
}

func (GameScore) TableName() string { return "game_scores" }

// ModeSummary aggregates a user's scores in one mode.
type ModeSummary struct {
	Mode  string `json:"mode"`
	Games int64  `json:"games"`
	Best  int    `json:"best"`
	Total int64  `json:"total"`
}
