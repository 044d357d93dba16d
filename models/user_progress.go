package models

import (
	"time"

	"gorm.io/gorm"
)

// UserProgress tracks gamified progression for each user (denormalized for performance)
type UserProgress struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID   string `gorm:"uniqueIndex;not null" json:"user_id"`
	Username string `json:"username"`

	// Core progression
	TotalXP int64 `json:"total_xp" gorm:"default:0;index"`
	Level   int   `json:"level" gorm:"default:1"`
	Rank    int   `json:"rank" gorm:"default:1"` // Bronze(1)→Silver(2)→Gold(3)→Platinum(4)→Diamond(5)

	// Activity counters
	GamesPlayed       int64 `json:"games_played" gorm:"default:0"`
	MultiplayerGames  int64 `json:"multiplayer_games" gorm:"default:0"`
	MultiplayerWins   int64 `json:"multiplayer_wins" gorm:"default:0"`
	MultiplayerLosses int64 `json:"multiplayer_losses" gorm:"default:0"`

	// Milestones
	LastLevelUpAt *time.Time `json:"last_level_up_at,omitempty"`
	LastRankUpAt  *time.Time `json:"last_rank_up_at,omitempty"`

	Timestamps
}

func (UserProgress) TableName() string { return "user_progress" }

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
