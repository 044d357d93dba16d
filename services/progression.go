package services

import (
	"context"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"git-arcade/models"
	"git-arcade/store"
)

// XPWeights define relative values
type XPWeights struct {
	MultiplayerWinXP  int64
	MultiplayerLossXP int64
	// Single-player runs earn one XP per ScorePerXP points, at least MinRunXP.
	ScorePerXP int64
	MinRunXP   int64
}

var DefaultXPWeights = XPWeights{
	MultiplayerWinXP:  50,
	MultiplayerLossXP: 10,
	ScorePerXP:        10,
	MinRunXP:          1,
}

// LevelConfig: XP needed for *next* level (e.g., level 1 → 2 needs BaseXPPerLevel * 1^1.2)
const BaseXPPerLevel = 100

// xpForNextLevel returns XP required to reach level+1 from current level
func xpForNextLevel(currentLevel int) int64 {
	if currentLevel < 1 {
		currentLevel = 1
	}
	// L_n = floor(BaseXPPerLevel * n^1.2)
	return int64(float64(BaseXPPerLevel) * math.Pow(float64(currentLevel), 1.2))
}

// RankThresholds: levels required before rank-up
var RankThresholds = map[int]int{ // rank → min level
	1: 1,   // Bronze (start)
	2: 10,  // Silver
	3: 25,  // Gold
	4: 50,  // Platinum
	5: 100, // Diamond
}

// RankName is the display name of a rank.
func RankName(rank int) string {
	switch {
	case rank >= 5:
		return "Diamond"
	case rank == 4:
		return "Platinum"
	case rank == 3:
		return "Gold"
	case rank == 2:
		return "Silver"
	}
	return "Bronze"
}

func determineRank(level int) int {
	for rank := 5; rank >= 1; rank-- {
		if level >= RankThresholds[rank] {
			return rank
		}
	}
	return 1
}

// applyXP adds xp to prog and levels/ranks it up.
func applyXP(prog *models.UserProgress, xp int64, now time.Time) {
	if prog.Level < 1 {
		prog.Level = 1
	}
	if prog.Rank < 1 {
		prog.Rank = 1
	}
	prog.TotalXP += xp

	for prog.TotalXP >= int64(BaseXPPerLevel)*int64(prog.Level)+xpForNextLevel(prog.Level) {
		prog.Level++
		at := now
		prog.LastLevelUpAt = &at
	}

	if newRank := determineRank(prog.Level); newRank > prog.Rank {
		at := now
		prog.Rank = newRank
		prog.LastRankUpAt = &at
	}
}

// RunXP is the XP earned by a single-player run.
func (w XPWeights) RunXP(score int) int64 {
	xp := int64(score) / w.ScorePerXP
	if xp < w.MinRunXP {
		xp = w.MinRunXP
	}
	return xp
}

type ProgressionService struct {
	Store   store.StatsStore
	Clock   clockwork.Clock
	Weights XPWeights
}

func NewProgressionService(s store.StatsStore, clock clockwork.Clock) *ProgressionService {
	return &ProgressionService{Store: s, Clock: clock, Weights: DefaultXPWeights}
}

// AwardXP atomically updates XP, level, rank and returns the updated progress.
func (s *ProgressionService) AwardXP(ctx context.Context, userID, username string, xp int64, reason string) (models.UserProgress, error) {
	now := s.Clock.Now()
	prog, err := s.Store.UpdateProgress(ctx, userID, username, func(p *models.UserProgress) {
		applyXP(p, xp, now)
	})
	if err != nil {
		return prog, err
	}
	log.Debug().Str("component", "progression").Str("user_id", userID).
		Int64("xp", xp).Int64("total_xp", prog.TotalXP).Int("level", prog.Level).Int("rank", prog.Rank).
		Str("reason", reason).Msg("xp awarded")
	return prog, nil
}

// RecordGameScore stores a single-player result and awards its XP.
func (s *ProgressionService) RecordGameScore(ctx context.Context, gs *models.GameScore) (models.UserProgress, error) {
	if err := s.Store.SaveScore(ctx, gs); err != nil {
		return models.UserProgress{}, err
	}
	now := s.Clock.Now()
	xp := s.Weights.RunXP(gs.Score)
	return s.Store.UpdateProgress(ctx, gs.UserID, gs.Username, func(p *models.UserProgress) {
		p.GamesPlayed++
		applyXP(p, xp, now)
	})
}

// RecordMultiplayerResult updates both players' counters and XP from a
// history record. It must be called once per match.
func (s *ProgressionService) RecordMultiplayerResult(ctx context.Context, h models.MatchHistory) error {
	now := s.Clock.Now()
	players := []struct{ id, name string }{
		{h.Player1ID, h.Player1Username},
		{h.Player2ID, h.Player2Username},
	}
	for _, p := range players {
		won := h.WinnerID != "" && h.WinnerID == p.id
		xp := s.Weights.MultiplayerLossXP
		if won {
			xp = s.Weights.MultiplayerWinXP
		}
		_, err := s.Store.UpdateProgress(ctx, p.id, p.name, func(prog *models.UserProgress) {
			prog.MultiplayerGames++
			if won {
				prog.MultiplayerWins++
			} else {
				prog.MultiplayerLosses++
			}
			applyXP(prog, xp, now)
		})
		if err != nil {
			return err
		}
	}
	return nil
}
