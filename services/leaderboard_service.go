package services

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"git-arcade/models"
	"git-arcade/store"
)

const (
	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
	recentHistoryLimit      = 10
)

// LeaderboardStore is what the leaderboard endpoints read.
type LeaderboardStore interface {
	store.StatsStore
	HistoryForUser(ctx context.Context, userID string, limit int) ([]models.MatchHistory, error)
}

type LeaderboardService struct {
	Store       LeaderboardStore
	Progression *ProgressionService
}

func NewLeaderboardService(s LeaderboardStore, p *ProgressionService) *LeaderboardService {
	return &LeaderboardService{Store: s, Progression: p}
}

func limitQuery(c *fiber.Ctx) int {
	limit := c.QueryInt("limit", defaultLeaderboardLimit)
	if limit < 1 {
		limit = defaultLeaderboardLimit
	}
	if limit > maxLeaderboardLimit {
		limit = maxLeaderboardLimit
	}
	return limit
}

type scoreRequest struct {
	UserID         string `json:"user_id"`
	Username       string `json:"username"`
	Mode           string `json:"mode"`
	WorldID        int    `json:"world_id"`
	Score          int    `json:"score"`
	ChallengesDone int    `json:"challenges_done"`
}

// SubmitScore saves a finished single-player run. The caller identity from
// the gateway takes precedence over the body.
func (s *LeaderboardService) SubmitScore(c *fiber.Ctx) error {
	var req scoreRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if uid, _ := c.Locals("user_id").(string); uid != "" {
		req.UserID = uid
	}
	if name, _ := c.Locals("username").(string); name != "" {
		req.Username = name
	}
	req.Mode = strings.ToLower(req.Mode)
	switch {
	case req.UserID == "":
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id is required"})
	case !models.IsSinglePlayerMode(req.Mode):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "mode must be normal, dojo or arcade"})
	case req.Score < 0:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "score must not be negative"})
	}

	gs := models.GameScore{
		UserID:         req.UserID,
		Username:       req.Username,
		Mode:           req.Mode,
		WorldID:        req.WorldID,
		Score:          req.Score,
		ChallengesDone: req.ChallengesDone,
	}
	prog, err := s.Progression.RecordGameScore(c.UserContext(), &gs)
	if err != nil {
		log.Error().Err(err).Str("component", "leaderboard").Str("user_id", req.UserID).Msg("save score")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to save score"})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"score": gs, "progress": prog})
}

func (s *LeaderboardService) GetLeaderboard(c *fiber.Ctx) error {
	mode := strings.ToLower(c.Query("mode"))
	if mode != "" && !models.IsSinglePlayerMode(mode) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown mode"})
	}
	scores, err := s.Store.TopScores(c.UserContext(), mode, limitQuery(c))
	if err != nil {
		log.Error().Err(err).Str("component", "leaderboard").Msg("top scores")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load leaderboard"})
	}
	return c.JSON(scores)
}

func (s *LeaderboardService) GetHighScore(c *fiber.Ctx) error {
	mode := strings.ToLower(c.Params("mode"))
	if !models.IsSinglePlayerMode(mode) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown mode"})
	}
	best, err := s.Store.HighScore(c.UserContext(), mode, c.Query("user_id"))
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(fiber.Map{"mode": mode, "high_score": 0})
	}
	if err != nil {
		log.Error().Err(err).Str("component", "leaderboard").Str("mode", mode).Msg("high score")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load high score"})
	}
	return c.JSON(fiber.Map{"mode": mode, "high_score": best.Score, "entry": best})
}

func (s *LeaderboardService) GetXPLeaderboard(c *fiber.Ctx) error {
	list, err := s.Store.TopXP(c.UserContext(), limitQuery(c))
	if err != nil {
		log.Error().Err(err).Str("component", "leaderboard").Msg("top xp")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load xp leaderboard"})
	}
	return c.JSON(list)
}

func (s *LeaderboardService) GetUserStats(c *fiber.Ctx) error {
	userID := c.Params("userId")
	ctx := c.UserContext()

	prog, err := s.Store.GetProgress(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		prog = models.UserProgress{UserID: userID, Level: 1, Rank: 1}
	} else if err != nil {
		log.Error().Err(err).Str("component", "leaderboard").Str("user_id", userID).Msg("progress")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load progress"})
	}

	summary, err := s.Store.ScoreSummary(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("component", "leaderboard").Str("user_id", userID).Msg("score summary")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load scores"})
	}
	history, err := s.Store.HistoryForUser(ctx, userID, recentHistoryLimit)
	if err != nil {
		log.Error().Err(err).Str("component", "leaderboard").Str("user_id", userID).Msg("match history")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load match history"})
	}

	return c.JSON(fiber.Map{
		"user_id":            userID,
		"progress":           prog,
		"rank_name":          RankName(prog.Rank),
		"xp_for_next_level":  xpForNextLevel(prog.Level),
		"modes":              summary,
		"multiplayer_wins":   prog.MultiplayerWins,
		"multiplayer_losses": prog.MultiplayerLosses,
		"multiplayer_games":  prog.MultiplayerGames,
		"recent_multiplayer": history,
	})
}
