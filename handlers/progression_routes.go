package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"git-arcade/middleware"
	"git-arcade/services"
)

func SetupProgressionRoutes(app *fiber.App, leaderboard *services.LeaderboardService, progression *services.ProgressionService) {
	api := app.Group("/api", middleware.UserContextMiddleware(false))

	api.Post("/scores", leaderboard.SubmitScore)
	api.Get("/leaderboard", leaderboard.GetLeaderboard)
	api.Get("/leaderboard/high-score/:mode", leaderboard.GetHighScore)
	api.Get("/leaderboard/xp", leaderboard.GetXPLeaderboard)
	api.Get("/user-stats/:userId", leaderboard.GetUserStats)

	// Admin endpoints
	adminGroup := app.Group("/api/admin", middleware.UserContextMiddleware(true), middleware.RequireRole("admin"))

	adminGroup.Post("/xp/grant", func(c *fiber.Ctx) error {
		type Req struct {
			UserID   string `json:"user_id"`
			Username string `json:"username"`
			XP       int64  `json:"xp"`
			Reason   string `json:"reason"`
		}
		var req Req
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid JSON",
				"cause": err.Error(),
			})
		}
		if req.UserID == "" || req.XP < 1 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id and a positive xp are required"})
		}
		if req.Reason == "" {
			req.Reason = "admin_grant"
		}

		prog, err := progression.AwardXP(c.UserContext(), req.UserID, req.Username, req.XP, req.Reason)
		if err != nil {
			log.Error().Err(err).Str("component", "progression").Str("user_id", req.UserID).Msg("xp grant")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "XP award failed"})
		}

		return c.JSON(fiber.Map{
			"message":   "XP granted successfully",
			"user_id":   req.UserID,
			"xp":        req.XP,
			"total_xp":  prog.TotalXP,
			"level":     prog.Level,
			"rank_name": services.RankName(prog.Rank),
		})
	})
}
