package handlers

import (
	"github.com/gofiber/fiber/v2"

	"git-arcade/middleware"
	"git-arcade/services"
)

// SetupChallengeRoutes mounts the world, challenge and validation endpoints.
// They are public apart from the variable reload, which needs the admin role.
func SetupChallengeRoutes(app *fiber.App, challengeService *services.ChallengeService) {
	api := app.Group("/api", middleware.UserContextMiddleware(false))

	api.Get("/worlds", challengeService.GetWorlds)
	api.Get("/worlds/:id", challengeService.GetWorld)

	api.Get("/challenges/random/:worldId", challengeService.GetRandomChallenge)
	api.Get("/challenges/batch/:worldId", challengeService.GetChallengeBatch)
	api.Post("/challenges/validate", challengeService.ValidateCommand)
	api.Get("/challenges/:id/answers", challengeService.GetAnswers)

	admin := app.Group("/api/admin", middleware.UserContextMiddleware(true), middleware.RequireRole("admin"))
	admin.Post("/variables/reload", challengeService.ReloadVariables)
}
