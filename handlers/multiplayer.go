package handlers

import (
	"context"
	"errors"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"git-arcade/middleware"
	"git-arcade/models"
	"git-arcade/multiplayer"
	"git-arcade/realtime"
	"git-arcade/store"
)

// ProfileStore keeps the searchable username directory.
type ProfileStore interface {
	UpsertProfile(ctx context.Context, p models.Profile) error
}

type MultiplayerHandler struct {
	Players  *multiplayer.Registry
	Invites  *multiplayer.InviteService
	Profiles ProfileStore
	Hub      *realtime.Hub

	// Done ends open event streams on shutdown.
	Done <-chan struct{}

	known sync.Map // user id -> last upserted username
}

func SetupMultiplayerRoutes(app *fiber.App, h *MultiplayerHandler) {
	mp := app.Group("/api/multiplayer", middleware.UserContextMiddleware(true), h.touchProfile)

	mp.Post("/queue", h.JoinQueue)
	mp.Delete("/queue", h.LeaveQueue)

	mp.Get("/match", h.GetMatch)
	mp.Post("/match/ready", h.Ready)
	mp.Post("/match/answer", h.Answer)
	mp.Post("/match/typing", h.Typing)
	mp.Post("/match/change-opponent", h.ChangeOpponent)
	mp.Post("/match/cancel", h.Cancel)

	mp.Get("/events", h.Stream)

	mp.Get("/users/search", h.SearchUsers)
	mp.Get("/invites", h.PendingInvites)
	mp.Post("/invites", h.SendInvite)
	mp.Post("/invites/:id/accept", h.AcceptInvite)
	mp.Post("/invites/:id/reject", h.RejectInvite)
	mp.Post("/invites/:id/cancel", h.CancelInvite)
}

// touchProfile records the caller in the username directory the first time
// it is seen and whenever the gateway reports a new name.
func (h *MultiplayerHandler) touchProfile(c *fiber.Ctx) error {
	userID, username := middleware.UserID(c), middleware.Username(c)
	if prev, ok := h.known.Load(userID); !ok || prev.(string) != username {
		err := h.Profiles.UpsertProfile(c.UserContext(), models.Profile{UserID: userID, Username: username})
		if err != nil {
			log.Warn().Err(err).Str("component", "http").Str("user_id", userID).Msg("upsert profile")
		} else {
			h.known.Store(userID, username)
		}
	}
	return c.Next()
}

func (h *MultiplayerHandler) player(c *fiber.Ctx) *multiplayer.Player {
	return h.Players.Get(middleware.UserID(c), middleware.Username(c))
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, multiplayer.ErrSelfInvite):
		return fiber.StatusBadRequest
	case errors.Is(err, store.ErrNotParticipant), errors.Is(err, store.ErrNotInviteParty):
		return fiber.StatusForbidden
	case errors.Is(err, store.ErrMatchExists),
		errors.Is(err, store.ErrMatchNotActive),
		errors.Is(err, store.ErrInviteExists),
		errors.Is(err, store.ErrInviteNotPending),
		errors.Is(err, store.ErrInviteExpired),
		errors.Is(err, multiplayer.ErrInMatch),
		errors.Is(err, multiplayer.ErrNoMatch),
		errors.Is(err, multiplayer.ErrSessionClosed),
		errors.Is(err, multiplayer.ErrNoChallenge):
		return fiber.StatusConflict
	}
	return fiber.StatusInternalServerError
}

func fail(c *fiber.Ctx, err error, action string) error {
	status := statusFor(err)
	if status == fiber.StatusInternalServerError {
		log.Error().Err(err).Str("component", "http").Str("user_id", middleware.UserID(c)).Msg(action)
		return c.Status(status).JSON(fiber.Map{"error": action + " failed"})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func (h *MultiplayerHandler) JoinQueue(c *fiber.Ctx) error {
	snap, err := h.player(c).JoinQueue(c.UserContext())
	if err != nil {
		return fail(c, err, "join queue")
	}
	return c.JSON(snap)
}

func (h *MultiplayerHandler) LeaveQueue(c *fiber.Ctx) error {
	snap, err := h.player(c).LeaveQueue(c.UserContext())
	if err != nil {
		return fail(c, err, "leave queue")
	}
	return c.JSON(snap)
}

func (h *MultiplayerHandler) GetMatch(c *fiber.Ctx) error {
	p := h.player(c)
	p.Refresh(c.UserContext())
	return c.JSON(p.Snapshot())
}

func (h *MultiplayerHandler) Ready(c *fiber.Ctx) error {
	snap, err := h.player(c).Ready(c.UserContext())
	if err != nil {
		return fail(c, err, "ready")
	}
	return c.JSON(snap)
}

func (h *MultiplayerHandler) Answer(c *fiber.Ctx) error {
	var req struct {
		Answer string `json:"answer"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	res, snap, err := h.player(c).Submit(c.UserContext(), req.Answer)
	if err != nil {
		return fail(c, err, "submit answer")
	}
	return c.JSON(fiber.Map{"result": res, "state": snap})
}

func (h *MultiplayerHandler) Typing(c *fiber.Ctx) error {
	var req struct {
		Length int `json:"length"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if req.Length < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "length must not be negative"})
	}
	if err := h.player(c).Typing(c.UserContext(), req.Length); err != nil {
		return fail(c, err, "typing")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *MultiplayerHandler) ChangeOpponent(c *fiber.Ctx) error {
	snap, err := h.player(c).ChangeOpponent(c.UserContext())
	if err != nil {
		return fail(c, err, "change opponent")
	}
	return c.JSON(snap)
}

func (h *MultiplayerHandler) Cancel(c *fiber.Ctx) error {
	snap, err := h.player(c).Cancel(c.UserContext())
	if err != nil {
		return fail(c, err, "cancel")
	}
	return c.JSON(snap)
}

func (h *MultiplayerHandler) SearchUsers(c *fiber.Ctx) error {
	users, err := h.Invites.Search(c.UserContext(), middleware.UserID(c), c.Query("q"))
	if err != nil {
		return fail(c, err, "search users")
	}
	return c.JSON(users)
}

func (h *MultiplayerHandler) PendingInvites(c *fiber.Ctx) error {
	invites, err := h.Invites.Pending(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return fail(c, err, "list invites")
	}
	return c.JSON(invites)
}

func (h *MultiplayerHandler) SendInvite(c *fiber.Ctx) error {
	var req struct {
		ReceiverID string `json:"receiver_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if req.ReceiverID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "receiver_id is required"})
	}
	inv, err := h.Invites.Send(c.UserContext(), middleware.UserID(c), middleware.Username(c), req.ReceiverID)
	if err != nil {
		return fail(c, err, "send invite")
	}
	return c.Status(fiber.StatusCreated).JSON(inv)
}

func (h *MultiplayerHandler) AcceptInvite(c *fiber.Ctx) error {
	inv, _, err := h.Invites.Accept(c.UserContext(), c.Params("id"), middleware.UserID(c), middleware.Username(c))
	if err != nil {
		return fail(c, err, "accept invite")
	}
	return c.JSON(fiber.Map{"invite": inv, "state": h.player(c).Snapshot()})
}

func (h *MultiplayerHandler) RejectInvite(c *fiber.Ctx) error {
	inv, err := h.Invites.Reject(c.UserContext(), c.Params("id"), middleware.UserID(c))
	if err != nil {
		return fail(c, err, "reject invite")
	}
	return c.JSON(inv)
}

func (h *MultiplayerHandler) CancelInvite(c *fiber.Ctx) error {
	inv, err := h.Invites.Cancel(c.UserContext(), c.Params("id"), middleware.UserID(c))
	if err != nil {
		return fail(c, err, "cancel invite")
	}
	return c.JSON(inv)
}
