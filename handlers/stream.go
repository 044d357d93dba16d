package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"git-arcade/middleware"
	"git-arcade/multiplayer"
	"git-arcade/realtime"
	"git-arcade/store"
)

const keepAliveInterval = 15 * time.Second

// Stream is the server-sent event feed of the caller's multiplayer state:
// snapshots, opponent activity and invites addressed to them.
func (h *MultiplayerHandler) Stream(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	p := h.player(c)

	// SSE headers
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	updates, unsubscribe := p.Subscribe(context.Background())
	invites := h.Hub.Subscribe(realtime.Filter{
		Table:  store.TableInvites,
		Op:     realtime.OpInsert,
		Column: "receiver_id",
		Value:  userID,
	})
	done := h.Done

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer unsubscribe()
		defer invites.Close()

		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()

		w.WriteString(":\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			var err error
			select {
			case <-done:
				return
			case u, ok := <-updates:
				if !ok {
					return
				}
				err = writeEvent(w, u.Type, u.Data)
			case ch, ok := <-invites.C:
				if !ok {
					return
				}
				err = writeEvent(w, multiplayer.UpdateInvite, ch.Record)
			case <-ticker.C:
				_, err = w.WriteString(":\n\n")
				if err == nil {
					err = w.Flush()
				}
			}
			if err != nil {
				log.Debug().Err(err).Str("component", "sync").Str("user_id", userID).Msg("event stream closed")
				return
			}
		}
	})
	return nil
}

func writeEvent(w *bufio.Writer, name string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		return err
	}
	return w.Flush()
}
