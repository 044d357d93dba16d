package multiplayer

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"git-arcade/models"
	"git-arcade/realtime"
	"git-arcade/store"
)

// Coordinator pairs queued players.
type Coordinator struct {
	deps *Deps
	log  zerolog.Logger
}

func NewCoordinator(deps *Deps) *Coordinator {
	return &Coordinator{
		deps: deps,
		log:  log.With().Str("component", "matchmaking").Logger(),
	}
}

// JoinQueue clears the caller's stale matches and queue entry, enqueues the
// caller and tries to pair them right away. It returns the match when one
// was created or adopted, nil when the caller is left waiting. Calling it
// again for the same user is safe.
func (c *Coordinator) JoinQueue(ctx context.Context, userID, username string) (*models.Match, error) {
	c.CleanupUserMatches(ctx, userID)

	if err := c.deps.Store.DeleteQueueEntry(ctx, userID); err != nil {
		return nil, err
	}
	entry := &models.QueueEntry{
		UserID:    userID,
		Username:  username,
		Status:    models.QueueStatusWaiting,
		CreatedAt: c.deps.Clock.Now(),
	}
	if err := c.deps.Store.InsertQueueEntry(ctx, entry); err != nil {
		return nil, err
	}
	c.log.Debug().Str("user_id", userID).Msg("joined queue")

	if m, ok := c.tryPair(ctx, userID, username); ok {
		return &m, nil
	}
	return nil, nil
}

// LeaveQueue removes the caller's queue entry. It is a no-op when absent.
func (c *Coordinator) LeaveQueue(ctx context.Context, userID string) error {
	return c.deps.Store.DeleteQueueEntry(ctx, userID)
}

// CleanupUserMatches deletes the user's waiting and finished matches and
// force-finishes orphaned active ones.
func (c *Coordinator) CleanupUserMatches(ctx context.Context, userID string) {
	matches, err := c.deps.Store.MatchesForUser(ctx, userID)
	if err != nil {
		c.log.Warn().Err(err).Str("user_id", userID).Msg("list own matches")
		return
	}
	now := c.deps.Clock.Now()
	for _, m := range matches {
		switch m.Status {
		case models.MatchStatusWaiting, models.MatchStatusFinished:
			c.deps.record(ctx, m)
			if err := c.deps.Store.DeleteMatch(ctx, m.ID); err != nil {
				c.log.Warn().Err(err).Str("match_id", m.ID).Msg("delete stale match")
			}
		case models.MatchStatusActive:
			if !IsOrphaned(m, now, c.deps.Config) {
				continue
			}
			if _, err := c.deps.finalize(ctx, m.ID, TimeoutWinner(m), models.WinReasonStaleCleanup); err != nil {
				c.log.Warn().Err(err).Str("match_id", m.ID).Msg("finish orphaned match")
			}
		}
	}
}

// tryPair scans the queue oldest first and atomically creates a match with
// the first opponent not bound to an active match. Any failure is treated as
// a lost race: the caller keeps waiting.
func (c *Coordinator) tryPair(ctx context.Context, userID, username string) (models.Match, bool) {
	entries, err := c.deps.Store.WaitingQueue(ctx, userID)
	if err != nil {
		c.log.Warn().Err(err).Str("user_id", userID).Msg("read queue")
		return models.Match{}, false
	}
	for _, e := range entries {
		busy, err := c.deps.Store.HasActiveMatch(ctx, e.UserID)
		if err != nil {
			c.log.Warn().Err(err).Str("user_id", e.UserID).Msg("check opponent")
			continue
		}
		if busy {
			continue
		}

		p := c.deps.matchParams(e.UserID, e.Username, userID, username)
		m, err := c.deps.Store.CreateMatchForOpponent(ctx, p)
		switch {
		case err == nil:
			c.log.Info().Str("match_id", m.ID).Str("player1_id", m.Player1ID).Str("player2_id", m.Player2ID).Msg("match created")
			return m, true
		case errors.Is(err, store.ErrMatchExists):
			if m.ID != "" {
				c.log.Debug().Str("match_id", m.ID).Str("user_id", userID).Msg("adopting existing match")
				return m, true
			}
			return c.adoptOwn(ctx, userID)
		case errors.Is(err, store.ErrOpponentUnavailable):
			continue
		case errors.Is(err, store.ErrQueueEntryMissing):
			// Somebody paired us first.
			return c.adoptOwn(ctx, userID)
		default:
			c.log.Warn().Err(err).Str("user_id", userID).Str("opponent_id", e.UserID).Msg("create match failed, assuming race lost")
			return c.adoptOwn(ctx, userID)
		}
	}
	return models.Match{}, false
}

func (c *Coordinator) adoptOwn(ctx context.Context, userID string) (models.Match, bool) {
	m, err := c.deps.Store.OpenMatchForUser(ctx, userID)
	if err != nil {
		return models.Match{}, false
	}
	return m, true
}

// poll is one fallback pass while waiting: adopt a match addressed to us,
// re-enqueue if housekeeping dropped our entry, then try pairing again.
func (c *Coordinator) poll(ctx context.Context, userID, username string) (models.Match, bool) {
	if m, ok := c.adoptOwn(ctx, userID); ok {
		return m, true
	}
	if _, err := c.deps.Store.GetQueueEntry(ctx, userID); errors.Is(err, store.ErrNotFound) {
		c.log.Debug().Str("user_id", userID).Msg("queue entry expired, re-enqueueing")
		entry := &models.QueueEntry{UserID: userID, Username: username, Status: models.QueueStatusWaiting, CreatedAt: c.deps.Clock.Now()}
		if err := c.deps.Store.InsertQueueEntry(ctx, entry); err != nil {
			c.log.Warn().Err(err).Str("user_id", userID).Msg("re-enqueue")
		}
	}
	return c.tryPair(ctx, userID, username)
}

// QueueWait listens for a match while a user is queued: push notifications
// for queue arrivals and matches addressed to the user, plus a poll.
type QueueWait struct {
	cancel context.CancelFunc
	poll   *realtime.Poller
	subs   []*realtime.Subscription
	done   chan struct{}

	mu    sync.Mutex
	ended bool
}

// Wait starts listening and calls onMatch once with the found match. Both
// listeners are torn down before onMatch runs.
func (c *Coordinator) Wait(ctx context.Context, userID, username string, onMatch func(models.Match)) *QueueWait {
	ctx, cancel := context.WithCancel(ctx)
	w := &QueueWait{cancel: cancel, done: make(chan struct{})}

	arrivals := c.deps.Hub.Subscribe(realtime.Filter{Table: store.TableQueue, Op: realtime.OpInsert})
	asP1 := c.deps.Hub.Subscribe(realtime.Filter{Table: store.TableMatches, Op: realtime.OpInsert, Column: "player1_id", Value: userID})
	asP2 := c.deps.Hub.Subscribe(realtime.Filter{Table: store.TableMatches, Op: realtime.OpInsert, Column: "player2_id", Value: userID})
	w.subs = []*realtime.Subscription{arrivals, asP1, asP2}

	var mu sync.Mutex
	found := func(m models.Match) {
		if w.end() {
			onMatch(m)
		}
	}
	// attempt serializes pairing passes of this waiter.
	attempt := func(pass func() (models.Match, bool)) {
		mu.Lock()
		defer mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		if m, ok := pass(); ok {
			found(m)
		}
	}

	w.poll = realtime.Every(ctx, c.deps.Clock, c.deps.Config.QueuePoll, func(ctx context.Context) {
		attempt(func() (models.Match, bool) { return c.poll(ctx, userID, username) })
	})

	go func() {
		// A match created between the last pairing pass and the subscriptions
		// above would otherwise only be seen by the poll.
		attempt(func() (models.Match, bool) { return c.adoptOwn(ctx, userID) })
		for {
			select {
			case <-ctx.Done():
				return
			case ch, ok := <-arrivals.C:
				if !ok {
					return
				}
				if e, isEntry := ch.Record.(models.QueueEntry); isEntry && e.UserID == userID {
					continue
				}
				attempt(func() (models.Match, bool) { return c.tryPair(ctx, userID, username) })
			case ch, ok := <-asP1.C:
				if !ok {
					return
				}
				if m, isMatch := ch.Record.(models.Match); isMatch {
					attempt(func() (models.Match, bool) { return m, true })
				}
			case ch, ok := <-asP2.C:
				if !ok {
					return
				}
				if m, isMatch := ch.Record.(models.Match); isMatch {
					attempt(func() (models.Match, bool) { return m, true })
				}
			}
		}
	}()
	return w
}

// end tears everything down and reports whether this call did it.
func (w *QueueWait) end() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ended {
		return false
	}
	w.ended = true
	w.cancel()
	w.poll.Stop()
	for _, s := range w.subs {
		s.Close()
	}
	close(w.done)
	return true
}

// Stop tears down the listener and the poll. Safe to call more than once,
// including from the onMatch callback.
func (w *QueueWait) Stop() {
	if w == nil {
		return
	}
	w.end()
}

// Done is closed when the wait ended, by a match or by Stop.
func (w *QueueWait) Done() <-chan struct{} { return w.done }
