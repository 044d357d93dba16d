package multiplayer

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"git-arcade/models"
)

// SweepReport counts what one housekeeping pass removed.
type SweepReport struct {
	QueueEntries   int64
	ExpiredInvites int64
	FinishedStale  int
	Events         int64
	IdlePlayers    int
}

// EventRetention is how long activity events are kept.
const EventRetention = time.Hour

// Sweeper clears abandoned multiplayer state that no participant is left to
// clean up.
type Sweeper struct {
	deps    *Deps
	players *Registry
}

// NewSweeper creates a sweeper. players may be nil when no registry runs in
// this process.
func NewSweeper(deps *Deps, players *Registry) *Sweeper {
	return &Sweeper{deps: deps, players: players}
}

// FinishOrphans finishes every open match that has outlived its heuristic
// with stale_cleanup and records its history.
func (s *Sweeper) FinishOrphans(ctx context.Context) (int, error) {
	open, err := s.deps.Store.ListOpenMatches(ctx)
	if err != nil {
		return 0, err
	}
	now := s.deps.Clock.Now()
	n := 0
	for _, m := range open {
		if !IsOrphaned(m, now, s.deps.Config) {
			continue
		}
		if _, err := s.deps.finalize(ctx, m.ID, TimeoutWinner(m), models.WinReasonStaleCleanup); err != nil {
			log.Warn().Err(err).Str("component", "housekeeping").Str("match_id", m.ID).Msg("finish orphaned match")
			continue
		}
		n++
	}
	return n, nil
}

// Sweep runs every cleanup step. A failing step is logged and does not stop
// the others.
func (s *Sweeper) Sweep(ctx context.Context) SweepReport {
	var r SweepReport
	now := s.deps.Clock.Now()
	logger := log.With().Str("component", "housekeeping").Logger()

	var err error
	if r.QueueEntries, err = s.deps.Store.CleanupStaleQueue(ctx, now.Add(-s.deps.Config.QueueStaleAfter)); err != nil {
		logger.Warn().Err(err).Msg("cleanup stale queue")
	}
	if r.ExpiredInvites, err = s.deps.Store.ExpireInvites(ctx, now); err != nil {
		logger.Warn().Err(err).Msg("expire invites")
	}
	if r.FinishedStale, err = s.FinishOrphans(ctx); err != nil {
		logger.Warn().Err(err).Msg("finish orphaned matches")
	}
	if r.Events, err = s.deps.Store.DeleteEventsBefore(ctx, now.Add(-EventRetention)); err != nil {
		logger.Warn().Err(err).Msg("prune events")
	}
	if s.players != nil {
		r.IdlePlayers = s.players.Prune()
	}
	return r
}
