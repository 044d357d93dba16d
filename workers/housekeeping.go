package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"git-arcade/multiplayer"
)

// Housekeeping runs the multiplayer sweep on a fixed interval.
type Housekeeping struct {
	sched gocron.Scheduler
}

func StartHousekeeping(ctx context.Context, sweeper *multiplayer.Sweeper, clock clockwork.Clock, interval time.Duration) (*Housekeeping, error) {
	sched, err := gocron.NewScheduler(gocron.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			report := sweeper.Sweep(ctx)
			log.Debug().Str("component", "housekeeping").
				Int64("queue_entries", report.QueueEntries).
				Int64("expired_invites", report.ExpiredInvites).
				Int("finished_stale", report.FinishedStale).
				Int64("events", report.Events).
				Int("idle_players", report.IdlePlayers).
				Msg("sweep done")
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("schedule sweep: %w", err)
	}

	sched.Start()
	log.Info().Str("component", "housekeeping").Dur("interval", interval).Msg("housekeeping started")
	return &Housekeeping{sched: sched}, nil
}

func (h *Housekeeping) Stop() error {
	return h.sched.Shutdown()
}
