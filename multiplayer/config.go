// Package multiplayer pairs waiting players and drives their matches. Every
// race-sensitive step is a single store operation; push notifications from
// the realtime hub are always backed by a poll.
package multiplayer

import "time"

type Config struct {
	WorldID      int
	ScoreLimit   int
	GameDuration time.Duration

	QueuePoll    time.Duration
	ReadyPoll    time.Duration
	ActivityPoll time.Duration
	InvitePoll   time.Duration

	// A match that never started is orphaned after OrphanWaitingAfter; a
	// started one once GameDuration plus ActiveGrace has passed.
	OrphanWaitingAfter time.Duration
	ActiveGrace        time.Duration
	QueueStaleAfter    time.Duration
	InviteTTL          time.Duration

	PrefetchLowWater int
	PrefetchBatch    int
}

func DefaultConfig() Config {
	return Config{
		WorldID:            1,
		ScoreLimit:         5,
		GameDuration:       120 * time.Second,
		QueuePoll:          2 * time.Second,
		ReadyPoll:          time.Second,
		ActivityPoll:       800 * time.Millisecond,
		InvitePoll:         2 * time.Second,
		OrphanWaitingAfter: 2 * time.Minute,
		ActiveGrace:        60 * time.Second,
		QueueStaleAfter:    2 * time.Minute,
		InviteTTL:          5 * time.Minute,
		PrefetchLowWater:   3,
		PrefetchBatch:      10,
	}
}
