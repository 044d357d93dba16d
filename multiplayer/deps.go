package multiplayer

import (
	"context"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"git-arcade/models"
	"git-arcade/realtime"
	"git-arcade/services"
	"git-arcade/store"
)

// ChallengeSource serves challenge instances for a world.
type ChallengeSource interface {
	RandomChallenges(ctx context.Context, worldID, count int) ([]services.ChallengeInstance, error)
}

// ResultRecorder is told about every finished match exactly once.
type ResultRecorder interface {
	RecordMultiplayerResult(ctx context.Context, h models.MatchHistory) error
}

// Deps bundles what the coordinator, sessions and sweeper share.
type Deps struct {
	Store      store.Store
	Hub        *realtime.Hub
	Clock      clockwork.Clock
	Challenges ChallengeSource
	Results    ResultRecorder
	Config     Config
}

func (d *Deps) matchParams(p1ID, p1Name, p2ID, p2Name string) store.CreateMatchParams {
	return store.CreateMatchParams{
		Player1ID:       p1ID,
		Player1Username: p1Name,
		Player2ID:       p2ID,
		Player2Username: p2Name,
		ScoreLimit:      d.Config.ScoreLimit,
		GameDuration:    int(d.Config.GameDuration.Seconds()),
	}
}

// finalize finishes m unless somebody already did and records its history.
func (d *Deps) finalize(ctx context.Context, matchID, winnerID, reason string) (models.Match, error) {
	m, won, err := d.Store.FinishMatch(ctx, matchID, winnerID, reason, d.Clock.Now())
	if err != nil {
		return m, err
	}
	if won {
		log.Info().Str("component", "match").Str("match_id", m.ID).
			Str("winner_id", m.WinnerID).Str("reason", m.WinnerReason).
			Int("player1_score", m.Player1Score).Int("player2_score", m.Player2Score).
			Msg("match finished")
	}
	d.record(ctx, m)
	return m, nil
}

// record writes the history row of a finished match. The unique match id
// makes repeated calls harmless; progression is only credited by the call
// that inserted the row.
func (d *Deps) record(ctx context.Context, m models.Match) {
	if m.Status != models.MatchStatusFinished {
		return
	}
	h := models.HistoryFromMatch(m)
	inserted, err := d.Store.RecordHistory(ctx, h)
	if err != nil {
		log.Warn().Err(err).Str("component", "match").Str("match_id", m.ID).Msg("record history")
		return
	}
	if !inserted || d.Results == nil {
		return
	}
	if err := d.Results.RecordMultiplayerResult(ctx, h); err != nil {
		log.Warn().Err(err).Str("component", "match").Str("match_id", m.ID).Msg("record multiplayer result")
	}
}
