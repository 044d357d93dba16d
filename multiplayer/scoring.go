package multiplayer

import (
	"strings"
	"time"

	"git-arcade/models"
	"git-arcade/services"
)

// AnswerMatches accepts a submission equal to the expected answer or one that
// contains it, after normalization on both sides. An empty expected answer
// never matches.
//
// TODO: the containment rule accepts any submission that embeds a short
// expected answer; confirm with product whether it should stay.
func AnswerMatches(submitted, expected string) bool {
	want := services.NormalizeCommand(expected)
	if want == "" {
		return false
	}
	got := services.NormalizeCommand(submitted)
	return got == want || strings.Contains(got, want)
}

// ScoreLimitWinner returns the leader once the score difference reaches the
// match's score limit.
func ScoreLimitWinner(m models.Match) (string, bool) {
	if m.ScoreLimit <= 0 {
		return "", false
	}
	diff := m.Player1Score - m.Player2Score
	switch {
	case diff >= m.ScoreLimit:
		return m.Player1ID, true
	case -diff >= m.ScoreLimit:
		return m.Player2ID, true
	}
	return "", false
}

// TimeoutWinner is the higher scorer; player1 wins ties.
func TimeoutWinner(m models.Match) string {
	if m.Player2Score > m.Player1Score {
		return m.Player2ID
	}
	return m.Player1ID
}

func matchDuration(m models.Match) time.Duration {
	return time.Duration(m.GameDuration) * time.Second
}

// TimeLeft is the remaining play time of an active match.
func TimeLeft(m models.Match, now time.Time) time.Duration {
	if m.StartedAt == nil {
		return matchDuration(m)
	}
	left := m.StartedAt.Add(matchDuration(m)).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// CheckWin evaluates the score-limit and timeout conditions of an active match.
func CheckWin(m models.Match, now time.Time) (winnerID, reason string, ok bool) {
	if m.Status != models.MatchStatusActive {
		return "", "", false
	}
	if w, ok := ScoreLimitWinner(m); ok {
		return w, models.WinReasonScoreLimit, true
	}
	if m.StartedAt != nil && TimeLeft(m, now) == 0 {
		return TimeoutWinner(m), models.WinReasonTimeout, true
	}
	return "", "", false
}

// IsOrphaned reports whether an open match has been abandoned: never started
// and older than cfg.OrphanWaitingAfter, or started and past its duration
// plus cfg.ActiveGrace.
func IsOrphaned(m models.Match, now time.Time, cfg Config) bool {
	if !m.IsOpen() {
		return false
	}
	if m.StartedAt == nil {
		return now.Sub(m.CreatedAt) > cfg.OrphanWaitingAfter
	}
	return now.After(m.StartedAt.Add(matchDuration(m) + cfg.ActiveGrace))
}
