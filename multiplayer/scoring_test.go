package multiplayer

import (
	"testing"
	"time"

	"git-arcade/models"
)

func TestAnswerMatches(t *testing.T) {
	tests := []struct {
		submitted, expected string
		want                bool
	}{
		{"git init", "git init", true},
		{"  GIT   Init ", "git init", true},
		{"git commit -m \"wip\" --amend", "git commit -m \"wip\"", true},
		{"git status", "git init", false},
		{"git init", "", false},
		{"", "git init", false},
	}
	for _, tt := range tests {
		if got := AnswerMatches(tt.submitted, tt.expected); got != tt.want {
			t.Errorf("AnswerMatches(%q, %q) = %v, want %v", tt.submitted, tt.expected, got, tt.want)
		}
	}
}

func TestScoreLimitWinsForLeader(t *testing.T) {
	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m := models.Match{
		Player1ID: "p1", Player2ID: "p2",
		Player1Score: 5, Player2Score: 2,
		ScoreLimit: 3, GameDuration: 120,
		Status: models.MatchStatusActive, StartedAt: &started,
	}
	winner, reason, ok := CheckWin(m, started.Add(10*time.Second))
	if !ok || winner != "p1" || reason != models.WinReasonScoreLimit {
		t.Fatalf("got (%q, %q, %v)", winner, reason, ok)
	}

	m.Player1Score, m.Player2Score = 1, 4
	winner, _, ok = CheckWin(m, started.Add(10*time.Second))
	if !ok || winner != "p2" {
		t.Fatalf("expected p2 to win, got (%q, %v)", winner, ok)
	}

	m.Player1Score, m.Player2Score = 3, 1
	if _, _, ok := CheckWin(m, started.Add(10*time.Second)); ok {
		t.Fatal("a difference below the limit must not end the match")
	}
}

func TestTimeoutTieGoesToPlayerOne(t *testing.T) {
	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m := models.Match{
		Player1ID: "p1", Player2ID: "p2",
		Player1Score: 4, Player2Score: 4,
		ScoreLimit: 5, GameDuration: 120,
		Status: models.MatchStatusActive, StartedAt: &started,
	}
	if _, _, ok := CheckWin(m, started.Add(119*time.Second)); ok {
		t.Fatal("match ended before its duration")
	}
	winner, reason, ok := CheckWin(m, started.Add(120*time.Second))
	if !ok || winner != "p1" || reason != models.WinReasonTimeout {
		t.Fatalf("got (%q, %q, %v)", winner, reason, ok)
	}
}

func TestCheckWinIgnoresFinishedMatches(t *testing.T) {
	m := models.Match{Player1Score: 9, ScoreLimit: 3, Status: models.MatchStatusFinished}
	if _, _, ok := CheckWin(m, time.Now()); ok {
		t.Fatal("finished match evaluated again")
	}
}

func TestIsOrphaned(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	boundary := now.Add(-3 * time.Minute)
	started := boundary.Add(-time.Second)
	recent := now.Add(-time.Minute)

	tests := []struct {
		name string
		m    models.Match
		want bool
	}{
		{"fresh waiting", models.Match{Status: models.MatchStatusWaiting, CreatedAt: now.Add(-time.Minute)}, false},
		{"old waiting", models.Match{Status: models.MatchStatusWaiting, CreatedAt: now.Add(-3 * time.Minute)}, true},
		{"active within grace", models.Match{Status: models.MatchStatusActive, GameDuration: 120, StartedAt: &recent}, false},
		{"active at the grace boundary", models.Match{Status: models.MatchStatusActive, GameDuration: 120, StartedAt: &boundary}, false},
		{"active past grace", models.Match{Status: models.MatchStatusActive, GameDuration: 120, StartedAt: &started}, true},
		{"finished", models.Match{Status: models.MatchStatusFinished, CreatedAt: now.Add(-time.Hour)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsOrphaned(tt.m, now, cfg); got != tt.want {
				t.Fatalf("IsOrphaned = %v, want %v", got, tt.want)
			}
		})
	}
}
