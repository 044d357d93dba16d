package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"git-arcade/models"
	"git-arcade/realtime"
)

var forUpdate = clause.Locking{Strength: "UPDATE"}

func pairClause(tx *gorm.DB, a, b string) *gorm.DB {
	return tx.Where(
		"((player1_id = ? AND player2_id = ?) OR (player1_id = ? AND player2_id = ?)) AND status IN ?",
		a, b, b, a, []string{models.MatchStatusWaiting, models.MatchStatusActive},
	)
}

func newMatch(p CreateMatchParams) models.Match {
	return models.Match{
		ID:              uuid.NewString(),
		Player1ID:       p.Player1ID,
		Player1Username: p.Player1Username,
		Player2ID:       p.Player2ID,
		Player2Username: p.Player2Username,
		Status:          models.MatchStatusWaiting,
		ScoreLimit:      p.ScoreLimit,
		GameDuration:    p.GameDuration,
	}
}

func (s *GormStore) CreateMatchForOpponent(ctx context.Context, p CreateMatchParams) (models.Match, error) {
	var (
		m       models.Match
		removed []models.QueueEntry
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Match
		err := pairClause(tx, p.Player1ID, p.Player2ID).Order("created_at DESC").First(&existing).Error
		if err == nil {
			m = existing
			return ErrMatchExists
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var entries []models.QueueEntry
		if err := tx.Clauses(forUpdate).
			Where("user_id IN ?", []string{p.Player1ID, p.Player2ID}).
			Find(&entries).Error; err != nil {
			return err
		}
		waiting := make(map[string]bool, len(entries))
		for _, e := range entries {
			waiting[e.UserID] = true
		}
		if !waiting[p.Player1ID] {
			return ErrOpponentUnavailable
		}
		if !waiting[p.Player2ID] {
			return ErrQueueEntryMissing
		}

		m = newMatch(p)
		if err := tx.Create(&m).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.Returning{}).
			Where("user_id IN ?", []string{p.Player1ID, p.Player2ID}).
			Delete(&removed).Error
	})
	switch {
	case errors.Is(err, ErrMatchExists):
		return m, ErrMatchExists
	case errors.Is(err, gorm.ErrDuplicatedKey):
		// Lost the race against the other client's insert.
		existing, ferr := s.OpenMatchForPair(ctx, p.Player1ID, p.Player2ID)
		if ferr != nil {
			return models.Match{}, ErrMatchExists
		}
		return existing, ErrMatchExists
	case err != nil:
		return models.Match{}, err
	}

	s.publish(matchChange(realtime.OpInsert, m))
	for _, e := range removed {
		s.publish(queueChange(realtime.OpDelete, e))
	}
	return m, nil
}

func (s *GormStore) GetMatch(ctx context.Context, id string) (models.Match, error) {
	var m models.Match
	err := s.DB.WithContext(ctx).First(&m, "id = ?", id).Error
	return m, notFound(err)
}

func (s *GormStore) OpenMatchForPair(ctx context.Context, a, b string) (models.Match, error) {
	var m models.Match
	err := pairClause(s.DB.WithContext(ctx), a, b).Order("created_at DESC").First(&m).Error
	return m, notFound(err)
}

func (s *GormStore) OpenMatchForUser(ctx context.Context, userID string) (models.Match, error) {
	var m models.Match
	err := s.DB.WithContext(ctx).
		Where("(player1_id = ? OR player2_id = ?) AND status IN ?",
			userID, userID, []string{models.MatchStatusWaiting, models.MatchStatusActive}).
		Order("created_at DESC").
		First(&m).Error
	return m, notFound(err)
}

func (s *GormStore) MatchesForUser(ctx context.Context, userID string) ([]models.Match, error) {
	var out []models.Match
	err := s.DB.WithContext(ctx).
		Where("player1_id = ? OR player2_id = ?", userID, userID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

func (s *GormStore) ListOpenMatches(ctx context.Context) ([]models.Match, error) {
	var out []models.Match
	err := s.DB.WithContext(ctx).
		Where("status IN ?", []string{models.MatchStatusWaiting, models.MatchStatusActive}).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

func (s *GormStore) HasActiveMatch(ctx context.Context, userID string) (bool, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.Match{}).
		Where("(player1_id = ? OR player2_id = ?) AND status = ?", userID, userID, models.MatchStatusActive).
		Count(&n).Error
	return n > 0, err
}

func (s *GormStore) DeleteMatch(ctx context.Context, id string) error {
	var removed []models.Match
	if err := s.DB.WithContext(ctx).Clauses(clause.Returning{}).Where("id = ?", id).Delete(&removed).Error; err != nil {
		return err
	}
	for _, m := range removed {
		s.publish(matchChange(realtime.OpDelete, m))
	}
	return nil
}

// lockedMatchUpdate loads a match under a row lock, lets mutate change it and
// saves it when mutate reports a change.
func (s *GormStore) lockedMatchUpdate(ctx context.Context, matchID string, mutate func(*models.Match) (bool, error)) (models.Match, bool, error) {
	var (
		m       models.Match
		changed bool
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(forUpdate).First(&m, "id = ?", matchID).Error; err != nil {
			return notFound(err)
		}
		var err error
		changed, err = mutate(&m)
		if err != nil || !changed {
			return err
		}
		return tx.Save(&m).Error
	})
	return m, changed, err
}

func (s *GormStore) MarkReady(ctx context.Context, matchID, userID string, now time.Time) (models.Match, error) {
	m, changed, err := s.lockedMatchUpdate(ctx, matchID, func(m *models.Match) (bool, error) {
		if !m.IsParticipant(userID) {
			return false, ErrNotParticipant
		}
		return markReady(m, userID, now), nil
	})
	if err != nil {
		return m, err
	}
	if changed {
		s.publish(matchChange(realtime.OpUpdate, m))
	}
	return m, nil
}

func (s *GormStore) ApplySubmission(ctx context.Context, matchID, userID string, correct bool) (models.Match, error) {
	m, _, err := s.lockedMatchUpdate(ctx, matchID, func(m *models.Match) (bool, error) {
		if !m.IsParticipant(userID) {
			return false, ErrNotParticipant
		}
		if m.Status != models.MatchStatusActive {
			return false, ErrMatchNotActive
		}
		applySubmission(m, userID, correct)
		return true, nil
	})
	if err != nil {
		return m, err
	}
	s.publish(matchChange(realtime.OpUpdate, m))
	return m, nil
}

// FinishMatch is a conditional update so that only one caller wins the
// transition to finished.
func (s *GormStore) FinishMatch(ctx context.Context, matchID, winnerID, reason string, now time.Time) (models.Match, bool, error) {
	res := s.DB.WithContext(ctx).Model(&models.Match{}).
		Where("id = ? AND status <> ?", matchID, models.MatchStatusFinished).
		Updates(map[string]any{
			"status":        models.MatchStatusFinished,
			"winner_id":     winnerID,
			"winner_reason": reason,
			"finished_at":   now,
		})
	if res.Error != nil {
		return models.Match{}, false, res.Error
	}
	m, err := s.GetMatch(ctx, matchID)
	if err != nil {
		return m, false, err
	}
	won := res.RowsAffected == 1
	if won {
		s.publish(matchChange(realtime.OpUpdate, m))
	}
	return m, won, nil
}

func (s *GormStore) RecordHistory(ctx context.Context, h models.MatchHistory) (bool, error) {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	res := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "match_id"}}, DoNothing: true}).
		Create(&h)
	return res.RowsAffected == 1, res.Error
}

func (s *GormStore) HistoryForUser(ctx context.Context, userID string, limit int) ([]models.MatchHistory, error) {
	var out []models.MatchHistory
	q := s.DB.WithContext(ctx).
		Where("player1_id = ? OR player2_id = ?", userID, userID).
		Order("finished_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

func (s *GormStore) InsertEvent(ctx context.Context, e *models.MatchEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if err := s.DB.WithContext(ctx).Create(e).Error; err != nil {
		return err
	}
	s.publish(eventChange(*e))
	return nil
}

func (s *GormStore) EventsSince(ctx context.Context, matchID, excludeUserID string, since time.Time) ([]models.MatchEvent, error) {
	var out []models.MatchEvent
	err := s.DB.WithContext(ctx).
		Where("match_id = ? AND user_id <> ? AND created_at > ?", matchID, excludeUserID, since).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

func (s *GormStore) DeleteEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	res := s.DB.WithContext(ctx).Where("created_at < ?", before).Delete(&models.MatchEvent{})
	return res.RowsAffected, res.Error
}
