package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"git-arcade/models"
)

func (s *GormStore) SaveScore(ctx context.Context, gs *models.GameScore) error {
	if gs.ID == "" {
		gs.ID = uuid.NewString()
	}
	return s.DB.WithContext(ctx).Create(gs).Error
}

func (s *GormStore) TopScores(ctx context.Context, mode string, limit int) ([]models.GameScore, error) {
	var out []models.GameScore
	q := s.DB.WithContext(ctx).Order("score DESC, created_at ASC")
	if mode != "" {
		q = q.Where("mode = ?", mode)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

func (s *GormStore) HighScore(ctx context.Context, mode, userID string) (models.GameScore, error) {
	var gs models.GameScore
	q := s.DB.WithContext(ctx).Where("mode = ?", mode)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	err := q.Order("score DESC, created_at ASC").First(&gs).Error
	return gs, notFound(err)
}

func (s *GormStore) ScoreSummary(ctx context.Context, userID string) ([]models.ModeSummary, error) {
	var out []models.ModeSummary
	err := s.DB.WithContext(ctx).Model(&models.GameScore{}).
		Select("mode, COUNT(*) AS games, MAX(score) AS best, SUM(score) AS total").
		Where("user_id = ?", userID).
		Group("mode").
		Order("mode ASC").
		Scan(&out).Error
	return out, err
}

// UpdateProgress is a locked read-modify-write on the user's progress row.
func (s *GormStore) UpdateProgress(ctx context.Context, userID, username string, fn func(*models.UserProgress)) (models.UserProgress, error) {
	var prog models.UserProgress
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(forUpdate).Where("user_id = ?", userID).First(&prog).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			prog = models.UserProgress{
				ID:     uuid.NewString(),
				UserID: userID,
				Level:  1,
				Rank:   1,
			}
			if err := tx.Create(&prog).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		if username != "" {
			prog.Username = username
		}
		fn(&prog)
		return tx.Save(&prog).Error
	})
	return prog, err
}

func (s *GormStore) GetProgress(ctx context.Context, userID string) (models.UserProgress, error) {
	var prog models.UserProgress
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).First(&prog).Error
	return prog, notFound(err)
}

func (s *GormStore) TopXP(ctx context.Context, limit int) ([]models.UserProgress, error) {
	var out []models.UserProgress
	q := s.DB.WithContext(ctx).Order("total_xp DESC, user_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}
