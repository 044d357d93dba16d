package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"git-arcade/models"
	"git-arcade/realtime"
)

func (s *GormStore) UpsertProfile(ctx context.Context, p models.Profile) error {
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "updated_at"}),
	}).Create(&p).Error
}

func (s *GormStore) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	var p models.Profile
	err := s.DB.WithContext(ctx).First(&p, "user_id = ?", userID).Error
	return p, notFound(err)
}

func (s *GormStore) SearchProfiles(ctx context.Context, query, excludeUserID string, limit int) ([]models.Profile, error) {
	var out []models.Profile
	q := s.DB.WithContext(ctx).Where("user_id <> ?", excludeUserID)
	if term := strings.ToLower(strings.TrimSpace(query)); term != "" {
		q = q.Where("LOWER(username) LIKE ?", "%"+term+"%")
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Order("username ASC").Find(&out).Error
	return out, err
}

func pendingPair(tx *gorm.DB, a, b string, now time.Time) *gorm.DB {
	return tx.Where(
		"((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)) AND status = ? AND expires_at > ?",
		a, b, b, a, models.InviteStatusPending, now,
	)
}

func (s *GormStore) CreateInvite(ctx context.Context, inv *models.Invite, now time.Time) error {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	inv.Status = models.InviteStatusPending
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := pendingPair(tx.Model(&models.Invite{}), inv.SenderID, inv.ReceiverID, now).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrInviteExists
		}
		return tx.Create(inv).Error
	})
	if err != nil {
		return err
	}
	s.publish(inviteChange(realtime.OpInsert, *inv))
	return nil
}

func (s *GormStore) GetInvite(ctx context.Context, id string) (models.Invite, error) {
	var inv models.Invite
	err := s.DB.WithContext(ctx).First(&inv, "id = ?", id).Error
	return inv, notFound(err)
}

func (s *GormStore) PendingInvites(ctx context.Context, userID string, now time.Time) ([]models.Invite, error) {
	var out []models.Invite
	err := s.DB.WithContext(ctx).
		Where("(sender_id = ? OR receiver_id = ?) AND status = ? AND expires_at > ?",
			userID, userID, models.InviteStatusPending, now).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

func (s *GormStore) AcceptInvite(ctx context.Context, inviteID, receiverID string, p CreateMatchParams, now time.Time) (models.Invite, models.Match, error) {
	var (
		inv     models.Invite
		m       models.Match
		created bool
		removed []models.QueueEntry
		err     error
	)
	// A second attempt adopts the match a racing client inserted first.
	for attempt := 0; attempt < 2; attempt++ {
		created, removed = false, nil
		err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Clauses(forUpdate).First(&inv, "id = ?", inviteID).Error; err != nil {
				return notFound(err)
			}
			if inv.ReceiverID != receiverID {
				return ErrNotInviteParty
			}
			if inv.Status != models.InviteStatusPending {
				return ErrInviteNotPending
			}
			if !inv.ExpiresAt.After(now) {
				inv.Status = models.InviteStatusExpired
				if err := tx.Save(&inv).Error; err != nil {
					return err
				}
				return ErrInviteExpired
			}

			err := pairClause(tx, inv.SenderID, inv.ReceiverID).Order("created_at DESC").First(&m).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				m = newMatch(p)
				if err := tx.Create(&m).Error; err != nil {
					return err
				}
				created = true
			} else if err != nil {
				return err
			}

			if err := tx.Clauses(clause.Returning{}).
				Where("user_id IN ?", []string{inv.SenderID, inv.ReceiverID}).
				Delete(&removed).Error; err != nil {
				return err
			}
			inv.Status = models.InviteStatusAccepted
			inv.MatchID = m.ID
			return tx.Save(&inv).Error
		})
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			break
		}
	}
	if errors.Is(err, ErrInviteExpired) {
		s.publish(inviteChange(realtime.OpUpdate, inv))
		return inv, models.Match{}, err
	}
	if err != nil {
		return inv, models.Match{}, err
	}
	if created {
		s.publish(matchChange(realtime.OpInsert, m))
	}
	for _, e := range removed {
		s.publish(queueChange(realtime.OpDelete, e))
	}
	s.publish(inviteChange(realtime.OpUpdate, inv))
	return inv, m, nil
}

func (s *GormStore) RejectInvite(ctx context.Context, inviteID, receiverID string) (models.Invite, error) {
	return s.closeInvite(ctx, inviteID, func(inv models.Invite) bool { return inv.ReceiverID == receiverID }, models.InviteStatusRejected)
}

func (s *GormStore) CancelInvite(ctx context.Context, inviteID, senderID string) (models.Invite, error) {
	return s.closeInvite(ctx, inviteID, func(inv models.Invite) bool { return inv.SenderID == senderID }, models.InviteStatusCancelled)
}

func (s *GormStore) closeInvite(ctx context.Context, inviteID string, allowed func(models.Invite) bool, status string) (models.Invite, error) {
	var inv models.Invite
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(forUpdate).First(&inv, "id = ?", inviteID).Error; err != nil {
			return notFound(err)
		}
		if !allowed(inv) {
			return ErrNotInviteParty
		}
		if inv.Status != models.InviteStatusPending {
			return ErrInviteNotPending
		}
		inv.Status = status
		return tx.Save(&inv).Error
	})
	if err != nil {
		return inv, err
	}
	s.publish(inviteChange(realtime.OpUpdate, inv))
	return inv, nil
}

func (s *GormStore) ExpireInvites(ctx context.Context, now time.Time) (int64, error) {
	var expired []models.Invite
	res := s.DB.WithContext(ctx).Model(&expired).
		Clauses(clause.Returning{}).
		Where("status = ? AND expires_at <= ?", models.InviteStatusPending, now).
		Update("status", models.InviteStatusExpired)
	if res.Error != nil {
		return 0, res.Error
	}
	for _, inv := range expired {
		s.publish(inviteChange(realtime.OpUpdate, inv))
	}
	return res.RowsAffected, nil
}
