package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"git-arcade/models"
	"git-arcade/realtime"
)

// openMatchPairIndex keeps at most one waiting or active match per unordered
// pair of players. Two clients racing to create the same match collide here.
const openMatchPairIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_open_match_pair
ON multiplayer_matches (LEAST(player1_id, player2_id), GREATEST(player1_id, player2_id))
WHERE status IN ('waiting', 'active')`

// GormStore is the Postgres-backed Store.
type GormStore struct {
	DB  *gorm.DB
	pub realtime.Publisher
}

// OpenGorm connects to Postgres and migrates the schema.
func OpenGorm(dsn string, pub realtime.Publisher) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	s := NewGormStore(db, pub)
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func NewGormStore(db *gorm.DB, pub realtime.Publisher) *GormStore {
	return &GormStore{DB: db, pub: publisherOrNop(pub)}
}

func (s *GormStore) Migrate() error {
	if err := s.DB.AutoMigrate(
		&models.World{},
		&models.Challenge{},
		&models.GitState{},
		&models.ValidTransition{},
		&models.DynamicVariable{},
		&models.QueueEntry{},
		&models.Match{},
		&models.MatchEvent{},
		&models.Invite{},
		&models.MatchHistory{},
		&models.Profile{},
		&models.GameScore{},
		&models.UserProgress{},
	); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := s.DB.Exec(openMatchPairIndex).Error; err != nil {
		return fmt.Errorf("create open match index: %w", err)
	}
	return nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) publish(changes ...realtime.Change) {
	for _, c := range changes {
		s.pub.Publish(c)
	}
}

// notFound maps gorm's record-not-found onto ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// ---- reference data ----

func (s *GormStore) ListWorlds(ctx context.Context) ([]models.World, error) {
	var worlds []models.World
	err := s.DB.WithContext(ctx).Order("world_level ASC, world_id ASC").Find(&worlds).Error
	return worlds, err
}

func (s *GormStore) GetWorld(ctx context.Context, id int) (models.World, error) {
	var w models.World
	err := s.DB.WithContext(ctx).First(&w, "world_id = ?", id).Error
	return w, notFound(err)
}

func (s *GormStore) GetWorldBySlug(ctx context.Context, slug string) (models.World, error) {
	var w models.World
	err := s.DB.WithContext(ctx).First(&w, "slug = ?", slug).Error
	return w, notFound(err)
}

func (s *GormStore) ChallengesByWorld(ctx context.Context, worldID int) ([]models.Challenge, error) {
	var out []models.Challenge
	err := s.DB.WithContext(ctx).Where("world_id = ?", worldID).Order("challenge_id ASC").Find(&out).Error
	return out, err
}

func (s *GormStore) GetChallenge(ctx context.Context, id int) (models.Challenge, error) {
	var c models.Challenge
	err := s.DB.WithContext(ctx).First(&c, "challenge_id = ?", id).Error
	return c, notFound(err)
}

func (s *GormStore) StatesByIDs(ctx context.Context, ids []int) ([]models.GitState, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []models.GitState
	err := s.DB.WithContext(ctx).Where("state_id IN ?", ids).Find(&out).Error
	return out, err
}

func (s *GormStore) GetState(ctx context.Context, id int) (models.GitState, error) {
	var st models.GitState
	err := s.DB.WithContext(ctx).First(&st, "state_id = ?", id).Error
	return st, notFound(err)
}

func (s *GormStore) TransitionsFrom(ctx context.Context, challengeID, stateID int) ([]models.ValidTransition, error) {
	var out []models.ValidTransition
	err := s.DB.WithContext(ctx).
		Where("challenge_id = ? AND current_state_id = ?", challengeID, stateID).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

func (s *GormStore) TransitionsByChallenge(ctx context.Context, challengeID int) ([]models.ValidTransition, error) {
	var out []models.ValidTransition
	err := s.DB.WithContext(ctx).
		Where("challenge_id = ?", challengeID).
		Order("step_order ASC, id ASC").
		Find(&out).Error
	return out, err
}

func (s *GormStore) DynamicVariables(ctx context.Context) ([]models.DynamicVariable, error) {
	var out []models.DynamicVariable
	err := s.DB.WithContext(ctx).Order("variable_name ASC").Find(&out).Error
	return out, err
}

// ImportContent upserts a content bundle in one transaction.
func (s *GormStore) ImportContent(ctx context.Context, b ContentBundle) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		upsert := tx.Clauses(clause.OnConflict{UpdateAll: true})
		if len(b.Worlds) > 0 {
			if err := upsert.Create(&b.Worlds).Error; err != nil {
				return fmt.Errorf("import worlds: %w", err)
			}
		}
		if len(b.GitStates) > 0 {
			if err := upsert.Create(&b.GitStates).Error; err != nil {
				return fmt.Errorf("import git states: %w", err)
			}
		}
		if len(b.Challenges) > 0 {
			if err := upsert.Create(&b.Challenges).Error; err != nil {
				return fmt.Errorf("import challenges: %w", err)
			}
		}
		for i := range b.ValidTransitions {
			t := &b.ValidTransitions[i]
			q := tx
			if t.ID != 0 {
				q = upsert
			}
			if err := q.Create(t).Error; err != nil {
				return fmt.Errorf("import transition %d: %w", t.ID, err)
			}
		}
		if len(b.DynamicVariables) > 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "variable_name"}},
				DoUpdates: clause.AssignmentColumns([]string{"value_pool"}),
			}).Create(&b.DynamicVariables).Error
			if err != nil {
				return fmt.Errorf("import dynamic variables: %w", err)
			}
		}
		return nil
	})
}

// ---- queue ----

func (s *GormStore) InsertQueueEntry(ctx context.Context, e *models.QueueEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Status == "" {
		e.Status = models.QueueStatusWaiting
	}
	var old []models.QueueEntry
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Returning{}).Where("user_id = ?", e.UserID).Delete(&old).Error; err != nil {
			return err
		}
		return tx.Create(e).Error
	})
	if err != nil {
		return err
	}
	for _, o := range old {
		s.publish(queueChange(realtime.OpDelete, o))
	}
	s.publish(queueChange(realtime.OpInsert, *e))
	return nil
}

func (s *GormStore) DeleteQueueEntry(ctx context.Context, userID string) error {
	var removed []models.QueueEntry
	if err := s.DB.WithContext(ctx).Clauses(clause.Returning{}).Where("user_id = ?", userID).Delete(&removed).Error; err != nil {
		return err
	}
	for _, e := range removed {
		s.publish(queueChange(realtime.OpDelete, e))
	}
	return nil
}

func (s *GormStore) GetQueueEntry(ctx context.Context, userID string) (models.QueueEntry, error) {
	var e models.QueueEntry
	err := s.DB.WithContext(ctx).First(&e, "user_id = ?", userID).Error
	return e, notFound(err)
}

func (s *GormStore) WaitingQueue(ctx context.Context, excludeUserID string) ([]models.QueueEntry, error) {
	var out []models.QueueEntry
	err := s.DB.WithContext(ctx).
		Where("status = ? AND user_id <> ?", models.QueueStatusWaiting, excludeUserID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

func (s *GormStore) CleanupStaleQueue(ctx context.Context, before time.Time) (int64, error) {
	var removed []models.QueueEntry
	res := s.DB.WithContext(ctx).Clauses(clause.Returning{}).Where("created_at < ?", before).Delete(&removed)
	if res.Error != nil {
		return 0, res.Error
	}
	for _, e := range removed {
		s.publish(queueChange(realtime.OpDelete, e))
	}
	if res.RowsAffected > 0 {
		log.Debug().Str("component", "store").Int64("removed", res.RowsAffected).Msg("stale queue entries removed")
	}
	return res.RowsAffected, nil
}

var _ Store = (*GormStore)(nil)
