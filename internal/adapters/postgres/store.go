package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store runs every escrow operation in its own database transaction. Writers
// serialize on the project row; readers use a read-only repeatable-read snapshot.
type Store struct {
	db         *gorm.DB
	outbox     *outboxRepository
	eventDedup *eventDedupRepository
	pending    *pendingMilestoneRepository
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:         db,
		outbox:     &outboxRepository{db: db},
		eventDedup: &eventDedupRepository{db: db},
		pending:    &pendingMilestoneRepository{db: db},
	}
}

func (s *Store) WithProjectLock(ctx context.Context, projectID string, fn func(ctx context.Context, tx ports.EscrowTx) error) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		var project projectModel
		err := db.Clauses(clause.Locking{Strength: "UPDATE"}).Where("project_id = ?", projectID).Take(&project).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: project %s", domain.ErrNotFound, projectID)
			}
			return err
		}
		return fn(ctx, newTx(db, project))
	})
}

func (s *Store) ReadProject(ctx context.Context, projectID string, fn func(ctx context.Context, tx ports.EscrowTx) error) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		var project projectModel
		if err := db.Where("project_id = ?", projectID).Take(&project).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: project %s", domain.ErrNotFound, projectID)
			}
			return err
		}
		return fn(ctx, newTx(db, project))
	}, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
}

func (s *Store) UpsertProject(ctx context.Context, parties domain.ProjectParties) error {
	now := time.Now().UTC()
	rec := projectModel{
		ProjectID: parties.ProjectID,
		ClientID:  parties.ClientID,
		ExpertID:  parties.ExpertID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"client_id", "expert_id", "updated_at"}),
	}).Create(&rec).Error
}

func (s *Store) Outbox() ports.OutboxRepository { return s.outbox }

func (s *Store) EventDedup() ports.EventDedupRepository { return s.eventDedup }

func (s *Store) PendingMilestones() ports.PendingMilestoneRepository { return s.pending }

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

var _ ports.EscrowStore = (*Store)(nil)
