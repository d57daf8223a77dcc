package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type eventDedupRepository struct {
	db *gorm.DB
}

// IsDuplicate reports whether eventID was applied and its marker has not
// expired yet.
func (r *eventDedupRepository) IsDuplicate(ctx context.Context, eventID string, now time.Time) (bool, error) {
	var rec eventDedupModel
	err := r.db.WithContext(ctx).
		Select("event_id").
		Where("event_id = ? AND expires_at > ?", eventID, now).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return err == nil, err
}

// MarkProcessed writes or refreshes the marker of eventID. An expired marker
// left behind by an earlier delivery is overwritten in place.
func (r *eventDedupRepository) MarkProcessed(ctx context.Context, eventID, eventType string, expiresAt time.Time) error {
	rec := eventDedupModel{
		EventID:     eventID,
		EventType:   eventType,
		ProcessedAt: time.Now().UTC(),
		ExpiresAt:   expiresAt,
	}
	return r.db.WithContext(ctx).Clauses(dedupUpsert()).Create(&rec).Error
}

func dedupUpsert() clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"event_type", "processed_at", "expires_at"}),
	}
}

var _ ports.EventDedupRepository = (*eventDedupRepository)(nil)
