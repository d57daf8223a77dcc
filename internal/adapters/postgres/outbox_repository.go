package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// outboxClaimLease hides claimed rows from other publishers while one
	// instance is sending them.
	outboxClaimLease = 30 * time.Second

	// outboxMaxBackoffSeconds caps the delay between two failed attempts.
	outboxMaxBackoffSeconds = 300
)

type outboxRepository struct {
	db *gorm.DB
}

func (r *outboxRepository) Enqueue(ctx context.Context, event ports.OutboxEvent) error {
	rec := outboxModel{
		OutboxID:         event.EventID,
		EventType:        event.EventType,
		PartitionKey:     event.PartitionKey,
		PartitionKeyPath: event.PartitionKeyPath,
		Payload:          string(event.Payload),
		SchemaVersion:    event.SchemaVersion,
		TraceID:          event.TraceID,
		CreatedAt:        event.OccurredAt,
		FirstSeenAt:      event.OccurredAt,
	}
	return r.db.WithContext(ctx).Create(&rec).Error
}

// FetchUnpublished claims up to limit due rows for this publisher. Rows locked
// by a concurrent claim are skipped, and claimed rows stay invisible until
// their lease runs out or they are marked.
func (r *outboxRepository) FetchUnpublished(ctx context.Context, limit int) ([]ports.OutboxRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	var rows []outboxModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := dueOutboxRows(tx, now, limit).Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.OutboxID)
		}
		return tx.Model(&outboxModel{}).
			Where("outbox_id IN ?", ids).
			Update("next_attempt_at", now.Add(outboxClaimLease)).Error
	})
	if err != nil {
		return nil, err
	}

	out := make([]ports.OutboxRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, toOutboxRecord(row))
	}
	return out, nil
}

func (r *outboxRepository) MarkPublished(ctx context.Context, outboxID uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("outbox_id = ?", outboxID).
		Updates(map[string]any{
			"published_at":    at,
			"next_attempt_at": nil,
		}).Error
}

// MarkFailed records the error and pushes the next attempt back exponentially
// in the number of earlier failures.
func (r *outboxRepository) MarkFailed(ctx context.Context, outboxID uuid.UUID, errMsg string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("outbox_id = ?", outboxID).
		Where("published_at IS NULL").
		Updates(outboxFailureUpdates(errMsg, at)).Error
}

func dueOutboxRows(tx *gorm.DB, now time.Time, limit int) *gorm.DB {
	return tx.Model(&outboxModel{}).
		Where("published_at IS NULL").
		Where("next_attempt_at IS NULL OR next_attempt_at <= ?", now).
		Order("created_at ASC").
		Limit(limit).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
}

func outboxFailureUpdates(errMsg string, at time.Time) map[string]any {
	return map[string]any{
		"retry_count":     gorm.Expr("retry_count + 1"),
		"last_error":      errMsg,
		"last_error_at":   at,
		"next_attempt_at": gorm.Expr("?::timestamptz + make_interval(secs => LEAST(power(2, retry_count), ?))", at, outboxMaxBackoffSeconds),
	}
}

func toOutboxRecord(row outboxModel) ports.OutboxRecord {
	return ports.OutboxRecord{
		OutboxID:     row.OutboxID,
		EventType:    row.EventType,
		PartitionKey: row.PartitionKey,
		Payload:      []byte(row.Payload),
		RetryCount:   row.RetryCount,
		PublishedAt:  row.PublishedAt,
		LastError:    row.LastError,
		LastErrorAt:  row.LastErrorAt,
		FirstSeenAt:  row.FirstSeenAt,
	}
}

var _ ports.OutboxRepository = (*outboxRepository)(nil)
