package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/ports"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/application")

func (s *Service) startSpan(ctx context.Context, operation, projectID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "escrow."+operation, trace.WithAttributes(attribute.String("project_id", projectID)))
}

// finishSpan closes the span of an operation and logs a failure. Caller mistakes
// are logged at warn, everything else at error.
func (s *Service) finishSpan(ctx context.Context, span trace.Span, operation, projectID string, actor Actor, err error) {
	defer span.End()
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	level := slog.LevelWarn
	if !domain.IsUserError(err) {
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, "escrow operation failed",
		"module", "application.escrow",
		"layer", "application",
		"operation", operation,
		"outcome", "failure",
		"project_id", projectID,
		"request_id", actor.RequestID,
		"error", err,
	)
}

func callerFromActor(actor Actor) (domain.Caller, error) {
	subject := strings.TrimSpace(actor.SubjectID)
	if subject == "" {
		return domain.Caller{}, domain.ErrUnauthenticated
	}
	role, ok := domain.ParseRole(actor.Role)
	if !ok {
		return domain.Caller{}, fmt.Errorf("%w: unknown role %q", domain.ErrUnauthorized, actor.Role)
	}
	return domain.Caller{SubjectID: subject, Role: role}, nil
}

func (s *Service) authorize(ctx context.Context, tx ports.EscrowTx, caller domain.Caller, op domain.Operation, projectID string) (domain.ProjectParties, error) {
	parties, err := tx.Projects().Get(ctx, projectID)
	if err != nil {
		return domain.ProjectParties{}, err
	}
	if err := s.guard.Authorize(caller, op, parties); err != nil {
		return domain.ProjectParties{}, err
	}
	return parties, nil
}

func requireID(value, name string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%w: %s is required", domain.ErrInvalidInput, name)
	}
	return value, nil
}

type idempotencyScope struct {
	projectID   string
	key         string
	operation   string
	requestHash string
}

func newIdempotencyScope(actor Actor, projectID string, op domain.Operation, request any) idempotencyScope {
	return idempotencyScope{
		projectID: projectID,
		key:       strings.TrimSpace(actor.IdempotencyKey),
		operation: string(op),
		requestHash: hashJSON(struct {
			Operation string `json:"operation"`
			SubjectID string `json:"subject_id"`
			Request   any    `json:"request"`
		}{string(op), actor.SubjectID, request}),
	}
}

// replayIdempotent returns the stored response of a previous call with the same key.
func replayIdempotent[T any](ctx context.Context, tx ports.EscrowTx, scope idempotencyScope, now time.Time) (T, bool, error) {
	var out T
	if scope.key == "" {
		return out, false, nil
	}
	rec, err := tx.Idempotency().Get(ctx, scope.projectID, scope.key, now)
	if err != nil || rec == nil {
		return out, false, err
	}
	if rec.Operation != scope.operation || rec.RequestHash != scope.requestHash {
		return out, false, domain.ErrIdempotencyConflict
	}
	if err := json.Unmarshal(rec.ResponseBody, &out); err != nil {
		return out, false, fmt.Errorf("decode stored response for key %s: %w", scope.key, err)
	}
	return out, true, nil
}

func (s *Service) rememberIdempotent(ctx context.Context, tx ports.EscrowTx, scope idempotencyScope, response any, now time.Time) error {
	if scope.key == "" {
		return nil
	}
	body, err := json.Marshal(response)
	if err != nil {
		return err
	}
	return tx.Idempotency().Put(ctx, ports.IdempotencyRecord{
		ProjectID:    scope.projectID,
		Key:          scope.key,
		Operation:    scope.operation,
		RequestHash:  scope.requestHash,
		ResponseBody: body,
		ExpiresAt:    now.Add(s.cfg.IdempotencyTTL),
	})
}

func (s *Service) cachedSnapshot(ctx context.Context, projectID string) *domain.EscrowSnapshot {
	if s.cache == nil {
		return nil
	}
	snapshot, err := s.cache.Get(ctx, projectID)
	if err != nil {
		s.logger.WarnContext(ctx, "snapshot cache read failed",
			"module", "application.escrow",
			"layer", "application",
			"operation", "cache_get",
			"outcome", "failure",
			"project_id", projectID,
			"error", err,
		)
		return nil
	}
	return snapshot
}

// snapshotGeneration must be taken before the store read whose result is
// later passed to storeSnapshot. The snapshot is not cached when it fails.
func (s *Service) snapshotGeneration(ctx context.Context, projectID string) (int64, bool) {
	if s.cache == nil {
		return 0, false
	}
	generation, err := s.cache.Generation(ctx, projectID)
	if err != nil {
		s.logger.WarnContext(ctx, "snapshot cache generation read failed",
			"module", "application.escrow",
			"layer", "application",
			"operation", "cache_generation",
			"outcome", "failure",
			"project_id", projectID,
			"error", err,
		)
		return 0, false
	}
	return generation, true
}

func (s *Service) storeSnapshot(ctx context.Context, projectID string, generation int64, snapshot domain.EscrowSnapshot) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, projectID, generation, snapshot); err != nil {
		s.logger.WarnContext(ctx, "snapshot cache write failed",
			"module", "application.escrow",
			"layer", "application",
			"operation", "cache_set",
			"outcome", "failure",
			"project_id", projectID,
			"error", err,
		)
	}
}

// invalidateSnapshot runs after commit. The mutation already succeeded, so a
// cache failure is logged and left to expire by TTL.
func (s *Service) invalidateSnapshot(ctx context.Context, projectID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, projectID); err != nil {
		s.logger.WarnContext(ctx, "snapshot cache invalidation failed",
			"module", "application.escrow",
			"layer", "application",
			"operation", "cache_invalidate",
			"outcome", "failure",
			"project_id", projectID,
			"error", err,
		)
	}
}

func loadAccount(ctx context.Context, tx ports.EscrowTx, projectID string, now time.Time) (domain.LedgerAccount, error) {
	account, err := tx.Accounts().Get(ctx, projectID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewLedgerAccount(projectID, now), nil
	}
	return account, err
}

func hashJSON(v any) string {
	b, _ := json.Marshal(v)
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}
