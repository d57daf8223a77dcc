package ports

import (
	"context"

	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/domain"
)

// SnapshotCache keeps whole escrow snapshots keyed by project.
//
// Every Invalidate bumps the project's generation. A reader takes the
// generation before reading the store and passes it to Set, which stores the
// snapshot only if no invalidation happened in between.
type SnapshotCache interface {
	Get(ctx context.Context, projectID string) (*domain.EscrowSnapshot, error)
	Generation(ctx context.Context, projectID string) (int64, error)
	Set(ctx context.Context, projectID string, generation int64, snapshot domain.EscrowSnapshot) error
	Invalidate(ctx context.Context, projectID string) error
}
