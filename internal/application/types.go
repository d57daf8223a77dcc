package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/ports"
)

type Config struct {
	ServiceName      string
	IdempotencyTTL   time.Duration
	EventDedupTTL    time.Duration
	SnapshotCacheTTL time.Duration
}

// Actor is the verified caller of an operation plus per-request metadata.
type Actor struct {
	SubjectID      string
	Role           string
	RequestID      string
	IdempotencyKey string
}

type FundEscrowInput struct {
	ProjectID string
	Amount    decimal.Decimal
}

type RequestReleaseInput struct {
	ProjectID   string
	MilestoneID string
	Amount      decimal.Decimal
}

type ResolveReleaseInput struct {
	ProjectID string
	ReleaseID string
	Reason    string
}

type DefineMilestoneInput struct {
	MilestoneID string
	ProjectID   string
	Title       string
	Description string
	Amount      decimal.Decimal
	DueDate     *time.Time
	Status      domain.MilestoneStatus
	Details     domain.MilestoneDetails
}

type Service struct {
	cfg    Config
	store  ports.EscrowStore
	cache  ports.SnapshotCache
	guard  domain.AuthorizationGuard
	logger *slog.Logger
	nowFn  func() time.Time
}

type Dependencies struct {
	Config Config
	Store  ports.EscrowStore
	Cache  ports.SnapshotCache
	Logger *slog.Logger
}

func NewService(deps Dependencies) *Service {
	cfg := deps.Config
	if cfg.ServiceName == "" {
		cfg.ServiceName = "M15-Milestone-Escrow-Service"
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 7 * 24 * time.Hour
	}
	if cfg.EventDedupTTL <= 0 {
		cfg.EventDedupTTL = 7 * 24 * time.Hour
	}
	if cfg.SnapshotCacheTTL <= 0 {
		cfg.SnapshotCacheTTL = 30 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:    cfg,
		store:  deps.Store,
		cache:  deps.Cache,
		guard:  domain.NewAuthorizationGuard(),
		logger: logger,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Config() Config { return s.cfg }

// Ping reports whether the backing store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	if s.store == nil {
		return domain.ErrDependencyUnavailable
	}
	return s.store.Ping(ctx)
}
