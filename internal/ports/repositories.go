package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/domain"
)

type ProjectRepository interface {
	Get(ctx context.Context, projectID string) (domain.ProjectParties, error)
}

type LedgerAccountRepository interface {
	// Get returns domain.ErrNotFound while the project has never been funded.
	Get(ctx context.Context, projectID string) (domain.LedgerAccount, error)
	Save(ctx context.Context, account domain.LedgerAccount) error
}

type MilestoneRepository interface {
	Get(ctx context.Context, milestoneID string) (domain.Milestone, error)
	ListByProject(ctx context.Context, projectID string) ([]domain.Milestone, error)
	Create(ctx context.Context, milestone domain.Milestone) error
	Update(ctx context.Context, milestone domain.Milestone) error
}

type ReleaseRequestRepository interface {
	Get(ctx context.Context, releaseID string) (domain.ReleaseRequest, error)
	ListByMilestone(ctx context.Context, milestoneID string) ([]domain.ReleaseRequest, error)
	ListOpenByProject(ctx context.Context, projectID string) ([]domain.ReleaseRequest, error)
	Create(ctx context.Context, release domain.ReleaseRequest) error
	Update(ctx context.Context, release domain.ReleaseRequest) error
}

type LedgerEntryRepository interface {
	Append(ctx context.Context, entry domain.LedgerEntry) error
	ListByProject(ctx context.Context, projectID string) ([]domain.LedgerEntry, error)
}

type IdempotencyRecord struct {
	ProjectID    string
	Key          string
	Operation    string
	RequestHash  string
	ResponseBody []byte
	ExpiresAt    time.Time
}

type IdempotencyRepository interface {
	Get(ctx context.Context, projectID, key string, now time.Time) (*IdempotencyRecord, error)
	Put(ctx context.Context, record IdempotencyRecord) error
}

type OutboxEvent struct {
	EventID          uuid.UUID
	EventType        string
	PartitionKey     string
	PartitionKeyPath string
	Payload          []byte
	OccurredAt       time.Time
	SchemaVersion    string
	TraceID          string
}

type OutboxRecord struct {
	OutboxID     uuid.UUID
	EventType    string
	PartitionKey string
	Payload      []byte
	RetryCount   int
	PublishedAt  *time.Time
	LastError    *string
	LastErrorAt  *time.Time
	FirstSeenAt  time.Time
}

type OutboxRepository interface {
	Enqueue(ctx context.Context, event OutboxEvent) error
	// FetchUnpublished returns up to limit rows due for publishing. Stores shared
	// by several publishers lease the rows to the caller until they are marked.
	FetchUnpublished(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, outboxID uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, outboxID uuid.UUID, errMsg string, at time.Time) error
}

type EventDedupRepository interface {
	IsDuplicate(ctx context.Context, eventID string, now time.Time) (bool, error)
	MarkProcessed(ctx context.Context, eventID, eventType string, expiresAt time.Time) error
}

// PendingMilestoneRepository holds milestones whose project is not registered
// yet. They are replayed once the project arrives.
type PendingMilestoneRepository interface {
	// Park stores milestone, replacing an earlier parked copy with the same id.
	Park(ctx context.Context, milestone domain.Milestone) error
	ListByProject(ctx context.Context, projectID string) ([]domain.Milestone, error)
	Delete(ctx context.Context, milestoneID string) error
}

// EscrowTx exposes the repositories of one project inside a transactional unit.
// Lookups by milestone or release id only see rows of that project.
type EscrowTx interface {
	Projects() ProjectRepository
	Accounts() LedgerAccountRepository
	Milestones() MilestoneRepository
	Releases() ReleaseRequestRepository
	Entries() LedgerEntryRepository
	Idempotency() IdempotencyRepository
	Outbox() OutboxRepository
}

// EscrowStore is the persistence boundary of the escrow core.
type EscrowStore interface {
	// WithProjectLock runs fn inside the exclusive section of projectID. Writes
	// made through tx are committed together when fn returns nil and discarded
	// otherwise. Returns domain.ErrNotFound for unknown projects.
	WithProjectLock(ctx context.Context, projectID string, fn func(ctx context.Context, tx EscrowTx) error) error
	// ReadProject runs fn against a consistent read-only view of projectID.
	ReadProject(ctx context.Context, projectID string, fn func(ctx context.Context, tx EscrowTx) error) error
	// UpsertProject records the parties of a project supplied by the project service.
	UpsertProject(ctx context.Context, parties domain.ProjectParties) error
	// Outbox is used by the publisher worker outside of any project section.
	Outbox() OutboxRepository
	EventDedup() EventDedupRepository
	PendingMilestones() PendingMilestoneRepository
	Ping(ctx context.Context) error
}
