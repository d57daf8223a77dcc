package postgres

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type projectModel struct {
	ProjectID string    `gorm:"column:project_id;primaryKey"`
	ClientID  string    `gorm:"column:client_id"`
	ExpertID  string    `gorm:"column:expert_id"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (projectModel) TableName() string { return "escrow_projects" }

type accountModel struct {
	ProjectID      string          `gorm:"column:project_id;primaryKey"`
	TotalFunded    decimal.Decimal `gorm:"column:total_funded;type:numeric"`
	HeldAmount     decimal.Decimal `gorm:"column:held_amount;type:numeric"`
	ReleasedAmount decimal.Decimal `gorm:"column:released_amount;type:numeric"`
	Version        int64           `gorm:"column:version"`
	CreatedAt      time.Time       `gorm:"column:created_at"`
	UpdatedAt      time.Time       `gorm:"column:updated_at"`
}

func (accountModel) TableName() string { return "escrow_accounts" }

type milestoneModel struct {
	MilestoneID string          `gorm:"column:milestone_id;primaryKey"`
	ProjectID   string          `gorm:"column:project_id"`
	Title       string          `gorm:"column:title"`
	Description string          `gorm:"column:description"`
	Amount      decimal.Decimal `gorm:"column:amount;type:numeric"`
	DueDate     *time.Time      `gorm:"column:due_date"`
	Status      string          `gorm:"column:status"`
	Details     string          `gorm:"column:details;type:jsonb"`
	CreatedAt   time.Time       `gorm:"column:created_at"`
	UpdatedAt   time.Time       `gorm:"column:updated_at"`
	CompletedAt *time.Time      `gorm:"column:completed_at"`
}

func (milestoneModel) TableName() string { return "milestones" }

// pendingMilestoneModel shares the milestone columns; rows wait here until
// their project is registered.
type pendingMilestoneModel milestoneModel

func (pendingMilestoneModel) TableName() string { return "escrow_pending_milestones" }

type releaseModel struct {
	ReleaseID   string          `gorm:"column:release_id;primaryKey"`
	ProjectID   string          `gorm:"column:project_id"`
	MilestoneID string          `gorm:"column:milestone_id"`
	Amount      decimal.Decimal `gorm:"column:amount;type:numeric"`
	Status      string          `gorm:"column:status"`
	RequestedBy string          `gorm:"column:requested_by"`
	ApprovedBy  *string         `gorm:"column:approved_by"`
	RejectedBy  *string         `gorm:"column:rejected_by"`
	WithdrawnBy *string         `gorm:"column:withdrawn_by"`
	Reason      *string         `gorm:"column:reason"`
	CreatedAt   time.Time       `gorm:"column:created_at"`
	ResolvedAt  *time.Time      `gorm:"column:resolved_at"`
}

func (releaseModel) TableName() string { return "release_requests" }

type ledgerEntryModel struct {
	Seq         int64           `gorm:"column:seq;->"`
	EntryID     string          `gorm:"column:entry_id;primaryKey"`
	ProjectID   string          `gorm:"column:project_id"`
	EntryType   string          `gorm:"column:entry_type"`
	Amount      decimal.Decimal `gorm:"column:amount;type:numeric"`
	MilestoneID *string         `gorm:"column:milestone_id"`
	ReleaseID   *string         `gorm:"column:release_id"`
	ActorID     string          `gorm:"column:actor_id"`
	OccurredAt  time.Time       `gorm:"column:occurred_at"`
}

func (ledgerEntryModel) TableName() string { return "escrow_ledger_entries" }

type idempotencyModel struct {
	ProjectID      string    `gorm:"column:project_id;primaryKey"`
	IdempotencyKey string    `gorm:"column:idempotency_key;primaryKey"`
	Operation      string    `gorm:"column:operation"`
	RequestHash    string    `gorm:"column:request_hash"`
	ResponseBody   string    `gorm:"column:response_body"`
	ExpiresAt      time.Time `gorm:"column:expires_at"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

func (idempotencyModel) TableName() string { return "escrow_idempotency" }

type outboxModel struct {
	OutboxID         uuid.UUID  `gorm:"column:outbox_id;type:uuid;primaryKey"`
	EventType        string     `gorm:"column:event_type"`
	PartitionKey     string     `gorm:"column:partition_key"`
	PartitionKeyPath string     `gorm:"column:partition_key_path"`
	Payload          string     `gorm:"column:payload;type:jsonb"`
	SchemaVersion    string     `gorm:"column:schema_version"`
	TraceID          string     `gorm:"column:trace_id"`
	RetryCount       int        `gorm:"column:retry_count"`
	PublishedAt      *time.Time `gorm:"column:published_at"`
	LastError        *string    `gorm:"column:last_error"`
	LastErrorAt      *time.Time `gorm:"column:last_error_at"`
	NextAttemptAt    *time.Time `gorm:"column:next_attempt_at"`
	FirstSeenAt      time.Time  `gorm:"column:first_seen_at"`
	CreatedAt        time.Time  `gorm:"column:created_at"`
}

func (outboxModel) TableName() string { return "escrow_outbox" }

type eventDedupModel struct {
	EventID     string    `gorm:"column:event_id;primaryKey"`
	EventType   string    `gorm:"column:event_type"`
	ProcessedAt time.Time `gorm:"column:processed_at"`
	ExpiresAt   time.Time `gorm:"column:expires_at"`
}

func (eventDedupModel) TableName() string { return "escrow_event_dedup" }
