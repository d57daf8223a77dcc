package contracts

import (
	"encoding/json"
	"time"
)

type EventEnvelope struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	EventClass       string          `json:"event_class,omitempty"`
	OccurredAt       time.Time       `json:"occurred_at"`
	PartitionKeyPath string          `json:"partition_key_path"`
	PartitionKey     string          `json:"partition_key"`
	SourceService    string          `json:"source_service"`
	TraceID          string          `json:"trace_id"`
	SchemaVersion    string          `json:"schema_version"`
	Data             json.RawMessage `json:"data"`
}

type EscrowFundedPayload struct {
	ProjectID   string `json:"project_id"`
	Amount      string `json:"amount"`
	TotalFunded string `json:"total_funded"`
	HeldAmount  string `json:"held_amount"`
	FundedBy    string `json:"funded_by"`
	FundedAt    string `json:"funded_at"`
}

type MilestoneStartedPayload struct {
	ProjectID   string `json:"project_id"`
	MilestoneID string `json:"milestone_id"`
	StartedBy   string `json:"started_by"`
	StartedAt   string `json:"started_at"`
}

type ReleaseRequestedPayload struct {
	ProjectID   string `json:"project_id"`
	MilestoneID string `json:"milestone_id"`
	ReleaseID   string `json:"release_id"`
	Amount      string `json:"amount"`
	RequestedBy string `json:"requested_by"`
	RequestedAt string `json:"requested_at"`
}

type ReleaseApprovedPayload struct {
	ProjectID      string `json:"project_id"`
	MilestoneID    string `json:"milestone_id"`
	ReleaseID      string `json:"release_id"`
	Amount         string `json:"amount"`
	ExpertID       string `json:"expert_id"`
	ApprovedBy     string `json:"approved_by"`
	HeldAmount     string `json:"held_amount"`
	ReleasedAmount string `json:"released_amount"`
	ApprovedAt     string `json:"approved_at"`
}

type ReleaseResolvedPayload struct {
	ProjectID   string `json:"project_id"`
	MilestoneID string `json:"milestone_id"`
	ReleaseID   string `json:"release_id"`
	ResolvedBy  string `json:"resolved_by"`
	Reason      string `json:"reason,omitempty"`
	ResolvedAt  string `json:"resolved_at"`
}

// ProjectPartiesPayload is the data of project.created and project.parties_updated.
type ProjectPartiesPayload struct {
	ProjectID string `json:"project_id"`
	ClientID  string `json:"client_id"`
	ExpertID  string `json:"expert_id"`
}

type MilestoneDefinedPayload struct {
	MilestoneID        string   `json:"milestone_id"`
	ProjectID          string   `json:"project_id"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	Amount             string   `json:"amount"`
	DueDate            string   `json:"due_date,omitempty"`
	Status             string   `json:"status,omitempty"`
	Deliverables       []string `json:"deliverables,omitempty"`
	AcceptanceCriteria string   `json:"acceptance_criteria,omitempty"`
	Notes              string   `json:"notes,omitempty"`
}
