package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type MilestoneStatus string

const (
	MilestoneStatusPending        MilestoneStatus = "pending"
	MilestoneStatusInProgress     MilestoneStatus = "in_progress"
	MilestoneStatusPendingRelease MilestoneStatus = "pending_release"
	MilestoneStatusCompleted      MilestoneStatus = "completed"
)

func (s MilestoneStatus) Valid() bool {
	switch s {
	case MilestoneStatusPending, MilestoneStatusInProgress, MilestoneStatusPendingRelease, MilestoneStatusCompleted:
		return true
	default:
		return false
	}
}

// milestoneTransitions lists every legal edge. completed has none.
var milestoneTransitions = map[MilestoneStatus][]MilestoneStatus{
	MilestoneStatusPending:        {MilestoneStatusInProgress},
	MilestoneStatusInProgress:     {MilestoneStatusPendingRelease},
	MilestoneStatusPendingRelease: {MilestoneStatusCompleted, MilestoneStatusInProgress},
}

func CanTransition(from, to MilestoneStatus) bool {
	for _, next := range milestoneTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// MilestoneDetails is the fixed set of descriptive fields a milestone carries.
type MilestoneDetails struct {
	Deliverables       []string `json:"deliverables,omitempty"`
	AcceptanceCriteria string   `json:"acceptance_criteria,omitempty"`
	Notes              string   `json:"notes,omitempty"`
}

type Milestone struct {
	MilestoneID string           `json:"milestone_id"`
	ProjectID   string           `json:"project_id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Amount      decimal.Decimal  `json:"amount"`
	DueDate     *time.Time       `json:"due_date,omitempty"`
	Status      MilestoneStatus  `json:"status"`
	Details     MilestoneDetails `json:"details"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// NewMilestone validates an externally defined milestone. Only pending and
// in_progress are accepted as initial states.
func NewMilestone(id, projectID, title, description string, amount decimal.Decimal, dueDate *time.Time, status MilestoneStatus, details MilestoneDetails, now time.Time) (Milestone, error) {
	if id == "" || projectID == "" || title == "" {
		return Milestone{}, fmt.Errorf("%w: milestone id, project id and title are required", ErrInvalidInput)
	}
	if err := ValidateAmount(amount, "milestone amount"); err != nil {
		return Milestone{}, err
	}
	if status == "" {
		status = MilestoneStatusPending
	}
	if status != MilestoneStatusPending && status != MilestoneStatusInProgress {
		return Milestone{}, fmt.Errorf("%w: milestone cannot be created as %s", ErrInvalidStateTransition, status)
	}
	return Milestone{
		MilestoneID: id,
		ProjectID:   projectID,
		Title:       title,
		Description: description,
		Amount:      amount,
		DueDate:     dueDate,
		Status:      status,
		Details:     details,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (m Milestone) IsTerminal() bool { return m.Status == MilestoneStatusCompleted }

// TransitionTo moves the milestone along one edge of the lifecycle.
func (m *Milestone) TransitionTo(next MilestoneStatus, now time.Time) error {
	if !CanTransition(m.Status, next) {
		return fmt.Errorf("%w: milestone %s cannot move from %s to %s", ErrInvalidStateTransition, m.MilestoneID, m.Status, next)
	}
	m.Status = next
	m.UpdatedAt = now
	if next == MilestoneStatusCompleted {
		at := now
		m.CompletedAt = &at
	}
	return nil
}
