package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type ReleaseStatus string

const (
	ReleaseStatusOpen      ReleaseStatus = "open"
	ReleaseStatusApproved  ReleaseStatus = "approved"
	ReleaseStatusRejected  ReleaseStatus = "rejected"
	ReleaseStatusWithdrawn ReleaseStatus = "withdrawn"
)

// ReleaseRequest is an expert's claim on a milestone payment. Once it leaves
// open it never changes again.
type ReleaseRequest struct {
	ReleaseID   string          `json:"release_id"`
	ProjectID   string          `json:"project_id"`
	MilestoneID string          `json:"milestone_id"`
	Amount      decimal.Decimal `json:"amount"`
	RequestedBy string          `json:"requested_by"`
	Status      ReleaseStatus   `json:"status"`
	ApprovedBy  string          `json:"approved_by,omitempty"`
	RejectedBy  string          `json:"rejected_by,omitempty"`
	WithdrawnBy string          `json:"withdrawn_by,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
}

// NewReleaseRequest checks the claimed amount against the milestone it targets.
func NewReleaseRequest(id string, milestone Milestone, amount decimal.Decimal, requestedBy string, now time.Time) (ReleaseRequest, error) {
	if err := ValidateAmount(amount, "release amount"); err != nil {
		return ReleaseRequest{}, err
	}
	if amount.GreaterThan(milestone.Amount) {
		return ReleaseRequest{}, fmt.Errorf("%w: release of %s exceeds milestone amount %s", ErrInvalidAmount, amount.String(), milestone.Amount.String())
	}
	return ReleaseRequest{
		ReleaseID:   id,
		ProjectID:   milestone.ProjectID,
		MilestoneID: milestone.MilestoneID,
		Amount:      amount,
		RequestedBy: requestedBy,
		Status:      ReleaseStatusOpen,
		CreatedAt:   now,
	}, nil
}

func (r ReleaseRequest) IsOpen() bool { return r.Status == ReleaseStatusOpen }

func (r *ReleaseRequest) Approve(by string, now time.Time) error {
	if err := r.resolve(ReleaseStatusApproved, now); err != nil {
		return err
	}
	r.ApprovedBy = by
	return nil
}

func (r *ReleaseRequest) Reject(by, reason string, now time.Time) error {
	if err := r.resolve(ReleaseStatusRejected, now); err != nil {
		return err
	}
	r.RejectedBy = by
	r.Reason = reason
	return nil
}

func (r *ReleaseRequest) Withdraw(by string, now time.Time) error {
	if err := r.resolve(ReleaseStatusWithdrawn, now); err != nil {
		return err
	}
	r.WithdrawnBy = by
	return nil
}

func (r *ReleaseRequest) resolve(next ReleaseStatus, now time.Time) error {
	if !r.IsOpen() {
		return fmt.Errorf("%w: release request %s is already %s", ErrInvalidStateTransition, r.ReleaseID, r.Status)
	}
	r.Status = next
	at := now
	r.ResolvedAt = &at
	return nil
}
