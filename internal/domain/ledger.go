package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	LedgerEntryFund    = "fund"
	LedgerEntryRelease = "release"
)

// LedgerAccount holds the running escrow totals of one project.
// HeldAmount + ReleasedAmount always equals TotalFunded.
type LedgerAccount struct {
	ProjectID      string          `json:"project_id"`
	TotalFunded    decimal.Decimal `json:"total_funded"`
	HeldAmount     decimal.Decimal `json:"held_amount"`
	ReleasedAmount decimal.Decimal `json:"released_amount"`
	Version        int64           `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// LedgerEntry is one line of the append-only escrow journal.
type LedgerEntry struct {
	EntryID     string          `json:"entry_id"`
	ProjectID   string          `json:"project_id"`
	EntryType   string          `json:"entry_type"`
	Amount      decimal.Decimal `json:"amount"`
	MilestoneID string          `json:"milestone_id,omitempty"`
	ReleaseID   string          `json:"release_id,omitempty"`
	ActorID     string          `json:"actor_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

func NewLedgerAccount(projectID string, now time.Time) LedgerAccount {
	return LedgerAccount{
		ProjectID:      projectID,
		TotalFunded:    decimal.Zero,
		HeldAmount:     decimal.Zero,
		ReleasedAmount: decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Fund tops up the escrow. Repeated calls accumulate.
func (a *LedgerAccount) Fund(amount decimal.Decimal, now time.Time) error {
	if err := ValidateAmount(amount, "funding amount"); err != nil {
		return err
	}
	a.TotalFunded = a.TotalFunded.Add(amount)
	a.HeldAmount = a.HeldAmount.Add(amount)
	a.touch(now)
	return nil
}

// Release moves amount from held to released. Both sides change or neither does.
func (a *LedgerAccount) Release(amount decimal.Decimal, now time.Time) error {
	if err := ValidateAmount(amount, "release amount"); err != nil {
		return err
	}
	if err := a.debitHeld(amount); err != nil {
		return err
	}
	a.creditReleased(amount)
	a.touch(now)
	return nil
}

func (a *LedgerAccount) debitHeld(amount decimal.Decimal) error {
	if amount.GreaterThan(a.HeldAmount) {
		return fmt.Errorf("%w: release of %s exceeds held balance %s", ErrInsufficientFunds, amount.String(), a.HeldAmount.String())
	}
	a.HeldAmount = a.HeldAmount.Sub(amount)
	return nil
}

func (a *LedgerAccount) creditReleased(amount decimal.Decimal) {
	a.ReleasedAmount = a.ReleasedAmount.Add(amount)
}

func (a *LedgerAccount) touch(now time.Time) {
	a.Version++
	a.UpdatedAt = now
}

// CheckInvariant verifies the accounting identity and non-negative balances.
func (a LedgerAccount) CheckInvariant() error {
	if a.HeldAmount.IsNegative() || a.ReleasedAmount.IsNegative() || a.TotalFunded.IsNegative() {
		return fmt.Errorf("%w: negative balance on project %s", ErrInvariantViolation, a.ProjectID)
	}
	if !a.HeldAmount.Add(a.ReleasedAmount).Equal(a.TotalFunded) {
		return fmt.Errorf("%w: held %s + released %s != funded %s on project %s",
			ErrInvariantViolation, a.HeldAmount.String(), a.ReleasedAmount.String(), a.TotalFunded.String(), a.ProjectID)
	}
	return nil
}

// ReplayEntries rebuilds totals from the journal. Used to cross-check the stored account.
func ReplayEntries(projectID string, entries []LedgerEntry) LedgerAccount {
	out := LedgerAccount{ProjectID: projectID, TotalFunded: decimal.Zero, HeldAmount: decimal.Zero, ReleasedAmount: decimal.Zero}
	for _, e := range entries {
		switch e.EntryType {
		case LedgerEntryFund:
			out.TotalFunded = out.TotalFunded.Add(e.Amount)
			out.HeldAmount = out.HeldAmount.Add(e.Amount)
		case LedgerEntryRelease:
			out.HeldAmount = out.HeldAmount.Sub(e.Amount)
			out.ReleasedAmount = out.ReleasedAmount.Add(e.Amount)
		}
	}
	return out
}
