package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/contracts"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/ports"
)

// FundEscrow adds amount to the project's escrow. The ledger account is
// created by the first funding.
func (s *Service) FundEscrow(ctx context.Context, actor Actor, input FundEscrowInput) (out domain.LedgerAccount, err error) {
	ctx, span := s.startSpan(ctx, "fund_escrow", input.ProjectID)
	defer func() { s.finishSpan(ctx, span, "fund_escrow", input.ProjectID, actor, err) }()

	caller, err := callerFromActor(actor)
	if err != nil {
		return domain.LedgerAccount{}, err
	}
	projectID, err := requireID(input.ProjectID, "project id")
	if err != nil {
		return domain.LedgerAccount{}, err
	}
	scope := newIdempotencyScope(actor, projectID, domain.OperationFundEscrow, input.Amount.String())

	err = s.store.WithProjectLock(ctx, projectID, func(ctx context.Context, tx ports.EscrowTx) error {
		if _, err := s.authorize(ctx, tx, caller, domain.OperationFundEscrow, projectID); err != nil {
			return err
		}
		now := s.nowFn()
		if cached, ok, err := replayIdempotent[domain.LedgerAccount](ctx, tx, scope, now); err != nil {
			return err
		} else if ok {
			out = cached
			return nil
		}
		account, err := loadAccount(ctx, tx, projectID, now)
		if err != nil {
			return err
		}
		if err := account.Fund(input.Amount, now); err != nil {
			return err
		}
		if err := account.CheckInvariant(); err != nil {
			return err
		}
		if err := tx.Accounts().Save(ctx, account); err != nil {
			return err
		}
		entry := domain.LedgerEntry{
			EntryID:    uuid.NewString(),
			ProjectID:  projectID,
			EntryType:  domain.LedgerEntryFund,
			Amount:     input.Amount,
			ActorID:    caller.SubjectID,
			OccurredAt: now,
		}
		if err := tx.Entries().Append(ctx, entry); err != nil {
			return err
		}
		payload := contracts.EscrowFundedPayload{
			ProjectID:   projectID,
			Amount:      input.Amount.String(),
			TotalFunded: account.TotalFunded.String(),
			HeldAmount:  account.HeldAmount.String(),
			FundedBy:    caller.SubjectID,
			FundedAt:    now.Format(time.RFC3339),
		}
		if err := s.enqueueEvent(ctx, tx, domain.EventEscrowFunded, actor.RequestID, projectID, payload, now); err != nil {
			return err
		}
		if err := s.rememberIdempotent(ctx, tx, scope, account, now); err != nil {
			return err
		}
		out = account
		return nil
	})
	if err != nil {
		return domain.LedgerAccount{}, err
	}
	s.invalidateSnapshot(ctx, projectID)
	return out, nil
}

// GetEscrowSnapshot returns the ledger totals and milestones of a funded project.
func (s *Service) GetEscrowSnapshot(ctx context.Context, actor Actor, projectID string) (out domain.EscrowSnapshot, err error) {
	ctx, span := s.startSpan(ctx, "get_escrow_snapshot", projectID)
	defer func() { s.finishSpan(ctx, span, "get_escrow_snapshot", projectID, actor, err) }()

	caller, err := callerFromActor(actor)
	if err != nil {
		return domain.EscrowSnapshot{}, err
	}
	projectID, err = requireID(projectID, "project id")
	if err != nil {
		return domain.EscrowSnapshot{}, err
	}

	generation, cacheable := s.snapshotGeneration(ctx, projectID)
	fromCache := false
	err = s.store.ReadProject(ctx, projectID, func(ctx context.Context, tx ports.EscrowTx) error {
		if _, err := s.authorize(ctx, tx, caller, domain.OperationViewEscrow, projectID); err != nil {
			return err
		}
		if cached := s.cachedSnapshot(ctx, projectID); cached != nil {
			out = *cached
			fromCache = true
			return nil
		}
		account, err := tx.Accounts().Get(ctx, projectID)
		if err != nil {
			return err
		}
		milestones, err := tx.Milestones().ListByProject(ctx, projectID)
		if err != nil {
			return err
		}
		open, err := tx.Releases().ListOpenByProject(ctx, projectID)
		if err != nil {
			return err
		}
		out = domain.BuildSnapshot(account, milestones, open)
		return nil
	})
	if err != nil {
		return domain.EscrowSnapshot{}, err
	}
	if cacheable && !fromCache {
		s.storeSnapshot(ctx, projectID, generation, out)
	}
	return out, nil
}

// ListLedgerEntries returns the escrow journal of a project, oldest first.
func (s *Service) ListLedgerEntries(ctx context.Context, actor Actor, projectID string) (out []domain.LedgerEntry, err error) {
	ctx, span := s.startSpan(ctx, "list_ledger_entries", projectID)
	defer func() { s.finishSpan(ctx, span, "list_ledger_entries", projectID, actor, err) }()

	caller, err := callerFromActor(actor)
	if err != nil {
		return nil, err
	}
	projectID, err = requireID(projectID, "project id")
	if err != nil {
		return nil, err
	}
	err = s.store.ReadProject(ctx, projectID, func(ctx context.Context, tx ports.EscrowTx) error {
		if _, err := s.authorize(ctx, tx, caller, domain.OperationViewEscrow, projectID); err != nil {
			return err
		}
		entries, err := tx.Entries().ListByProject(ctx, projectID)
		if err != nil {
			return err
		}
		out = entries
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.LedgerEntry{}
	}
	return out, nil
}
