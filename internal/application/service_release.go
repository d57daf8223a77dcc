package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/contracts"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/ports"
)

// StartMilestone moves a pending milestone to in_progress on behalf of the assigned expert.
func (s *Service) StartMilestone(ctx context.Context, actor Actor, projectID, milestoneID string) (out domain.Milestone, err error) {
	ctx, span := s.startSpan(ctx, "start_milestone", projectID)
	defer func() { s.finishSpan(ctx, span, "start_milestone", projectID, actor, err) }()

	caller, err := callerFromActor(actor)
	if err != nil {
		return domain.Milestone{}, err
	}
	if projectID, err = requireID(projectID, "project id"); err != nil {
		return domain.Milestone{}, err
	}
	if milestoneID, err = requireID(milestoneID, "milestone id"); err != nil {
		return domain.Milestone{}, err
	}
	scope := newIdempotencyScope(actor, projectID, domain.OperationStartMilestone, milestoneID)

	err = s.store.WithProjectLock(ctx, projectID, func(ctx context.Context, tx ports.EscrowTx) error {
		if _, err := s.authorize(ctx, tx, caller, domain.OperationStartMilestone, projectID); err != nil {
			return err
		}
		now := s.nowFn()
		if cached, ok, err := replayIdempotent[domain.Milestone](ctx, tx, scope, now); err != nil {
			return err
		} else if ok {
			out = cached
			return nil
		}
		milestone, err := getMilestone(ctx, tx, projectID, milestoneID)
		if err != nil {
			return err
		}
		if milestone.Status != domain.MilestoneStatusPending {
			return fmt.Errorf("%w: milestone %s is %s, not pending", domain.ErrInvalidStateTransition, milestone.MilestoneID, milestone.Status)
		}
		if err := milestone.TransitionTo(domain.MilestoneStatusInProgress, now); err != nil {
			return err
		}
		if err := tx.Milestones().Update(ctx, milestone); err != nil {
			return err
		}
		payload := contracts.MilestoneStartedPayload{
			ProjectID:   projectID,
			MilestoneID: milestone.MilestoneID,
			StartedBy:   caller.SubjectID,
			StartedAt:   now.Format(time.RFC3339),
		}
		if err := s.enqueueEvent(ctx, tx, domain.EventMilestoneStarted, actor.RequestID, projectID, payload, now); err != nil {
			return err
		}
		if err := s.rememberIdempotent(ctx, tx, scope, milestone, now); err != nil {
			return err
		}
		out = milestone
		return nil
	})
	if err != nil {
		return domain.Milestone{}, err
	}
	s.invalidateSnapshot(ctx, projectID)
	return out, nil
}

// RequestRelease opens a release request on an in-progress milestone and moves
// the milestone to pending_release.
func (s *Service) RequestRelease(ctx context.Context, actor Actor, input RequestReleaseInput) (out domain.ReleaseRequest, err error) {
	ctx, span := s.startSpan(ctx, "request_release", input.ProjectID)
	defer func() { s.finishSpan(ctx, span, "request_release", input.ProjectID, actor, err) }()

	caller, err := callerFromActor(actor)
	if err != nil {
		return domain.ReleaseRequest{}, err
	}
	projectID, err := requireID(input.ProjectID, "project id")
	if err != nil {
		return domain.ReleaseRequest{}, err
	}
	milestoneID, err := requireID(input.MilestoneID, "milestone id")
	if err != nil {
		return domain.ReleaseRequest{}, err
	}
	scope := newIdempotencyScope(actor, projectID, domain.OperationRequestRelease, []string{milestoneID, input.Amount.String()})

	err = s.store.WithProjectLock(ctx, projectID, func(ctx context.Context, tx ports.EscrowTx) error {
		if _, err := s.authorize(ctx, tx, caller, domain.OperationRequestRelease, projectID); err != nil {
			return err
		}
		now := s.nowFn()
		if cached, ok, err := replayIdempotent[domain.ReleaseRequest](ctx, tx, scope, now); err != nil {
			return err
		} else if ok {
			out = cached
			return nil
		}
		milestone, err := getMilestone(ctx, tx, projectID, milestoneID)
		if err != nil {
			return err
		}
		open, err := openReleases(ctx, tx, milestoneID)
		if err != nil {
			return err
		}
		if len(open) > 0 {
			return fmt.Errorf("%w: milestone %s already has open release %s", domain.ErrDuplicateRequest, milestoneID, open[0].ReleaseID)
		}
		if milestone.Status != domain.MilestoneStatusInProgress {
			return fmt.Errorf("%w: release can only be requested for an in_progress milestone, %s is %s", domain.ErrInvalidStateTransition, milestoneID, milestone.Status)
		}
		release, err := domain.NewReleaseRequest(uuid.NewString(), milestone, input.Amount, caller.SubjectID, now)
		if err != nil {
			return err
		}
		if err := milestone.TransitionTo(domain.MilestoneStatusPendingRelease, now); err != nil {
			return err
		}
		if err := tx.Releases().Create(ctx, release); err != nil {
			return err
		}
		if err := tx.Milestones().Update(ctx, milestone); err != nil {
			return err
		}
		payload := contracts.ReleaseRequestedPayload{
			ProjectID:   projectID,
			MilestoneID: milestoneID,
			ReleaseID:   release.ReleaseID,
			Amount:      release.Amount.String(),
			RequestedBy: caller.SubjectID,
			RequestedAt: now.Format(time.RFC3339),
		}
		if err := s.enqueueEvent(ctx, tx, domain.EventReleaseRequested, actor.RequestID, projectID, payload, now); err != nil {
			return err
		}
		if err := s.rememberIdempotent(ctx, tx, scope, release, now); err != nil {
			return err
		}
		out = release
		return nil
	})
	if err != nil {
		return domain.ReleaseRequest{}, err
	}
	s.invalidateSnapshot(ctx, projectID)
	return out, nil
}

// ApproveRelease pays out an open release request. The ledger move, the
// request resolution and the milestone completion commit together.
func (s *Service) ApproveRelease(ctx context.Context, actor Actor, input ResolveReleaseInput) (out domain.ReleaseOutcome, err error) {
	ctx, span := s.startSpan(ctx, "approve_release", input.ProjectID)
	defer func() { s.finishSpan(ctx, span, "approve_release", input.ProjectID, actor, err) }()

	caller, err := callerFromActor(actor)
	if err != nil {
		return domain.ReleaseOutcome{}, err
	}
	projectID, err := requireID(input.ProjectID, "project id")
	if err != nil {
		return domain.ReleaseOutcome{}, err
	}
	releaseID, err := requireID(input.ReleaseID, "release id")
	if err != nil {
		return domain.ReleaseOutcome{}, err
	}
	scope := newIdempotencyScope(actor, projectID, domain.OperationApproveRelease, releaseID)

	err = s.store.WithProjectLock(ctx, projectID, func(ctx context.Context, tx ports.EscrowTx) error {
		parties, err := s.authorize(ctx, tx, caller, domain.OperationApproveRelease, projectID)
		if err != nil {
			return err
		}
		now := s.nowFn()
		if cached, ok, err := replayIdempotent[domain.ReleaseOutcome](ctx, tx, scope, now); err != nil {
			return err
		} else if ok {
			out = cached
			return nil
		}
		release, milestone, err := s.pendingRelease(ctx, tx, projectID, releaseID)
		if err != nil {
			return err
		}
		account, err := loadAccount(ctx, tx, projectID, now)
		if err != nil {
			return err
		}
		if err := account.Release(release.Amount, now); err != nil {
			return err
		}
		if err := account.CheckInvariant(); err != nil {
			return err
		}
		if err := release.Approve(caller.SubjectID, now); err != nil {
			return err
		}
		if err := milestone.TransitionTo(domain.MilestoneStatusCompleted, now); err != nil {
			return err
		}
		if err := tx.Accounts().Save(ctx, account); err != nil {
			return err
		}
		if err := tx.Releases().Update(ctx, release); err != nil {
			return err
		}
		if err := tx.Milestones().Update(ctx, milestone); err != nil {
			return err
		}
		entry := domain.LedgerEntry{
			EntryID:     uuid.NewString(),
			ProjectID:   projectID,
			EntryType:   domain.LedgerEntryRelease,
			Amount:      release.Amount,
			MilestoneID: milestone.MilestoneID,
			ReleaseID:   release.ReleaseID,
			ActorID:     caller.SubjectID,
			OccurredAt:  now,
		}
		if err := tx.Entries().Append(ctx, entry); err != nil {
			return err
		}
		payload := contracts.ReleaseApprovedPayload{
			ProjectID:      projectID,
			MilestoneID:    milestone.MilestoneID,
			ReleaseID:      release.ReleaseID,
			Amount:         release.Amount.String(),
			ExpertID:       parties.ExpertID,
			ApprovedBy:     caller.SubjectID,
			HeldAmount:     account.HeldAmount.String(),
			ReleasedAmount: account.ReleasedAmount.String(),
			ApprovedAt:     now.Format(time.RFC3339),
		}
		if err := s.enqueueEvent(ctx, tx, domain.EventReleaseApproved, actor.RequestID, projectID, payload, now); err != nil {
			return err
		}
		outcome := domain.ReleaseOutcome{Milestone: milestone, Release: release, Ledger: account}
		if err := s.rememberIdempotent(ctx, tx, scope, outcome, now); err != nil {
			return err
		}
		out = outcome
		return nil
	})
	if err != nil {
		return domain.ReleaseOutcome{}, err
	}
	s.logger.InfoContext(ctx, "release approved",
		"module", "application.escrow",
		"layer", "application",
		"operation", "approve_release",
		"outcome", "success",
		"project_id", projectID,
		"release_id", releaseID,
		"request_id", actor.RequestID,
	)
	s.invalidateSnapshot(ctx, projectID)
	return out, nil
}

// RejectRelease closes an open request without paying and returns the
// milestone to in_progress.
func (s *Service) RejectRelease(ctx context.Context, actor Actor, input ResolveReleaseInput) (domain.Milestone, error) {
	return s.reopenMilestone(ctx, actor, input, domain.OperationRejectRelease, "reject_release")
}

// WithdrawRelease lets the requesting expert take back an open request.
func (s *Service) WithdrawRelease(ctx context.Context, actor Actor, input ResolveReleaseInput) (domain.Milestone, error) {
	input.Reason = ""
	return s.reopenMilestone(ctx, actor, input, domain.OperationWithdrawRelease, "withdraw_release")
}

func (s *Service) reopenMilestone(ctx context.Context, actor Actor, input ResolveReleaseInput, op domain.Operation, operation string) (out domain.Milestone, err error) {
	ctx, span := s.startSpan(ctx, operation, input.ProjectID)
	defer func() { s.finishSpan(ctx, span, operation, input.ProjectID, actor, err) }()

	caller, err := callerFromActor(actor)
	if err != nil {
		return domain.Milestone{}, err
	}
	projectID, err := requireID(input.ProjectID, "project id")
	if err != nil {
		return domain.Milestone{}, err
	}
	releaseID, err := requireID(input.ReleaseID, "release id")
	if err != nil {
		return domain.Milestone{}, err
	}
	scope := newIdempotencyScope(actor, projectID, op, []string{releaseID, input.Reason})

	err = s.store.WithProjectLock(ctx, projectID, func(ctx context.Context, tx ports.EscrowTx) error {
		if _, err := s.authorize(ctx, tx, caller, op, projectID); err != nil {
			return err
		}
		now := s.nowFn()
		if cached, ok, err := replayIdempotent[domain.Milestone](ctx, tx, scope, now); err != nil {
			return err
		} else if ok {
			out = cached
			return nil
		}
		release, milestone, err := s.pendingRelease(ctx, tx, projectID, releaseID)
		if err != nil {
			return err
		}
		eventType := domain.EventReleaseRejected
		if op == domain.OperationWithdrawRelease {
			if err := s.guard.AuthorizeRequester(caller, release); err != nil {
				return err
			}
			err = release.Withdraw(caller.SubjectID, now)
			eventType = domain.EventReleaseWithdrawn
		} else {
			err = release.Reject(caller.SubjectID, input.Reason, now)
		}
		if err != nil {
			return err
		}
		if err := milestone.TransitionTo(domain.MilestoneStatusInProgress, now); err != nil {
			return err
		}
		if err := tx.Releases().Update(ctx, release); err != nil {
			return err
		}
		if err := tx.Milestones().Update(ctx, milestone); err != nil {
			return err
		}
		payload := contracts.ReleaseResolvedPayload{
			ProjectID:   projectID,
			MilestoneID: milestone.MilestoneID,
			ReleaseID:   release.ReleaseID,
			ResolvedBy:  caller.SubjectID,
			Reason:      release.Reason,
			ResolvedAt:  now.Format(time.RFC3339),
		}
		if err := s.enqueueEvent(ctx, tx, eventType, actor.RequestID, projectID, payload, now); err != nil {
			return err
		}
		if err := s.rememberIdempotent(ctx, tx, scope, milestone, now); err != nil {
			return err
		}
		out = milestone
		return nil
	})
	if err != nil {
		return domain.Milestone{}, err
	}
	s.invalidateSnapshot(ctx, projectID)
	return out, nil
}

// ListReleaseRequests returns every request raised against a milestone, oldest first.
func (s *Service) ListReleaseRequests(ctx context.Context, actor Actor, projectID, milestoneID string) (out []domain.ReleaseRequest, err error) {
	ctx, span := s.startSpan(ctx, "list_release_requests", projectID)
	defer func() { s.finishSpan(ctx, span, "list_release_requests", projectID, actor, err) }()

	caller, err := callerFromActor(actor)
	if err != nil {
		return nil, err
	}
	if projectID, err = requireID(projectID, "project id"); err != nil {
		return nil, err
	}
	if milestoneID, err = requireID(milestoneID, "milestone id"); err != nil {
		return nil, err
	}
	err = s.store.ReadProject(ctx, projectID, func(ctx context.Context, tx ports.EscrowTx) error {
		if _, err := s.authorize(ctx, tx, caller, domain.OperationViewEscrow, projectID); err != nil {
			return err
		}
		if _, err := getMilestone(ctx, tx, projectID, milestoneID); err != nil {
			return err
		}
		releases, err := tx.Releases().ListByMilestone(ctx, milestoneID)
		if err != nil {
			return err
		}
		out = releases
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.ReleaseRequest{}
	}
	return out, nil
}

// pendingRelease loads an open request together with its milestone and checks
// the milestone is pending_release with exactly that one open request.
func (s *Service) pendingRelease(ctx context.Context, tx ports.EscrowTx, projectID, releaseID string) (domain.ReleaseRequest, domain.Milestone, error) {
	release, err := tx.Releases().Get(ctx, releaseID)
	if err != nil {
		return domain.ReleaseRequest{}, domain.Milestone{}, err
	}
	if release.ProjectID != projectID {
		return domain.ReleaseRequest{}, domain.Milestone{}, fmt.Errorf("%w: release %s", domain.ErrNotFound, releaseID)
	}
	if !release.IsOpen() {
		return domain.ReleaseRequest{}, domain.Milestone{}, fmt.Errorf("%w: release %s is already %s", domain.ErrInvalidStateTransition, releaseID, release.Status)
	}
	milestone, err := getMilestone(ctx, tx, projectID, release.MilestoneID)
	if err != nil {
		return domain.ReleaseRequest{}, domain.Milestone{}, err
	}
	if milestone.Status != domain.MilestoneStatusPendingRelease {
		return domain.ReleaseRequest{}, domain.Milestone{}, fmt.Errorf("%w: milestone %s is %s, not pending_release", domain.ErrInvalidStateTransition, milestone.MilestoneID, milestone.Status)
	}
	open, err := openReleases(ctx, tx, milestone.MilestoneID)
	if err != nil {
		return domain.ReleaseRequest{}, domain.Milestone{}, err
	}
	if len(open) != 1 || open[0].ReleaseID != release.ReleaseID {
		return domain.ReleaseRequest{}, domain.Milestone{}, fmt.Errorf("%w: milestone %s has %d open release requests", domain.ErrInvariantViolation, milestone.MilestoneID, len(open))
	}
	return release, milestone, nil
}

func getMilestone(ctx context.Context, tx ports.EscrowTx, projectID, milestoneID string) (domain.Milestone, error) {
	milestone, err := tx.Milestones().Get(ctx, milestoneID)
	if err != nil {
		return domain.Milestone{}, err
	}
	if milestone.ProjectID != projectID {
		return domain.Milestone{}, fmt.Errorf("%w: milestone %s", domain.ErrNotFound, milestoneID)
	}
	return milestone, nil
}

func openReleases(ctx context.Context, tx ports.EscrowTx, milestoneID string) ([]domain.ReleaseRequest, error) {
	all, err := tx.Releases().ListByMilestone(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	open := make([]domain.ReleaseRequest, 0, 1)
	for _, r := range all {
		if r.IsOpen() {
			open = append(open, r)
		}
	}
	return open, nil
}
