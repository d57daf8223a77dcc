package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/contracts"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/ports"
)

// HandleCanonicalEvent applies a collaborator event. Redelivered events are
// dropped by event id.
func (s *Service) HandleCanonicalEvent(ctx context.Context, envelope contracts.EventEnvelope) error {
	if err := validateEnvelope(envelope); err != nil {
		return err
	}
	if !domain.IsCanonicalInputEvent(envelope.EventType) {
		return fmt.Errorf("%w: %s", domain.ErrUnsupportedEventType, envelope.EventType)
	}
	now := s.nowFn()
	dedup := s.store.EventDedup()
	if dup, err := dedup.IsDuplicate(ctx, envelope.EventID, now); err != nil {
		return err
	} else if dup {
		return nil
	}

	var err error
	switch envelope.EventType {
	case domain.EventProjectCreated, domain.EventProjectPartiesUpdated:
		var payload contracts.ProjectPartiesPayload
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidEnvelope, err)
		}
		err = s.RegisterProject(ctx, domain.ProjectParties{
			ProjectID: strings.TrimSpace(payload.ProjectID),
			ClientID:  strings.TrimSpace(payload.ClientID),
			ExpertID:  strings.TrimSpace(payload.ExpertID),
		})
	case domain.EventProjectMilestoneDefined:
		var payload contracts.MilestoneDefinedPayload
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidEnvelope, err)
		}
		var input DefineMilestoneInput
		if input, err = milestoneInputFromPayload(payload); err == nil {
			err = s.defineOrPark(ctx, input)
		}
	}
	if err != nil {
		return err
	}
	return dedup.MarkProcessed(ctx, envelope.EventID, envelope.EventType, now.Add(s.cfg.EventDedupTTL))
}

// RegisterProject records or replaces the client/expert assignment of a project
// and creates the milestones that were defined before the project was known.
func (s *Service) RegisterProject(ctx context.Context, parties domain.ProjectParties) error {
	if err := parties.Validate(); err != nil {
		return err
	}
	if err := s.store.UpsertProject(ctx, parties); err != nil {
		return err
	}
	s.invalidateSnapshot(ctx, parties.ProjectID)
	return s.releaseParkedMilestones(ctx, parties.ProjectID)
}

// DefineMilestone creates a milestone supplied by the project service.
func (s *Service) DefineMilestone(ctx context.Context, input DefineMilestoneInput) (out domain.Milestone, err error) {
	ctx, span := s.startSpan(ctx, "define_milestone", input.ProjectID)
	defer func() { s.finishSpan(ctx, span, "define_milestone", input.ProjectID, Actor{}, err) }()

	milestone, err := s.buildMilestone(input)
	if err != nil {
		return domain.Milestone{}, err
	}
	if err = s.createMilestone(ctx, milestone); err != nil {
		return domain.Milestone{}, err
	}
	return milestone, nil
}

// defineOrPark creates the milestone, or parks it when its project has not
// been registered yet.
func (s *Service) defineOrPark(ctx context.Context, input DefineMilestoneInput) error {
	milestone, err := s.buildMilestone(input)
	if err != nil {
		return err
	}
	err = s.createMilestone(ctx, milestone)
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if err := s.store.PendingMilestones().Park(ctx, milestone); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "milestone parked until project is registered",
		"module", "application.escrow",
		"layer", "application",
		"operation", "define_milestone",
		"outcome", "parked",
		"project_id", milestone.ProjectID,
		"milestone_id", milestone.MilestoneID,
	)
	// The project may have been registered between the failed create and the park.
	return s.releaseParkedMilestones(ctx, milestone.ProjectID)
}

func (s *Service) releaseParkedMilestones(ctx context.Context, projectID string) error {
	pending := s.store.PendingMilestones()
	parked, err := pending.ListByProject(ctx, projectID)
	if err != nil {
		return err
	}
	for _, milestone := range parked {
		err := s.createMilestone(ctx, milestone)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return nil
		case errors.Is(err, domain.ErrConflict):
			s.logger.WarnContext(ctx, "parked milestone dropped",
				"module", "application.escrow",
				"layer", "application",
				"operation", "release_parked_milestone",
				"outcome", "conflict",
				"project_id", projectID,
				"milestone_id", milestone.MilestoneID,
				"error", err,
			)
		case err != nil:
			return err
		}
		if err := pending.Delete(ctx, milestone.MilestoneID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) buildMilestone(input DefineMilestoneInput) (domain.Milestone, error) {
	return domain.NewMilestone(
		strings.TrimSpace(input.MilestoneID),
		strings.TrimSpace(input.ProjectID),
		strings.TrimSpace(input.Title),
		input.Description,
		input.Amount,
		input.DueDate,
		input.Status,
		input.Details,
		s.nowFn(),
	)
}

func (s *Service) createMilestone(ctx context.Context, milestone domain.Milestone) error {
	err := s.store.WithProjectLock(ctx, milestone.ProjectID, func(ctx context.Context, tx ports.EscrowTx) error {
		if _, err := tx.Milestones().Get(ctx, milestone.MilestoneID); err == nil {
			return fmt.Errorf("%w: milestone %s already defined", domain.ErrConflict, milestone.MilestoneID)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return tx.Milestones().Create(ctx, milestone)
	})
	if err != nil {
		return err
	}
	s.invalidateSnapshot(ctx, milestone.ProjectID)
	return nil
}

func milestoneInputFromPayload(payload contracts.MilestoneDefinedPayload) (DefineMilestoneInput, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(payload.Amount))
	if err != nil {
		return DefineMilestoneInput{}, fmt.Errorf("%w: milestone amount %q", domain.ErrInvalidAmount, payload.Amount)
	}
	var due *time.Time
	if raw := strings.TrimSpace(payload.DueDate); raw != "" {
		parsed, err := parseDueDate(raw)
		if err != nil {
			return DefineMilestoneInput{}, err
		}
		due = &parsed
	}
	return DefineMilestoneInput{
		MilestoneID: payload.MilestoneID,
		ProjectID:   payload.ProjectID,
		Title:       payload.Title,
		Description: payload.Description,
		Amount:      amount,
		DueDate:     due,
		Status:      domain.MilestoneStatus(strings.TrimSpace(payload.Status)),
		Details: domain.MilestoneDetails{
			Deliverables:       payload.Deliverables,
			AcceptanceCriteria: payload.AcceptanceCriteria,
			Notes:              payload.Notes,
		},
	}, nil
}

func parseDueDate(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: due date %q", domain.ErrInvalidInput, raw)
}

func (s *Service) enqueueEvent(ctx context.Context, tx ports.EscrowTx, eventType, traceID, projectID string, data any, now time.Time) error {
	if !domain.IsCanonicalEmittedEvent(eventType) {
		return domain.ErrUnsupportedEventType
	}
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if strings.TrimSpace(traceID) == "" {
		traceID = uuid.NewString()
	}
	eventID := uuid.New()
	envelope := contracts.EventEnvelope{
		EventID:          eventID.String(),
		EventType:        eventType,
		EventClass:       domain.CanonicalEventClass(eventType),
		OccurredAt:       now,
		PartitionKeyPath: domain.CanonicalPartitionKeyPath(eventType),
		PartitionKey:     projectID,
		SourceService:    s.cfg.ServiceName,
		TraceID:          traceID,
		SchemaVersion:    "v1",
		Data:             body,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return tx.Outbox().Enqueue(ctx, ports.OutboxEvent{
		EventID:          eventID,
		EventType:        eventType,
		PartitionKey:     projectID,
		PartitionKeyPath: envelope.PartitionKeyPath,
		Payload:          payload,
		OccurredAt:       now,
		SchemaVersion:    envelope.SchemaVersion,
		TraceID:          traceID,
	})
}

func validateEnvelope(event contracts.EventEnvelope) error {
	if strings.TrimSpace(event.EventID) == "" || strings.TrimSpace(event.EventType) == "" || event.OccurredAt.IsZero() {
		return domain.ErrInvalidEnvelope
	}
	if strings.TrimSpace(event.SourceService) == "" || strings.TrimSpace(event.SchemaVersion) == "" {
		return domain.ErrInvalidEnvelope
	}
	if len(event.Data) == 0 {
		return domain.ErrInvalidEnvelope
	}
	return nil
}
