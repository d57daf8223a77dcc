package postgres

import (
	"encoding/json"

	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/domain"
)

func toDomainParties(rec projectModel) domain.ProjectParties {
	return domain.ProjectParties{ProjectID: rec.ProjectID, ClientID: rec.ClientID, ExpertID: rec.ExpertID}
}

func toDomainAccount(rec accountModel) domain.LedgerAccount {
	return domain.LedgerAccount{
		ProjectID:      rec.ProjectID,
		TotalFunded:    rec.TotalFunded,
		HeldAmount:     rec.HeldAmount,
		ReleasedAmount: rec.ReleasedAmount,
		Version:        rec.Version,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
}

func fromDomainAccount(a domain.LedgerAccount) accountModel {
	return accountModel{
		ProjectID:      a.ProjectID,
		TotalFunded:    a.TotalFunded,
		HeldAmount:     a.HeldAmount,
		ReleasedAmount: a.ReleasedAmount,
		Version:        a.Version,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func toDomainMilestone(rec milestoneModel) (domain.Milestone, error) {
	var details domain.MilestoneDetails
	if rec.Details != "" {
		if err := json.Unmarshal([]byte(rec.Details), &details); err != nil {
			return domain.Milestone{}, err
		}
	}
	return domain.Milestone{
		MilestoneID: rec.MilestoneID,
		ProjectID:   rec.ProjectID,
		Title:       rec.Title,
		Description: rec.Description,
		Amount:      rec.Amount,
		DueDate:     rec.DueDate,
		Status:      domain.MilestoneStatus(rec.Status),
		Details:     details,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
		CompletedAt: rec.CompletedAt,
	}, nil
}

func fromDomainMilestone(m domain.Milestone) (milestoneModel, error) {
	details, err := json.Marshal(m.Details)
	if err != nil {
		return milestoneModel{}, err
	}
	return milestoneModel{
		MilestoneID: m.MilestoneID,
		ProjectID:   m.ProjectID,
		Title:       m.Title,
		Description: m.Description,
		Amount:      m.Amount,
		DueDate:     m.DueDate,
		Status:      string(m.Status),
		Details:     string(details),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		CompletedAt: m.CompletedAt,
	}, nil
}

func toDomainRelease(rec releaseModel) domain.ReleaseRequest {
	return domain.ReleaseRequest{
		ReleaseID:   rec.ReleaseID,
		ProjectID:   rec.ProjectID,
		MilestoneID: rec.MilestoneID,
		Amount:      rec.Amount,
		RequestedBy: rec.RequestedBy,
		Status:      domain.ReleaseStatus(rec.Status),
		ApprovedBy:  deref(rec.ApprovedBy),
		RejectedBy:  deref(rec.RejectedBy),
		WithdrawnBy: deref(rec.WithdrawnBy),
		Reason:      deref(rec.Reason),
		CreatedAt:   rec.CreatedAt,
		ResolvedAt:  rec.ResolvedAt,
	}
}

func fromDomainRelease(r domain.ReleaseRequest) releaseModel {
	return releaseModel{
		ReleaseID:   r.ReleaseID,
		ProjectID:   r.ProjectID,
		MilestoneID: r.MilestoneID,
		Amount:      r.Amount,
		Status:      string(r.Status),
		RequestedBy: r.RequestedBy,
		ApprovedBy:  nullable(r.ApprovedBy),
		RejectedBy:  nullable(r.RejectedBy),
		WithdrawnBy: nullable(r.WithdrawnBy),
		Reason:      nullable(r.Reason),
		CreatedAt:   r.CreatedAt,
		ResolvedAt:  r.ResolvedAt,
	}
}

func toDomainEntry(rec ledgerEntryModel) domain.LedgerEntry {
	return domain.LedgerEntry{
		EntryID:     rec.EntryID,
		ProjectID:   rec.ProjectID,
		EntryType:   rec.EntryType,
		Amount:      rec.Amount,
		MilestoneID: deref(rec.MilestoneID),
		ReleaseID:   deref(rec.ReleaseID),
		ActorID:     rec.ActorID,
		OccurredAt:  rec.OccurredAt,
	}
}

func fromDomainEntry(e domain.LedgerEntry) ledgerEntryModel {
	return ledgerEntryModel{
		EntryID:     e.EntryID,
		ProjectID:   e.ProjectID,
		EntryType:   e.EntryType,
		Amount:      e.Amount,
		MilestoneID: nullable(e.MilestoneID),
		ReleaseID:   nullable(e.ReleaseID),
		ActorID:     e.ActorID,
		OccurredAt:  e.OccurredAt,
	}
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
