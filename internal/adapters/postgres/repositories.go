package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// escrowTx binds the repositories to one open transaction and one project.
type escrowTx struct {
	db      *gorm.DB
	project projectModel
}

func newTx(db *gorm.DB, project projectModel) *escrowTx {
	return &escrowTx{db: db, project: project}
}

func (t *escrowTx) Projects() ports.ProjectRepository { return &projectRepository{tx: t} }

func (t *escrowTx) Accounts() ports.LedgerAccountRepository { return &accountRepository{tx: t} }

func (t *escrowTx) Milestones() ports.MilestoneRepository { return &milestoneRepository{tx: t} }

func (t *escrowTx) Releases() ports.ReleaseRequestRepository { return &releaseRepository{tx: t} }

func (t *escrowTx) Entries() ports.LedgerEntryRepository { return &ledgerEntryRepository{tx: t} }

func (t *escrowTx) Idempotency() ports.IdempotencyRepository { return &idempotencyRepository{tx: t} }

func (t *escrowTx) Outbox() ports.OutboxRepository { return &outboxRepository{db: t.db} }

func (t *escrowTx) scoped(ctx context.Context) *gorm.DB {
	return t.db.WithContext(ctx).Where("project_id = ?", t.project.ProjectID)
}

type projectRepository struct {
	tx *escrowTx
}

func (r *projectRepository) Get(_ context.Context, projectID string) (domain.ProjectParties, error) {
	if projectID != r.tx.project.ProjectID {
		return domain.ProjectParties{}, fmt.Errorf("%w: project %s", domain.ErrNotFound, projectID)
	}
	return toDomainParties(r.tx.project), nil
}

type accountRepository struct {
	tx *escrowTx
}

func (r *accountRepository) Get(ctx context.Context, projectID string) (domain.LedgerAccount, error) {
	var rec accountModel
	if err := r.tx.scoped(ctx).Where("project_id = ?", projectID).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.LedgerAccount{}, fmt.Errorf("%w: escrow for project %s", domain.ErrNotFound, projectID)
		}
		return domain.LedgerAccount{}, err
	}
	return toDomainAccount(rec), nil
}

func (r *accountRepository) Save(ctx context.Context, account domain.LedgerAccount) error {
	if account.ProjectID != r.tx.project.ProjectID {
		return fmt.Errorf("%w: account of project %s saved in project %s", domain.ErrInvalidInput, account.ProjectID, r.tx.project.ProjectID)
	}
	rec := fromDomainAccount(account)
	return r.tx.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"total_funded", "held_amount", "released_amount", "version", "updated_at"}),
	}).Create(&rec).Error
}

type milestoneRepository struct {
	tx *escrowTx
}

func (r *milestoneRepository) Get(ctx context.Context, milestoneID string) (domain.Milestone, error) {
	var rec milestoneModel
	if err := r.tx.scoped(ctx).Where("milestone_id = ?", milestoneID).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Milestone{}, fmt.Errorf("%w: milestone %s", domain.ErrNotFound, milestoneID)
		}
		return domain.Milestone{}, err
	}
	return toDomainMilestone(rec)
}

func (r *milestoneRepository) ListByProject(ctx context.Context, projectID string) ([]domain.Milestone, error) {
	var rows []milestoneModel
	if err := r.tx.scoped(ctx).Where("project_id = ?", projectID).Order("created_at asc, milestone_id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Milestone, 0, len(rows))
	for _, row := range rows {
		m, err := toDomainMilestone(row)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *milestoneRepository) Create(ctx context.Context, milestone domain.Milestone) error {
	rec, err := fromDomainMilestone(milestone)
	if err != nil {
		return err
	}
	if err := r.tx.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: milestone %s", domain.ErrConflict, milestone.MilestoneID)
		}
		return err
	}
	return nil
}

func (r *milestoneRepository) Update(ctx context.Context, milestone domain.Milestone) error {
	rec, err := fromDomainMilestone(milestone)
	if err != nil {
		return err
	}
	res := r.tx.scoped(ctx).Model(&milestoneModel{}).Where("milestone_id = ?", milestone.MilestoneID).Updates(map[string]any{
		"status":       rec.Status,
		"updated_at":   rec.UpdatedAt,
		"completed_at": rec.CompletedAt,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: milestone %s", domain.ErrNotFound, milestone.MilestoneID)
	}
	return nil
}

type releaseRepository struct {
	tx *escrowTx
}

func (r *releaseRepository) Get(ctx context.Context, releaseID string) (domain.ReleaseRequest, error) {
	var rec releaseModel
	if err := r.tx.scoped(ctx).Where("release_id = ?", releaseID).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ReleaseRequest{}, fmt.Errorf("%w: release %s", domain.ErrNotFound, releaseID)
		}
		return domain.ReleaseRequest{}, err
	}
	return toDomainRelease(rec), nil
}

func (r *releaseRepository) ListByMilestone(ctx context.Context, milestoneID string) ([]domain.ReleaseRequest, error) {
	return r.list(ctx, r.tx.scoped(ctx).Where("milestone_id = ?", milestoneID))
}

func (r *releaseRepository) ListOpenByProject(ctx context.Context, projectID string) ([]domain.ReleaseRequest, error) {
	return r.list(ctx, r.tx.scoped(ctx).Where("project_id = ? AND status = ?", projectID, string(domain.ReleaseStatusOpen)))
}

func (r *releaseRepository) list(_ context.Context, query *gorm.DB) ([]domain.ReleaseRequest, error) {
	var rows []releaseModel
	if err := query.Order("created_at asc, release_id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.ReleaseRequest, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainRelease(row))
	}
	return out, nil
}

func (r *releaseRepository) Create(ctx context.Context, release domain.ReleaseRequest) error {
	rec := fromDomainRelease(release)
	if err := r.tx.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: milestone %s", domain.ErrDuplicateRequest, release.MilestoneID)
		}
		return err
	}
	return nil
}

func (r *releaseRepository) Update(ctx context.Context, release domain.ReleaseRequest) error {
	rec := fromDomainRelease(release)
	res := r.tx.scoped(ctx).Model(&releaseModel{}).Where("release_id = ?", release.ReleaseID).Updates(map[string]any{
		"status":       rec.Status,
		"approved_by":  rec.ApprovedBy,
		"rejected_by":  rec.RejectedBy,
		"withdrawn_by": rec.WithdrawnBy,
		"reason":       rec.Reason,
		"resolved_at":  rec.ResolvedAt,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: release %s", domain.ErrNotFound, release.ReleaseID)
	}
	return nil
}

type ledgerEntryRepository struct {
	tx *escrowTx
}

func (r *ledgerEntryRepository) Append(ctx context.Context, entry domain.LedgerEntry) error {
	rec := fromDomainEntry(entry)
	return r.tx.db.WithContext(ctx).Create(&rec).Error
}

func (r *ledgerEntryRepository) ListByProject(ctx context.Context, projectID string) ([]domain.LedgerEntry, error) {
	var rows []ledgerEntryModel
	if err := r.tx.scoped(ctx).Where("project_id = ?", projectID).Order("seq asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainEntry(row))
	}
	return out, nil
}

type idempotencyRepository struct {
	tx *escrowTx
}

func (r *idempotencyRepository) Get(ctx context.Context, projectID, key string, now time.Time) (*ports.IdempotencyRecord, error) {
	var rec idempotencyModel
	err := r.tx.scoped(ctx).Where("project_id = ? AND idempotency_key = ? AND expires_at > ?", projectID, key, now).Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ports.IdempotencyRecord{
		ProjectID:    rec.ProjectID,
		Key:          rec.IdempotencyKey,
		Operation:    rec.Operation,
		RequestHash:  rec.RequestHash,
		ResponseBody: []byte(rec.ResponseBody),
		ExpiresAt:    rec.ExpiresAt,
	}, nil
}

// Put replaces an expired record with the same key.
func (r *idempotencyRepository) Put(ctx context.Context, record ports.IdempotencyRecord) error {
	rec := idempotencyModel{
		ProjectID:      record.ProjectID,
		IdempotencyKey: record.Key,
		Operation:      record.Operation,
		RequestHash:    record.RequestHash,
		ResponseBody:   string(record.ResponseBody),
		ExpiresAt:      record.ExpiresAt,
		CreatedAt:      time.Now().UTC(),
	}
	return r.tx.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}, {Name: "idempotency_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"operation", "request_hash", "response_body", "expires_at", "created_at"}),
	}).Create(&rec).Error
}
