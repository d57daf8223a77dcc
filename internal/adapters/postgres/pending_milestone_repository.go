package postgres

import (
	"context"

	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type pendingMilestoneRepository struct {
	db *gorm.DB
}

func (r *pendingMilestoneRepository) Park(ctx context.Context, milestone domain.Milestone) error {
	rec, err := fromDomainMilestone(milestone)
	if err != nil {
		return err
	}
	parked := pendingMilestoneModel(rec)
	return r.db.WithContext(ctx).Clauses(parkUpsert()).Create(&parked).Error
}

func (r *pendingMilestoneRepository) ListByProject(ctx context.Context, projectID string) ([]domain.Milestone, error) {
	var rows []pendingMilestoneModel
	if err := r.db.WithContext(ctx).Where("project_id = ?", projectID).Order("created_at asc, milestone_id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Milestone, 0, len(rows))
	for _, row := range rows {
		m, err := toDomainMilestone(milestoneModel(row))
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *pendingMilestoneRepository) Delete(ctx context.Context, milestoneID string) error {
	return r.db.WithContext(ctx).Where("milestone_id = ?", milestoneID).Delete(&pendingMilestoneModel{}).Error
}

// A later definition of the same milestone replaces the parked one; created_at
// keeps its arrival position.
var parkedMilestoneUpdates = []string{"project_id", "title", "description", "amount", "due_date", "status", "details", "updated_at"}

func parkUpsert() clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "milestone_id"}},
		DoUpdates: clause.AssignmentColumns(parkedMilestoneUpdates),
	}
}

var _ ports.PendingMilestoneRepository = (*pendingMilestoneRepository)(nil)
