package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/domain"
)

func TestMilestoneDetailsSurviveMapping(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m, err := domain.NewMilestone("ms_1", "proj_1", "Design", "wireframes", decimal.RequireFromString("300.50"), &now, domain.MilestoneStatusInProgress,
		domain.MilestoneDetails{Deliverables: []string{"figma", "wireframes"}, AcceptanceCriteria: "signed off", Notes: "n/a"}, now)
	require.NoError(t, err)

	rec, err := fromDomainMilestone(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"deliverables":["figma","wireframes"],"acceptance_criteria":"signed off","notes":"n/a"}`, rec.Details)

	back, err := toDomainMilestone(rec)
	require.NoError(t, err)
	assert.Equal(t, m.Details, back.Details)
	assert.True(t, m.Amount.Equal(back.Amount))
	assert.Equal(t, domain.MilestoneStatusInProgress, back.Status)
}

func TestReleaseOptionalColumnsAreNull(t *testing.T) {
	t.Parallel()
	rec := fromDomainRelease(domain.ReleaseRequest{ReleaseID: "rel_1", Status: domain.ReleaseStatusOpen, RequestedBy: "expert_1"})
	assert.Nil(t, rec.ApprovedBy)
	assert.Nil(t, rec.RejectedBy)
	assert.Nil(t, rec.WithdrawnBy)
	assert.Nil(t, rec.Reason)

	reason := "incomplete"
	back := toDomainRelease(releaseModel{ReleaseID: "rel_1", Status: "rejected", Reason: &reason})
	assert.Equal(t, domain.ReleaseStatusRejected, back.Status)
	assert.Equal(t, "incomplete", back.Reason)
	assert.Empty(t, back.ApprovedBy)
}

func TestMigrationsAreEmbedded(t *testing.T) {
	t.Parallel()
	names, err := migrationNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_init.sql", "0002_pending_milestones.sql", "0003_outbox_next_attempt.sql"}, names)

	raw, err := migrationFS.ReadFile("migrations/" + names[0])
	require.NoError(t, err)
	sql := string(raw)
	assert.True(t, strings.Contains(sql, "WHERE status = 'open'"), "one open release per milestone must be enforced")
	assert.True(t, strings.Contains(sql, "held_amount + released_amount = total_funded"))
}

func TestParkedMilestoneSharesMilestoneMapping(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m, err := domain.NewMilestone("ms_1", "proj_late", "Design", "", decimal.RequireFromString("120"), nil, domain.MilestoneStatusPending,
		domain.MilestoneDetails{Notes: "arrived early"}, now)
	require.NoError(t, err)

	rec, err := fromDomainMilestone(m)
	require.NoError(t, err)
	parked := pendingMilestoneModel(rec)
	assert.Equal(t, "escrow_pending_milestones", parked.TableName())

	back, err := toDomainMilestone(milestoneModel(parked))
	require.NoError(t, err)
	assert.Equal(t, "proj_late", back.ProjectID)
	assert.Equal(t, "arrived early", back.Details.Notes)
	assert.True(t, m.Amount.Equal(back.Amount))
}
