package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/domain"
)

func TestProjectKeysShareHashTag(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "escrow:{proj_1}:snapshot", snapshotKey("proj_1"))
	assert.Equal(t, "escrow:{proj_1}:generation", generationKey("proj_1"))
}

func TestDecodeSnapshotKeepsDerivedReleaseID(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	account := domain.NewLedgerAccount("proj_1", now)
	require.NoError(t, account.Fund(decimal.RequireFromString("1000"), now))
	milestone, err := domain.NewMilestone("ms_1", "proj_1", "Design", "", decimal.RequireFromString("300"), nil, domain.MilestoneStatusInProgress, domain.MilestoneDetails{}, now)
	require.NoError(t, err)
	require.NoError(t, milestone.TransitionTo(domain.MilestoneStatusPendingRelease, now))
	snapshot := domain.BuildSnapshot(account, []domain.Milestone{milestone}, []domain.ReleaseRequest{{ReleaseID: "rel_1", MilestoneID: "ms_1", Status: domain.ReleaseStatusOpen}})

	raw, err := json.Marshal(snapshot)
	require.NoError(t, err)
	decoded, err := decodeSnapshot(raw)
	require.NoError(t, err)
	assert.Equal(t, "1000", decoded.Ledger.HeldAmount.String())
	require.Len(t, decoded.Milestones, 1)
	assert.Equal(t, "rel_1", decoded.Milestones[0].ReleaseID)
	assert.Equal(t, domain.MilestoneStatusPendingRelease, decoded.Milestones[0].Status)
}

func TestDecodeSnapshotRejectsGarbage(t *testing.T) {
	t.Parallel()
	_, err := decodeSnapshot([]byte("not-json"))
	require.Error(t, err)
}

func TestCacheSurfacesConnectionErrors(t *testing.T) {
	t.Parallel()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	t.Cleanup(func() { _ = client.Close() })
	c := NewRedisSnapshotCache(client, time.Second)

	ctx := context.Background()
	_, err := c.Get(ctx, "proj_1")
	require.Error(t, err)
	_, err = c.Generation(ctx, "proj_1")
	require.Error(t, err)
	require.Error(t, c.Set(ctx, "proj_1", 0, domain.EscrowSnapshot{}))
	require.Error(t, c.Invalidate(ctx, "proj_1"))
}
