package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSnapshotDerivesReleaseID(t *testing.T) {
	t.Parallel()

	waiting := inProgressMilestone(t, "300")
	require.NoError(t, waiting.TransitionTo(MilestoneStatusPendingRelease, testNow))
	working := inProgressMilestone(t, "100")
	working.MilestoneID = "ms_2"

	open := []ReleaseRequest{
		{ReleaseID: "rel_1", MilestoneID: "ms_1", Status: ReleaseStatusOpen},
		{ReleaseID: "rel_old", MilestoneID: "ms_2", Status: ReleaseStatusRejected},
	}
	snap := BuildSnapshot(NewLedgerAccount("proj_1", testNow), []Milestone{waiting, working}, open)

	require.Len(t, snap.Milestones, 2)
	assert.Equal(t, "rel_1", snap.Milestones[0].ReleaseID)
	assert.Empty(t, snap.Milestones[1].ReleaseID)
}
