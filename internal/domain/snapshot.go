package domain

// MilestoneView is a milestone as shown in an escrow snapshot. ReleaseID is set
// while the milestone is pending_release and names its single open request.
type MilestoneView struct {
	Milestone
	ReleaseID string `json:"release_id,omitempty"`
}

type EscrowSnapshot struct {
	Ledger     LedgerAccount   `json:"ledger"`
	Milestones []MilestoneView `json:"milestones"`
}

// ReleaseOutcome is returned by an approval: the completed milestone and the ledger after the move.
type ReleaseOutcome struct {
	Milestone Milestone      `json:"milestone"`
	Release   ReleaseRequest `json:"release"`
	Ledger    LedgerAccount  `json:"ledger"`
}

func BuildSnapshot(account LedgerAccount, milestones []Milestone, open []ReleaseRequest) EscrowSnapshot {
	openByMilestone := make(map[string]string, len(open))
	for _, r := range open {
		if r.IsOpen() {
			openByMilestone[r.MilestoneID] = r.ReleaseID
		}
	}
	views := make([]MilestoneView, 0, len(milestones))
	for _, m := range milestones {
		view := MilestoneView{Milestone: m}
		if m.Status == MilestoneStatusPendingRelease {
			view.ReleaseID = openByMilestone[m.MilestoneID]
		}
		views = append(views, view)
	}
	return EscrowSnapshot{Ledger: account, Milestones: views}
}
