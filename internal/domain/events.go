package domain

const (
	CanonicalEventClassDomain        = "domain"
	CanonicalEventClassAnalyticsOnly = "analytics_only"
)

const (
	EventEscrowFunded            = "escrow.funded"
	EventMilestoneStarted        = "escrow.milestone_started"
	EventReleaseRequested        = "escrow.release_requested"
	EventReleaseApproved         = "escrow.release_approved"
	EventReleaseRejected         = "escrow.release_rejected"
	EventReleaseWithdrawn        = "escrow.release_withdrawn"
	EventProjectCreated          = "project.created"
	EventProjectPartiesUpdated   = "project.parties_updated"
	EventProjectMilestoneDefined = "project.milestone_defined"
)

func IsCanonicalInputEvent(eventType string) bool {
	switch eventType {
	case EventProjectCreated, EventProjectPartiesUpdated, EventProjectMilestoneDefined:
		return true
	default:
		return false
	}
}

func IsCanonicalEmittedEvent(eventType string) bool {
	switch eventType {
	case EventEscrowFunded, EventMilestoneStarted, EventReleaseRequested,
		EventReleaseApproved, EventReleaseRejected, EventReleaseWithdrawn:
		return true
	default:
		return false
	}
}

func CanonicalEventClass(eventType string) string {
	switch eventType {
	case EventEscrowFunded, EventReleaseApproved:
		return CanonicalEventClassDomain
	case EventMilestoneStarted, EventReleaseRequested, EventReleaseRejected, EventReleaseWithdrawn:
		return CanonicalEventClassAnalyticsOnly
	default:
		return ""
	}
}

func CanonicalPartitionKeyPath(eventType string) string {
	if IsCanonicalEmittedEvent(eventType) || IsCanonicalInputEvent(eventType) {
		return "data.project_id"
	}
	return ""
}
