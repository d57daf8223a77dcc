package domain

import (
	"fmt"
	"strings"
)

type Role string

const (
	RoleClient Role = "client"
	RoleExpert Role = "expert"
)

func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleClient:
		return RoleClient, true
	case RoleExpert:
		return RoleExpert, true
	default:
		return "", false
	}
}

// Caller is the verified identity behind a request.
type Caller struct {
	SubjectID string
	Role      Role
}

type Operation string

const (
	OperationFundEscrow      Operation = "fund_escrow"
	OperationViewEscrow      Operation = "view_escrow"
	OperationStartMilestone  Operation = "start_milestone"
	OperationRequestRelease  Operation = "request_release"
	OperationApproveRelease  Operation = "approve_release"
	OperationRejectRelease   Operation = "reject_release"
	OperationWithdrawRelease Operation = "withdraw_release"
)

var capabilities = map[Operation][]Role{
	OperationFundEscrow:      {RoleClient},
	OperationViewEscrow:      {RoleClient, RoleExpert},
	OperationStartMilestone:  {RoleExpert},
	OperationRequestRelease:  {RoleExpert},
	OperationApproveRelease:  {RoleClient},
	OperationRejectRelease:   {RoleClient},
	OperationWithdrawRelease: {RoleExpert},
}

// AuthorizationGuard decides whether a caller may run an operation on a project.
// The role must hold the capability and the caller must be the party assigned
// to that role on the project.
type AuthorizationGuard struct{}

func NewAuthorizationGuard() AuthorizationGuard { return AuthorizationGuard{} }

func (AuthorizationGuard) Authorize(caller Caller, op Operation, parties ProjectParties) error {
	if strings.TrimSpace(caller.SubjectID) == "" {
		return ErrUnauthenticated
	}
	allowed := false
	for _, role := range capabilities[op] {
		if role == caller.Role {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: role %q may not %s", ErrUnauthorized, caller.Role, op)
	}
	var assigned string
	switch caller.Role {
	case RoleClient:
		assigned = parties.ClientID
	case RoleExpert:
		assigned = parties.ExpertID
	}
	if assigned == "" || assigned != caller.SubjectID {
		return fmt.Errorf("%w: caller is not the %s of project %s", ErrUnauthorized, caller.Role, parties.ProjectID)
	}
	return nil
}

// AuthorizeRequester restricts an action on a release request to the expert who raised it.
func (AuthorizationGuard) AuthorizeRequester(caller Caller, release ReleaseRequest) error {
	if caller.SubjectID != release.RequestedBy {
		return fmt.Errorf("%w: only the requesting expert may act on release %s", ErrUnauthorized, release.ReleaseID)
	}
	return nil
}
