package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorizationGuardMatrix(t *testing.T) {
	t.Parallel()

	guard := NewAuthorizationGuard()
	parties := ProjectParties{ProjectID: "proj_1", ClientID: "client_1", ExpertID: "expert_1"}
	client := Caller{SubjectID: "client_1", Role: RoleClient}
	expert := Caller{SubjectID: "expert_1", Role: RoleExpert}

	cases := []struct {
		op            Operation
		clientAllowed bool
		expertAllowed bool
	}{
		{OperationFundEscrow, true, false},
		{OperationViewEscrow, true, true},
		{OperationStartMilestone, false, true},
		{OperationRequestRelease, false, true},
		{OperationApproveRelease, true, false},
		{OperationRejectRelease, true, false},
		{OperationWithdrawRelease, false, true},
	}
	for _, tc := range cases {
		if tc.clientAllowed {
			assert.NoError(t, guard.Authorize(client, tc.op, parties), tc.op)
		} else {
			assert.ErrorIs(t, guard.Authorize(client, tc.op, parties), ErrUnauthorized, tc.op)
		}
		if tc.expertAllowed {
			assert.NoError(t, guard.Authorize(expert, tc.op, parties), tc.op)
		} else {
			assert.ErrorIs(t, guard.Authorize(expert, tc.op, parties), ErrUnauthorized, tc.op)
		}
	}
}

func TestAuthorizationGuardRequiresAssignedParty(t *testing.T) {
	t.Parallel()

	guard := NewAuthorizationGuard()
	parties := ProjectParties{ProjectID: "proj_1", ClientID: "client_1", ExpertID: "expert_1"}

	stranger := Caller{SubjectID: "client_2", Role: RoleClient}
	require.ErrorIs(t, guard.Authorize(stranger, OperationFundEscrow, parties), ErrUnauthorized)

	// the client claiming the expert role is still not the assigned expert
	impostor := Caller{SubjectID: "client_1", Role: RoleExpert}
	require.ErrorIs(t, guard.Authorize(impostor, OperationRequestRelease, parties), ErrUnauthorized)

	require.ErrorIs(t, guard.Authorize(Caller{Role: RoleClient}, OperationFundEscrow, parties), ErrUnauthenticated)
}

func TestAuthorizeRequester(t *testing.T) {
	t.Parallel()

	guard := NewAuthorizationGuard()
	release := ReleaseRequest{ReleaseID: "rel_1", RequestedBy: "expert_1"}
	require.NoError(t, guard.AuthorizeRequester(Caller{SubjectID: "expert_1", Role: RoleExpert}, release))
	require.ErrorIs(t, guard.AuthorizeRequester(Caller{SubjectID: "expert_2", Role: RoleExpert}, release), ErrUnauthorized)
}

func TestParseRole(t *testing.T) {
	t.Parallel()

	role, ok := ParseRole(" Client ")
	require.True(t, ok)
	assert.Equal(t, RoleClient, role)
	_, ok = ParseRole("admin")
	assert.False(t, ok)
}
