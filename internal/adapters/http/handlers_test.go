package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/adapters/memory"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/adapters/security"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/application"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/domain"
)

const testSecret = "http-test-secret"

type apiEnvelope struct {
	Status  string          `json:"status"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	handler http.Handler
	client  string
	expert  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	svc := application.NewService(application.Dependencies{
		Store:  memory.NewStore(),
		Logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
	})
	ctx := context.Background()
	require.NoError(t, svc.RegisterProject(ctx, domain.ProjectParties{ProjectID: "proj_1", ClientID: "client_1", ExpertID: "expert_1"}))
	_, err := svc.DefineMilestone(ctx, application.DefineMilestoneInput{
		MilestoneID: "ms_1",
		ProjectID:   "proj_1",
		Title:       "Design",
		Amount:      decimal.RequireFromString("300"),
		Status:      domain.MilestoneStatusInProgress,
	})
	require.NoError(t, err)

	verifier, err := security.NewJWTVerifier(security.VerifierConfig{HMACSecret: testSecret})
	require.NoError(t, err)
	return &testServer{
		handler: NewRouter(NewHandler(svc, verifier)),
		client:  mintToken(t, "client_1", "client"),
		expert:  mintToken(t, "expert_1", "expert"),
	}
}

func mintToken(t *testing.T, subject, role string) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return raw
}

func (s *testServer) do(t *testing.T, method, path, token, body string, headers map[string]string) (*httptest.ResponseRecorder, apiEnvelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res := httptest.NewRecorder()
	s.handler.ServeHTTP(res, req)

	var env apiEnvelope
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &env), res.Body.String())
	return res, env
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	res, env := s.do(t, http.MethodGet, "/healthz", "", "", nil)
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "success", env.Status)
	assert.NotEmpty(t, res.Header().Get("X-Request-Id"))

	res, _ = s.do(t, http.MethodGet, "/readyz", "", "", nil)
	assert.Equal(t, http.StatusOK, res.Code)
}

func TestRequestIDIsEchoed(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	res, _ := s.do(t, http.MethodGet, "/healthz", "", "", map[string]string{"X-Request-Id": "req-123"})
	assert.Equal(t, "req-123", res.Header().Get("X-Request-Id"))
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	cases := []struct {
		name  string
		token string
	}{
		{name: "missing", token: ""},
		{name: "garbage", token: "not-a-jwt"},
		{name: "wrong secret", token: func() string {
			raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "client_1", "role": "client", "exp": time.Now().Add(time.Hour).Unix()}).SignedString([]byte("other"))
			require.NoError(t, err)
			return raw
		}()},
	}
	for _, tc := range cases {
		res, env := s.do(t, http.MethodGet, "/v1/projects/proj_1/escrow", tc.token, "", nil)
		assert.Equal(t, http.StatusUnauthorized, res.Code, tc.name)
		assert.Equal(t, "error", env.Status, tc.name)
		assert.Equal(t, "UNAUTHENTICATED", env.Code, tc.name)
	}
}

func TestEscrowReleaseFlowOverHTTP(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	res, env := s.do(t, http.MethodPost, "/v1/projects/proj_1/escrow", s.client, `{"amount":"1000"}`, nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	var account domain.LedgerAccount
	require.NoError(t, json.Unmarshal(env.Data, &account))
	assert.True(t, account.TotalFunded.Equal(decimal.RequireFromString("1000")))
	assert.True(t, account.HeldAmount.Equal(decimal.RequireFromString("1000")))
	assert.Contains(t, string(env.Data), `"total_funded":"1000"`)

	res, env = s.do(t, http.MethodPost, "/v1/projects/proj_1/milestones/ms_1/release", s.expert, `{"amount":300}`, nil)
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	var release domain.ReleaseRequest
	require.NoError(t, json.Unmarshal(env.Data, &release))
	assert.Equal(t, domain.ReleaseStatusOpen, release.Status)
	assert.Equal(t, "expert_1", release.RequestedBy)

	res, env = s.do(t, http.MethodPost, "/v1/projects/proj_1/milestones/ms_1/release", s.expert, `{"amount":"300"}`, nil)
	assert.Equal(t, http.StatusConflict, res.Code)
	assert.Equal(t, "DUPLICATE_REQUEST", env.Code)

	res, env = s.do(t, http.MethodGet, "/v1/projects/proj_1/escrow", s.expert, "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	var snapshot domain.EscrowSnapshot
	require.NoError(t, json.Unmarshal(env.Data, &snapshot))
	require.Len(t, snapshot.Milestones, 1)
	assert.Equal(t, domain.MilestoneStatusPendingRelease, snapshot.Milestones[0].Status)
	assert.Equal(t, release.ReleaseID, snapshot.Milestones[0].ReleaseID)

	res, env = s.do(t, http.MethodPut, "/v1/projects/proj_1/releases/"+release.ReleaseID+"/approve", s.client, "", nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	var outcome domain.ReleaseOutcome
	require.NoError(t, json.Unmarshal(env.Data, &outcome))
	assert.Equal(t, domain.MilestoneStatusCompleted, outcome.Milestone.Status)
	assert.True(t, outcome.Ledger.HeldAmount.Equal(decimal.RequireFromString("700")))
	assert.True(t, outcome.Ledger.ReleasedAmount.Equal(decimal.RequireFromString("300")))

	res, env = s.do(t, http.MethodGet, "/v1/projects/proj_1/escrow/entries", s.client, "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	var journal struct {
		Entries []domain.LedgerEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &journal))
	assert.Len(t, journal.Entries, 2)

	res, env = s.do(t, http.MethodGet, "/v1/projects/proj_1/milestones/ms_1/releases", s.expert, "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	var listed struct {
		Releases []domain.ReleaseRequest `json:"releases"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &listed))
	require.Len(t, listed.Releases, 1)
	assert.Equal(t, domain.ReleaseStatusApproved, listed.Releases[0].Status)
}

func TestApproveWithoutEnoughHeldFundsReturnsConflict(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	res, _ := s.do(t, http.MethodPost, "/v1/projects/proj_1/escrow", s.client, `{"amount":"200"}`, nil)
	require.Equal(t, http.StatusOK, res.Code)
	res, env := s.do(t, http.MethodPost, "/v1/projects/proj_1/milestones/ms_1/release", s.expert, `{"amount":"300"}`, nil)
	require.Equal(t, http.StatusCreated, res.Code)
	var release domain.ReleaseRequest
	require.NoError(t, json.Unmarshal(env.Data, &release))

	res, env = s.do(t, http.MethodPut, "/v1/projects/proj_1/releases/"+release.ReleaseID+"/approve", s.client, "", nil)
	assert.Equal(t, http.StatusConflict, res.Code)
	assert.Equal(t, "INSUFFICIENT_FUNDS", env.Code)
}

func TestRejectAndWithdrawReopenMilestone(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	requestRelease := func() string {
		res, env := s.do(t, http.MethodPost, "/v1/projects/proj_1/milestones/ms_1/release", s.expert, `{"amount":"300"}`, nil)
		require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
		var release domain.ReleaseRequest
		require.NoError(t, json.Unmarshal(env.Data, &release))
		return release.ReleaseID
	}

	releaseID := requestRelease()
	res, env := s.do(t, http.MethodPut, "/v1/projects/proj_1/releases/"+releaseID+"/reject", s.client, `{"reason":"incomplete"}`, nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	var milestone domain.Milestone
	require.NoError(t, json.Unmarshal(env.Data, &milestone))
	assert.Equal(t, domain.MilestoneStatusInProgress, milestone.Status)

	releaseID = requestRelease()
	res, env = s.do(t, http.MethodDelete, "/v1/projects/proj_1/releases/"+releaseID, s.expert, "", nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &milestone))
	assert.Equal(t, domain.MilestoneStatusInProgress, milestone.Status)

	releaseID = requestRelease()
	res, _ = s.do(t, http.MethodPut, "/v1/projects/proj_1/releases/"+releaseID+"/reject", s.client, "", nil)
	assert.Equal(t, http.StatusOK, res.Code, "reject without a body")
}

func TestRoleComesFromTokenOnly(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	res, env := s.do(t, http.MethodPost, "/v1/projects/proj_1/escrow", s.expert, `{"amount":"100"}`, map[string]string{"X-User-Role": "client"})
	assert.Equal(t, http.StatusForbidden, res.Code)
	assert.Equal(t, "UNAUTHORIZED", env.Code)

	outsider := mintToken(t, "client_9", "client")
	res, env = s.do(t, http.MethodGet, "/v1/projects/proj_1/escrow", outsider, "", nil)
	assert.Equal(t, http.StatusForbidden, res.Code)
	assert.Equal(t, "UNAUTHORIZED", env.Code)
}

func TestRequestBodyValidation(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	cases := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{name: "negative amount", body: `{"amount":"-5"}`, wantStatus: http.StatusBadRequest, wantCode: "INVALID_AMOUNT"},
		{name: "zero amount", body: `{"amount":0}`, wantStatus: http.StatusBadRequest, wantCode: "INVALID_AMOUNT"},
		{name: "extreme scale", body: `{"amount":"1e-99999999"}`, wantStatus: http.StatusBadRequest, wantCode: "INVALID_AMOUNT"},
		{name: "unknown field", body: `{"amount":"5","currency":"USD"}`, wantStatus: http.StatusBadRequest, wantCode: "VALIDATION_ERROR"},
		{name: "not a number", body: `{"amount":"ten"}`, wantStatus: http.StatusBadRequest, wantCode: "VALIDATION_ERROR"},
		{name: "trailing object", body: `{"amount":"5"}{"amount":"5"}`, wantStatus: http.StatusBadRequest, wantCode: "VALIDATION_ERROR"},
		{name: "empty", body: "", wantStatus: http.StatusBadRequest, wantCode: "VALIDATION_ERROR"},
	}
	for _, tc := range cases {
		res, env := s.do(t, http.MethodPost, "/v1/projects/proj_1/escrow", s.client, tc.body, nil)
		assert.Equal(t, tc.wantStatus, res.Code, tc.name)
		assert.Equal(t, tc.wantCode, env.Code, tc.name)
	}
}

func TestUnfundedEscrowIsNotFound(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	res, env := s.do(t, http.MethodGet, "/v1/projects/proj_1/escrow", s.client, "", nil)
	assert.Equal(t, http.StatusNotFound, res.Code)
	assert.Equal(t, "NOT_FOUND", env.Code)
}

func TestIdempotencyKeyReplaysFunding(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	headers := map[string]string{"Idempotency-Key": "fund-once"}

	for i := 0; i < 2; i++ {
		res, _ := s.do(t, http.MethodPost, "/v1/projects/proj_1/escrow", s.client, `{"amount":"100"}`, headers)
		require.Equal(t, http.StatusOK, res.Code)
	}
	res, env := s.do(t, http.MethodPost, "/v1/projects/proj_1/escrow", s.client, `{"amount":"250"}`, headers)
	assert.Equal(t, http.StatusConflict, res.Code)
	assert.Equal(t, "IDEMPOTENCY_CONFLICT", env.Code)

	res, env = s.do(t, http.MethodGet, "/v1/projects/proj_1/escrow", s.client, "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	var snapshot domain.EscrowSnapshot
	require.NoError(t, json.Unmarshal(env.Data, &snapshot))
	assert.True(t, snapshot.Ledger.TotalFunded.Equal(decimal.RequireFromString("100")))
}

func TestRecoverMiddlewareReturnsInternalError(t *testing.T) {
	t.Parallel()
	h := recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	res := httptest.NewRecorder()
	h.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, res.Code)
	assert.Contains(t, res.Body.String(), "INTERNAL_ERROR")
}

func TestMapDomainError(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{domain.ErrUnauthenticated, http.StatusUnauthorized, "UNAUTHENTICATED"},
		{domain.ErrUnauthorized, http.StatusForbidden, "UNAUTHORIZED"},
		{domain.ErrInvalidInput, http.StatusBadRequest, "VALIDATION_ERROR"},
		{domain.ErrInvalidAmount, http.StatusBadRequest, "INVALID_AMOUNT"},
		{domain.ErrInsufficientFunds, http.StatusConflict, "INSUFFICIENT_FUNDS"},
		{domain.ErrInvalidStateTransition, http.StatusConflict, "INVALID_STATE_TRANSITION"},
		{domain.ErrDuplicateRequest, http.StatusConflict, "DUPLICATE_REQUEST"},
		{domain.ErrConflict, http.StatusConflict, "CONFLICT"},
		{domain.ErrIdempotencyConflict, http.StatusConflict, "IDEMPOTENCY_CONFLICT"},
		{domain.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{domain.ErrDependencyUnavailable, http.StatusServiceUnavailable, "DEPENDENCY_UNAVAILABLE"},
		{domain.ErrInvariantViolation, http.StatusInternalServerError, "INTERNAL_ERROR"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		status, code, _ := mapDomainError(fmt.Errorf("wrapped: %w", tc.err))
		assert.Equal(t, tc.wantStatus, status, tc.err.Error())
		assert.Equal(t, tc.wantCode, code, tc.err.Error())
	}

	_, _, message := mapDomainError(fmt.Errorf("%w: held 1 < 2", domain.ErrInvariantViolation))
	assert.Equal(t, "internal server error", message)
}
