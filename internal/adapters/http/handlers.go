package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/application"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/contracts"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/domain"
)

const maxBodyBytes = 1 << 20

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		writeMappedError(r.Context(), w, "readyz", fmt.Errorf("%w: %v", domain.ErrDependencyUnavailable, err))
		return
	}
	writeSuccess(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *Handler) fundEscrow(w http.ResponseWriter, r *http.Request) {
	var req contracts.FundEscrowRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeValidationError(r.Context(), w, "fund_escrow", err)
		return
	}
	account, err := h.service.FundEscrow(r.Context(), actorFromRequest(r), application.FundEscrowInput{
		ProjectID: chi.URLParam(r, "projectID"),
		Amount:    req.Amount,
	})
	if err != nil {
		writeMappedError(r.Context(), w, "fund_escrow", err)
		return
	}
	writeSuccess(w, http.StatusOK, account)
}

func (h *Handler) getEscrow(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.service.GetEscrowSnapshot(r.Context(), actorFromRequest(r), chi.URLParam(r, "projectID"))
	if err != nil {
		writeMappedError(r.Context(), w, "get_escrow", err)
		return
	}
	writeSuccess(w, http.StatusOK, snapshot)
}

func (h *Handler) listLedgerEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.ListLedgerEntries(r.Context(), actorFromRequest(r), chi.URLParam(r, "projectID"))
	if err != nil {
		writeMappedError(r.Context(), w, "list_ledger_entries", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) startMilestone(w http.ResponseWriter, r *http.Request) {
	milestone, err := h.service.StartMilestone(r.Context(), actorFromRequest(r),
		chi.URLParam(r, "projectID"), chi.URLParam(r, "milestoneID"))
	if err != nil {
		writeMappedError(r.Context(), w, "start_milestone", err)
		return
	}
	writeSuccess(w, http.StatusOK, milestone)
}

func (h *Handler) requestRelease(w http.ResponseWriter, r *http.Request) {
	var req contracts.RequestReleaseRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeValidationError(r.Context(), w, "request_release", err)
		return
	}
	release, err := h.service.RequestRelease(r.Context(), actorFromRequest(r), application.RequestReleaseInput{
		ProjectID:   chi.URLParam(r, "projectID"),
		MilestoneID: chi.URLParam(r, "milestoneID"),
		Amount:      req.Amount,
	})
	if err != nil {
		writeMappedError(r.Context(), w, "request_release", err)
		return
	}
	writeSuccess(w, http.StatusCreated, release)
}

func (h *Handler) listReleaseRequests(w http.ResponseWriter, r *http.Request) {
	releases, err := h.service.ListReleaseRequests(r.Context(), actorFromRequest(r),
		chi.URLParam(r, "projectID"), chi.URLParam(r, "milestoneID"))
	if err != nil {
		writeMappedError(r.Context(), w, "list_release_requests", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"releases": releases})
}

func (h *Handler) approveRelease(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.service.ApproveRelease(r.Context(), actorFromRequest(r), resolveInput(r, ""))
	if err != nil {
		writeMappedError(r.Context(), w, "approve_release", err)
		return
	}
	writeSuccess(w, http.StatusOK, outcome)
}

func (h *Handler) rejectRelease(w http.ResponseWriter, r *http.Request) {
	var req contracts.RejectReleaseRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeValidationError(r.Context(), w, "reject_release", err)
		return
	}
	milestone, err := h.service.RejectRelease(r.Context(), actorFromRequest(r), resolveInput(r, req.Reason))
	if err != nil {
		writeMappedError(r.Context(), w, "reject_release", err)
		return
	}
	writeSuccess(w, http.StatusOK, milestone)
}

func (h *Handler) withdrawRelease(w http.ResponseWriter, r *http.Request) {
	milestone, err := h.service.WithdrawRelease(r.Context(), actorFromRequest(r), resolveInput(r, ""))
	if err != nil {
		writeMappedError(r.Context(), w, "withdraw_release", err)
		return
	}
	writeSuccess(w, http.StatusOK, milestone)
}

func resolveInput(r *http.Request, reason string) application.ResolveReleaseInput {
	return application.ResolveReleaseInput{
		ProjectID: chi.URLParam(r, "projectID"),
		ReleaseID: chi.URLParam(r, "releaseID"),
		Reason:    reason,
	}
}

// decodeBody reads a single JSON object. An empty body is accepted only when
// allowEmpty is set.
func decodeBody(r *http.Request, dst any, allowEmpty bool) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return err
	}
	if decoder.More() {
		return errors.New("request body must contain a single json object")
	}
	return nil
}

func writeMappedError(ctx context.Context, w http.ResponseWriter, operation string, err error) {
	statusCode, code, message := mapDomainError(err)
	logHTTPOperationError(ctx, operation, statusCode, code, message, err)
	writeError(w, statusCode, code, message)
}

func writeValidationError(ctx context.Context, w http.ResponseWriter, operation string, err error) {
	writeMappedError(ctx, w, operation, fmt.Errorf("%w: invalid request body: %v", domain.ErrInvalidInput, err))
}
