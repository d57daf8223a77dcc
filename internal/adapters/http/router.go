package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/application"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/ports"
)

type Handler struct {
	service  *application.Service
	verifier ports.TokenVerifier
}

func NewHandler(service *application.Service, verifier ports.TokenVerifier) *Handler {
	return &Handler{service: service, verifier: verifier}
}

func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)

	r.Get("/healthz", handler.healthz)
	r.Get("/readyz", handler.readyz)

	r.Route("/v1/projects/{projectID}", func(r chi.Router) {
		r.Use(handler.authMiddleware)

		r.Post("/escrow", handler.fundEscrow)
		r.Get("/escrow", handler.getEscrow)
		r.Get("/escrow/entries", handler.listLedgerEntries)

		r.Post("/milestones/{milestoneID}/start", handler.startMilestone)
		r.Post("/milestones/{milestoneID}/release", handler.requestRelease)
		r.Get("/milestones/{milestoneID}/releases", handler.listReleaseRequests)

		r.Put("/releases/{releaseID}/approve", handler.approveRelease)
		r.Put("/releases/{releaseID}/reject", handler.rejectRelease)
		r.Delete("/releases/{releaseID}", handler.withdrawRelease)
	})
	return r
}
