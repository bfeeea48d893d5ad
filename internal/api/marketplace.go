package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/centi-network/centi/internal/app/marketplace"
	"github.com/centi-network/centi/internal/domain"
	"github.com/centi-network/centi/internal/infra/decay"
)

// ─── Marketplace ────────────────────────────────────────────────────────────
//
// GET  /api/services?provider=&category=&status=  — list listings
// POST /api/services                              — create a listing
// GET  /api/services/{id}                         — one listing + reputation-weighted value
// POST /api/services/{id}/cancel                  — provider withdraws a listing
// POST /api/services/{id}/requests                — request a service (locks funds)
// GET  /api/requests/{id}                         — one request
// POST /api/requests/{id}/accept|complete|cancel|rate
// POST /api/hours/commit                          — pledge hours
// POST /api/hours/{id}/approve                    — requester verifies earned hours
// POST /api/hours/{id}/complete                   — owner delivers owed/committed hours

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	services := s.deps.Marketplace.Services(marketplace.ServiceFilter{
		ProviderID: q.Get("provider"),
		CategoryID: q.Get("category"),
		Status:     domain.ServiceStatus(q.Get("status")),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"services": services,
		"count":    len(services),
	})
}

func (s *Server) handleCreateService(w http.ResponseWriter, r *http.Request) {
	var in marketplace.ServiceInput
	if !s.decode(w, r, &in) {
		return
	}
	svc, err := s.deps.Marketplace.CreateService(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, svc)
}

// serviceView carries the listing price weighted by the provider's
// reputation. Requests are still charged PriceTotal.
type serviceView struct {
	domain.Service
	ReputationValue *decimal.Decimal `json:"reputation_value,omitempty"`
}

func (s *Server) handleGetService(w http.ResponseWriter, r *http.Request) {
	svc, err := s.deps.Marketplace.Service(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	view := serviceView{Service: svc}
	if s.deps.Reputation != nil {
		if rep, ok := s.deps.Reputation.Get(svc.ProviderID); ok {
			v := decay.AdjustByReputation(svc.PriceTotal, rep)
			view.ReputationValue = &v
		}
	}
	writeJSON(w, http.StatusOK, view)
}

type actorRequest struct {
	ParticipantID string `json:"participant_id" validate:"required"`
}

func (s *Server) handleCancelService(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if !s.decode(w, r, &req) {
		return
	}
	svc, err := s.deps.Marketplace.CancelService(r.Context(), chi.URLParam(r, "id"), req.ParticipantID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

type serviceRequestBody struct {
	RequesterID string     `json:"requester_id" validate:"required"`
	Deadline    *time.Time `json:"deadline,omitempty"`
}

func (s *Server) handleRequestService(w http.ResponseWriter, r *http.Request) {
	var req serviceRequestBody
	if !s.decode(w, r, &req) {
		return
	}
	sr, err := s.deps.Marketplace.RequestService(r.Context(), req.RequesterID, chi.URLParam(r, "id"), req.Deadline)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sr)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	sr, err := s.deps.Marketplace.Request(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sr)
}

func (s *Server) handleAcceptRequest(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if !s.decode(w, r, &req) {
		return
	}
	sr, err := s.deps.Marketplace.AcceptRequest(r.Context(), chi.URLParam(r, "id"), req.ParticipantID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sr)
}

func (s *Server) handleCompleteRequest(w http.ResponseWriter, r *http.Request) {
	sr, err := s.deps.Marketplace.CompleteRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sr)
}

func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	sr, err := s.deps.Marketplace.CancelRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sr)
}

type rateRequest struct {
	RequesterID string `json:"requester_id" validate:"required"`
	Rating      int    `json:"rating" validate:"required,min=1,max=5"`
}

func (s *Server) handleRateRequest(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if !s.decode(w, r, &req) {
		return
	}
	sr, err := s.deps.Marketplace.RateRequest(r.Context(), chi.URLParam(r, "id"), req.RequesterID, req.Rating)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sr)
}

func (s *Server) handleParticipantRequests(w http.ResponseWriter, r *http.Request) {
	reqs := s.deps.Marketplace.Requests(chi.URLParam(r, "id"))
	writeJSON(w, http.StatusOK, map[string]any{
		"requests": reqs,
		"count":    len(reqs),
	})
}

// ─── Service Hours ──────────────────────────────────────────────────────────

func (s *Server) handleParticipantHours(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, map[string]any{
		"hours":   s.deps.Marketplace.Hours(id),
		"summary": s.deps.Marketplace.HoursSummary(id),
	})
}

type commitHoursRequest struct {
	ParticipantID string     `json:"participant_id" validate:"required"`
	CategoryID    string     `json:"category_id" validate:"required"`
	Hours         float64    `json:"hours" validate:"gt=0"`
	Due           *time.Time `json:"due,omitempty"`
}

func (s *Server) handleCommitHours(w http.ResponseWriter, r *http.Request) {
	var req commitHoursRequest
	if !s.decode(w, r, &req) {
		return
	}
	h, err := s.deps.Marketplace.CommitHours(r.Context(), req.ParticipantID, req.CategoryID, req.Hours, req.Due)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h)
}

func (s *Server) handleApproveHours(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if !s.decode(w, r, &req) {
		return
	}
	h, err := s.deps.Marketplace.ApproveHours(r.Context(), chi.URLParam(r, "id"), req.ParticipantID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleCompleteHours(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if !s.decode(w, r, &req) {
		return
	}
	h, err := s.deps.Marketplace.CompleteHours(r.Context(), chi.URLParam(r, "id"), req.ParticipantID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}
