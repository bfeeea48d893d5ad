package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/centi-network/centi/internal/domain"
)

// ─── Admin ──────────────────────────────────────────────────────────────────
//
// GET /api/admin/categories        — rate table
// GET /api/admin/categories/{id}   — one category
// PUT /api/admin/categories/{id}   — create or replace a category
// GET /api/admin/policy            — global constants
// PUT /api/admin/policy            — partial update; unspecified fields keep their value
// GET /api/admin/traces?limit=     — recent request spans
// POST /api/admin/badges           — award a reputation badge
//
// Rate changes apply to listings created afterwards; existing listings keep
// the price frozen at creation.

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	cats := s.deps.Categories.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"categories": cats,
		"count":      len(cats),
	})
}

func (s *Server) handleGetCategory(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Categories.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type categoryRequest struct {
	Name             string          `json:"name"`
	RatePerHour      decimal.Decimal `json:"rate_per_hour"`
	DemandMultiplier float64         `json:"demand_multiplier" validate:"gte=0"`
	StandardHours    float64         `json:"standard_hours" validate:"gt=0"`
}

func (s *Server) handlePutCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if !s.decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.deps.Categories.Upsert(domain.ServiceCategory{
		ID:               id,
		Name:             req.Name,
		RatePerHour:      req.RatePerHour,
		DemandMultiplier: req.DemandMultiplier,
		StandardHours:    req.StandardHours,
	}); err != nil {
		s.fail(w, r, err)
		return
	}
	c, err := s.deps.Categories.Get(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if s.deps.CategoryStore != nil {
		if err := s.deps.CategoryStore.UpsertCategory(r.Context(), c); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	s.logger.Info(s.logger.WithField(r.Context(), "category", c.ID), "category updated")
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Policy.Get())
}

func (s *Server) handlePutPolicy(w http.ResponseWriter, r *http.Request) {
	next := s.deps.Policy.Get()
	if !s.decode(w, r, &next) {
		return
	}
	p, err := s.deps.Policy.Set(r.Context(), next)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info(r.Context(), "policy updated")
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleTraces(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tracer == nil {
		writeError(w, http.StatusServiceUnavailable, "tracing not enabled")
		return
	}
	spans := s.deps.Tracer.Spans(queryInt(r, "limit", 100))
	writeJSON(w, http.StatusOK, map[string]any{
		"spans": spans,
		"count": len(spans),
	})
}

type badgeRequest struct {
	ParticipantID string `json:"participant_id" validate:"required"`
	Badge         string `json:"badge" validate:"required,max=64"`
}

func (s *Server) handleAwardBadge(w http.ResponseWriter, r *http.Request) {
	var req badgeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if s.deps.Reputation == nil {
		writeError(w, http.StatusServiceUnavailable, "reputation not initialized")
		return
	}
	if _, ok := s.deps.Reputation.Get(req.ParticipantID); !ok {
		writeError(w, http.StatusNotFound, domain.ErrParticipantNotFound.Error())
		return
	}
	rep, err := s.deps.Reputation.AwardBadge(req.ParticipantID, req.Badge)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
