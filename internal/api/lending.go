package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/centi-network/centi/internal/app/lending"
	"github.com/centi-network/centi/internal/domain"
)

// ─── Lending ────────────────────────────────────────────────────────────────
//
// GET  /api/loans/market                  — liquidity and demand feeding the rate
// POST /api/loans/quote                   — price a loan without booking it
// POST /api/loans                         — approve and book a loan
// GET  /api/loans/{id}                    — one loan
// GET  /api/loans/{id}/payoff             — early-settlement quote
// POST /api/loans/{id}/repay              — repay part or all of a loan
// GET  /api/participants/{id}/loans       — a participant's loans
// GET  /api/participants/{id}/profile     — borrower profile used for pricing

func (s *Server) handleLendingMarket(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Lending.Market())
}

func (s *Server) handleLoanQuote(w http.ResponseWriter, r *http.Request) {
	var req lending.Request
	if !s.decode(w, r, &req) {
		return
	}
	terms, err := s.deps.Lending.Quote(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, terms)
}

func (s *Server) handleLoanApprove(w http.ResponseWriter, r *http.Request) {
	var req lending.Request
	if !s.decode(w, r, &req) {
		return
	}
	loan, err := s.deps.Lending.Approve(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) handleGetLoan(w http.ResponseWriter, r *http.Request) {
	loan, err := s.deps.Lending.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) handleLoanPayoff(w http.ResponseWriter, r *http.Request) {
	payoff, err := s.deps.Lending.Payoff(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payoff)
}

type repayRequest struct {
	Amount decimal.Decimal        `json:"amount"`
	Method domain.RepaymentMethod `json:"method,omitempty" validate:"omitempty,oneof=cash service_hours products mixed"`
}

func (s *Server) handleLoanRepay(w http.ResponseWriter, r *http.Request) {
	var req repayRequest
	if !s.decode(w, r, &req) {
		return
	}
	loan, err := s.deps.Lending.Repay(r.Context(), chi.URLParam(r, "id"), req.Amount, req.Method)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) handleParticipantLoans(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, map[string]any{
		"loans":       s.deps.Lending.Loans(id),
		"outstanding": s.deps.Lending.Outstanding(id),
		"history":     s.deps.Lending.History(id),
	})
}

func (s *Server) handleBorrowerProfile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Lending.Profile(r.Context(), chi.URLParam(r, "id")))
}
