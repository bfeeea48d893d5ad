package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/centi-network/centi/internal/app/ledger"
	"github.com/centi-network/centi/internal/domain"
	"github.com/centi-network/centi/internal/infra/decay"
)

// ─── Participants ───────────────────────────────────────────────────────────
//
// POST /api/participants                    — register (activates balance + grant)
// GET  /api/participants?email=             — look a participant up by email
// GET  /api/participants/{id}               — participant record
// PUT  /api/participants/{id}/verified      — set verified flag
// PUT  /api/participants/{id}/kyc           — set KYC status
// GET  /api/participants/{id}/balance       — ledger balance
// GET  /api/participants/{id}/transactions  — history, newest first (?limit=)
// GET  /api/participants/{id}/reputation    — reputation record + value multiplier

type registerRequest struct {
	Name           string `json:"name" validate:"required"`
	Email          string `json:"email" validate:"required,email"`
	CredentialHash string `json:"credential_hash" validate:"required"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.deps.Directory.Register(r.Context(), req.Name, req.Email, req.CredentialHash)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleFindParticipant(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		writeError(w, http.StatusBadRequest, "email query parameter required")
		return
	}
	p, err := s.deps.Directory.GetByEmail(r.Context(), email)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleGetParticipant(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Directory.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSetVerified(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Verified bool `json:"verified"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.deps.Directory.SetVerified(r.Context(), chi.URLParam(r, "id"), req.Verified)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSetKYC(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status domain.KYCStatus `json:"status" validate:"required"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.deps.Directory.SetKYCStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	b, err := s.deps.Ledger.Balance(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.deps.Ledger.History(chi.URLParam(r, "id"), queryInt(r, "limit", 50))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": txs,
		"count":        len(txs),
	})
}

func (s *Server) handleReputation(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reputation == nil {
		writeError(w, http.StatusServiceUnavailable, "reputation not initialized")
		return
	}
	rep, ok := s.deps.Reputation.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, domain.ErrParticipantNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, reputationView{
		Reputation:      rep,
		ValueMultiplier: decay.ValueMultiplier(rep),
	})
}

// reputationView adds the weight applied to value exchanged with the
// participant.
type reputationView struct {
	domain.Reputation
	ValueMultiplier float64 `json:"value_multiplier"`
}

func (s *Server) handleTopReputation(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reputation == nil {
		writeError(w, http.StatusServiceUnavailable, "reputation not initialized")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"participants":   s.deps.Reputation.TopParticipants(queryInt(r, "limit", 10)),
		"average_rating": s.deps.Reputation.AverageRating(),
	})
}

// ─── Settlements ────────────────────────────────────────────────────────────
//
// POST /api/settlements — the payment provider's callback once a cash
// payment has cleared. The amount is credited as earn; a retried callback
// with the same external_ref returns the balance without crediting again.

type settlementRequest struct {
	ParticipantID string          `json:"participant_id" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
	ExternalRef   string          `json:"external_ref" validate:"required"`
}

func (s *Server) handleSettlement(w http.ResponseWriter, r *http.Request) {
	var req settlementRequest
	if !s.decode(w, r, &req) {
		return
	}
	b, err := s.deps.Ledger.OnSettled(r.Context(), req.ParticipantID, req.Amount, req.ExternalRef)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// ─── Admin Ledger Adjustments ───────────────────────────────────────────────

type adjustmentRequest struct {
	ParticipantID string                 `json:"participant_id" validate:"required"`
	Amount        decimal.Decimal        `json:"amount"`
	Kind          domain.TransactionKind `json:"kind,omitempty"`
	Description   string                 `json:"description" validate:"required"`
}

func (s *Server) handleAdminCredit(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Kind == "" {
		req.Kind = domain.TxBonus
	}
	b, err := s.deps.Ledger.Credit(r.Context(), req.ParticipantID, req.Amount, req.Kind, req.Description)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleAdminDebit(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if !s.decode(w, r, &req) {
		return
	}
	b, err := s.deps.Ledger.Debit(r.Context(), req.ParticipantID, req.Amount, req.Description, ledger.WithExternalRef("admin"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleCirculation(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"circulation":  s.deps.Ledger.Circulation(),
		"participants": len(s.deps.Ledger.Participants()),
	}
	if s.deps.Reputation != nil {
		out["ecosystem_inflation"] = decay.EcosystemInflation(s.deps.Reputation.AverageRating())
	}
	writeJSON(w, http.StatusOK, out)
}
