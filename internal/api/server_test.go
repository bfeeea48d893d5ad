package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/centi-network/centi/internal/app/directory"
	"github.com/centi-network/centi/internal/app/ledger"
	"github.com/centi-network/centi/internal/app/lending"
	"github.com/centi-network/centi/internal/app/marketplace"
	"github.com/centi-network/centi/internal/app/matching"
	"github.com/centi-network/centi/internal/app/policy"
	"github.com/centi-network/centi/internal/domain"
	"github.com/centi-network/centi/internal/infra/catalog"
	"github.com/centi-network/centi/internal/infra/observability"
	"github.com/centi-network/centi/internal/infra/reputation"
	"github.com/centi-network/centi/internal/infra/sqlite"
)

// ─── Fixture ────────────────────────────────────────────────────────────────

type testEnv struct {
	server  *Server
	handler http.Handler
	deps    Deps
	db      *sqlite.DB
}

func newTestEnv(t *testing.T, mutate ...func(*Deps)) *testEnv {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	pol, err := policy.NewStore(policy.Default(), db)
	require.NoError(t, err)
	rates, err := catalog.NewRateTable(catalog.DefaultCategories())
	require.NoError(t, err)
	tracker := reputation.NewTracker(nil)

	l := ledger.New(ledger.Options{Journal: db, Policy: pol, Metrics: metrics})
	dir := directory.New(directory.Options{Store: db, Ledger: l, Reputation: tracker})
	market := marketplace.New(marketplace.Options{
		Accounts:   l,
		Categories: rates,
		Reputation: tracker,
		HourTotals: dir,
		Metrics:    metrics,
	})
	engine := lending.New(lending.Options{
		Accounts:   l,
		Reputation: tracker,
		Hours:      market,
		Demand:     market,
		Policy:     pol,
		Metrics:    metrics,
	})
	matcher := matching.NewScheduler(matching.Options{
		Market:     market,
		Reputation: tracker,
		Categories: rates,
		Policy:     pol,
		Metrics:    metrics,
	})

	deps := Deps{
		Directory:     dir,
		Ledger:        l,
		Lending:       engine,
		Marketplace:   market,
		Matcher:       matcher,
		Reputation:    tracker,
		Categories:    rates,
		Policy:        pol,
		CategoryStore: db,
		Metrics:       metrics,
		Tracer:        observability.NewTracer(100),
		Gatherer:      reg,
	}
	for _, fn := range mutate {
		fn(&deps)
	}
	s := NewServer(deps)
	return &testEnv{server: s, handler: s.Handler(), deps: deps, db: db}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeInto[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (e *testEnv) register(t *testing.T, name string) domain.Participant {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/participants", map[string]string{
		"name":            name,
		"email":           strings.ToLower(name) + "@example.com",
		"credential_hash": "hash-" + name,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeInto[domain.Participant](t, w)
}

func (e *testEnv) list(t *testing.T, providerID, categoryID string) domain.Service {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/services", map[string]any{
		"provider_id": providerID,
		"category_id": categoryID,
		"title":       "Landing page",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeInto[domain.Service](t, w)
}

func (e *testEnv) balance(t *testing.T, id string) domain.Balance {
	t.Helper()
	w := e.do(t, http.MethodGet, "/api/participants/"+id+"/balance", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decodeInto[domain.Balance](t, w)
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Message
}

// ─── Health ─────────────────────────────────────────────────────────────────

func TestHealthAndVersion(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/version", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, Version, decodeInto[map[string]string](t, w)["version"])
}

// ─── Participants ───────────────────────────────────────────────────────────

func TestRegister_GrantsAndRejectsDuplicates(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "Alice")

	b := env.balance(t, alice.ID)
	assert.Equal(t, "100", b.Available.String())

	w := env.do(t, http.MethodPost, "/api/participants", map[string]string{
		"name": "Other", "email": "ALICE@example.com", "credential_hash": "x",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/api/participants", map[string]string{
		"name": "Bad", "email": "nope", "credential_hash": "x",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/participants/"+alice.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice@example.com", decodeInto[domain.Participant](t, w).Email)

	w = env.do(t, http.MethodGet, "/api/participants/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/participants/missing/balance", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/participants?email=Alice@Example.com", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, alice.ID, decodeInto[domain.Participant](t, w).ID)

	w = env.do(t, http.MethodGet, "/api/participants?email=nobody@example.com", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/participants", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVerifiedAndKYC(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "Alice")

	w := env.do(t, http.MethodPut, "/api/participants/"+alice.ID+"/verified", map[string]bool{"verified": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeInto[domain.Participant](t, w).Verified)

	w = env.do(t, http.MethodPut, "/api/participants/"+alice.ID+"/kyc", map[string]string{"status": "approved"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.KYCApproved, decodeInto[domain.Participant](t, w).KYCStatus)

	w = env.do(t, http.MethodPut, "/api/participants/"+alice.ID+"/kyc", map[string]string{"status": "maybe"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestUnknownFieldRejected(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/participants", map[string]string{
		"name": "A", "email": "a@example.com", "credential_hash": "x", "role": "admin",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ─── Marketplace Flow ───────────────────────────────────────────────────────

func TestServiceLifecycle(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "Alice")
	bob := env.register(t, "Bob")

	svc := env.list(t, bob.ID, "web-development")
	assert.Equal(t, "64", svc.PriceTotal.String())
	assert.Equal(t, domain.ServiceAvailable, svc.Status)

	// self-request is forbidden
	w := env.do(t, http.MethodPost, "/api/services/"+svc.ID+"/requests", map[string]string{"requester_id": bob.ID})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, "/api/services/"+svc.ID+"/requests", map[string]string{"requester_id": alice.ID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	req := decodeInto[domain.ServiceRequest](t, w)
	assert.Equal(t, domain.RequestPending, req.Status)

	b := env.balance(t, alice.ID)
	assert.Equal(t, "36", b.Available.String())
	assert.Equal(t, "64", b.Locked.String())

	// completing before acceptance skips a state
	w = env.do(t, http.MethodPost, "/api/requests/"+req.ID+"/complete", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/api/requests/"+req.ID+"/accept", map[string]string{"participant_id": alice.ID})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, "/api/requests/"+req.ID+"/accept", map[string]string{"participant_id": bob.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodPost, "/api/requests/"+req.ID+"/complete", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, domain.RequestCompleted, decodeInto[domain.ServiceRequest](t, w).Status)

	assert.Equal(t, "36", env.balance(t, alice.ID).Available.String())
	assert.True(t, env.balance(t, alice.ID).Locked.IsZero())
	assert.Equal(t, "164", env.balance(t, bob.ID).Available.String())

	// completing twice does not pay twice
	w = env.do(t, http.MethodPost, "/api/requests/"+req.ID+"/complete", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "164", env.balance(t, bob.ID).Available.String())

	w = env.do(t, http.MethodPost, "/api/requests/"+req.ID+"/rate", map[string]any{"requester_id": alice.ID, "rating": 5})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/participants/"+bob.ID+"/reputation", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.InDelta(t, 5.0, decodeInto[domain.Reputation](t, w).AverageRating, 1e-9)
	assert.Contains(t, w.Body.String(), `"value_multiplier"`)

	// earned hours wait for the requester's approval
	w = env.do(t, http.MethodGet, "/api/participants/"+bob.ID+"/hours", nil)
	require.Equal(t, http.StatusOK, w.Code)
	hours := decodeInto[struct {
		Hours   []domain.ServiceHour `json:"hours"`
		Summary domain.HoursSummary  `json:"summary"`
	}](t, w)
	require.Len(t, hours.Hours, 1)
	assert.InDelta(t, 8.0, hours.Summary.Pending, 1e-9)

	w = env.do(t, http.MethodPost, "/api/hours/"+hours.Hours[0].ID+"/approve", map[string]string{"participant_id": alice.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/participants/"+bob.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.InDelta(t, 8.0, decodeInto[domain.Participant](t, w).TotalHoursDelivered, 1e-9)

	// the journal persisted every movement
	txs, err := env.db.ListTransactions(context.Background(), bob.ID, 0)
	require.NoError(t, err)
	assert.Len(t, txs, 2) // grant + earn
}

func TestRequest_InsufficientFunds(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "Alice")
	bob := env.register(t, "Bob")

	w := env.do(t, http.MethodPut, "/api/admin/categories/architecture", map[string]any{
		"name": "Architecture", "rate_per_hour": "16", "demand_multiplier": 1, "standard_hours": 8,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	svc := env.list(t, bob.ID, "architecture") // 128 > 100
	assert.Equal(t, "128", svc.PriceTotal.String())
	w = env.do(t, http.MethodPost, "/api/services/"+svc.ID+"/requests", map[string]string{"requester_id": alice.ID})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, errorMessage(t, w), "insufficient funds")

	assert.Equal(t, "100", env.balance(t, alice.ID).Available.String())
}

func TestListServicesFilter(t *testing.T) {
	env := newTestEnv(t)
	bob := env.register(t, "Bob")
	carol := env.register(t, "Carol")
	env.list(t, bob.ID, "web-development")
	env.list(t, carol.ID, "graphic-design")

	w := env.do(t, http.MethodGet, "/api/services?provider="+carol.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeInto[struct {
		Services []domain.Service `json:"services"`
		Count    int              `json:"count"`
	}](t, w)
	require.Equal(t, 1, got.Count)
	assert.Equal(t, "20", got.Services[0].PriceTotal.String())

	w = env.do(t, http.MethodPost, "/api/services", map[string]any{"provider_id": bob.ID, "category_id": "astrology"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/services", map[string]any{"provider_id": "ghost", "category_id": "web-development"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// an hours estimate does not change the price
	w = env.do(t, http.MethodPost, "/api/services", map[string]any{"provider_id": bob.ID, "category_id": "web-development", "hours": 12})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "64", decodeInto[domain.Service](t, w).PriceTotal.String())
}

// ─── Lending ────────────────────────────────────────────────────────────────

func TestLoanQuoteApproveRepay(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "Alice")

	loanReq := map[string]any{
		"participant_id":   alice.ID,
		"amount":           "200",
		"repayment_method": "cash",
		"purpose":          "growth",
	}
	w := env.do(t, http.MethodPost, "/api/loans/quote", loanReq)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	terms := decodeInto[domain.LoanTerms](t, w)
	assert.GreaterOrEqual(t, terms.InterestRate, 3.0)
	assert.LessOrEqual(t, terms.InterestRate, 15.0)

	w = env.do(t, http.MethodPost, "/api/loans", loanReq)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	loan := decodeInto[domain.Loan](t, w)
	assert.InDelta(t, terms.InterestRate, loan.InterestRate, 1e-9)
	assert.Equal(t, "300", env.balance(t, alice.ID).Available.String())

	// ceiling: 200 open + 400 > 500
	loanReq["amount"] = "400"
	w = env.do(t, http.MethodPost, "/api/loans", loanReq)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	loanReq["amount"] = "5"
	w = env.do(t, http.MethodPost, "/api/loans", loanReq)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	loanReq["purpose"] = "vacation"
	w = env.do(t, http.MethodPost, "/api/loans", loanReq)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/loans/"+loan.ID+"/payoff", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	payoff := decodeInto[lending.Payoff](t, w)
	assert.Equal(t, loan.ID, payoff.LoanID)
	assert.Equal(t, "200", payoff.Outstanding.String())
	assert.True(t, payoff.Discount.IsPositive(), "a month early earns a discount")

	w = env.do(t, http.MethodPost, "/api/loans/"+loan.ID+"/repay", map[string]string{"amount": "200"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, domain.LoanRepaid, decodeInto[domain.Loan](t, w).Status)

	w = env.do(t, http.MethodPost, "/api/loans/"+loan.ID+"/repay", map[string]string{"amount": "1"})
	assert.Equal(t, http.StatusConflict, w.Code)
	w = env.do(t, http.MethodGet, "/api/loans/"+loan.ID+"/payoff", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodGet, "/api/loans/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/participants/"+alice.ID+"/loans", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), loan.ID)

	w = env.do(t, http.MethodGet, "/api/loans/market", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

// ─── Settlements ────────────────────────────────────────────────────────────

func TestSettlementCallback(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "Alice")

	w := env.do(t, http.MethodPost, "/api/settlements", map[string]string{
		"participant_id": alice.ID, "amount": "25.5", "external_ref": "pay_123",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "125.5", decodeInto[domain.Balance](t, w).Available.String())

	w = env.do(t, http.MethodPost, "/api/settlements", map[string]string{
		"participant_id": alice.ID, "amount": "25.5", "external_ref": "pay_123",
	})
	require.Equal(t, http.StatusOK, w.Code, "a retried callback still succeeds")
	assert.Equal(t, "125.5", decodeInto[domain.Balance](t, w).Available.String())

	w = env.do(t, http.MethodPost, "/api/settlements", map[string]string{
		"participant_id": alice.ID, "amount": "-1", "external_ref": "pay_124",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/settlements", map[string]string{
		"participant_id": alice.ID, "amount": "1",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code, "external_ref is required")

	w = env.do(t, http.MethodGet, "/api/participants/"+alice.ID+"/transactions?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeInto[struct {
		Transactions []domain.Transaction `json:"transactions"`
	}](t, w)
	require.Len(t, got.Transactions, 1)
	assert.Equal(t, "pay_123", got.Transactions[0].ExternalRef)
}

// ─── Admin ──────────────────────────────────────────────────────────────────

func TestAdminCategories(t *testing.T) {
	env := newTestEnv(t)
	bob := env.register(t, "Bob")
	before := env.list(t, bob.ID, "web-development")

	w := env.do(t, http.MethodPut, "/api/admin/categories/web-development", map[string]any{
		"name": "Web development", "rate_per_hour": "10", "demand_multiplier": 1.5, "standard_hours": 8,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	after := env.list(t, bob.ID, "web-development")
	assert.Equal(t, "120", after.PriceTotal.String())

	w = env.do(t, http.MethodGet, "/api/services/"+before.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "64", decodeInto[domain.Service](t, w).PriceTotal.String(), "existing listings keep their price")
	// no ratings yet: value is damped to half
	assert.Contains(t, w.Body.String(), `"reputation_value":"32"`)

	stored, err := env.db.ListCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "10", stored[0].RatePerHour.String())

	w = env.do(t, http.MethodPut, "/api/admin/categories/free", map[string]any{"rate_per_hour": "0", "standard_hours": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/admin/categories/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/admin/categories", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(5), decodeInto[map[string]any](t, w)["count"])
}

func TestAdminPolicy(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPut, "/api/admin/policy", map[string]any{"grant_amount": "50", "match_threshold": 60})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	p := decodeInto[policy.Policy](t, w)
	assert.Equal(t, "50", p.GrantAmount.String())
	assert.Equal(t, 60, p.MatchThreshold)
	assert.Equal(t, "500", p.MaxBorrow.String(), "unspecified fields keep their value")

	// takes effect for the next activation
	carol := env.register(t, "Carol")
	assert.Equal(t, "50", env.balance(t, carol.ID).Available.String())

	stored, err := env.db.LoadPolicy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "50", stored["grant_amount"])

	w = env.do(t, http.MethodPut, "/api/admin/policy", map[string]any{"daily_decay_rate": 2})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/admin/policy", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "50", decodeInto[policy.Policy](t, w).GrantAmount.String())
}

func TestAdminCreditDebitAndCirculation(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "Alice")

	w := env.do(t, http.MethodPost, "/api/admin/credits", map[string]string{
		"participant_id": alice.ID, "amount": "10", "description": "launch bonus",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodPost, "/api/admin/debits", map[string]string{
		"participant_id": alice.ID, "amount": "500", "description": "too much",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = env.do(t, http.MethodPost, "/api/admin/credits", map[string]string{
		"participant_id": alice.ID, "amount": "10", "kind": "borrow", "description": "sneaky",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/admin/circulation", nil)
	require.Equal(t, http.StatusOK, w.Code)
	circ := decodeInto[map[string]any](t, w)
	assert.Equal(t, "110", circ["circulation"])
	assert.Contains(t, circ, "ecosystem_inflation")
}

func TestAdminBadges(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "Alice")

	w := env.do(t, http.MethodPost, "/api/admin/badges", map[string]string{
		"participant_id": alice.ID, "badge": "early_adopter",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rep := decodeInto[domain.Reputation](t, w)
	assert.Contains(t, rep.Badges, "early_adopter")

	// awarding twice keeps one badge
	w = env.do(t, http.MethodPost, "/api/admin/badges", map[string]string{
		"participant_id": alice.ID, "badge": "early_adopter",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, rep.Badges, decodeInto[domain.Reputation](t, w).Badges)

	w = env.do(t, http.MethodPost, "/api/admin/badges", map[string]string{
		"participant_id": "ghost", "badge": "early_adopter",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/api/admin/badges", map[string]string{"participant_id": alice.ID})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTracesAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/health", nil)
	env.do(t, http.MethodGet, "/api/participants/missing", nil)

	w := env.do(t, http.MethodGet, "/api/admin/traces?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.GreaterOrEqual(t, decodeInto[map[string]any](t, w)["count"], float64(2))

	w = env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "centi_http_requests_total")
}

// ─── Rate Limit ─────────────────────────────────────────────────────────────

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.RateLimit = 2
		d.RatePeriod = time.Minute
	})

	for i := 0; i < 2; i++ {
		w := env.do(t, http.MethodGet, "/health", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	}
	w := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
}

// ─── Matches ────────────────────────────────────────────────────────────────

func seedMatch(t *testing.T, env *testEnv) (alice, carol domain.Participant) {
	t.Helper()
	alice = env.register(t, "Alice")
	bob := env.register(t, "Bob")
	carol = env.register(t, "Carol")

	svc := env.list(t, bob.ID, "web-development")
	env.list(t, carol.ID, "web-development")
	w := env.do(t, http.MethodPost, "/api/services/"+svc.ID+"/requests", map[string]string{"requester_id": alice.ID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	_, err := env.deps.Matcher.Tick(context.Background())
	require.NoError(t, err)
	return alice, carol
}

func TestMatchesSnapshot(t *testing.T) {
	env := newTestEnv(t)
	alice, carol := seedMatch(t, env)

	w := env.do(t, http.MethodGet, "/api/matches?participant="+alice.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	msg := decodeInto[matchMessage](t, w)
	require.Equal(t, 1, msg.Count)
	assert.Equal(t, carol.ID, msg.Matches[0].ProviderID)
	assert.Equal(t, 80, msg.Matches[0].Score)
	assert.Equal(t, "64", msg.Matches[0].EstimatedCost.String())

	w = env.do(t, http.MethodGet, "/api/matches?participant=nobody", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decodeInto[matchMessage](t, w).Count)
}

func TestMatchFeedWebSocket(t *testing.T) {
	env := newTestEnv(t)
	alice, carol := seedMatch(t, env)

	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/matches/ws?participant=" + alice.ID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg matchMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "matches", msg.Type)
	require.Equal(t, 1, msg.Count)
	assert.Equal(t, carol.ID, msg.Matches[0].ProviderID)

	// the next tick is pushed as well
	_, err = env.deps.Matcher.Tick(context.Background())
	require.NoError(t, err)
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, 1, msg.Count)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{domain.ErrBorrowingLimitExceeded, http.StatusUnprocessableEntity},
		{domain.ErrInvalidCategory, http.StatusBadRequest},
		{domain.ErrInvalidTransition, http.StatusConflict},
		{domain.ErrForbidden, http.StatusForbidden},
		{domain.ErrLoanNotFound, http.StatusNotFound},
		{domain.ErrEmailTaken, http.StatusConflict},
		{domain.ErrStaleTick, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
