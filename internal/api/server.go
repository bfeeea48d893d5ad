// Package api provides the HTTP server for Centi.
// It exposes the ledger, lending, marketplace and matching operations as a
// JSON REST API, the payment settlement callback, the admin surface and a
// WebSocket match feed.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/centi-network/centi/internal/app/directory"
	"github.com/centi-network/centi/internal/app/ledger"
	"github.com/centi-network/centi/internal/app/lending"
	"github.com/centi-network/centi/internal/app/marketplace"
	"github.com/centi-network/centi/internal/app/matching"
	"github.com/centi-network/centi/internal/app/policy"
	"github.com/centi-network/centi/internal/domain"
	"github.com/centi-network/centi/internal/infra/catalog"
	"github.com/centi-network/centi/internal/infra/logging"
	"github.com/centi-network/centi/internal/infra/observability"
	"github.com/centi-network/centi/internal/infra/reputation"
)

// Version is reported by /api/version.
var Version = "0.1.0"

// CategoryPersister saves rate-table edits.
type CategoryPersister interface {
	UpsertCategory(ctx context.Context, c domain.ServiceCategory) error
}

// Deps are the services the server exposes. Directory, Ledger, Lending,
// Marketplace, Matcher, Categories and Policy are required.
type Deps struct {
	Directory   *directory.Directory
	Ledger      *ledger.Ledger
	Lending     *lending.Engine
	Marketplace *marketplace.Marketplace
	Matcher     *matching.Scheduler
	Reputation  *reputation.Tracker
	Categories  *catalog.RateTable
	Policy      *policy.Store

	CategoryStore CategoryPersister
	Logger        *logging.Logger
	Metrics       *observability.Metrics
	Tracer        *observability.Tracer

	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer

	// RateLimit is requests per RatePeriod per client IP; 0 disables it.
	RateLimit  int64
	RatePeriod time.Duration
}

// Server is the Centi HTTP API server.
type Server struct {
	deps     Deps
	logger   *logging.Logger
	validate *validator.Validate
}

// NewServer creates a new API server.
func NewServer(deps Deps) *Server {
	s := &Server{deps: deps, logger: deps.Logger, validate: validator.New()}
	if s.logger == nil {
		s.logger = logging.Nop()
	}
	return s
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(s.observe)
	if s.deps.RateLimit > 0 {
		r.Use(RateLimit(s.deps.RateLimit, s.deps.RatePeriod))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/api/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": Version})
	})

	// The match feed holds its connection open; it stays outside the timeout.
	r.Get("/api/matches/ws", s.handleMatchFeed)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Route("/api/participants", func(r chi.Router) {
			r.Post("/", s.handleRegister)
			r.Get("/", s.handleFindParticipant)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetParticipant)
				r.Put("/verified", s.handleSetVerified)
				r.Put("/kyc", s.handleSetKYC)
				r.Get("/balance", s.handleBalance)
				r.Get("/transactions", s.handleTransactions)
				r.Get("/loans", s.handleParticipantLoans)
				r.Get("/profile", s.handleBorrowerProfile)
				r.Get("/reputation", s.handleReputation)
				r.Get("/hours", s.handleParticipantHours)
				r.Get("/requests", s.handleParticipantRequests)
			})
		})

		r.Post("/api/settlements", s.handleSettlement)

		r.Route("/api/loans", func(r chi.Router) {
			r.Get("/market", s.handleLendingMarket)
			r.Post("/quote", s.handleLoanQuote)
			r.Post("/", s.handleLoanApprove)
			r.Get("/{id}", s.handleGetLoan)
			r.Get("/{id}/payoff", s.handleLoanPayoff)
			r.Post("/{id}/repay", s.handleLoanRepay)
		})

		r.Route("/api/services", func(r chi.Router) {
			r.Get("/", s.handleListServices)
			r.Post("/", s.handleCreateService)
			r.Get("/{id}", s.handleGetService)
			r.Post("/{id}/cancel", s.handleCancelService)
			r.Post("/{id}/requests", s.handleRequestService)
		})

		r.Route("/api/requests/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetRequest)
			r.Post("/accept", s.handleAcceptRequest)
			r.Post("/complete", s.handleCompleteRequest)
			r.Post("/cancel", s.handleCancelRequest)
			r.Post("/rate", s.handleRateRequest)
		})

		r.Route("/api/hours", func(r chi.Router) {
			r.Post("/commit", s.handleCommitHours)
			r.Post("/{id}/approve", s.handleApproveHours)
			r.Post("/{id}/complete", s.handleCompleteHours)
		})

		r.Get("/api/matches", s.handleMatches)
		r.Get("/api/reputation/top", s.handleTopReputation)

		r.Route("/api/admin", func(r chi.Router) {
			r.Get("/categories", s.handleListCategories)
			r.Get("/categories/{id}", s.handleGetCategory)
			r.Put("/categories/{id}", s.handlePutCategory)
			r.Get("/policy", s.handleGetPolicy)
			r.Put("/policy", s.handlePutPolicy)
			r.Post("/credits", s.handleAdminCredit)
			r.Post("/debits", s.handleAdminDebit)
			r.Post("/badges", s.handleAwardBadge)
			r.Get("/circulation", s.handleCirculation)
			r.Get("/traces", s.handleTraces)
		})
	})

	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

// ─── Middleware ─────────────────────────────────────────────────────────────

// observe records a span, request metrics and a request-scoped logger.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := middleware.GetReqID(r.Context())
		ctx := s.logger.WithRequestID(r.Context(), reqID)
		if reqID != "" {
			ctx = observability.WithTraceID(ctx, reqID)
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		var span *observability.Span
		if s.deps.Tracer != nil {
			span = s.deps.Tracer.Start(ctx, r.Method+" "+r.URL.Path)
		}

		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		s.deps.Metrics.HTTPRequest(r.Method, route, status, time.Since(start))
		if span != nil {
			var err error
			if status >= http.StatusInternalServerError {
				err = fmt.Errorf("status %d", status)
			}
			s.deps.Tracer.End(span, err)
		}
	})
}

// corsMiddleware adds CORS headers for browser clients.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ─── Request / Response Helpers ─────────────────────────────────────────────

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errorType(status),
		},
	})
}

func errorType(status int) string {
	switch {
	case status == http.StatusNotFound:
		return "not_found"
	case status == http.StatusConflict:
		return "conflict"
	case status == http.StatusForbidden:
		return "forbidden"
	case status == http.StatusUnprocessableEntity:
		return "rejected"
	case status >= http.StatusInternalServerError:
		return "internal"
	}
	return "invalid_request"
}

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrParticipantNotFound),
		errors.Is(err, domain.ErrBalanceNotFound),
		errors.Is(err, domain.ErrLoanNotFound),
		errors.Is(err, domain.ErrServiceNotFound),
		errors.Is(err, domain.ErrRequestNotFound),
		errors.Is(err, domain.ErrHoursNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrBorrowingLimitExceeded),
		errors.Is(err, domain.ErrBelowMinimumLoan):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrLoanClosed),
		errors.Is(err, domain.ErrEmailTaken),
		errors.Is(err, domain.ErrBalanceExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidKind),
		errors.Is(err, domain.ErrInvalidCategory),
		errors.Is(err, domain.ErrInvalidRepayment),
		errors.Is(err, domain.ErrInvalidRating):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// fail writes err with its mapped status. Unmapped errors are logged and
// reported without detail.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request failed", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

// decode reads a JSON body into v and validates its struct tags.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
