// Package observability holds the Prometheus metrics and the lightweight
// request tracer for the Centi engine.
//
// Every method on *Metrics is nil-safe: components built without metrics
// (tests, the CLI) pass a nil pointer and pay nothing.
package observability

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "centi"

// ═══════════════════════════════════════════════════════════════════════════
// Prometheus Metrics
// ═══════════════════════════════════════════════════════════════════════════

// Metrics groups every collector the engine exports.
type Metrics struct {
	// Ledger
	transactions      *prometheus.CounterVec
	insufficientFunds prometheus.Counter
	decayed           prometheus.Counter

	// Lending
	loansApproved prometheus.Counter
	loansRejected *prometheus.CounterVec
	interestRate  prometheus.Histogram

	// Marketplace
	transitions *prometheus.CounterVec

	// Matching
	ticks        *prometheus.CounterVec
	tickDuration prometheus.Histogram
	matches      prometheus.Gauge
	subscribers  prometheus.Gauge

	// Upkeep jobs
	jobDuration *prometheus.HistogramVec
	jobSuccess  *prometheus.CounterVec
	jobFailure  *prometheus.CounterVec

	// HTTP
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewMetrics registers every collector on reg. A nil reg returns nil, which
// is a valid no-op *Metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	m := &Metrics{
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ledger", Name: "transactions_total",
			Help: "Ledger transactions appended, by kind.",
		}, []string{"kind"}),
		insufficientFunds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ledger", Name: "insufficient_funds_total",
			Help: "Debits rejected for insufficient available balance.",
		}),
		decayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ledger", Name: "decayed_centi_total",
			Help: "Centi removed from circulation by decay.",
		}),
		loansApproved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "lending", Name: "loans_approved_total",
			Help: "Loans approved and booked.",
		}),
		loansRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "lending", Name: "loans_rejected_total",
			Help: "Loan requests rejected, by reason.",
		}, []string{"reason"}),
		interestRate: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "lending", Name: "interest_rate_percent",
			Help:    "Interest rate of approved loans.",
			Buckets: []float64{3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15},
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "marketplace", Name: "transitions_total",
			Help: "Marketplace state transitions, by entity and target state.",
		}, []string{"entity", "to"}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "matching", Name: "ticks_total",
			Help: "Matcher ticks, by outcome (ok, stale, error, skipped).",
		}, []string{"outcome"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "matching", Name: "tick_duration_seconds",
			Help:    "Time spent computing one matcher tick.",
			Buckets: prometheus.DefBuckets,
		}),
		matches: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "matching", Name: "matches",
			Help: "Matches emitted by the latest tick.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "matching", Name: "subscribers",
			Help: "Active match subscriptions.",
		}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "upkeep", Name: "job_duration_seconds",
			Help:    "Duration of upkeep jobs in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		jobSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "upkeep", Name: "job_success_total",
			Help: "Successful upkeep job runs.",
		}, []string{"job"}),
		jobFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "upkeep", Name: "job_failure_total",
			Help: "Failed upkeep job runs.",
		}, []string{"job"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests served, by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(
		m.transactions, m.insufficientFunds, m.decayed,
		m.loansApproved, m.loansRejected, m.interestRate,
		m.transitions,
		m.ticks, m.tickDuration, m.matches, m.subscribers,
		m.jobDuration, m.jobSuccess, m.jobFailure,
		m.httpRequests, m.httpDuration,
	)
	return m
}

// ─── Ledger ─────────────────────────────────────────────────────────────────

func (m *Metrics) Transaction(kind string) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(normalizeLabel(kind)).Inc()
}

func (m *Metrics) InsufficientFunds() {
	if m == nil {
		return
	}
	m.insufficientFunds.Inc()
}

func (m *Metrics) Decayed(amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.decayed.Add(amount)
}

// ─── Lending ────────────────────────────────────────────────────────────────

func (m *Metrics) LoanApproved(rate float64) {
	if m == nil {
		return
	}
	m.loansApproved.Inc()
	m.interestRate.Observe(rate)
}

func (m *Metrics) LoanRejected(reason string) {
	if m == nil {
		return
	}
	m.loansRejected.WithLabelValues(normalizeLabel(reason)).Inc()
}

// ─── Marketplace ────────────────────────────────────────────────────────────

func (m *Metrics) Transition(entity, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(entity), normalizeLabel(to)).Inc()
}

// ─── Matching ───────────────────────────────────────────────────────────────

// Tick records one matcher tick. matches is ignored unless outcome is "ok".
func (m *Metrics) Tick(outcome string, duration time.Duration, matches int) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(normalizeLabel(outcome)).Inc()
	m.tickDuration.Observe(duration.Seconds())
	if outcome == "ok" {
		m.matches.Set(float64(matches))
	}
}

func (m *Metrics) Subscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}

// ─── Upkeep ─────────────────────────────────────────────────────────────────

func (m *Metrics) ObserveJob(job string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	job = normalizeLabel(job)
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
	if err != nil {
		m.jobFailure.WithLabelValues(job).Inc()
		return
	}
	m.jobSuccess.WithLabelValues(job).Inc()
}

// ─── HTTP ───────────────────────────────────────────────────────────────────

func (m *Metrics) HTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	route = normalizeLabel(route)
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

// ═══════════════════════════════════════════════════════════════════════════
// Request Tracer
// ═══════════════════════════════════════════════════════════════════════════

// SpanStatus indicates success/failure.
type SpanStatus int

const (
	SpanOK SpanStatus = iota
	SpanError
)

// Span is one traced operation.
type Span struct {
	TraceID   string            `json:"trace_id"`
	Operation string            `json:"operation"`
	StartTime time.Time         `json:"start_time"`
	Duration  time.Duration     `json:"duration"`
	Status    SpanStatus        `json:"status"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// Tracer keeps the most recent spans in a ring buffer for the admin API.
type Tracer struct {
	mu       sync.Mutex
	spans    []Span
	maxSpans int
	now      func() time.Time
}

// NewTracer creates a tracer holding at most maxSpans spans.
func NewTracer(maxSpans int) *Tracer {
	if maxSpans <= 0 {
		maxSpans = 1_000
	}
	return &Tracer{
		spans:    make([]Span, 0, maxSpans),
		maxSpans: maxSpans,
		now:      time.Now,
	}
}

// Start opens a span. The trace id is taken from ctx or freshly generated.
func (t *Tracer) Start(ctx context.Context, operation string) *Span {
	return &Span{
		TraceID:   TraceID(ctx),
		Operation: operation,
		StartTime: t.now(),
	}
}

// End closes span and records it.
func (t *Tracer) End(span *Span, err error) {
	if span == nil {
		return
	}
	span.Duration = t.now().Sub(span.StartTime)
	if err != nil {
		span.Status = SpanError
		if span.Attrs == nil {
			span.Attrs = make(map[string]string)
		}
		span.Attrs["error"] = err.Error()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.spans) >= t.maxSpans {
		t.spans = t.spans[1:]
	}
	t.spans = append(t.spans, *span)
}

// Spans returns up to limit of the most recent spans, oldest first.
func (t *Tracer) Spans(limit int) []Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	if limit <= 0 || limit > len(t.spans) {
		limit = len(t.spans)
	}
	out := make([]Span, limit)
	copy(out, t.spans[len(t.spans)-limit:])
	return out
}

type traceKey struct{}

// WithTraceID returns a context carrying traceID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID returns the trace id carried by ctx, or a new one.
func TraceID(ctx context.Context) string {
	if ctx != nil {
		if v, ok := ctx.Value(traceKey{}).(string); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
