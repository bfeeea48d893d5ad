// Package marketplace runs the service lifecycle: listings, requests against
// them, completion with payment, and the service hours that follow.
//
// Every transition runs under one marketplace mutex. The mutex may call into
// the ledger and the reputation tracker; neither ever calls back.
package marketplace

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"github.com/centi-network/centi/internal/app/ledger"
	"github.com/centi-network/centi/internal/domain"
	"github.com/centi-network/centi/internal/infra/logging"
	"github.com/centi-network/centi/internal/infra/observability"
)

// ─── Collaborators ──────────────────────────────────────────────────────────

// Accounts is the ledger surface the marketplace needs.
type Accounts interface {
	Balance(participantID string) (domain.Balance, error)
	Reserve(ctx context.Context, participantID string, amount decimal.Decimal) (domain.Balance, error)
	Release(ctx context.Context, participantID string, amount decimal.Decimal) (domain.Balance, error)
	SettleReserved(ctx context.Context, participantID string, amount decimal.Decimal, description string, opts ...ledger.TxOption) (domain.Balance, error)
	ReverseSettlement(ctx context.Context, participantID string, amount decimal.Decimal, description string, opts ...ledger.TxOption) (domain.Balance, error)
	Credit(ctx context.Context, participantID string, amount decimal.Decimal, kind domain.TransactionKind, description string, opts ...ledger.TxOption) (domain.Balance, error)
}

// Categories resolves rate-table entries.
type Categories interface {
	Get(id string) (domain.ServiceCategory, error)
}

// Reputation receives completion, delivery and rating signals.
type Reputation interface {
	RecordCompletion(participantID string, onTime bool) (domain.Reputation, error)
	RecordDelivery(participantID string) (domain.Reputation, error)
	RecordRating(participantID string, rating int) (domain.Reputation, error)
}

// HourTotals receives verified hours for the participant record.
type HourTotals interface {
	AddHours(ctx context.Context, participantID string, delivered, received float64) error
}

// Options wires a Marketplace. Accounts and Categories are required.
type Options struct {
	Accounts   Accounts
	Categories Categories
	Reputation Reputation
	HourTotals HourTotals
	Logger     *logging.Logger
	Metrics    *observability.Metrics
}

// ─── Marketplace ────────────────────────────────────────────────────────────

// Marketplace holds listings, requests and hour entries.
type Marketplace struct {
	accounts   Accounts
	categories Categories
	reputation Reputation
	hourTotals HourTotals
	logger     *logging.Logger
	metrics    *observability.Metrics

	mu       sync.Mutex
	services map[string]domain.Service
	requests map[string]domain.ServiceRequest
	hours    map[string]domain.ServiceHour
	version  uint64

	now func() time.Time
}

// New creates a Marketplace.
func New(opts Options) *Marketplace {
	m := &Marketplace{
		accounts:   opts.Accounts,
		categories: opts.Categories,
		reputation: opts.Reputation,
		hourTotals: opts.HourTotals,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		services:   make(map[string]domain.Service),
		requests:   make(map[string]domain.ServiceRequest),
		hours:      make(map[string]domain.ServiceHour),
		now:        time.Now,
	}
	if m.logger == nil {
		m.logger = logging.Nop()
	}
	return m
}

// SetClock replaces the time source. Tests only.
func (m *Marketplace) SetClock(now func() time.Time) { m.now = now }

// bump records a state change; callers hold m.mu.
func (m *Marketplace) bump(entity, to string) {
	m.version++
	m.metrics.Transition(entity, to)
}

func timePtr(t time.Time) *time.Time { return &t }

// ─── Listings ───────────────────────────────────────────────────────────────

// ServiceInput describes a new listing. Hours is accepted for clients that
// send an estimate but never priced: every listing is sold at its
// category's standard hours.
type ServiceInput struct {
	ProviderID  string  `json:"provider_id" validate:"required"`
	CategoryID  string  `json:"category_id" validate:"required"`
	Title       string  `json:"title" validate:"max=200"`
	Description string  `json:"description" validate:"max=4000"`
	Hours       float64 `json:"hours,omitempty" validate:"gte=0"`
}

// CreateService lists a service priced at the category's standard hours.
// The price is frozen here; later rate changes do not touch it. The
// provider must hold a ledger balance to be paid into.
func (m *Marketplace) CreateService(ctx context.Context, in ServiceInput) (domain.Service, error) {
	cat, err := m.categories.Get(in.CategoryID)
	if err != nil {
		return domain.Service{}, err
	}
	if _, err := m.accounts.Balance(in.ProviderID); err != nil {
		return domain.Service{}, fmt.Errorf("list service for %s: %w", in.ProviderID, err)
	}
	hours := cat.StandardHours
	if in.Hours != 0 && in.Hours != hours {
		m.logger.Debug(m.logger.WithField(ctx, "category", cat.ID),
			fmt.Sprintf("hours estimate %v ignored, listing at %v", in.Hours, hours))
	}
	title := in.Title
	if title == "" {
		title = cat.Name
	}

	svc := domain.Service{
		ID:          uuid.NewString(),
		ProviderID:  in.ProviderID,
		CategoryID:  cat.ID,
		Title:       title,
		Description: in.Description,
		Hours:       hours,
		PriceTotal:  cat.Price(hours),
		Status:      domain.ServiceAvailable,
		CreatedAt:   m.now(),
	}

	m.mu.Lock()
	m.services[svc.ID] = svc
	m.bump("service", string(svc.Status))
	m.mu.Unlock()

	m.logger.Info(m.logger.WithFields(ctx, map[string]any{
		"service_id": svc.ID, "provider_id": svc.ProviderID, "category": svc.CategoryID,
	}), "service listed")
	return svc, nil
}

// CancelService withdraws a listing. Any open request on it is cancelled and
// its reservation released.
func (m *Marketplace) CancelService(ctx context.Context, serviceID, providerID string) (domain.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	svc, ok := m.services[serviceID]
	if !ok {
		return domain.Service{}, fmt.Errorf("service %s: %w", serviceID, domain.ErrServiceNotFound)
	}
	if svc.ProviderID != providerID {
		return svc, fmt.Errorf("cancel service %s: %w", serviceID, domain.ErrForbidden)
	}
	if svc.Status != domain.ServiceAvailable && svc.Status != domain.ServiceInProgress {
		return svc, fmt.Errorf("service %s is %s: %w", serviceID, svc.Status, domain.ErrInvalidTransition)
	}

	for id, req := range m.requests {
		if req.ServiceID != serviceID || !req.Status.IsOpen() {
			continue
		}
		if err := m.cancelRequestLocked(ctx, id); err != nil {
			return svc, err
		}
	}

	svc = m.services[serviceID]
	svc.Status = domain.ServiceCancelled
	m.services[serviceID] = svc
	m.bump("service", string(svc.Status))
	return svc, nil
}

// ─── Requests ───────────────────────────────────────────────────────────────

// RequestService opens a request on an available listing and reserves its
// price on the requester's balance.
func (m *Marketplace) RequestService(ctx context.Context, requesterID, serviceID string, deadline *time.Time) (domain.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	svc, ok := m.services[serviceID]
	if !ok {
		return domain.ServiceRequest{}, fmt.Errorf("service %s: %w", serviceID, domain.ErrServiceNotFound)
	}
	if svc.ProviderID == requesterID {
		return domain.ServiceRequest{}, fmt.Errorf("request own service %s: %w", serviceID, domain.ErrForbidden)
	}
	if svc.Status != domain.ServiceAvailable {
		return domain.ServiceRequest{}, fmt.Errorf("service %s is %s: %w", serviceID, svc.Status, domain.ErrInvalidTransition)
	}

	if _, err := m.accounts.Reserve(ctx, requesterID, svc.PriceTotal); err != nil {
		return domain.ServiceRequest{}, fmt.Errorf("reserve for service %s: %w", serviceID, err)
	}

	req := domain.ServiceRequest{
		ID:           uuid.NewString(),
		RequesterID:  requesterID,
		ServiceID:    serviceID,
		Status:       domain.RequestPending,
		LockedAmount: svc.PriceTotal,
		Deadline:     deadline,
		RequestedAt:  m.now(),
	}
	m.requests[req.ID] = req
	m.bump("request", string(req.Status))

	svc.Status = domain.ServiceInProgress
	m.services[serviceID] = svc
	m.bump("service", string(svc.Status))
	return req, nil
}

// AcceptRequest is the provider taking the job.
func (m *Marketplace) AcceptRequest(ctx context.Context, requestID, providerID string) (domain.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, svc, err := m.requestLocked(requestID)
	if err != nil {
		return req, err
	}
	if svc.ProviderID != providerID {
		return req, fmt.Errorf("accept request %s: %w", requestID, domain.ErrForbidden)
	}
	if !req.Status.CanTransition(domain.RequestAccepted) {
		return req, fmt.Errorf("request %s %s → accepted: %w", requestID, req.Status, domain.ErrInvalidTransition)
	}
	req.Status = domain.RequestAccepted
	req.AcceptedAt = timePtr(m.now())
	m.requests[requestID] = req
	m.bump("request", string(req.Status))
	return req, nil
}

// CompleteRequest closes an accepted request. The requester's reservation
// is spent and the provider is credited the listing price, once. The
// provider earns the category's standard hours as a pending entry awaiting
// the requester's approval.
//
// The request is marked completed only after both sides of the payment are
// booked. If the provider credit fails the settlement is reversed, the
// reservation is live again and the request stays accepted for a retry.
func (m *Marketplace) CompleteRequest(ctx context.Context, requestID string) (domain.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, svc, err := m.requestLocked(requestID)
	if err != nil {
		return req, err
	}
	if !req.Status.CanTransition(domain.RequestCompleted) {
		return req, fmt.Errorf("request %s %s → completed: %w", requestID, req.Status, domain.ErrInvalidTransition)
	}
	ctx = m.logger.WithFields(ctx, map[string]any{"request_id": requestID, "service_id": svc.ID})

	if _, err := m.accounts.Balance(svc.ProviderID); err != nil {
		return req, fmt.Errorf("complete request %s: provider: %w", requestID, err)
	}
	if _, err := m.accounts.SettleReserved(ctx, req.RequesterID, req.LockedAmount,
		"service: "+svc.Title, ledger.WithServiceID(svc.ID), ledger.WithCounterparty(svc.ProviderID)); err != nil {
		return req, fmt.Errorf("settle request %s: %w", requestID, err)
	}
	if _, err := m.accounts.Credit(ctx, svc.ProviderID, svc.PriceTotal, domain.TxEarn,
		"service: "+svc.Title, ledger.WithServiceID(svc.ID), ledger.WithCounterparty(req.RequesterID)); err != nil {
		m.logger.Error(ctx, "provider credit failed", err)
		if _, rerr := m.accounts.ReverseSettlement(ctx, req.RequesterID, req.LockedAmount,
			"reversal: "+svc.Title, ledger.WithServiceID(svc.ID), ledger.WithCounterparty(svc.ProviderID)); rerr != nil {
			m.logger.Error(ctx, "settlement reversal failed", rerr)
			return req, fmt.Errorf("credit provider for request %s: %w", requestID, multierr.Append(err, rerr))
		}
		return req, fmt.Errorf("credit provider for request %s: %w", requestID, err)
	}

	now := m.now()
	req.Status = domain.RequestCompleted
	req.CompletedAt = timePtr(now)
	m.requests[requestID] = req
	m.bump("request", string(req.Status))

	svc.Status = domain.ServiceCompleted
	svc.CompletedAt = timePtr(now)
	m.services[svc.ID] = svc
	m.bump("service", string(svc.Status))

	billed := svc.Hours
	if cat, err := m.categories.Get(svc.CategoryID); err == nil {
		billed = cat.StandardHours
	}
	entry := domain.ServiceHour{
		ID:            uuid.NewString(),
		ParticipantID: svc.ProviderID,
		RequestID:     requestID,
		CategoryID:    svc.CategoryID,
		Kind:          domain.HoursEarned,
		Hours:         billed,
		Status:        domain.HourPending,
		CreatedAt:     now,
	}
	m.hours[entry.ID] = entry

	if m.reputation != nil {
		onTime := req.Deadline == nil || !now.After(*req.Deadline)
		if _, err := m.reputation.RecordCompletion(svc.ProviderID, onTime); err != nil {
			m.logger.Warn(ctx, "record completion: "+err.Error())
		}
		if _, err := m.reputation.RecordDelivery(svc.ProviderID); err != nil {
			m.logger.Warn(ctx, "record delivery: "+err.Error())
		}
	}

	m.logger.Info(ctx, "request completed")
	return req, nil
}

// CancelRequest cancels a pending or accepted request, releases the
// reservation and puts the listing back on the market.
func (m *Marketplace) CancelRequest(ctx context.Context, requestID string) (domain.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.cancelRequestLocked(ctx, requestID); err != nil {
		req := m.requests[requestID]
		return req, err
	}
	return m.requests[requestID], nil
}

func (m *Marketplace) cancelRequestLocked(ctx context.Context, requestID string) error {
	req, svc, err := m.requestLocked(requestID)
	if err != nil {
		return err
	}
	if !req.Status.CanTransition(domain.RequestCancelled) {
		return fmt.Errorf("request %s %s → cancelled: %w", requestID, req.Status, domain.ErrInvalidTransition)
	}
	if req.LockedAmount.IsPositive() {
		if _, err := m.accounts.Release(ctx, req.RequesterID, req.LockedAmount); err != nil {
			return fmt.Errorf("release request %s: %w", requestID, err)
		}
	}

	req.Status = domain.RequestCancelled
	req.CancelledAt = timePtr(m.now())
	m.requests[requestID] = req
	m.bump("request", string(req.Status))

	if svc.Status == domain.ServiceInProgress {
		svc.Status = domain.ServiceAvailable
		m.services[svc.ID] = svc
		m.bump("service", string(svc.Status))
	}
	return nil
}

// RateRequest lets the requester rate a completed request once.
func (m *Marketplace) RateRequest(ctx context.Context, requestID, requesterID string, rating int) (domain.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, svc, err := m.requestLocked(requestID)
	if err != nil {
		return req, err
	}
	if req.RequesterID != requesterID {
		return req, fmt.Errorf("rate request %s: %w", requestID, domain.ErrForbidden)
	}
	if req.Status != domain.RequestCompleted || req.Rating != 0 {
		return req, fmt.Errorf("rate request %s: %w", requestID, domain.ErrInvalidTransition)
	}
	if rating < 1 || rating > 5 {
		return req, fmt.Errorf("rating %d: %w", rating, domain.ErrInvalidRating)
	}
	if m.reputation != nil {
		if _, err := m.reputation.RecordRating(svc.ProviderID, rating); err != nil {
			return req, err
		}
	}
	req.Rating = rating
	m.requests[requestID] = req
	m.version++
	return req, nil
}

func (m *Marketplace) requestLocked(requestID string) (domain.ServiceRequest, domain.Service, error) {
	req, ok := m.requests[requestID]
	if !ok {
		return domain.ServiceRequest{}, domain.Service{}, fmt.Errorf("request %s: %w", requestID, domain.ErrRequestNotFound)
	}
	svc, ok := m.services[req.ServiceID]
	if !ok {
		return req, domain.Service{}, fmt.Errorf("service %s: %w", req.ServiceID, domain.ErrServiceNotFound)
	}
	return req, svc, nil
}

// ─── Queries ────────────────────────────────────────────────────────────────

// Service returns one listing.
func (m *Marketplace) Service(serviceID string) (domain.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	svc, ok := m.services[serviceID]
	if !ok {
		return domain.Service{}, fmt.Errorf("service %s: %w", serviceID, domain.ErrServiceNotFound)
	}
	return svc, nil
}

// Request returns one request.
func (m *Marketplace) Request(requestID string) (domain.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[requestID]
	if !ok {
		return domain.ServiceRequest{}, fmt.Errorf("request %s: %w", requestID, domain.ErrRequestNotFound)
	}
	return req, nil
}

// ServiceFilter narrows Services. Empty fields match everything.
type ServiceFilter struct {
	ProviderID string
	CategoryID string
	Status     domain.ServiceStatus
}

// Services lists listings matching f, oldest first.
func (m *Marketplace) Services(f ServiceFilter) []domain.Service {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Service, 0, len(m.services))
	for _, s := range m.services {
		if (f.ProviderID == "" || s.ProviderID == f.ProviderID) &&
			(f.CategoryID == "" || s.CategoryID == f.CategoryID) &&
			(f.Status == "" || s.Status == f.Status) {
			out = append(out, s)
		}
	}
	sortServices(out)
	return out
}

// Requests lists the requests a participant made or received, oldest first.
func (m *Marketplace) Requests(participantID string) []domain.ServiceRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ServiceRequest, 0)
	for _, r := range m.requests {
		if r.RequesterID == participantID || m.services[r.ServiceID].ProviderID == participantID {
			out = append(out, r)
		}
	}
	sortRequests(out)
	return out
}

// DemandIndex is the share of live listings currently taken, 0–100.
// With no live listings the market is reported neutral.
func (m *Marketplace) DemandIndex() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var live, taken int
	for _, s := range m.services {
		switch s.Status {
		case domain.ServiceAvailable:
			live++
		case domain.ServiceInProgress:
			live++
			taken++
		}
	}
	if live == 0 {
		return 50
	}
	return float64(taken) / float64(live) * 100
}

// Version increments on every state change.
func (m *Marketplace) Version() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version
}

// Snapshot is a consistent copy of the marketplace.
type Snapshot struct {
	Version  uint64
	Services []domain.Service
	Requests []domain.ServiceRequest
	Hours    []domain.ServiceHour
}

// Snapshot copies every listing, request and hour entry at one version.
func (m *Marketplace) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		Version:  m.version,
		Services: make([]domain.Service, 0, len(m.services)),
		Requests: make([]domain.ServiceRequest, 0, len(m.requests)),
		Hours:    make([]domain.ServiceHour, 0, len(m.hours)),
	}
	for _, s := range m.services {
		snap.Services = append(snap.Services, s)
	}
	for _, r := range m.requests {
		snap.Requests = append(snap.Requests, r)
	}
	for _, h := range m.hours {
		snap.Hours = append(snap.Hours, h)
	}
	sortServices(snap.Services)
	sortRequests(snap.Requests)
	sortHours(snap.Hours)
	return snap
}

func sortServices(s []domain.Service) {
	sort.Slice(s, func(i, j int) bool {
		if !s[i].CreatedAt.Equal(s[j].CreatedAt) {
			return s[i].CreatedAt.Before(s[j].CreatedAt)
		}
		return s[i].ID < s[j].ID
	})
}

func sortRequests(r []domain.ServiceRequest) {
	sort.Slice(r, func(i, j int) bool {
		if !r[i].RequestedAt.Equal(r[j].RequestedAt) {
			return r[i].RequestedAt.Before(r[j].RequestedAt)
		}
		return r[i].ID < r[j].ID
	})
}

func sortHours(h []domain.ServiceHour) {
	sort.Slice(h, func(i, j int) bool {
		if !h[i].CreatedAt.Equal(h[j].CreatedAt) {
			return h[i].CreatedAt.Before(h[j].CreatedAt)
		}
		return h[i].ID < h[j].ID
	})
}
