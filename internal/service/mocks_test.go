package service_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"booking/internal/domain"
	"booking/internal/repository"
	"booking/internal/service"
)

// ──────────────────────────────────────────────
// MOCK BOOKING REPOSITORY
// ──────────────────────────────────────────────

// MockBookingRepository is an in-memory BookingRepository whose Transition
// is a compare-and-set under a single mutex.
type MockBookingRepository struct {
	mu       sync.Mutex
	bookings map[string]*domain.Booking

	CreateCallCount      int32
	TransitionCallCount  int32
	ListExpiredCallCount int32

	CreateError error
}

func NewMockBookingRepository() *MockBookingRepository {
	return &MockBookingRepository{bookings: make(map[string]*domain.Booking)}
}

// AddBooking seeds a booking.
func (m *MockBookingRepository) AddBooking(b *domain.Booking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *b
	m.bookings[b.ID] = &c
}

func (m *MockBookingRepository) Create(ctx context.Context, b *domain.Booking) error {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.bookings {
		if existing.Customer.Email == b.Customer.Email && isActive(existing.Status) {
			return repository.ErrDuplicate
		}
	}
	c := *b
	m.bookings[b.ID] = &c
	return nil
}

func (m *MockBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *b
	return &c, nil
}

func (m *MockBookingRepository) ExistsActiveForEmail(ctx context.Context, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = domain.NormalizeEmail(email)
	for _, b := range m.bookings {
		if b.Customer.Email == email && isActive(b.Status) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockBookingRepository) Transition(ctx context.Context, id string, from []domain.BookingStatus, change domain.BookingChange) (*domain.Booking, error) {
	atomic.AddInt32(&m.TransitionCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bookings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !containsStatus(from, b.Status) {
		return nil, repository.ErrConditionFailed
	}
	if change.ExpiredBefore != nil && (b.PaymentExpirationDate == nil || !b.PaymentExpirationDate.Before(*change.ExpiredBefore)) {
		return nil, repository.ErrConditionFailed
	}
	if change.EndedBefore != nil && b.CheckOut.After(*change.EndedBefore) {
		return nil, repository.ErrConditionFailed
	}

	if change.Status != "" {
		b.Status = change.Status
	}
	if change.PaymentMethod != "" {
		b.PaymentMethod = change.PaymentMethod
	}
	setTime(&b.ApprovalDate, change.ApprovalDate)
	setTime(&b.RejectionDate, change.RejectionDate)
	setTime(&b.ConfirmationDate, change.ConfirmationDate)
	setTime(&b.CancellationDate, change.CancellationDate)
	setTime(&b.CompletionDate, change.CompletionDate)
	setTime(&b.PaymentExpirationDate, change.PaymentExpirationDate)

	c := *b
	return &c, nil
}

func (m *MockBookingRepository) ListExpiredApprovals(ctx context.Context, now time.Time, after *repository.ExpiryCursor, limit int) ([]*domain.Booking, error) {
	atomic.AddInt32(&m.ListExpiredCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Booking
	for _, b := range m.bookings {
		if !b.PaymentOverdue(now) {
			continue
		}
		if after != nil {
			d := *b.PaymentExpirationDate
			if d.Before(after.Deadline) || (d.Equal(after.Deadline) && b.ID <= after.ID) {
				continue
			}
		}
		c := *b
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := *out[i].PaymentExpirationDate, *out[j].PaymentExpirationDate
		if di.Equal(dj) {
			return out[i].ID < out[j].ID
		}
		return di.Before(dj)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Status returns the stored status for assertions.
func (m *MockBookingRepository) Status(id string) domain.BookingStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bookings[id].Status
}

func isActive(s domain.BookingStatus) bool {
	return containsStatus(domain.ActiveBookingStatuses, s)
}

func containsStatus(set []domain.BookingStatus, s domain.BookingStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func setTime(dst **time.Time, v *time.Time) {
	if v != nil {
		t := *v
		*dst = &t
	}
}

// ──────────────────────────────────────────────
// MOCK PAYMENT REPOSITORY
// ──────────────────────────────────────────────

type MockPaymentRepository struct {
	mu       sync.Mutex
	payments map[string]*domain.Payment

	CreateCallCount      int32
	ApplyStatusCallCount int32

	CreateError error
}

func NewMockPaymentRepository() *MockPaymentRepository {
	return &MockPaymentRepository{payments: make(map[string]*domain.Payment)}
}

func (m *MockPaymentRepository) AddPayment(p *domain.Payment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *p
	m.payments[p.ID] = &c
}

func (m *MockPaymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.payments {
		if existing.BookingID == p.BookingID && existing.Status == domain.PaymentStatusPending {
			return repository.ErrDuplicate
		}
	}
	c := *p
	m.payments[p.ID] = &c
	return nil
}

func (m *MockPaymentRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (m *MockPaymentRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.SessionID == externalID || (p.IntentID != "" && p.IntentID == externalID) {
			c := *p
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *MockPaymentRepository) GetPendingByBookingID(ctx context.Context, bookingID string) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.BookingID == bookingID && p.Status == domain.PaymentStatusPending {
			c := *p
			return &c, nil
		}
	}
	return nil, nil
}

func (m *MockPaymentRepository) SetCheckoutSession(ctx context.Context, id, sessionID, checkoutURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.SessionID = sessionID
	p.CheckoutURL = checkoutURL
	return nil
}

func (m *MockPaymentRepository) ApplyStatus(ctx context.Context, id string, update repository.PaymentStatusUpdate) (*domain.Payment, error) {
	atomic.AddInt32(&m.ApplyStatusCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if p.Status != domain.PaymentStatusPending {
		return nil, repository.ErrConditionFailed
	}
	p.Status = update.Status
	if p.IntentID == "" {
		p.IntentID = update.IntentID
	}
	if p.Metadata == nil {
		p.Metadata = map[string]string{}
	}
	for k, v := range update.Metadata {
		p.Metadata[k] = v
	}
	at := update.At
	switch update.Status {
	case domain.PaymentStatusPaid:
		p.PaidAt = &at
	case domain.PaymentStatusFailed:
		p.FailedAt = &at
	}
	c := *p
	return &c, nil
}

// Payments returns copies of all stored payments.
func (m *MockPaymentRepository) Payments() []domain.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Payment, 0, len(m.payments))
	for _, p := range m.payments {
		out = append(out, *p)
	}
	return out
}

// ──────────────────────────────────────────────
// MOCK CONNECT ACCOUNTS / PROCESSED EVENTS
// ──────────────────────────────────────────────

type MockConnectAccountRepository struct {
	mu       sync.Mutex
	accounts map[string]*domain.ConnectAccount

	UpsertCallCount int32
}

func NewMockConnectAccountRepository(accounts ...*domain.ConnectAccount) *MockConnectAccountRepository {
	m := &MockConnectAccountRepository{accounts: make(map[string]*domain.ConnectAccount)}
	for _, a := range accounts {
		c := *a
		m.accounts[a.HostID] = &c
	}
	return m
}

func (m *MockConnectAccountRepository) GetByHostID(ctx context.Context, hostID string) (*domain.ConnectAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[hostID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *a
	return &c, nil
}

func (m *MockConnectAccountRepository) Upsert(ctx context.Context, account *domain.ConnectAccount) error {
	atomic.AddInt32(&m.UpsertCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *account
	m.accounts[account.HostID] = &c
	return nil
}

type processedEntry struct {
	kind       string
	done       bool
	leaseUntil time.Time
}

type MockProcessedEventRepository struct {
	mu     sync.Mutex
	claims map[string]*processedEntry

	ReleaseCallCount  int32
	CompleteCallCount int32
}

func NewMockProcessedEventRepository() *MockProcessedEventRepository {
	return &MockProcessedEventRepository{claims: make(map[string]*processedEntry)}
}

func (m *MockProcessedEventRepository) Claim(ctx context.Context, eventID, kind string, now, leaseUntil time.Time) (repository.ClaimResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.claims[eventID]; ok {
		if e.done {
			return repository.ClaimDone, nil
		}
		if !e.leaseUntil.Before(now) {
			return repository.ClaimInFlight, nil
		}
	}
	m.claims[eventID] = &processedEntry{kind: kind, leaseUntil: leaseUntil}
	return repository.ClaimAcquired, nil
}

func (m *MockProcessedEventRepository) Complete(ctx context.Context, eventID string, at time.Time) error {
	atomic.AddInt32(&m.CompleteCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.claims[eventID]
	if !ok {
		return repository.ErrNotFound
	}
	e.done = true
	e.leaseUntil = time.Time{}
	return nil
}

func (m *MockProcessedEventRepository) Release(ctx context.Context, eventID string) error {
	atomic.AddInt32(&m.ReleaseCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.claims[eventID]; ok && !e.done {
		delete(m.claims, eventID)
	}
	return nil
}

func (m *MockProcessedEventRepository) Claimed(eventID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.claims[eventID]
	return ok
}

func (m *MockProcessedEventRepository) Done(eventID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.claims[eventID]
	return ok && e.done
}

// ──────────────────────────────────────────────
// MOCK GATEWAY / CONFIRMER / EMITTER
// ──────────────────────────────────────────────

type MockGateway struct {
	mu       sync.Mutex
	sessions []service.CheckoutSessionParams

	// PayoutsEnabled is what RetrieveAccount reports.
	PayoutsEnabled bool

	CheckoutCallCount int32
	RetrieveCallCount int32

	CheckoutError error
}

func (m *MockGateway) CreateCheckoutSession(ctx context.Context, params service.CheckoutSessionParams) (*service.CheckoutSession, error) {
	n := atomic.AddInt32(&m.CheckoutCallCount, 1)
	if m.CheckoutError != nil {
		return nil, m.CheckoutError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, params)
	id := "cs_test_" + string(rune('a'+n-1))
	return &service.CheckoutSession{ID: id, URL: "https://checkout.test/" + id}, nil
}

func (m *MockGateway) RetrieveAccount(ctx context.Context, accountID string) (*service.AccountStatus, error) {
	atomic.AddInt32(&m.RetrieveCallCount, 1)
	return &service.AccountStatus{AccountID: accountID, PayoutsEnabled: m.PayoutsEnabled}, nil
}

func (m *MockGateway) CreateOnboardingLink(ctx context.Context, accountID string) (string, error) {
	return "https://connect.test/onboard/" + accountID, nil
}

func (m *MockGateway) LastSession() service.CheckoutSessionParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[len(m.sessions)-1]
}

type MockConfirmer struct {
	mu    sync.Mutex
	confs []domain.PaymentConfirmation

	Error error
}

func (m *MockConfirmer) ConfirmBooking(ctx context.Context, conf domain.PaymentConfirmation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confs = append(m.confs, conf)
	return m.Error
}

func (m *MockConfirmer) Calls() []domain.PaymentConfirmation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.PaymentConfirmation(nil), m.confs...)
}

// MockEmitter records emitted booking events.
type MockEmitter struct {
	mu     sync.Mutex
	events []domain.BookingEvent
}

func (m *MockEmitter) Emit(ctx context.Context, event domain.BookingEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *MockEmitter) Events() []domain.BookingEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.BookingEvent(nil), m.events...)
}

func (m *MockEmitter) Count(t domain.BookingEventType) int {
	n := 0
	for _, e := range m.Events() {
		if e.Type == t {
			n++
		}
	}
	return n
}

// MockPublisher records notification publishes.
type MockPublisher struct {
	mu   sync.Mutex
	keys []string
	body []interface{}

	Error error
}

func (m *MockPublisher) Publish(ctx context.Context, routingKey string, body interface{}) error {
	if m.Error != nil {
		return m.Error
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, routingKey)
	m.body = append(m.body, body)
	return nil
}

func (m *MockPublisher) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.keys...)
}

var errBoom = errors.New("boom")
