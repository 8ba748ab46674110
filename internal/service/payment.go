package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"booking/internal/domain"
	"booking/internal/repository"
)

// checkoutLockTTL bounds how long a crashed request can block checkout
// creation for a booking.
const checkoutLockTTL = 30 * time.Second

// DefaultEventLease is how long a gateway event stays claimed by a worker
// that has not finished it. After that a redelivery takes it over.
const DefaultEventLease = 5 * time.Minute

// CheckoutSessionParams is what the gateway needs to open a hosted checkout.
type CheckoutSessionParams struct {
	PaymentID            string
	BookingID            string
	Amount               int64
	Currency             string
	ApplicationFeeAmount int64
	DestinationAccountID string
	CustomerEmail        string
	Metadata             map[string]string
}

// CheckoutSession is an opened gateway checkout.
type CheckoutSession struct {
	ID  string
	URL string
}

// AccountStatus is the gateway's view of a payout account.
type AccountStatus struct {
	AccountID      string
	PayoutsEnabled bool
}

// PaymentGateway is the outbound port to the payment provider. Implementations
// return errors wrapping ErrGatewayUnavailable for transport failures.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error)
	RetrieveAccount(ctx context.Context, accountID string) (*AccountStatus, error)
	CreateOnboardingLink(ctx context.Context, accountID string) (string, error)
}

// BookingConfirmer tells the booking state machine that a payment succeeded.
// It must be safe to call more than once for the same payment.
type BookingConfirmer interface {
	ConfirmBooking(ctx context.Context, conf domain.PaymentConfirmation) error
}

// ConnectAccountCache is a read-through cache for payout accounts.
// GetConnectAccount returns nil, nil on a miss.
type ConnectAccountCache interface {
	GetConnectAccount(ctx context.Context, hostID string) (*domain.ConnectAccount, error)
	SetConnectAccount(ctx context.Context, account *domain.ConnectAccount) error
}

// CheckoutLocker serializes checkout creation per booking.
type CheckoutLocker interface {
	AcquireCheckoutLock(ctx context.Context, bookingID string, ttl time.Duration) (bool, error)
	ReleaseCheckoutLock(ctx context.Context, bookingID string) error
}

// PaymentDeps groups the collaborators of PaymentService. Cache and Locker
// are optional.
type PaymentDeps struct {
	Payments        repository.PaymentRepository
	Accounts        repository.ConnectAccountRepository
	ProcessedEvents repository.ProcessedEventRepository
	Gateway         PaymentGateway
	Confirmer       BookingConfirmer
	Cache           ConnectAccountCache
	Locker          CheckoutLocker
}

// PaymentService is the payment ledger. It records payments, computes the
// platform/host split and drives booking confirmation on successful payment.
type PaymentService struct {
	PaymentDeps
	feeBPS     int64
	eventLease time.Duration
	now        Clock
	validate   *validator.Validate
	logger     logrus.FieldLogger
	tracer     trace.Tracer
}

// NewPaymentService creates a new PaymentService. feeBPS is the Standard
// plan platform fee in basis points.
func NewPaymentService(deps PaymentDeps, feeBPS int64, now Clock, logger logrus.FieldLogger) *PaymentService {
	if now == nil {
		now = time.Now
	}
	return &PaymentService{
		PaymentDeps: deps,
		feeBPS:      feeBPS,
		eventLease:  DefaultEventLease,
		now:         now,
		validate:    validator.New(),
		logger:      logger,
		tracer:      otel.Tracer("booking/internal/service"),
	}
}

// CreateCheckoutSessionRequest contains the parameters for opening a checkout.
type CreateCheckoutSessionRequest struct {
	BookingID     string      `validate:"required"`
	HostID        string      `validate:"required"`
	GuestID       string      `validate:"required"`
	Amount        int64       `validate:"gt=0"`
	Plan          domain.Plan `validate:"required"`
	Currency      string      `validate:"required,len=3"`
	CustomerEmail string      `validate:"omitempty,email"`
}

// CreateCheckoutSession records a pending payment and opens a gateway
// checkout that routes the host share to the host's payout account.
func (s *PaymentService) CreateCheckoutSession(ctx context.Context, req CreateCheckoutSessionRequest) (p *domain.Payment, err error) {
	ctx, span := s.tracer.Start(ctx, "PaymentService.CreateCheckoutSession",
		trace.WithAttributes(attribute.String("booking.id", req.BookingID)))
	defer func() { endSpan(span, err) }()

	if err := s.validateCheckoutRequest(req); err != nil {
		return nil, err
	}

	if s.Locker != nil {
		ok, err := s.Locker.AcquireCheckoutLock(ctx, req.BookingID, checkoutLockTTL)
		if err != nil {
			s.logger.WithError(err).WithField("booking_id", req.BookingID).Warn("checkout lock unavailable")
		} else if !ok {
			return nil, ErrPaymentAlreadyPending
		} else {
			defer func() {
				if err := s.Locker.ReleaseCheckoutLock(context.WithoutCancel(ctx), req.BookingID); err != nil {
					s.logger.WithError(err).WithField("booking_id", req.BookingID).Warn("release checkout lock")
				}
			}()
		}
	}

	account, err := s.payoutAccount(ctx, req.HostID)
	if err != nil {
		return nil, err
	}

	if err := s.clearStalePending(ctx, req.BookingID); err != nil {
		return nil, err
	}

	fee, hostAmount := domain.ComputeSplit(req.Amount, req.Plan, s.feeBPS)
	now := s.now()
	p = &domain.Payment{
		ID:                uuid.New().String(),
		BookingID:         req.BookingID,
		HostID:            req.HostID,
		GuestID:           req.GuestID,
		Amount:            req.Amount,
		Currency:          req.Currency,
		Plan:              req.Plan,
		PlatformFeeAmount: fee,
		HostAmount:        hostAmount,
		Status:            domain.PaymentStatusPending,
		Metadata: map[string]string{
			"booking_id": req.BookingID,
			"host_id":    req.HostID,
			"guest_id":   req.GuestID,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	// The payment row exists before the gateway is called so a webhook can
	// never arrive for a session the ledger does not know.
	if err := s.Payments.Create(ctx, p); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrPaymentAlreadyPending
		}
		return nil, fmt.Errorf("create payment: %w", err)
	}
	span.SetAttributes(attribute.String("payment.id", p.ID))

	session, err := s.Gateway.CreateCheckoutSession(ctx, CheckoutSessionParams{
		PaymentID:            p.ID,
		BookingID:            p.BookingID,
		Amount:               p.Amount,
		Currency:             p.Currency,
		ApplicationFeeAmount: fee,
		DestinationAccountID: account.AccountID,
		CustomerEmail:        req.CustomerEmail,
		Metadata: map[string]string{
			"booking_id": p.BookingID,
			"payment_id": p.ID,
		},
	})
	if err != nil {
		s.failPayment(ctx, p.ID, err)
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	if err := s.Payments.SetCheckoutSession(ctx, p.ID, session.ID, session.URL); err != nil {
		return nil, fmt.Errorf("store checkout session: %w", err)
	}
	p.SessionID = session.ID
	p.CheckoutURL = session.URL

	s.logger.WithFields(logrus.Fields{
		"booking_id":   p.BookingID,
		"payment_id":   p.ID,
		"session_id":   session.ID,
		"amount":       p.Amount,
		"platform_fee": fee,
	}).Info("checkout session created")

	return p, nil
}

// payoutAccount returns the host's payout account if it can receive funds,
// refreshing it from the gateway once when the stored copy says it cannot.
func (s *PaymentService) payoutAccount(ctx context.Context, hostID string) (*domain.ConnectAccount, error) {
	var account *domain.ConnectAccount
	if s.Cache != nil {
		cached, err := s.Cache.GetConnectAccount(ctx, hostID)
		if err != nil {
			s.logger.WithError(err).WithField("host_id", hostID).Warn("connect account cache read failed")
		}
		account = cached
	}

	if account == nil {
		stored, err := s.Accounts.GetByHostID(ctx, hostID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPayoutsDisabled
		}
		if err != nil {
			return nil, fmt.Errorf("load connect account: %w", err)
		}
		account = stored
		s.cacheAccount(ctx, account)
	}

	if account.PayoutsEnabled {
		return account, nil
	}

	refreshed, err := s.RefreshConnectAccount(ctx, hostID)
	if err != nil {
		return nil, err
	}
	if !refreshed.PayoutsEnabled {
		return nil, ErrPayoutsDisabled
	}
	return refreshed, nil
}

// clearStalePending enforces one open checkout per booking. A pending
// payment without a session never reached the gateway and is failed so a
// new one can be created.
func (s *PaymentService) clearStalePending(ctx context.Context, bookingID string) error {
	pending, err := s.Payments.GetPendingByBookingID(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("load pending payment: %w", err)
	}
	if pending == nil {
		return nil
	}
	if pending.SessionID != "" {
		return ErrPaymentAlreadyPending
	}

	_, err = s.Payments.ApplyStatus(ctx, pending.ID, repository.PaymentStatusUpdate{
		Status:   domain.PaymentStatusFailed,
		Metadata: map[string]string{"failure_reason": "superseded"},
		At:       s.now(),
	})
	if err != nil && !errors.Is(err, repository.ErrConditionFailed) {
		return fmt.Errorf("fail stale payment: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id": bookingID,
		"payment_id": pending.ID,
	}).Warn("stale pending payment without session marked failed")
	return nil
}

func (s *PaymentService) failPayment(ctx context.Context, paymentID string, cause error) {
	_, err := s.Payments.ApplyStatus(context.WithoutCancel(ctx), paymentID, repository.PaymentStatusUpdate{
		Status:   domain.PaymentStatusFailed,
		Metadata: map[string]string{"failure_reason": cause.Error()},
		At:       s.now(),
	})
	if err != nil {
		s.logger.WithError(err).WithField("payment_id", paymentID).Error("mark payment failed")
	}
}

// StatusUpdate is a gateway-reported change for a payment.
type StatusUpdate struct {
	// ExternalID is the checkout session id or payment intent id.
	ExternalID string
	// PaymentID is the ledger id echoed back in gateway metadata. It finds
	// payments whose intent id is not recorded yet.
	PaymentID  string
	Status     domain.PaymentStatus
	IntentID   string
	Metadata   map[string]string
	AmountPaid int64
	Currency   string
	Billing    domain.BillingDetails
}

// ApplyStatusUpdate moves a pending payment to a terminal status. Updates for
// payments that are already terminal are ignored. Only the pending to paid
// edge confirms the booking. applied reports whether this call changed the
// payment.
func (s *PaymentService) ApplyStatusUpdate(ctx context.Context, update StatusUpdate) (p *domain.Payment, applied bool, err error) {
	ctx, span := s.tracer.Start(ctx, "PaymentService.ApplyStatusUpdate", trace.WithAttributes(
		attribute.String("payment.external_id", update.ExternalID),
		attribute.String("payment.status", string(update.Status)),
	))
	defer func() { endSpan(span, err) }()

	if update.ExternalID == "" && update.IntentID == "" && update.PaymentID == "" {
		return nil, false, ErrInvalidPaymentID
	}
	if !update.Status.IsTerminal() {
		return nil, false, fmt.Errorf("%w: %q is not a settled payment status", ErrValidation, update.Status)
	}

	p, err = s.findPayment(ctx, update)
	if err != nil {
		return nil, false, err
	}
	span.SetAttributes(attribute.String("payment.id", p.ID))

	if p.Status.IsTerminal() {
		return p, false, nil
	}

	metadata := billingMetadata(update)
	updated, err := s.Payments.ApplyStatus(ctx, p.ID, repository.PaymentStatusUpdate{
		Status:   update.Status,
		IntentID: update.IntentID,
		Metadata: metadata,
		At:       s.now(),
	})
	if errors.Is(err, repository.ErrConditionFailed) {
		// A concurrent delivery settled it first.
		current, getErr := s.Payments.GetByID(ctx, p.ID)
		if getErr != nil {
			return nil, false, getErr
		}
		return current, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("apply payment status: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"payment_id": updated.ID,
		"booking_id": updated.BookingID,
		"status":     updated.Status,
	}).Info("payment status updated")

	if updated.Status == domain.PaymentStatusPaid {
		if err := s.confirm(ctx, updated, update); err != nil {
			return updated, true, err
		}
	}
	return updated, true, nil
}

// findPayment resolves the payment an update refers to: by gateway id
// first, then by the ledger id carried in metadata.
func (s *PaymentService) findPayment(ctx context.Context, update StatusUpdate) (*domain.Payment, error) {
	for i, id := range []string{update.ExternalID, update.IntentID} {
		if id == "" || (i > 0 && id == update.ExternalID) {
			continue
		}
		p, err := s.Payments.GetByExternalID(ctx, id)
		if !errors.Is(err, repository.ErrNotFound) {
			return p, err
		}
	}
	if update.PaymentID == "" {
		return nil, repository.ErrNotFound
	}
	return s.Payments.GetByID(ctx, update.PaymentID)
}

// HandleGatewayEvent applies a verified gateway notification exactly once
// per event id. The event is leased while it is applied and marked done
// only after the payment and booking updates succeed. A failed event is
// released so the gateway's retry can process it again; a worker that dies
// mid-way leaves a lease that a redelivery takes over once it expires.
func (s *PaymentService) HandleGatewayEvent(ctx context.Context, event domain.PaymentEvent) (err error) {
	ctx, span := s.tracer.Start(ctx, "PaymentService.HandleGatewayEvent", trace.WithAttributes(
		attribute.String("gateway.event_id", event.EventID),
		attribute.String("gateway.event_kind", string(event.Kind)),
	))
	defer func() { endSpan(span, err) }()

	log := s.logger.WithFields(logrus.Fields{
		"event_id":   event.EventID,
		"kind":       event.Kind,
		"session_id": event.SessionID,
		"intent_id":  event.IntentID,
	})

	target, ok := event.Kind.TargetStatus()
	if !ok {
		log.Debug("ignoring gateway event kind")
		return nil
	}

	now := s.now()
	claim, err := s.ProcessedEvents.Claim(ctx, event.EventID, string(event.Kind), now, now.Add(s.eventLease))
	if err != nil {
		return fmt.Errorf("claim event: %w", err)
	}
	switch claim {
	case repository.ClaimDone:
		log.Info("duplicate gateway event ignored")
		return nil
	case repository.ClaimInFlight:
		log.Info("gateway event held by another worker")
		return fmt.Errorf("event %s: %w", event.EventID, ErrEventInFlight)
	}

	matched, err := s.applyEvent(ctx, event, target, log)
	if err != nil || !matched {
		if relErr := s.ProcessedEvents.Release(context.WithoutCancel(ctx), event.EventID); relErr != nil {
			log.WithError(relErr).Error("release processed event")
		}
		return err
	}

	if err := s.ProcessedEvents.Complete(ctx, event.EventID, s.now()); err != nil {
		return fmt.Errorf("complete event: %w", err)
	}
	return nil
}

// applyEvent reports false when the event belongs to no payment in the
// ledger and can be acknowledged.
func (s *PaymentService) applyEvent(ctx context.Context, event domain.PaymentEvent, target domain.PaymentStatus, log logrus.FieldLogger) (bool, error) {
	update := StatusUpdate{
		ExternalID: event.ExternalID(),
		PaymentID:  event.Metadata["payment_id"],
		Status:     target,
		IntentID:   event.IntentID,
		Metadata:   event.Metadata,
		AmountPaid: event.AmountPaid,
		Currency:   event.Currency,
		Billing:    event.Billing,
	}

	p, applied, err := s.ApplyStatusUpdate(ctx, update)
	if errors.Is(err, repository.ErrNotFound) {
		if update.PaymentID != "" {
			// Payments are stored before their checkout opens, so a miss on
			// our own id is transient.
			return false, fmt.Errorf("payment %s for gateway event: %w", update.PaymentID, err)
		}
		log.Warn("gateway event for unknown payment")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	// The booking confirmation may have been lost between the two commits;
	// confirming again is harmless.
	if !applied && p.Status == domain.PaymentStatusPaid && target == domain.PaymentStatusPaid {
		log.WithField("payment_id", p.ID).Info("re-driving booking confirmation for paid payment")
		return true, s.confirm(ctx, p, update)
	}
	return true, nil
}

func (s *PaymentService) confirm(ctx context.Context, p *domain.Payment, update StatusUpdate) error {
	if s.Confirmer == nil {
		return nil
	}

	amount := update.AmountPaid
	if amount == 0 {
		amount = p.Amount
	}
	currency := update.Currency
	if currency == "" {
		currency = p.Currency
	}
	paidAt := s.now()
	if p.PaidAt != nil {
		paidAt = *p.PaidAt
	}

	conf := domain.PaymentConfirmation{
		BookingID:  p.BookingID,
		PaymentID:  p.ID,
		SessionID:  p.SessionID,
		IntentID:   p.IntentID,
		AmountPaid: amount,
		Currency:   currency,
		Billing:    update.Billing,
		PaidAt:     paidAt,
	}
	if err := s.Confirmer.ConfirmBooking(ctx, conf); err != nil {
		return fmt.Errorf("confirm booking %s: %w", p.BookingID, err)
	}
	return nil
}

// RefreshConnectAccount reloads a host's payout capability from the gateway.
// Accounts that still cannot receive payouts get a fresh onboarding link.
func (s *PaymentService) RefreshConnectAccount(ctx context.Context, hostID string) (*domain.ConnectAccount, error) {
	if hostID == "" {
		return nil, &ValidationError{Fields: map[string]string{"host_id": "required"}}
	}

	account, err := s.Accounts.GetByHostID(ctx, hostID)
	if err != nil {
		return nil, err
	}

	status, err := s.Gateway.RetrieveAccount(ctx, account.AccountID)
	if err != nil {
		return nil, fmt.Errorf("retrieve connect account: %w", err)
	}
	account.PayoutsEnabled = status.PayoutsEnabled
	account.UpdatedAt = s.now()

	if !account.PayoutsEnabled {
		link, err := s.Gateway.CreateOnboardingLink(ctx, account.AccountID)
		if err != nil {
			s.logger.WithError(err).WithField("host_id", hostID).Warn("create onboarding link")
		} else {
			account.OnboardingURL = link
		}
	}

	if err := s.Accounts.Upsert(ctx, account); err != nil {
		return nil, fmt.Errorf("store connect account: %w", err)
	}
	s.cacheAccount(ctx, account)

	s.logger.WithFields(logrus.Fields{
		"host_id":         hostID,
		"payouts_enabled": account.PayoutsEnabled,
	}).Info("connect account refreshed")
	return account, nil
}

// GetPayment retrieves a payment by ID.
func (s *PaymentService) GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	if paymentID == "" {
		return nil, ErrInvalidPaymentID
	}

	return s.Payments.GetByID(ctx, paymentID)
}

func (s *PaymentService) cacheAccount(ctx context.Context, account *domain.ConnectAccount) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.SetConnectAccount(ctx, account); err != nil {
		s.logger.WithError(err).WithField("host_id", account.HostID).Warn("connect account cache write failed")
	}
}

func (s *PaymentService) validateCheckoutRequest(req CreateCheckoutSessionRequest) error {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			if _, ok := fields["Amount"]; ok && len(fields) == 1 {
				return ErrInvalidPaymentAmount
			}
			return &ValidationError{Fields: fields}
		}
		return &ValidationError{Fields: map[string]string{"request": err.Error()}}
	}
	if !req.Plan.IsValid() {
		return ErrInvalidPlan
	}
	return nil
}

func billingMetadata(update StatusUpdate) map[string]string {
	md := make(map[string]string, len(update.Metadata)+4)
	for k, v := range update.Metadata {
		md[k] = v
	}
	if update.Billing.Email != "" {
		md["billing_email"] = update.Billing.Email
	}
	if update.Billing.Name != "" {
		md["billing_name"] = update.Billing.Name
	}
	if update.Billing.Method != "" {
		md["billing_method"] = update.Billing.Method
	}
	if update.AmountPaid > 0 {
		md["amount_paid"] = strconv.FormatInt(update.AmountPaid, 10)
	}
	return md
}
