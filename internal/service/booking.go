package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"booking/internal/domain"
	"booking/internal/repository"
)

// EventEmitter publishes booking events after a transition commits.
// Emit must not block the caller and never reports delivery failures.
type EventEmitter interface {
	Emit(ctx context.Context, event domain.BookingEvent)
}

// Clock returns the current time.
type Clock func() time.Time

// BookingService owns the booking state machine. It is the only writer of
// booking status.
type BookingService struct {
	bookingRepo repository.BookingRepository
	events      EventEmitter
	invoices    *InvoiceService
	approvalTTL time.Duration
	now         Clock
	validate    *validator.Validate
	logger      logrus.FieldLogger
	tracer      trace.Tracer
}

// NewBookingService creates a new BookingService. approvalTTL is the window a
// guest has to pay after the host approves.
func NewBookingService(
	bookingRepo repository.BookingRepository,
	events EventEmitter,
	invoices *InvoiceService,
	approvalTTL time.Duration,
	now Clock,
	logger logrus.FieldLogger,
) *BookingService {
	if now == nil {
		now = time.Now
	}
	return &BookingService{
		bookingRepo: bookingRepo,
		events:      events,
		invoices:    invoices,
		approvalTTL: approvalTTL,
		now:         now,
		validate:    validator.New(),
		logger:      logger,
		tracer:      otel.Tracer("booking/internal/service"),
	}
}

// CreateBookingRequest contains the parameters for creating a booking.
type CreateBookingRequest struct {
	PropertyID string                `validate:"required"`
	HostID     string                `validate:"required"`
	GuestID    string                `validate:"omitempty"`
	CheckIn    time.Time             `validate:"required"`
	CheckOut   time.Time             `validate:"required,gtfield=CheckIn"`
	Guests     *domain.Guests        `validate:"required"`
	Segments   []domain.PriceSegment `validate:"required,min=1,dive"`
	Pricing    *domain.Pricing       `validate:"required"`
	Customer   *domain.Customer      `validate:"required"`
}

// Create validates and stores a new pending booking.
func (s *BookingService) Create(ctx context.Context, req CreateBookingRequest) (b *domain.Booking, err error) {
	ctx, span := s.tracer.Start(ctx, "BookingService.Create")
	defer func() { endSpan(span, err) }()

	if req.Customer != nil {
		customer := *req.Customer
		customer.Email = domain.NormalizeEmail(customer.Email)
		req.Customer = &customer
	}

	if err := s.validateCreateRequest(req); err != nil {
		return nil, err
	}

	exists, err := s.bookingRepo.ExistsActiveForEmail(ctx, req.Customer.Email)
	if err != nil {
		return nil, fmt.Errorf("check active bookings: %w", err)
	}
	if exists {
		return nil, ErrActiveBookingExists
	}

	now := s.now()
	b = &domain.Booking{
		ID:         uuid.New().String(),
		PropertyID: req.PropertyID,
		HostID:     req.HostID,
		GuestID:    req.GuestID,
		CheckIn:    req.CheckIn,
		CheckOut:   req.CheckOut,
		Guests:     *req.Guests,
		Segments:   req.Segments,
		Pricing:    *req.Pricing,
		Customer: domain.Customer{
			Name:  req.Customer.Name,
			Email: req.Customer.Email,
			Phone: req.Customer.Phone,
		},
		Status:    domain.BookingStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.bookingRepo.Create(ctx, b); err != nil {
		// Lost the race against a concurrent create for the same email.
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrActiveBookingExists
		}
		return nil, fmt.Errorf("create booking: %w", err)
	}
	span.SetAttributes(attribute.String("booking.id", b.ID))

	s.logger.WithFields(logrus.Fields{
		"booking_id":  b.ID,
		"property_id": b.PropertyID,
		"host_id":     b.HostID,
	}).Info("booking created")

	s.emit(ctx, domain.EventNewBookingCreated, b, nil, "")
	return b, nil
}

// Get retrieves a booking by ID.
func (s *BookingService) Get(ctx context.Context, id string) (*domain.Booking, error) {
	if id == "" {
		return nil, ErrInvalidBookingID
	}
	return s.bookingRepo.GetByID(ctx, id)
}

// UpdateStatus applies a host decision to a pending booking.
func (s *BookingService) UpdateStatus(ctx context.Context, id string, status domain.BookingStatus) (b *domain.Booking, err error) {
	ctx, span := s.startSpan(ctx, "BookingService.UpdateStatus", id)
	defer func() { endSpan(span, err) }()

	if id == "" {
		return nil, ErrInvalidBookingID
	}

	now := s.now()
	var change domain.BookingChange
	var event domain.BookingEventType
	switch status {
	case domain.BookingStatusApproved:
		deadline := now.Add(s.approvalTTL)
		change = domain.BookingChange{
			Status:                domain.BookingStatusApproved,
			ApprovalDate:          &now,
			PaymentExpirationDate: &deadline,
		}
		event = domain.EventBookingApproved
	case domain.BookingStatusRejected:
		change = domain.BookingChange{
			Status:        domain.BookingStatusRejected,
			RejectionDate: &now,
		}
		event = domain.EventBookingRejected
	default:
		return nil, ErrInvalidStatus
	}

	b, err = s.transition(ctx, "update status", id, []domain.BookingStatus{domain.BookingStatusPending}, change)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{"booking_id": id, "status": status}).Info("host decision applied")
	s.emit(ctx, event, b, nil, "")
	return b, nil
}

// Cancel cancels a pending booking.
func (s *BookingService) Cancel(ctx context.Context, id string) (b *domain.Booking, err error) {
	ctx, span := s.startSpan(ctx, "BookingService.Cancel", id)
	defer func() { endSpan(span, err) }()

	if id == "" {
		return nil, ErrInvalidBookingID
	}

	now := s.now()
	b, err = s.transition(ctx, "cancel", id, []domain.BookingStatus{domain.BookingStatusPending}, domain.BookingChange{
		Status:           domain.BookingStatusCanceled,
		CancellationDate: &now,
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithField("booking_id", id).Info("booking canceled")
	s.emit(ctx, domain.EventBookingCanceled, b, nil, "")
	return b, nil
}

// ConfirmPaymentResult is the outcome of ConfirmPayment.
type ConfirmPaymentResult struct {
	Booking *domain.Booking
	Invoice *domain.Invoice
	// Applied is false when the booking was not awaiting payment and nothing changed.
	Applied bool
}

// ConfirmPayment confirms a pending or approved booking after its payment
// succeeded. Any other status makes this a successful no-op, so redelivered
// confirmations never fail and never notify twice.
func (s *BookingService) ConfirmPayment(ctx context.Context, conf domain.PaymentConfirmation) (res *ConfirmPaymentResult, err error) {
	ctx, span := s.startSpan(ctx, "BookingService.ConfirmPayment", conf.BookingID)
	defer func() { endSpan(span, err) }()

	if conf.BookingID == "" {
		return nil, ErrInvalidBookingID
	}

	method, ok := domain.ParsePaymentMethod(conf.Billing.Method)
	if !ok {
		method = domain.PaymentMethodCard
	}

	now := s.now()
	b, err := s.bookingRepo.Transition(ctx, conf.BookingID,
		[]domain.BookingStatus{domain.BookingStatusPending, domain.BookingStatusApproved},
		domain.BookingChange{
			Status:           domain.BookingStatusConfirmed,
			ConfirmationDate: &now,
			PaymentMethod:    method,
		})
	if errors.Is(err, repository.ErrConditionFailed) {
		return s.confirmationNoop(ctx, conf)
	}
	if err != nil {
		return nil, fmt.Errorf("confirm booking: %w", err)
	}

	log := s.logger.WithFields(logrus.Fields{
		"booking_id": b.ID,
		"payment_id": conf.PaymentID,
	})
	if conf.AmountPaid > 0 && conf.AmountPaid != b.Pricing.Total {
		log.WithFields(logrus.Fields{
			"amount_paid": conf.AmountPaid,
			"total":       b.Pricing.Total,
		}).Warn("paid amount differs from booking total")
	}
	log.Info("booking confirmed")

	invoice := s.invoices.Build(b, conf)
	s.emit(ctx, domain.EventBookingConfirmed, b, invoice, "")

	return &ConfirmPaymentResult{Booking: b, Invoice: invoice, Applied: true}, nil
}

// ConfirmBooking satisfies BookingConfirmer for the in-process saga transport.
func (s *BookingService) ConfirmBooking(ctx context.Context, conf domain.PaymentConfirmation) error {
	_, err := s.ConfirmPayment(ctx, conf)
	return err
}

func (s *BookingService) confirmationNoop(ctx context.Context, conf domain.PaymentConfirmation) (*ConfirmPaymentResult, error) {
	current, err := s.bookingRepo.GetByID(ctx, conf.BookingID)
	if err != nil {
		return nil, err
	}

	log := s.logger.WithFields(logrus.Fields{
		"booking_id": current.ID,
		"payment_id": conf.PaymentID,
		"status":     current.Status,
	})

	res := &ConfirmPaymentResult{Booking: current}
	switch current.Status {
	case domain.BookingStatusConfirmed, domain.BookingStatusCompleted:
		log.Info("payment confirmation already applied")
		res.Invoice = s.invoices.Build(current, conf)
	default:
		// The booking closed before the money arrived. The payment stays paid
		// and needs a manual refund; the booking is never reopened.
		log.Warn("payment received for closed booking, refund required")
	}
	return res, nil
}

// UpdatePaymentMethod records how the guest will pay. Offline methods
// confirm the booking at once; online methods restart the payment window.
func (s *BookingService) UpdatePaymentMethod(ctx context.Context, id, method string) (b *domain.Booking, err error) {
	ctx, span := s.startSpan(ctx, "BookingService.UpdatePaymentMethod", id)
	defer func() { endSpan(span, err) }()

	if id == "" {
		return nil, ErrInvalidBookingID
	}

	m, ok := domain.ParsePaymentMethod(method)
	if !ok {
		return nil, ErrInvalidPaymentMethod
	}
	span.SetAttributes(attribute.String("booking.payment_method", string(m)))

	from := []domain.BookingStatus{domain.BookingStatusPending, domain.BookingStatusApproved}
	now := s.now()

	if m.IsOffline() {
		b, err = s.transition(ctx, "update payment method", id, from, domain.BookingChange{
			Status:           domain.BookingStatusConfirmed,
			PaymentMethod:    m,
			ConfirmationDate: &now,
		})
		if err != nil {
			return nil, err
		}

		s.logger.WithFields(logrus.Fields{"booking_id": id, "payment_method": m}).Info("booking confirmed with offline payment")
		invoice := s.invoices.Build(b, domain.PaymentConfirmation{BookingID: b.ID, Currency: b.Pricing.Currency})
		s.emit(ctx, domain.EventBookingConfirmed, b, invoice, "")
		return b, nil
	}

	deadline := now.Add(s.approvalTTL)
	b, err = s.transition(ctx, "update payment method", id, from, domain.BookingChange{
		PaymentMethod:         m,
		PaymentExpirationDate: &deadline,
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{"booking_id": id, "payment_method": m}).Info("payment method updated")
	return b, nil
}

// ConfirmOfflinePayment confirms a booking settled in cash or by check.
// Confirming an already confirmed booking succeeds without side effects.
func (s *BookingService) ConfirmOfflinePayment(ctx context.Context, id string) (b *domain.Booking, err error) {
	ctx, span := s.startSpan(ctx, "BookingService.ConfirmOfflinePayment", id)
	defer func() { endSpan(span, err) }()

	if id == "" {
		return nil, ErrInvalidBookingID
	}

	current, err := s.bookingRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.PaymentMethod.IsOffline() {
		return nil, ErrNotOfflinePayment
	}
	if current.Status == domain.BookingStatusConfirmed {
		return current, nil
	}

	now := s.now()
	b, err = s.transition(ctx, "confirm offline payment", id,
		[]domain.BookingStatus{domain.BookingStatusPending, domain.BookingStatusApproved},
		domain.BookingChange{
			Status:           domain.BookingStatusConfirmed,
			ConfirmationDate: &now,
		})
	if err != nil {
		return nil, err
	}

	invoice := s.invoices.Build(b, domain.PaymentConfirmation{BookingID: b.ID, Currency: b.Pricing.Currency})
	s.emit(ctx, domain.EventBookingConfirmed, b, invoice, "")
	return b, nil
}

// ExpireApproval rejects an approved booking whose payment deadline passed.
// It reports false when the booking was no longer eligible, which happens
// when a payment or another sweeper got there first.
func (s *BookingService) ExpireApproval(ctx context.Context, id string) (b *domain.Booking, expired bool, err error) {
	ctx, span := s.startSpan(ctx, "BookingService.ExpireApproval", id)
	defer func() { endSpan(span, err) }()

	now := s.now()
	b, err = s.bookingRepo.Transition(ctx, id,
		[]domain.BookingStatus{domain.BookingStatusApproved},
		domain.BookingChange{
			Status:        domain.BookingStatusRejected,
			RejectionDate: &now,
			ExpiredBefore: &now,
		})
	if errors.Is(err, repository.ErrConditionFailed) || errors.Is(err, repository.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("expire approval: %w", err)
	}

	s.logger.WithField("booking_id", id).Info("approval expired without payment")
	s.emit(ctx, domain.EventBookingRejected, b, nil, "payment_expired")
	return b, true, nil
}

// CompleteStay marks a confirmed booking completed once check-out has passed.
func (s *BookingService) CompleteStay(ctx context.Context, id string) (b *domain.Booking, err error) {
	ctx, span := s.startSpan(ctx, "BookingService.CompleteStay", id)
	defer func() { endSpan(span, err) }()

	if id == "" {
		return nil, ErrInvalidBookingID
	}

	now := s.now()
	b, err = s.bookingRepo.Transition(ctx, id,
		[]domain.BookingStatus{domain.BookingStatusConfirmed},
		domain.BookingChange{
			Status:         domain.BookingStatusCompleted,
			CompletionDate: &now,
			EndedBefore:    &now,
		})
	if errors.Is(err, repository.ErrConditionFailed) {
		current, getErr := s.bookingRepo.GetByID(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if current.Status == domain.BookingStatusConfirmed {
			return nil, ErrStayNotEnded
		}
		return nil, policyError("complete stay", current.Status)
	}
	if err != nil {
		return nil, err
	}

	s.emit(ctx, domain.EventBookingCompleted, b, nil, "")
	return b, nil
}

// transition runs a guarded update and turns a guard miss into a
// PolicyError carrying the status that blocked it.
func (s *BookingService) transition(ctx context.Context, op, id string, from []domain.BookingStatus, change domain.BookingChange) (*domain.Booking, error) {
	b, err := s.bookingRepo.Transition(ctx, id, from, change)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, repository.ErrConditionFailed) {
		return nil, err
	}

	current, getErr := s.bookingRepo.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, policyError(op, current.Status)
}

func (s *BookingService) emit(ctx context.Context, t domain.BookingEventType, b *domain.Booking, invoice *domain.Invoice, reason string) {
	if s.events == nil {
		return
	}
	s.events.Emit(ctx, NewBookingEvent(t, b, invoice, reason, s.now()))
}

// NewBookingEvent builds the outbound event for a booking snapshot.
func NewBookingEvent(t domain.BookingEventType, b *domain.Booking, invoice *domain.Invoice, reason string, at time.Time) domain.BookingEvent {
	return domain.BookingEvent{
		EventID:    uuid.New().String(),
		Type:       t,
		BookingID:  b.ID,
		PropertyID: b.PropertyID,
		HostID:     b.HostID,
		GuestEmail: b.Customer.Email,
		GuestName:  b.Customer.Name,
		Status:     b.Status,
		CheckIn:    b.CheckIn,
		CheckOut:   b.CheckOut,
		Segments:   b.Segments,
		Total:      b.Pricing.Total,
		Currency:   b.Pricing.Currency,
		Invoice:    invoice,
		Reason:     reason,
		OccurredAt: at,
	}
}

func (s *BookingService) validateCreateRequest(req CreateBookingRequest) error {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Namespace()] = fe.Tag()
			}
			return &ValidationError{Fields: fields}
		}
		return &ValidationError{Fields: map[string]string{"request": err.Error()}}
	}

	fields := map[string]string{}
	prevEnd := req.CheckIn
	for i, seg := range req.Segments {
		key := fmt.Sprintf("CreateBookingRequest.Segments[%d]", i)
		if seg.StartDate.Before(prevEnd) {
			fields[key] = "ordered"
		}
		if seg.EndDate.After(req.CheckOut) {
			fields[key] = "within_stay"
		}
		prevEnd = seg.EndDate
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func (s *BookingService) startSpan(ctx context.Context, name, bookingID string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("booking.id", bookingID)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
