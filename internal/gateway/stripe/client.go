// Package stripe adapts the Stripe API to the payment ledger's gateway port.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	stripeapi "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"booking/internal/service"
)

// Config holds the gateway settings.
type Config struct {
	SecretKey string
	// BaseURL overrides the API endpoint. Empty uses Stripe's.
	BaseURL    string
	Timeout    time.Duration
	SuccessURL string
	CancelURL  string
	RefreshURL string
	ReturnURL  string
}

// Client implements service.PaymentGateway on top of stripe-go. Every call
// runs under a circuit breaker and a per-call timeout.
type Client struct {
	api     *client.API
	cfg     Config
	breaker *gobreaker.CircuitBreaker
	logger  logrus.FieldLogger
}

var _ service.PaymentGateway = (*Client)(nil)

// NewClient creates a new Client.
func NewClient(cfg Config, logger logrus.FieldLogger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	backendCfg := &stripeapi.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		LeveledLogger:     logger,
		MaxNetworkRetries: stripeapi.Int64(1),
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripeapi.String(cfg.BaseURL)
	}
	backend := stripeapi.GetBackendWithConfig(stripeapi.APIBackend, backendCfg)

	api := &client.API{}
	api.Init(cfg.SecretKey, &stripeapi.Backends{
		API:     backend,
		Connect: backend,
		Uploads: backend,
	})

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "stripe",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	})

	return &Client{api: api, cfg: cfg, breaker: breaker, logger: logger}
}

// CreateCheckoutSession opens a hosted checkout for a single booking charge.
// The platform fee stays on the platform account and the rest is
// transferred to the host's connected account.
func (c *Client) CreateCheckoutSession(ctx context.Context, p service.CheckoutSessionParams) (*service.CheckoutSession, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	params := &stripeapi.CheckoutSessionParams{
		Mode:              stripeapi.String(string(stripeapi.CheckoutSessionModePayment)),
		SuccessURL:        stripeapi.String(bookingURL(c.cfg.SuccessURL, p.BookingID)),
		CancelURL:         stripeapi.String(bookingURL(c.cfg.CancelURL, p.BookingID)),
		ClientReferenceID: stripeapi.String(p.PaymentID),
		LineItems: []*stripeapi.CheckoutSessionLineItemParams{{
			Quantity: stripeapi.Int64(1),
			PriceData: &stripeapi.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripeapi.String(strings.ToLower(p.Currency)),
				UnitAmount: stripeapi.Int64(p.Amount),
				ProductData: &stripeapi.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripeapi.String("Booking " + p.BookingID),
				},
			},
		}},
		PaymentIntentData: &stripeapi.CheckoutSessionPaymentIntentDataParams{
			TransferData: &stripeapi.CheckoutSessionPaymentIntentDataTransferDataParams{
				Destination: stripeapi.String(p.DestinationAccountID),
			},
			Metadata: p.Metadata,
		},
	}
	if p.ApplicationFeeAmount > 0 {
		params.PaymentIntentData.ApplicationFeeAmount = stripeapi.Int64(p.ApplicationFeeAmount)
	}
	if p.CustomerEmail != "" {
		params.CustomerEmail = stripeapi.String(p.CustomerEmail)
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	params.SetIdempotencyKey("checkout-" + p.PaymentID)

	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.api.CheckoutSessions.New(params)
	})
	if err != nil {
		return nil, c.wrap("create checkout session", err)
	}

	s := res.(*stripeapi.CheckoutSession)
	return &service.CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

// RetrieveAccount loads a connected account's payout capability.
func (c *Client) RetrieveAccount(ctx context.Context, accountID string) (*service.AccountStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	params := &stripeapi.AccountParams{}
	params.Context = ctx

	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.api.Accounts.GetByID(accountID, params)
	})
	if err != nil {
		return nil, c.wrap("retrieve account", err)
	}

	a := res.(*stripeapi.Account)
	return &service.AccountStatus{AccountID: a.ID, PayoutsEnabled: a.PayoutsEnabled}, nil
}

// CreateOnboardingLink returns a one-time onboarding URL for a connected account.
func (c *Client) CreateOnboardingLink(ctx context.Context, accountID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	params := &stripeapi.AccountLinkParams{
		Account:    stripeapi.String(accountID),
		RefreshURL: stripeapi.String(c.cfg.RefreshURL),
		ReturnURL:  stripeapi.String(c.cfg.ReturnURL),
		Type:       stripeapi.String("account_onboarding"),
	}
	params.Context = ctx

	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.api.AccountLinks.New(params)
	})
	if err != nil {
		return "", c.wrap("create account link", err)
	}
	return res.(*stripeapi.AccountLink).URL, nil
}

func (c *Client) wrap(op string, err error) error {
	log := c.logger.WithField("op", op)

	var stripeErr *stripeapi.Error
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		log.Warn("stripe circuit open")
	case errors.As(err, &stripeErr):
		log.WithFields(logrus.Fields{
			"status":     stripeErr.HTTPStatusCode,
			"code":       stripeErr.Code,
			"request_id": stripeErr.RequestID,
		}).Error(stripeErr.Msg)
	default:
		log.WithError(err).Error("stripe request failed")
	}
	return fmt.Errorf("%w: %s: %v", service.ErrGatewayUnavailable, op, err)
}

func bookingURL(tmpl, bookingID string) string {
	return strings.ReplaceAll(tmpl, "{BOOKING_ID}", bookingID)
}
