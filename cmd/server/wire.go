package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"booking/internal/app"
	"booking/internal/config"
	"booking/internal/consumer"
	"booking/internal/dispatch"
	"booking/internal/gateway/stripe"
	"booking/internal/mq"
	internalRedis "booking/internal/redis"
	"booking/internal/repository/postgres"
	"booking/internal/service"
)

// runtime holds the process-wide resources shared by every subcommand.
type runtime struct {
	cfg    *config.Config
	logger *logrus.Logger
	nrApp  *newrelic.Application
	db     *sql.DB

	closers []func() error
}

func (rt *runtime) onClose(fn func() error) {
	rt.closers = append(rt.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			rt.logger.WithError(err).Warn("close failed")
		}
	}
}

func bootstrap(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, logCloser := app.NewLogger(cfg.Log)
	rt := &runtime{cfg: cfg, logger: logger}
	rt.onClose(logCloser.Close)

	if !config.ApprovalTTLExplicit() {
		logger.WithFields(logrus.Fields{
			"enforced":   config.DefaultApprovalPaymentTTL.String(),
			"documented": config.DocumentedApprovalPaymentTTL.String(),
		}).Warn("APPROVAL_PAYMENT_TTL not set, using the enforced default which differs from the documented payment window")
	}

	shutdownTracer, err := app.InitTracer(ctx, cfg.Tracing, cfg.Env)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.onClose(func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdownTracer(sctx)
	})

	// New Relic comes before the database so the driver can be instrumented.
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err := newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			logger.WithError(err).Warn("failed to initialize New Relic")
		} else {
			rt.nrApp = nrApp
			rt.onClose(func() error { nrApp.Shutdown(5 * time.Second); return nil })
			logger.WithField("app", cfg.NewRelic.AppName).Info("New Relic enabled")
		}
	}

	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	db, err := app.NewDatabase(dbCtx, cfg.Database, rt.nrApp)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	rt.db = db
	rt.onClose(db.Close)
	logger.Info("connected to PostgreSQL")

	return rt, nil
}

// services is the wired application graph.
type services struct {
	bookings    *service.BookingService
	payments    *service.PaymentService
	dispatcher  *dispatch.Dispatcher
	webhooks    *stripe.WebhookVerifier
	bookingRepo *postgres.BookingRepository
	redis       *redis.Client
	paidSource  *mq.Consumer
}

// wireServices builds repositories, gateways, publishers and services.
// The dispatcher is returned unstarted.
func wireServices(ctx context.Context, rt *runtime, withRedis bool) (*services, error) {
	cfg := rt.cfg
	logger := rt.logger
	s := &services{}

	bookingRepo := postgres.NewBookingRepository(rt.db)
	paymentRepo := postgres.NewPaymentRepository(rt.db)
	accountRepo := postgres.NewConnectAccountRepository(rt.db)
	eventRepo := postgres.NewProcessedEventRepository(rt.db)
	s.bookingRepo = bookingRepo

	bookingEvents, err := mq.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.BookingEventsExchange)
	if err != nil {
		return nil, fmt.Errorf("booking events publisher: %w", err)
	}
	rt.onClose(bookingEvents.Close)

	notifications, err := mq.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.NotificationExchange)
	if err != nil {
		return nil, fmt.Errorf("notification publisher: %w", err)
	}
	rt.onClose(notifications.Close)

	invoices := service.NewInvoiceService(time.Now)
	notifier := service.NewNotificationService(notifications, invoices, logger.WithField("component", "notifications"))

	s.dispatcher = dispatch.New(dispatch.Config{
		Workers:     cfg.Dispatch.Workers,
		QueueSize:   cfg.Dispatch.QueueSize,
		MaxAttempts: cfg.Dispatch.MaxAttempts,
		Backoff:     cfg.Dispatch.Backoff,
	}, logger.WithField("component", "dispatcher"),
		&dispatch.PropertySink{Publisher: bookingEvents},
		&dispatch.HostSink{Notifier: notifier},
	)

	s.bookings = service.NewBookingService(
		bookingRepo,
		s.dispatcher,
		invoices,
		cfg.Booking.ApprovalPaymentTTL,
		time.Now,
		logger.WithField("component", "bookings"),
	)

	deps := service.PaymentDeps{
		Payments:        paymentRepo,
		Accounts:        accountRepo,
		ProcessedEvents: eventRepo,
		Gateway: stripe.NewClient(stripe.Config{
			SecretKey:  cfg.Stripe.SecretKey,
			Timeout:    cfg.Stripe.Timeout,
			SuccessURL: cfg.Stripe.SuccessURL,
			CancelURL:  cfg.Stripe.CancelURL,
			RefreshURL: cfg.Stripe.RefreshURL,
			ReturnURL:  cfg.Stripe.ReturnURL,
		}, logger.WithField("component", "stripe")),
		Confirmer: s.bookings,
	}

	if cfg.Booking.SagaTransport == "amqp" {
		paymentEvents, err := mq.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.PaymentEventsExchange)
		if err != nil {
			return nil, fmt.Errorf("payment events publisher: %w", err)
		}
		rt.onClose(paymentEvents.Close)
		deps.Confirmer = &consumer.PaidPublisher{Publisher: paymentEvents}

		source, err := mq.NewConsumer(cfg.RabbitMQ.URL, cfg.RabbitMQ.PaymentEventsExchange,
			cfg.RabbitMQ.BookingPaidQueue, []string{consumer.BookingPaidKey}, 10)
		if err != nil {
			return nil, fmt.Errorf("booking paid consumer: %w", err)
		}
		rt.onClose(source.Close)
		s.paidSource = source
	}

	if withRedis {
		redisCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		client, err := app.NewRedisClient(redisCtx, cfg.Redis, rt.nrApp)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		rt.onClose(client.Close)
		s.redis = client
		deps.Cache = internalRedis.NewCacheStore(client)
		deps.Locker = internalRedis.NewLockStore(client)
		logger.Info("connected to Redis")
	}

	s.payments = service.NewPaymentService(deps, cfg.Booking.PlatformFeeBPS, time.Now, logger.WithField("component", "payments"))
	s.webhooks = stripe.NewWebhookVerifier(cfg.Stripe.WebhookSecret)

	return s, nil
}

func (s *services) sweeper(rt *runtime) *service.Sweeper {
	return &service.Sweeper{
		Bookings:  s.bookingRepo,
		Expirer:   s.bookings,
		Interval:  rt.cfg.Sweeper.Interval,
		BatchSize: rt.cfg.Sweeper.BatchSize,
		NewRelic:  rt.nrApp,
		Logger:    rt.logger.WithField("component", "sweeper"),
	}
}
