package app

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"booking/internal/handler"
	"booking/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	BookingHandler *handler.BookingHandler
	PaymentHandler *handler.PaymentHandler
	WebhookHandler *handler.WebhookHandler
	RedisClient    redis.UniversalClient
	NewRelicApp    *newrelic.Application
	Logger         logrus.FieldLogger
	CORSOrigins    []string
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())

	// nrgin goes first so the request logger can tag the transaction.
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.CORS(deps.CORSOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1")

	// The webhook is signed by the gateway and deduplicated by event id, so
	// it stays outside the idempotency middleware.
	v1.POST("/webhooks/stripe", deps.WebhookHandler.Stripe)

	api := v1.Group("")
	if deps.RedisClient != nil {
		api.Use(middleware.Idempotency(deps.RedisClient, deps.Logger))
	}
	{
		bookings := api.Group("/bookings")
		{
			bookings.POST("", deps.BookingHandler.CreateBooking)
			bookings.POST("/paid", deps.BookingHandler.BookingPaid)
			bookings.GET("/:id", deps.BookingHandler.GetBooking)
			bookings.PATCH("/:id/status", deps.BookingHandler.UpdateStatus)
			bookings.POST("/:id/cancel", deps.BookingHandler.CancelBooking)
			bookings.PATCH("/:id/payment-method", deps.BookingHandler.UpdatePaymentMethod)
			bookings.POST("/:id/confirm-offline", deps.BookingHandler.ConfirmOfflinePayment)
			bookings.POST("/:id/complete", deps.BookingHandler.CompleteStay)
		}

		payments := api.Group("/payments")
		{
			payments.POST("/checkout-session", deps.PaymentHandler.CreateCheckoutSession)
			payments.GET("/:id", deps.PaymentHandler.GetPayment)
		}

		api.POST("/connect-accounts/:hostId/refresh", deps.PaymentHandler.RefreshConnectAccount)
	}

	return router
}
