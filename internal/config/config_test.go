package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, DefaultApprovalPaymentTTL, cfg.Booking.ApprovalPaymentTTL)
	assert.Equal(t, int64(500), cfg.Booking.PlatformFeeBPS)
	assert.Equal(t, "inprocess", cfg.Booking.SagaTransport)
	assert.Equal(t, time.Hour, cfg.Sweeper.Interval)
	assert.Equal(t, "booking.events", cfg.RabbitMQ.BookingEventsExchange)
	assert.Equal(t, 200*time.Millisecond, cfg.Dispatch.Backoff)
}

func TestLoad_ApprovalTTLOverride(t *testing.T) {
	t.Setenv("APPROVAL_PAYMENT_TTL", "48h")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DocumentedApprovalPaymentTTL, cfg.Booking.ApprovalPaymentTTL)
	assert.True(t, ApprovalTTLExplicit())
}

func TestLoad_RejectsUnknownSagaTransport(t *testing.T) {
	t.Setenv("SAGA_TRANSPORT", "kafka")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsFeeAboveWholeAmount(t *testing.T) {
	t.Setenv("PLATFORM_FEE_BPS", "10001")

	_, err := Load()
	assert.Error(t, err)
}
