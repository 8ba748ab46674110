package redis

import (
	"context"
	"time"

	"booking/internal/domain"
)

// ConnectAccountCache defines the cache operations for payout accounts.
type ConnectAccountCache interface {
	GetConnectAccount(ctx context.Context, hostID string) (*domain.ConnectAccount, error)
	SetConnectAccount(ctx context.Context, account *domain.ConnectAccount) error
	InvalidateConnectAccount(ctx context.Context, hostID string) error
}

// CheckoutLocker defines the interface for per-booking checkout locking.
type CheckoutLocker interface {
	AcquireCheckoutLock(ctx context.Context, bookingID string, ttl time.Duration) (bool, error)
	ReleaseCheckoutLock(ctx context.Context, bookingID string) error
}

// Ensure concrete types implement interfaces.
var (
	_ ConnectAccountCache = (*CacheStore)(nil)
	_ CheckoutLocker      = (*LockStore)(nil)
)
