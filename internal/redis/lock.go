package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const checkoutLockPrefix = "lock:checkout:"

// LockStore handles short-lived locks in Redis.
type LockStore struct {
	client redis.UniversalClient
}

// NewLockStore creates a new LockStore.
func NewLockStore(client redis.UniversalClient) *LockStore {
	return &LockStore{client: client}
}

// AcquireCheckoutLock attempts to take the checkout lock for a booking.
// Returns true if the lock was acquired, false if already held.
func (s *LockStore) AcquireCheckoutLock(ctx context.Context, bookingID string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, checkoutLockPrefix+bookingID, "1", ttl).Result()
}

// ReleaseCheckoutLock releases the checkout lock for a booking.
func (s *LockStore) ReleaseCheckoutLock(ctx context.Context, bookingID string) error {
	return s.client.Del(ctx, checkoutLockPrefix+bookingID).Err()
}
