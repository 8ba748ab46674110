package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"booking/internal/domain"
)

// ConnectAccountCacheTTL bounds how stale a cached payout account can be.
// A disabled account is always refreshed from the gateway before use, so
// only enabled ones risk staleness.
const ConnectAccountCacheTTL = 5 * time.Minute

const connectAccountPrefix = "cache:connect_account:"

// CacheStore handles entity caching in Redis.
type CacheStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewCacheStore creates a new CacheStore.
func NewCacheStore(client redis.UniversalClient) *CacheStore {
	return &CacheStore{client: client, ttl: ConnectAccountCacheTTL}
}

// cachedAccount is the JSON shape stored in Redis.
type cachedAccount struct {
	HostID         string    `json:"host_id"`
	AccountID      string    `json:"account_id"`
	PayoutsEnabled bool      `json:"payouts_enabled"`
	OnboardingURL  string    `json:"onboarding_url,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// GetConnectAccount retrieves a payout account from cache. A miss returns nil, nil.
func (s *CacheStore) GetConnectAccount(ctx context.Context, hostID string) (*domain.ConnectAccount, error) {
	data, err := s.client.Get(ctx, connectAccountPrefix+hostID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Cache miss
		}
		return nil, err
	}

	var c cachedAccount
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &domain.ConnectAccount{
		HostID:         c.HostID,
		AccountID:      c.AccountID,
		PayoutsEnabled: c.PayoutsEnabled,
		OnboardingURL:  c.OnboardingURL,
		UpdatedAt:      c.UpdatedAt,
	}, nil
}

// SetConnectAccount stores a payout account in cache.
func (s *CacheStore) SetConnectAccount(ctx context.Context, a *domain.ConnectAccount) error {
	data, err := json.Marshal(cachedAccount{
		HostID:         a.HostID,
		AccountID:      a.AccountID,
		PayoutsEnabled: a.PayoutsEnabled,
		OnboardingURL:  a.OnboardingURL,
		UpdatedAt:      a.UpdatedAt,
	})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, connectAccountPrefix+a.HostID, data, s.ttl).Err()
}

// InvalidateConnectAccount removes a payout account from cache.
func (s *CacheStore) InvalidateConnectAccount(ctx context.Context, hostID string) error {
	return s.client.Del(ctx, connectAccountPrefix+hostID).Err()
}
