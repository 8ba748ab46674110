package repository

import (
	"context"

	"booking/internal/domain"
)

// ConnectAccountRepository defines the persistence operations for host payout accounts.
type ConnectAccountRepository interface {
	// GetByHostID retrieves the payout account of a host.
	GetByHostID(ctx context.Context, hostID string) (*domain.ConnectAccount, error)

	// Upsert stores the latest known state of a payout account.
	Upsert(ctx context.Context, account *domain.ConnectAccount) error
}
