package postgres

import (
	"context"
	"database/sql"
	"errors"

	"booking/internal/domain"
	"booking/internal/repository"
)

// ConnectAccountRepository is a PostgreSQL implementation of repository.ConnectAccountRepository.
type ConnectAccountRepository struct {
	q Querier
}

// NewConnectAccountRepository creates a new PostgreSQL connect account repository.
func NewConnectAccountRepository(db *sql.DB) *ConnectAccountRepository {
	return &ConnectAccountRepository{q: db}
}

var _ repository.ConnectAccountRepository = (*ConnectAccountRepository)(nil)

// GetByHostID retrieves the payout account of a host.
func (r *ConnectAccountRepository) GetByHostID(ctx context.Context, hostID string) (*domain.ConnectAccount, error) {
	query := `
		SELECT host_id, account_id, payouts_enabled, onboarding_url, updated_at
		FROM connect_accounts WHERE host_id = $1
	`

	var (
		a             domain.ConnectAccount
		onboardingURL sql.NullString
	)
	err := r.q.QueryRowContext(ctx, query, hostID).Scan(
		&a.HostID,
		&a.AccountID,
		&a.PayoutsEnabled,
		&onboardingURL,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	a.OnboardingURL = onboardingURL.String

	return &a, nil
}

// Upsert stores the latest known state of a payout account.
func (r *ConnectAccountRepository) Upsert(ctx context.Context, a *domain.ConnectAccount) error {
	query := `
		INSERT INTO connect_accounts (host_id, account_id, payouts_enabled, onboarding_url, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (host_id) DO UPDATE SET
			account_id = EXCLUDED.account_id,
			payouts_enabled = EXCLUDED.payouts_enabled,
			onboarding_url = COALESCE(EXCLUDED.onboarding_url, connect_accounts.onboarding_url),
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.q.ExecContext(ctx, query,
		a.HostID,
		a.AccountID,
		a.PayoutsEnabled,
		nullString(a.OnboardingURL),
		a.UpdatedAt,
	)
	return err
}
