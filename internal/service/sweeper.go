package service

import (
	"context"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"

	"booking/internal/domain"
	"booking/internal/repository"
)

// ExpiredApprovalLister finds approved bookings past their payment deadline.
type ExpiredApprovalLister interface {
	ListExpiredApprovals(ctx context.Context, now time.Time, after *repository.ExpiryCursor, limit int) ([]*domain.Booking, error)
}

// ApprovalExpirer rejects a single overdue approval.
type ApprovalExpirer interface {
	ExpireApproval(ctx context.Context, id string) (*domain.Booking, bool, error)
}

// SweepResult summarizes one sweep pass.
type SweepResult struct {
	Scanned int
	Expired int
	Skipped int
	Failed  int
}

// Sweeper periodically rejects approved bookings that were never paid.
// It takes no lease: every expiration is a guarded update, so overlapping
// sweepers on several instances only race to a no-op.
type Sweeper struct {
	Bookings  ExpiredApprovalLister
	Expirer   ApprovalExpirer
	Interval  time.Duration
	BatchSize int
	NewRelic  *newrelic.Application
	Logger    logrus.FieldLogger
	Now       Clock
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.Interval)
	defer t.Stop()

	// kick immediately
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	txn := s.NewRelic.StartTransaction("sweeper/expire-approvals")
	defer txn.End()

	res, err := s.SweepOnce(newrelic.NewContext(ctx, txn))
	if err != nil {
		txn.NoticeError(err)
		s.Logger.WithError(err).Error("expiration sweep failed")
		return
	}
	txn.AddAttribute("expired", res.Expired)

	if res.Scanned > 0 {
		s.Logger.WithFields(logrus.Fields{
			"scanned": res.Scanned,
			"expired": res.Expired,
			"skipped": res.Skipped,
			"failed":  res.Failed,
		}).Info("expiration sweep finished")
	}
}

// SweepOnce runs a single pass over all overdue approvals, page by page.
// Pages advance by keyset, so rows that are skipped or fail do not hold back
// the rows behind them.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	batch := s.BatchSize
	if batch <= 0 {
		batch = 100
	}
	cutoff := now()

	var cursor *repository.ExpiryCursor
	for {
		page, err := s.Bookings.ListExpiredApprovals(ctx, cutoff, cursor, batch)
		if err != nil {
			return res, err
		}

		for _, b := range page {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Scanned++

			// Offline payments are settled by hand and never expire.
			if b.PaymentMethod.IsOffline() {
				res.Skipped++
				continue
			}

			_, expired, err := s.Expirer.ExpireApproval(ctx, b.ID)
			if err != nil {
				res.Failed++
				s.Logger.WithError(err).WithField("booking_id", b.ID).Warn("expire approval")
				continue
			}
			if expired {
				res.Expired++
			}
		}

		if len(page) < batch {
			return res, nil
		}
		cursor = repository.CursorAfter(page[len(page)-1])
	}
}
