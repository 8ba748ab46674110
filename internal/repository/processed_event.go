package repository

import (
	"context"
	"time"
)

// ClaimResult is the outcome of claiming a delivered event.
type ClaimResult int

const (
	// ClaimAcquired means the caller now holds the event until the lease ends.
	ClaimAcquired ClaimResult = iota
	// ClaimInFlight means another worker holds a live lease on the event.
	ClaimInFlight
	// ClaimDone means the event was already processed.
	ClaimDone
)

func (r ClaimResult) String() string {
	switch r {
	case ClaimAcquired:
		return "acquired"
	case ClaimInFlight:
		return "in_flight"
	case ClaimDone:
		return "done"
	default:
		return "unknown"
	}
}

// ProcessedEventRepository is the dedupe ledger for externally delivered events.
// A claim is a lease: if the holder dies before Complete, the event can be
// claimed again once leaseUntil has passed.
type ProcessedEventRepository interface {
	// Claim takes the event for processing until leaseUntil. An expired
	// processing claim is taken over.
	Claim(ctx context.Context, eventID, kind string, now, leaseUntil time.Time) (ClaimResult, error)

	// Complete marks a claimed event as processed for good.
	Complete(ctx context.Context, eventID string, at time.Time) error

	// Release forgets a processing claim so that a redelivery can be processed again.
	Release(ctx context.Context, eventID string) error
}
