package integration

import (
	"context"
	"time"
)

// DedupRecord marks one provider event as handled.
// (Marketplace, EventID) is unique and enforced by the backing store, never in process.
type DedupRecord struct {
	Marketplace Marketplace
	EventID     string
	EventType   string
	ProcessedAt time.Time
}

// DedupLedger is the append-only uniqueness store for webhook events
type DedupLedger interface {
	// Record inserts the event. It returns ErrDuplicateEvent when the key already exists.
	Record(ctx context.Context, rec DedupRecord) error

	// Exists reports whether the event was already recorded
	Exists(ctx context.Context, m Marketplace, eventID string) (bool, error)

	// Release deletes a claim so a failed handling attempt can be redelivered
	Release(ctx context.Context, m Marketplace, eventID string) error

	// PurgeOlderThan deletes records processed before cutoff and returns the count
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
