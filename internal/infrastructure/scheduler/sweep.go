package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marketsync/backend/internal/domain/integration"
)

// ---------------------------------------------------------------------------
// Sweep Unit
// ---------------------------------------------------------------------------

// UnitStatus represents the status of one reconciliation unit
type UnitStatus string

const (
	UnitStatusPending   UnitStatus = "PENDING"
	UnitStatusRunning   UnitStatus = "RUNNING"
	UnitStatusCompleted UnitStatus = "COMPLETED"
	UnitStatusFailed    UnitStatus = "FAILED"
	UnitStatusTimedOut  UnitStatus = "TIMED_OUT"
)

// metricStatus is the label used on sync_units_total
func (s UnitStatus) metricStatus() string {
	switch s {
	case UnitStatusCompleted:
		return "completed"
	case UnitStatusTimedOut:
		return "timed_out"
	default:
		return "failed"
	}
}

// SweepUnit is one connection reconciled within a sweep
type SweepUnit struct {
	ID           uuid.UUID
	ConnectionID uuid.UUID
	UserID       uuid.UUID
	Marketplace  integration.Marketplace
	// Forced is set when lastSyncAt was null, so the unit bypassed sharding
	Forced      bool
	Status      UnitStatus
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// NewSweepUnit creates a pending unit for a connection
func NewSweepUnit(conn integration.Connection) *SweepUnit {
	return &SweepUnit{
		ID:           uuid.New(),
		ConnectionID: conn.ID,
		UserID:       conn.UserID,
		Marketplace:  conn.Marketplace,
		Forced:       conn.LastSyncAt == nil,
		Status:       UnitStatusPending,
	}
}

// Start marks the unit as running
func (u *SweepUnit) Start() {
	now := time.Now()
	u.Status = UnitStatusRunning
	u.StartedAt = &now
	u.Error = ""
}

// Complete marks the unit as successful
func (u *SweepUnit) Complete() {
	now := time.Now()
	u.Status = UnitStatusCompleted
	u.CompletedAt = &now
}

// Fail marks the unit as failed, or timed out when its own deadline fired
func (u *SweepUnit) Fail(err error) {
	now := time.Now()
	u.Status = UnitStatusFailed
	if errors.Is(err, context.DeadlineExceeded) {
		u.Status = UnitStatusTimedOut
	}
	u.CompletedAt = &now
	if err != nil {
		u.Error = err.Error()
	}
}

// Duration returns how long the unit ran
func (u *SweepUnit) Duration() time.Duration {
	if u.StartedAt == nil || u.CompletedAt == nil {
		return 0
	}
	return u.CompletedAt.Sub(*u.StartedAt)
}

// ---------------------------------------------------------------------------
// Sweep Report
// ---------------------------------------------------------------------------

// SweepReport summarizes one scheduler tick
type SweepReport struct {
	ID         uuid.UUID
	Slot       int
	StartedAt  time.Time
	FinishedAt time.Time
	Candidates int
	Selected   int
	Forced     int
	Completed  int
	Failed     int
	TimedOut   int
	// Deferred counts units left for the next tick because the time budget ran out
	Deferred int

	mu sync.Mutex
}

func newSweepReport(slot int, startedAt time.Time) *SweepReport {
	return &SweepReport{ID: uuid.New(), Slot: slot, StartedAt: startedAt}
}

func (r *SweepReport) record(u *SweepUnit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch u.Status {
	case UnitStatusCompleted:
		r.Completed++
	case UnitStatusTimedOut:
		r.TimedOut++
	default:
		r.Failed++
	}
}

// Snapshot returns a copy safe to read while the sweep is still recording
func (r *SweepReport) Snapshot() SweepReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return SweepReport{
		ID:         r.ID,
		Slot:       r.Slot,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Candidates: r.Candidates,
		Selected:   r.Selected,
		Forced:     r.Forced,
		Completed:  r.Completed,
		Failed:     r.Failed,
		TimedOut:   r.TimedOut,
		Deferred:   r.Deferred,
	}
}

// ---------------------------------------------------------------------------
// Selection
// ---------------------------------------------------------------------------

// selection holds the ordered units for one tick
type selection struct {
	forced  []integration.Connection
	sharded []integration.Connection
}

// selectConnections applies eligibility and sharding.
// Forced resyncs keep the repository order (oldest first) and always lead the batch.
func selectConnections(
	conns []integration.Connection,
	capsOf func(integration.Marketplace) (integration.AdapterCapabilities, bool),
	now time.Time,
	config ReconcileSchedulerConfig,
	slot int,
) selection {
	var sel selection
	for _, conn := range conns {
		if !conn.IsConnected() {
			continue
		}
		caps, ok := capsOf(conn.Marketplace)
		if !ok {
			continue
		}
		if conn.LastSyncAt == nil {
			sel.forced = append(sel.forced, conn)
			continue
		}
		if caps.HasWebhooks && now.Sub(*conn.LastSyncAt) < config.BackstopInterval {
			continue
		}
		if ShardOf(conn.UserID, config.ShardCount) != slot {
			continue
		}
		sel.sharded = append(sel.sharded, conn)
	}
	return sel
}

// ordered shuffles the sharded part and caps the whole batch at maxPerRun
func (s selection) ordered(shuffle func(n int, swap func(i, j int)), maxPerRun int) []integration.Connection {
	shuffle(len(s.sharded), func(i, j int) {
		s.sharded[i], s.sharded[j] = s.sharded[j], s.sharded[i]
	})
	out := make([]integration.Connection, 0, len(s.forced)+len(s.sharded))
	out = append(out, s.forced...)
	out = append(out, s.sharded...)
	if maxPerRun > 0 && len(out) > maxPerRun {
		out = out[:maxPerRun]
	}
	return out
}
