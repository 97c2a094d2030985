package integration

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SyncTrigger records what started a sync attempt
type SyncTrigger string

const (
	SyncTriggerWebhook SyncTrigger = "webhook"
	SyncTriggerCron    SyncTrigger = "cron"
	SyncTriggerManual  SyncTrigger = "manual"
)

// SyncLogStatus is the lifecycle of one attempt
type SyncLogStatus string

const (
	SyncLogStarted   SyncLogStatus = "started"
	SyncLogCompleted SyncLogStatus = "completed"
	SyncLogFailed    SyncLogStatus = "failed"
)

// EntityKind is the resource a sync attempt touched
type EntityKind string

const (
	EntityOrder      EntityKind = "order"
	EntityProduct    EntityKind = "product"
	EntityCatalog    EntityKind = "catalog"
	EntityConnection EntityKind = "connection"
)

// SyncLog is an observability row per attempt. Losing one is acceptable.
type SyncLog struct {
	ID           uuid.UUID
	ConnectionID uuid.UUID
	EntityKind   EntityKind
	Trigger      SyncTrigger
	Status       SyncLogStatus
	SyncedCount  int
	ErrorKind    ErrorKind
	ErrorText    string
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// NewSyncLog starts an attempt
func NewSyncLog(connectionID uuid.UUID, kind EntityKind, trigger SyncTrigger) *SyncLog {
	return &SyncLog{
		ID:           uuid.New(),
		ConnectionID: connectionID,
		EntityKind:   kind,
		Trigger:      trigger,
		Status:       SyncLogStarted,
		StartedAt:    time.Now(),
	}
}

// Complete marks the attempt successful
func (l *SyncLog) Complete(count int) {
	now := time.Now()
	l.Status = SyncLogCompleted
	l.SyncedCount = count
	l.FinishedAt = &now
}

// Fail marks the attempt failed. The error text must not carry secrets; adapters never embed tokens in errors.
func (l *SyncLog) Fail(count int, err error) {
	now := time.Now()
	l.Status = SyncLogFailed
	l.SyncedCount = count
	l.FinishedAt = &now
	if err != nil {
		l.ErrorKind = KindOf(err)
		l.ErrorText = truncate(err.Error(), 2000)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// SyncLogRepository persists sync attempts
type SyncLogRepository interface {
	Create(ctx context.Context, log *SyncLog) error
	Update(ctx context.Context, log *SyncLog) error
	FindByConnection(ctx context.Context, connectionID uuid.UUID, limit int) ([]SyncLog, error)
}
