package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/marketsync/backend/internal/domain/integration"
	"github.com/marketsync/backend/internal/infrastructure/logger"
)

const tracerName = "github.com/marketsync/backend/internal/infrastructure/scheduler"

// ---------------------------------------------------------------------------
// Ports
// ---------------------------------------------------------------------------

// Reconciler does the per-connection work of a sweep
type Reconciler interface {
	// ListEligible lists connected records, forced resyncs first
	ListEligible(ctx context.Context) ([]integration.Connection, error)
	// Capabilities reports the adapter capabilities of a marketplace
	Capabilities(m integration.Marketplace) (integration.AdapterCapabilities, bool)
	// Reconcile pulls and stores everything changed since the connection's cursor
	Reconcile(ctx context.Context, conn integration.Connection) error
	// PurgeDedup deletes dedup records older than retention
	PurgeDedup(ctx context.Context, retention time.Duration) (int64, error)
}

// UnitMetrics counts reconciliation units
type UnitMetrics interface {
	SyncUnit(ctx context.Context, status string)
}

type nopUnitMetrics struct{}

func (nopUnitMetrics) SyncUnit(context.Context, string) {}

// ---------------------------------------------------------------------------
// ReconcileSchedulerConfig
// ---------------------------------------------------------------------------

// ReconcileSchedulerConfig holds configuration for the reconciliation scheduler
type ReconcileSchedulerConfig struct {
	// Enabled indicates if the cron jobs are registered
	Enabled bool
	// ReconcileSchedule is the cron expression for sweeps
	ReconcileSchedule string
	// DedupPurgeSchedule is the cron expression for the dedup retention purge
	DedupPurgeSchedule string
	DedupRetention     time.Duration
	// BackstopInterval is how stale a webhook-bearing connection may get before a sweep picks it up
	BackstopInterval time.Duration
	ShardCount       int
	SlotLength       time.Duration
	MaxPerRun        int
	// TimeBudget bounds dispatching within one sweep
	TimeBudget  time.Duration
	UnitTimeout time.Duration
	Concurrency int
}

// DefaultReconcileSchedulerConfig returns default configuration
func DefaultReconcileSchedulerConfig() ReconcileSchedulerConfig {
	return ReconcileSchedulerConfig{
		Enabled:            true,
		ReconcileSchedule:  "*/5 * * * *",
		DedupPurgeSchedule: "@hourly",
		DedupRetention:     720 * time.Hour,
		BackstopInterval:   6 * time.Hour,
		ShardCount:         12,
		SlotLength:         5 * time.Minute,
		MaxPerRun:          200,
		TimeBudget:         4 * time.Minute,
		UnitTimeout:        60 * time.Second,
		Concurrency:        4,
	}
}

// Validate validates the configuration
func (c *ReconcileSchedulerConfig) Validate() error {
	if c.Concurrency <= 0 || c.ShardCount <= 0 {
		return ErrInvalidConfig
	}
	if c.UnitTimeout <= 0 || c.TimeBudget <= 0 {
		return ErrInvalidConfig
	}
	if c.SlotLength < time.Second {
		return ErrInvalidConfig
	}
	if c.MaxPerRun < 0 || c.DedupRetention < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// ---------------------------------------------------------------------------
// ReconcileScheduler
// ---------------------------------------------------------------------------

type unitTask struct {
	conn   integration.Connection
	unit   *SweepUnit
	report *SweepReport
	done   func()
}

// ReconcileScheduler runs the periodic reconciliation sweep and the dedup purge
type ReconcileScheduler struct {
	config     ReconcileSchedulerConfig
	reconciler Reconciler
	logger     *zap.Logger
	metrics    UnitMetrics
	tracer     trace.Tracer
	now        func() time.Time
	shuffle    func(n int, swap func(i, j int))

	cron      *cron.Cron
	units     chan unitTask
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	sweeping  atomic.Bool

	lastMu     sync.RWMutex
	lastReport *SweepReport
}

// Option configures a ReconcileScheduler
type Option func(*ReconcileScheduler)

// WithUnitMetrics records sync_units_total
func WithUnitMetrics(m UnitMetrics) Option {
	return func(s *ReconcileScheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock overrides the time source used for slot selection and eligibility
func WithClock(now func() time.Time) Option {
	return func(s *ReconcileScheduler) {
		s.now = now
	}
}

// WithShuffle overrides the shuffle applied within the shard
func WithShuffle(shuffle func(n int, swap func(i, j int))) Option {
	return func(s *ReconcileScheduler) {
		s.shuffle = shuffle
	}
}

// NewReconcileScheduler creates a new reconciliation scheduler
func NewReconcileScheduler(config ReconcileSchedulerConfig, reconciler Reconciler, logger *zap.Logger, opts ...Option) (*ReconcileScheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &ReconcileScheduler{
		config:     config,
		reconciler: reconciler,
		logger:     logger,
		metrics:    nopUnitMetrics{},
		tracer:     otel.Tracer(tracerName),
		now:        time.Now,
		shuffle:    rand.Shuffle,
		units:      make(chan unitTask),
	}
	for _, opt := range opts {
		opt(s)
	}

	cronLog := cronLogger{l: logger.Named("cron").Sugar()}
	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	return s, nil
}

// Start starts the worker pool and, when enabled, the cron jobs
func (s *ReconcileScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}

	if s.config.Enabled {
		if strings.HasPrefix(s.config.ReconcileSchedule, "@every") {
			s.logger.Warn("Interval schedules fire relative to process start and can drift off slot boundaries",
				zap.String("schedule", s.config.ReconcileSchedule),
				zap.Duration("slot_length", s.config.SlotLength),
			)
		}
		if _, err := s.cron.AddFunc(s.config.ReconcileSchedule, s.runScheduledSweep); err != nil {
			return fmt.Errorf("%w: reconcile %q: %v", ErrInvalidSchedule, s.config.ReconcileSchedule, err)
		}
		if s.config.DedupPurgeSchedule != "" {
			if _, err := s.cron.AddFunc(s.config.DedupPurgeSchedule, s.runScheduledPurge); err != nil {
				return fmt.Errorf("%w: dedup purge %q: %v", ErrInvalidSchedule, s.config.DedupPurgeSchedule, err)
			}
		}
	}

	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	for i := 0; i < s.config.Concurrency; i++ {
		s.wg.Add(1)
		go s.worker(s.ctx, i)
	}
	if s.config.Enabled {
		s.cron.Start()
	}
	s.isRunning = true

	s.logger.Info("Reconciliation scheduler started",
		zap.Bool("cron_enabled", s.config.Enabled),
		zap.String("schedule", s.config.ReconcileSchedule),
		zap.Int("workers", s.config.Concurrency),
		zap.Int("shard_count", s.config.ShardCount),
		zap.Duration("time_budget", s.config.TimeBudget),
	)
	return nil
}

// Stop gracefully stops the scheduler, letting in-flight units finish until ctx expires
func (s *ReconcileScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	cronDone := s.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.cancel()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Reconciliation scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.cancel()
		s.logger.Warn("Reconciliation scheduler stop timed out")
		return ctx.Err()
	}
}

// LastReport returns the most recent finished sweep, or nil
func (s *ReconcileScheduler) LastReport() *SweepReport {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	if s.lastReport == nil {
		return nil
	}
	snap := s.lastReport.Snapshot()
	return &snap
}

// RunSweep runs one sweep now and blocks until its dispatched units finish
func (s *ReconcileScheduler) RunSweep(ctx context.Context) (*SweepReport, error) {
	s.mu.Lock()
	running := s.isRunning
	rootCtx := s.ctx
	s.mu.Unlock()
	if !running {
		return nil, ErrSchedulerNotRunning
	}
	if !s.sweeping.CompareAndSwap(false, true) {
		return nil, ErrSweepInProgress
	}
	defer s.sweeping.Store(false)

	now := s.now().UTC()
	slot := TickSlotIndex(now, s.config.SlotLength, s.config.ShardCount)
	report := newSweepReport(slot, now)

	ctx, span := s.tracer.Start(ctx, "reconcile.sweep", trace.WithAttributes(attribute.Int("slot", slot)))
	defer span.End()

	candidates, err := s.reconciler.ListEligible(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list connections: %w", err)
	}
	sel := selectConnections(candidates, s.reconciler.Capabilities, now, s.config, slot)
	batch := sel.ordered(s.shuffle, s.config.MaxPerRun)

	report.Candidates = len(candidates)
	report.Selected = len(batch)
	for _, conn := range batch {
		if conn.LastSyncAt == nil {
			report.Forced++
		}
	}

	budgetCtx, cancelBudget := context.WithTimeout(ctx, s.config.TimeBudget)
	defer cancelBudget()

	var wg sync.WaitGroup
dispatch:
	for i, conn := range batch {
		if budgetCtx.Err() != nil {
			report.Deferred = len(batch) - i
			break
		}
		task := unitTask{conn: conn, unit: NewSweepUnit(conn), report: report, done: wg.Done}
		wg.Add(1)
		select {
		case s.units <- task:
		case <-budgetCtx.Done():
			wg.Done()
			report.Deferred = len(batch) - i
			break dispatch
		case <-rootCtx.Done():
			wg.Done()
			report.Deferred = len(batch) - i
			break dispatch
		}
	}
	wg.Wait()

	report.FinishedAt = s.now().UTC()
	if report.Deferred > 0 {
		for i := 0; i < report.Deferred; i++ {
			s.metrics.SyncUnit(ctx, "deferred")
		}
		s.logger.Warn("Sweep time budget exhausted, deferring remaining units",
			zap.Int("deferred", report.Deferred),
			zap.Duration("time_budget", s.config.TimeBudget),
		)
	}

	snap := report.Snapshot()
	span.SetAttributes(
		attribute.Int("selected", snap.Selected),
		attribute.Int("completed", snap.Completed),
		attribute.Int("failed", snap.Failed+snap.TimedOut),
		attribute.Int("deferred", snap.Deferred),
	)
	s.logger.Info("Reconciliation sweep finished",
		zap.String("sweep_id", snap.ID.String()),
		zap.Int("slot", snap.Slot),
		zap.Int("candidates", snap.Candidates),
		zap.Int("selected", snap.Selected),
		zap.Int("forced", snap.Forced),
		zap.Int("completed", snap.Completed),
		zap.Int("failed", snap.Failed),
		zap.Int("timed_out", snap.TimedOut),
		zap.Int("deferred", snap.Deferred),
		zap.Duration("duration", snap.FinishedAt.Sub(snap.StartedAt)),
	)

	s.lastMu.Lock()
	s.lastReport = report
	s.lastMu.Unlock()
	return report, nil
}

// PurgeDedup runs the dedup retention purge now
func (s *ReconcileScheduler) PurgeDedup(ctx context.Context) (int64, error) {
	return s.reconciler.PurgeDedup(ctx, s.config.DedupRetention)
}

// worker processes units from the queue
func (s *ReconcileScheduler) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()

	s.logger.Debug("Reconcile worker started", zap.Int("worker_id", workerID))

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Reconcile worker stopping", zap.Int("worker_id", workerID))
			return
		case task := <-s.units:
			s.processUnit(ctx, task, workerID)
		}
	}
}

// processUnit reconciles a single connection under its own timeout
func (s *ReconcileScheduler) processUnit(ctx context.Context, task unitTask, workerID int) {
	defer task.done()
	unit := task.unit

	unitCtx, cancel := context.WithTimeout(ctx, s.config.UnitTimeout)
	defer cancel()
	unitCtx = logger.WithSyncTarget(unitCtx, unit.Marketplace.String(), unit.ConnectionID.String())
	log := logger.Enrich(unitCtx, s.logger).With(zap.Int("worker_id", workerID))

	unit.Start()
	err := s.reconcile(unitCtx, task.conn)
	if err != nil {
		unit.Fail(err)
		log.Warn("Reconciliation unit failed",
			zap.String("unit_id", unit.ID.String()),
			zap.String("status", string(unit.Status)),
			zap.Bool("retryable", integration.IsRetryable(err)),
			zap.Error(err),
		)
	} else {
		unit.Complete()
		log.Debug("Reconciliation unit completed",
			zap.Bool("forced", unit.Forced),
			zap.Duration("duration", unit.Duration()),
		)
	}

	task.report.record(unit)
	s.metrics.SyncUnit(ctx, unit.Status.metricStatus())
}

// reconcile isolates the sweep from a panicking unit
func (s *ReconcileScheduler) reconcile(ctx context.Context, conn integration.Connection) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reconcile panic: %v", r)
		}
	}()
	return s.reconciler.Reconcile(ctx, conn)
}

func (s *ReconcileScheduler) runScheduledSweep() {
	if _, err := s.RunSweep(s.ctx); err != nil && !errors.Is(err, ErrSweepInProgress) {
		s.logger.Error("Scheduled reconciliation sweep failed", zap.Error(err))
	}
}

func (s *ReconcileScheduler) runScheduledPurge() {
	n, err := s.PurgeDedup(s.ctx)
	if err != nil {
		s.logger.Error("Scheduled dedup purge failed", zap.Error(err))
		return
	}
	s.logger.Debug("Scheduled dedup purge finished", zap.Int64("deleted", n))
}

// ---------------------------------------------------------------------------
// cron logging
// ---------------------------------------------------------------------------

// cronLogger routes robfig/cron's logging into zap
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}

var _ cron.Logger = cronLogger{}
