package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SyncCheckCron runs a sync-check on a cron schedule while the app is up.
// Overlapping runs are skipped.
type SyncCheckCron struct {
	schedule string
	check    func(ctx context.Context)
	logger   *zap.Logger

	cron      *cron.Cron
	cancel    context.CancelFunc
	mu        sync.Mutex
	isRunning bool
}

// NewSyncCheckCron validates schedule (standard five fields or a descriptor
// such as "@every 30m") and creates a stopped trigger
func NewSyncCheckCron(schedule string, check func(ctx context.Context), logger *zap.Logger) (*SyncCheckCron, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidSchedule, schedule, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncCheckCron{
		schedule: schedule,
		check:    check,
		logger:   logger,
	}, nil
}

// Start schedules the check. Each run gets a context derived from ctx.
func (c *SyncCheckCron) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isRunning {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	cronLog := cronLogger{logger: c.logger}
	c.cron = cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	if _, err := c.cron.AddFunc(c.schedule, func() { c.check(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("%w %q: %v", ErrInvalidSchedule, c.schedule, err)
	}

	c.cancel = cancel
	c.isRunning = true
	c.cron.Start()

	c.logger.Info("Sync check cron started", zap.String("schedule", c.schedule))
	return nil
}

// Stop stops scheduling and waits for a running check, bounded by ctx
func (c *SyncCheckCron) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = false
	c.mu.Unlock()

	c.cancel()
	stopped := c.cron.Stop()

	select {
	case <-stopped.Done():
		c.logger.Info("Sync check cron stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Schedule returns the cron expression
func (c *SyncCheckCron) Schedule() string {
	return c.schedule
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
