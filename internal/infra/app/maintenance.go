package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const maintenanceJobTimeout = 5 * time.Minute

// EventPruner deletes authentication events older than the retention.
type EventPruner interface {
	PruneEvents(ctx context.Context, retention time.Duration) (int, error)
}

// PolicyEvictor drops the cached directory policies once their TTL has passed.
type PolicyEvictor interface {
	Evict() bool
}

// MaintenanceConfig configures the background jobs.
type MaintenanceConfig struct {
	Retention     time.Duration
	PruneSchedule string
	EvictSchedule string
}

// Maintenance runs event-log pruning and policy-cache eviction on cron schedules.
type Maintenance struct {
	cron     *cron.Cron
	pruner   EventPruner
	policies PolicyEvictor
	cfg      MaintenanceConfig
	logger   *zap.Logger
}

// NewMaintenance registers the configured jobs. An empty schedule disables its job.
func NewMaintenance(cfg MaintenanceConfig, pruner EventPruner, policies PolicyEvictor, logger *zap.Logger) (*Maintenance, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Maintenance{
		cron:     cron.New(cron.WithLogger(cronLogger{logger.Sugar()})),
		pruner:   pruner,
		policies: policies,
		cfg:      cfg,
		logger:   logger,
	}

	if cfg.PruneSchedule != "" && cfg.Retention > 0 && pruner != nil {
		if _, err := m.cron.AddFunc(cfg.PruneSchedule, m.PruneEvents); err != nil {
			return nil, fmt.Errorf("schedule event pruning %q: %w", cfg.PruneSchedule, err)
		}
	}
	if cfg.EvictSchedule != "" && policies != nil {
		if _, err := m.cron.AddFunc(cfg.EvictSchedule, m.EvictPolicies); err != nil {
			return nil, fmt.Errorf("schedule policy eviction %q: %w", cfg.EvictSchedule, err)
		}
	}
	return m, nil
}

// Start launches the scheduler in the background.
func (m *Maintenance) Start() {
	m.cron.Start()
	m.logger.Info("maintenance scheduler started", zap.Int("jobs", len(m.cron.Entries())))
}

// Stop waits for running jobs or until ctx ends.
func (m *Maintenance) Stop(ctx context.Context) {
	select {
	case <-m.cron.Stop().Done():
	case <-ctx.Done():
	}
	m.logger.Info("maintenance scheduler stopped")
}

// PruneEvents removes events beyond the retention.
func (m *Maintenance) PruneEvents() {
	ctx, cancel := context.WithTimeout(context.Background(), maintenanceJobTimeout)
	defer cancel()

	removed, err := m.pruner.PruneEvents(ctx, m.cfg.Retention)
	if err != nil {
		m.logger.Error("event pruning failed", zap.Error(err))
		return
	}
	m.logger.Info("authentication events pruned", zap.Int("removed", removed), zap.Duration("retention", m.cfg.Retention))
}

// EvictPolicies clears the policy cache when its generation has expired.
func (m *Maintenance) EvictPolicies() {
	if m.policies.Evict() {
		m.logger.Debug("directory policy cache evicted")
	}
}

type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
