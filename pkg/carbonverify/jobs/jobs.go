// Package jobs runs background maintenance on a cron schedule.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"k8s.io/klog/v2"

	"github.com/carbonflow/ai-engine/pkg/carbonverify/config"
)

// Cleaner removes expired records.
type Cleaner interface {
	Cleanup(ctx context.Context, retentionDays int) (int64, error)
}

// HealthReporter reports model readiness for the periodic health log.
type HealthReporter interface {
	Ready() bool
}

// cleanupTimeout bounds one retention sweep.
const cleanupTimeout = 5 * time.Minute

// Runner owns the cron scheduler and its maintenance jobs.
type Runner struct {
	cron      *cron.Cron
	cfg       config.JobsConfig
	retention int
	cleaner   Cleaner
	models    map[string]HealthReporter
}

// New creates a runner over the given collaborators.
func New(cfg config.JobsConfig, retentionDays int, cleaner Cleaner, models map[string]HealthReporter) *Runner {
	return &Runner{
		cron:      cron.New(),
		cfg:       cfg,
		retention: retentionDays,
		cleaner:   cleaner,
		models:    models,
	}
}

// Start registers and launches the scheduled jobs.
func (r *Runner) Start() error {
	if r.cleaner != nil && r.cfg.CleanupSchedule != "" {
		if _, err := r.cron.AddFunc(r.cfg.CleanupSchedule, r.runCleanup); err != nil {
			return err
		}
	}
	if len(r.models) > 0 && r.cfg.HealthLogSchedule != "" {
		if _, err := r.cron.AddFunc(r.cfg.HealthLogSchedule, r.logHealth); err != nil {
			return err
		}
	}
	r.cron.Start()
	klog.InfoS("Started background jobs",
		"cleanupSchedule", r.cfg.CleanupSchedule,
		"healthLogSchedule", r.cfg.HealthLogSchedule)
	return nil
}

// Stop halts the scheduler and waits for running jobs.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

func (r *Runner) runCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	deleted, err := r.cleaner.Cleanup(ctx, r.retention)
	if err != nil {
		klog.ErrorS(err, "Scheduled verification cleanup failed")
		return
	}
	klog.V(1).InfoS("Scheduled verification cleanup finished", "deleted", deleted, "retentionDays", r.retention)
}

func (r *Runner) logHealth() {
	for name, model := range r.models {
		klog.InfoS("Model health", "model", name, "ready", model.Ready())
	}
}
