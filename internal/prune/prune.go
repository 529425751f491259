// Package prune returns abandoned sessions to idle on a cron schedule.
package prune

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// SessionStore is the slice of the session store the pruner needs.
type SessionStore interface {
	PruneIdle(cutoff time.Time) int
}

// Pruner resets sessions that have been stuck mid-conversation longer
// than the idle limit. Rate-limit counters survive the reset.
type Pruner struct {
	logger   *slog.Logger
	sessions SessionStore
	schedule string
	maxIdle  time.Duration
	cron     *cron.Cron
}

func New(log *slog.Logger, sessions SessionStore, schedule string, maxIdle time.Duration) *Pruner {
	if log == nil {
		log = slog.Default()
	}
	return &Pruner{
		logger:   log.With(slog.String("service", "prune")),
		sessions: sessions,
		schedule: schedule,
		maxIdle:  maxIdle,
		cron:     cron.New(),
	}
}

// Start registers the cron entry and begins scheduling. A bad schedule
// expression fails here rather than silently never firing.
func (p *Pruner) Start() error {
	if _, err := p.cron.AddFunc(p.schedule, p.runOnce); err != nil {
		return fmt.Errorf("schedule %q: %w", p.schedule, err)
	}
	p.cron.Start()
	p.logger.Info("session pruning scheduled",
		slog.String("schedule", p.schedule),
		slog.Duration("max_idle", p.maxIdle))
	return nil
}

// Stop halts scheduling. A run already in progress finishes.
func (p *Pruner) Stop() {
	ctx := p.cron.Stop()
	<-ctx.Done()
}

func (p *Pruner) runOnce() {
	cutoff := time.Now().Add(-p.maxIdle)
	pruned := p.sessions.PruneIdle(cutoff)
	if pruned > 0 {
		p.logger.Info("pruned stale sessions", slog.Int("count", pruned))
	}
}
