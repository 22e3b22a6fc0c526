package scheduler

import (
	"context"
	"time"
)

// ContextSweeper clears a persisted tenant context left behind by a
// request that never released it.
type ContextSweeper interface {
	SweepStale(ctx context.Context, maxAge time.Duration) (bool, error)
}

// RevocationPurger drops revocations of tokens that have expired anyway.
type RevocationPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// MaintenanceConfig sets the cadence of the built-in jobs.
type MaintenanceConfig struct {
	SweepInterval time.Duration
	ContextMaxAge time.Duration
	// PurgeAt is the daily HH:MM at which expired revocations are removed.
	PurgeAt string
}

// RegisterMaintenance schedules the stale context sweep and the daily
// revocation purge. A nil sweeper skips the sweep.
func (s *Scheduler) RegisterMaintenance(cfg MaintenanceConfig, sweeper ContextSweeper, purger RevocationPurger) error {
	if sweeper != nil {
		_, err := s.ScheduleInterval("sweep_tenant_context", cfg.SweepInterval, func(ctx context.Context) error {
			_, err := sweeper.SweepStale(ctx, cfg.ContextMaxAge)
			return err
		})
		if err != nil {
			return err
		}
	}
	if purger != nil {
		at := cfg.PurgeAt
		if at == "" {
			at = "03:30"
		}
		_, err := s.ScheduleDaily("purge_revocations", at, func(ctx context.Context) error {
			n, err := purger.PurgeExpired(ctx)
			if err == nil && n > 0 {
				s.logger.Infow("purged expired revocations", "count", n)
			}
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}
