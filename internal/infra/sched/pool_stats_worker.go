package sched

import (
	"context"
	"time"

	"activation-service/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// PoolStats is a snapshot of connection pool occupancy.
type PoolStats struct {
	Total int32
	Idle  int32
	InUse int32
}

// PoolStatsWorker periodically publishes database pool occupancy as gauges.
type PoolStatsWorker struct {
	interval time.Duration
	stats    func() PoolStats
	log      *zerolog.Logger
}

func NewPoolStatsWorker(interval time.Duration, stats func() PoolStats, logger *zerolog.Logger) *PoolStatsWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	compLog := logger.With().Str("component", "PoolStatsWorker").Logger()
	return &PoolStatsWorker{
		interval: interval,
		stats:    stats,
		log:      &compLog,
	}
}

func (w *PoolStatsWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting pool stats worker")
	// Publish once on startup, then on every tick
	w.publish()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping pool stats worker")
			return ctx.Err()
		case <-ticker.C:
			w.publish()
		}
	}
}

func (w *PoolStatsWorker) publish() {
	s := w.stats()
	metrics.SetStorePoolStats(s.Total, s.Idle, s.InUse)
	w.log.Debug().Int32("total", s.Total).Int32("idle", s.Idle).Int32("in_use", s.InUse).Msg("pool stats")
}
