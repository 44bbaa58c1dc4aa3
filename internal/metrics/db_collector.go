package metrics

import (
	"context"
	"database/sql"
	"log/slog"
	"time"
)

// DBStatsCollector polls database/sql's own connection-pool counters on a
// ticker and republishes them as gauges, since sql.DB exposes no push
// hook of its own. Used against the execution store / credential
// repository's shared *sql.DB in cmd/engine.
type DBStatsCollector struct {
	metrics  *Metrics
	db       *sql.DB
	poolName string
	logger   *slog.Logger
	stopCh   chan struct{}
}

func NewDBStatsCollector(metrics *Metrics, db *sql.DB, poolName string, logger *slog.Logger) *DBStatsCollector {
	return &DBStatsCollector{
		metrics:  metrics,
		db:       db,
		poolName: poolName,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

func (c *DBStatsCollector) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.collectOnce()
		}
	}
}

func (c *DBStatsCollector) Stop() {
	close(c.stopCh)
}

func (c *DBStatsCollector) collectOnce() {
	stats := c.db.Stats()

	c.metrics.SetDBConnectionPoolStats(
		c.poolName,
		stats.OpenConnections,
		stats.Idle,
		stats.InUse,
	)

	c.logger.Debug("database connection pool stats collected",
		"pool", c.poolName,
		"open", stats.OpenConnections,
		"idle", stats.Idle,
		"in_use", stats.InUse,
		"max_open", stats.MaxOpenConnections,
		"wait_count", stats.WaitCount,
		"wait_duration", stats.WaitDuration,
	)
}
