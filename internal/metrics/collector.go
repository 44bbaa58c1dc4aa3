package metrics

import (
	"context"
	"log/slog"
	"time"
)

// QueueDepthSource is satisfied by internal/trigger.Manager.QueueDepths —
// kept as a narrow interface so this package does not import internal/trigger.
type QueueDepthSource interface {
	QueueDepths() map[string]int
}

// ActiveExecutionSource reports active execution counts per workflow, for
// workflows this collector has previously seen a queue depth for (it has
// no independent way to enumerate every known workflow_id).
type ActiveExecutionSource interface {
	ActiveExecutionIDs(workflowID string) []string
}

// Collector periodically samples the trigger queue and active-execution
// state into gauges, adapted from the teacher's SQS-polling Collector: this
// subsystem's queue is the in-process Trigger Manager, not an external
// queue service, so the AWS SQS client is dropped in favor of
// QueueDepthSource.
type Collector struct {
	metrics *Metrics
	queues  QueueDepthSource
	active  ActiveExecutionSource
	logger  *slog.Logger
	stopCh  chan struct{}
}

// NewCollector creates a metrics collector. queues and active may both be
// nil, in which case collectOnce is a no-op.
func NewCollector(metrics *Metrics, queues QueueDepthSource, active ActiveExecutionSource, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		metrics: metrics,
		queues:  queues,
		active:  active,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Start samples metrics at regular intervals until Stop or ctx is done.
func (c *Collector) Start(ctx context.Context, interval time.Duration) {
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

func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collectOnce() {
	if c.queues == nil {
		return
	}
	depths := c.queues.QueueDepths()
	for workflowID, depth := range depths {
		c.metrics.SetTriggerQueueDepth(workflowID, float64(depth))
		if c.active != nil {
			c.metrics.ExecutionsActive.WithLabelValues(workflowID).Set(float64(len(c.active.ActiveExecutionIDs(workflowID))))
		}
	}
	c.logger.Debug("metrics: sampled trigger queue depths", "workflow_count", len(depths))
}
