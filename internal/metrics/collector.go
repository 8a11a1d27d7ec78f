package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorax/gorax/internal/jobqueue"
)

// Collector periodically polls the job queue and updates the depth gauge
// for every lane it is told to watch; in-flight counts are only logged at
// debug level.
type Collector struct {
	metrics *Metrics
	queue   jobqueue.Queue
	lanes   []string
	logger  *slog.Logger
	stopCh  chan struct{}
}

// NewCollector creates a new metrics collector for the given queue lanes.
func NewCollector(metrics *Metrics, queue jobqueue.Queue, lanes []string, logger *slog.Logger) *Collector {
	return &Collector{
		metrics: metrics,
		queue:   queue,
		lanes:   lanes,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting metrics at regular intervals
func (c *Collector) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.collectOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.collectOnce(ctx)
		}
	}
}

// Stop stops the metrics collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collectOnce(ctx context.Context) {
	if c.queue == nil {
		return
	}
	for _, lane := range c.lanes {
		info, err := c.queue.Info(ctx, lane)
		if err != nil {
			c.logger.Error("failed to get queue lane info", "lane", lane, "error", err)
			continue
		}
		c.metrics.SetQueueDepth(lane, float64(info.Depth))
		c.logger.Debug("queue lane in-flight", "lane", lane, "count", info.InFlight)
	}
}
