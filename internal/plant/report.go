// ABOUTME: Periodic state reporting to the controller.
// ABOUTME: Consecutive failures trip the heartbeat verdict on the handler.

package plant

import (
	"context"
	"time"
)

// reportLoop reports agent state on a fixed schedule for the lifetime of
// Run. It is deliberately session-independent: ticks fired while
// disconnected count as failures, so a long outage relinquishes the monitor
// role even though no session ever answered.
func (c *Client) reportLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.ReportInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := c.reportState(ctx); err != nil {
			failures++
			c.metrics.RecordStateReport("error")
			c.logger.Warn("state report failed", "failures", failures, "max", c.opts.MaxReportFailures, "error", err)
			if failures >= c.opts.MaxReportFailures {
				c.logger.Error("=== HEARTBEAT FAILURE ===", "consecutive_failures", failures)
				c.opts.Handler.HeartbeatFailure()
				failures = 0
			}
			continue
		}

		failures = 0
		c.metrics.RecordStateReport("success")
	}
}

// reportState performs one report_state round trip on the current session.
func (c *Client) reportState(ctx context.Context) error {
	s := c.currentSession()
	if s == nil {
		return ErrNotConnected
	}

	params := reportParams{
		AgentID:   c.opts.AgentID,
		Status:    c.status(),
		Timestamp: time.Now().UnixMilli(),
	}
	_, err := c.call(ctx, s, methodReportState, params)
	return err
}

func (c *Client) status() ReportStatus {
	if c.opts.Status != nil {
		return c.opts.Status()
	}
	return ReportStatus{}
}
