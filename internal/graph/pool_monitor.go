package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// PoolStats represents connection pool statistics.
//
// Note: the Neo4j Go driver doesn't expose detailed pool statistics
// directly. For production monitoring, use Neo4j's built-in metrics
// endpoint: http://localhost:7474/db/neo4j/metrics
type PoolStats struct {
	MaxPoolSize int
}

// GetPoolStats retrieves the configured connection pool size.
func (n *Neo4jBackend) GetPoolStats() PoolStats {
	return PoolStats{MaxPoolSize: 50}
}

// WatchPoolHealth runs periodic health checks to detect connection issues
// early.
//
// Example usage:
//
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	go backend.WatchPoolHealth(ctx, 30*time.Second)
func (n *Neo4jBackend) WatchPoolHealth(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	n.logger.WithField("interval", interval).Info("starting pool health monitor")

	for {
		select {
		case <-ctx.Done():
			n.logger.Info("pool health monitor stopped")
			return
		case <-ticker.C:
			if err := n.HealthCheck(ctx); err != nil {
				n.logger.WithError(err).Warn("pool health check failed")
			} else {
				n.logger.Debug("pool health check passed")
			}
		}
	}
}

// MonitorPoolExhaustion logs a warning if connection acquisition takes too
// long; this can indicate pool exhaustion or slow queries holding
// connections.
func (n *Neo4jBackend) MonitorPoolExhaustion(duration time.Duration, operation string) {
	if duration > 30*time.Second {
		n.logger.WithFields(logrus.Fields{
			"operation":         operation,
			"duration_seconds":  duration.Seconds(),
			"threshold_seconds": 30,
		}).Warn("connection acquisition slow - possible pool exhaustion")
	}
}

// RecommendedPoolSize returns a recommended pool size given expected
// concurrency: 1.5x the expected concurrent requests, clamped to [10,100].
func RecommendedPoolSize(expectedConcurrentRequests int) int {
	recommended := expectedConcurrentRequests * 3 / 2
	if recommended < 10 {
		return 10
	}
	if recommended > 100 {
		return 100
	}
	return recommended
}

// PoolHealthStatus represents the health of the connection pool.
type PoolHealthStatus struct {
	Healthy       bool
	Message       string
	LastCheckTime time.Time
}

// CheckPoolHealth performs a comprehensive health check and returns
// detailed status for monitoring/alerting.
func (n *Neo4jBackend) CheckPoolHealth(ctx context.Context) (*PoolHealthStatus, error) {
	startTime := time.Now()

	err := n.HealthCheck(ctx)
	status := &PoolHealthStatus{LastCheckTime: time.Now()}

	if err != nil {
		status.Healthy = false
		status.Message = fmt.Sprintf("Health check failed: %v", err)
		return status, err
	}

	checkDuration := time.Since(startTime)
	if checkDuration > 5*time.Second {
		status.Healthy = false
		status.Message = fmt.Sprintf("Health check slow: %v (threshold: 5s)", checkDuration)
		return status, fmt.Errorf("health check timeout")
	}

	status.Healthy = true
	status.Message = fmt.Sprintf("pool healthy (check took %v)", checkDuration)
	return status, nil
}
