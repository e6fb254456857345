package graph

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// TimeoutMonitor tracks query execution times and warns about approaching timeouts.
type TimeoutMonitor struct {
	logger       *logrus.Logger
	warningRatio float64 // Warn when execution reaches this % of timeout
}

// NewTimeoutMonitor creates a monitor with default settings.
func NewTimeoutMonitor() *TimeoutMonitor {
	return &TimeoutMonitor{
		logger:       logrus.StandardLogger(),
		warningRatio: 0.8,
	}
}

// MonitorQueryExecution wraps a query execution and logs warnings if
// approaching timeout. Returns the duration the query took.
func (tm *TimeoutMonitor) MonitorQueryExecution(
	ctx context.Context,
	operation string,
	timeout time.Duration,
	fn func() error,
) time.Duration {
	start := time.Now()
	err := fn()
	duration := time.Since(start)

	warningThreshold := time.Duration(float64(timeout) * tm.warningRatio)
	fields := logrus.Fields{
		"operation":        operation,
		"duration_seconds": duration.Seconds(),
		"timeout_seconds":  timeout.Seconds(),
	}

	switch {
	case err != nil && duration >= timeout:
		tm.logger.WithFields(fields).WithError(err).Error("query timed out")
	case err != nil:
		tm.logger.WithFields(fields).WithError(err).Warn("query failed")
	case duration >= warningThreshold:
		fields["percent_used"] = (duration.Seconds() / timeout.Seconds()) * 100
		tm.logger.WithFields(fields).Warn("query approaching timeout")
	default:
		tm.logger.WithFields(logrus.Fields{
			"operation":        operation,
			"duration_seconds": duration.Seconds(),
		}).Debug("query completed")
	}

	return duration
}

// MonitorWithContext wraps an operation with a context timeout, canceling
// if it runs past the specified duration.
func (tm *TimeoutMonitor) MonitorWithContext(
	ctx context.Context,
	operation string,
	timeout time.Duration,
	fn func(context.Context) error,
) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := fn(timeoutCtx)
	duration := time.Since(start)

	if err != nil {
		fields := logrus.Fields{
			"operation":        operation,
			"duration_seconds": duration.Seconds(),
		}
		if timeoutCtx.Err() == context.DeadlineExceeded {
			fields["timeout_seconds"] = timeout.Seconds()
			tm.logger.WithFields(fields).Error("operation timed out")
		} else {
			tm.logger.WithFields(fields).WithError(err).Warn("operation failed")
		}
		return err
	}

	warningThreshold := time.Duration(float64(timeout) * tm.warningRatio)
	if duration >= warningThreshold {
		tm.logger.WithFields(logrus.Fields{
			"operation":        operation,
			"duration_seconds": duration.Seconds(),
			"timeout_seconds":  timeout.Seconds(),
			"percent_used":     (duration.Seconds() / timeout.Seconds()) * 100,
		}).Warn("operation approaching timeout")
	} else {
		tm.logger.WithFields(logrus.Fields{
			"operation":        operation,
			"duration_seconds": duration.Seconds(),
		}).Info("operation completed")
	}

	return nil
}

// TimeoutStats tracks timeout statistics for analysis.
type TimeoutStats struct {
	Operation         string
	TotalExecutions   int
	TimeoutCount      int
	AverageDuration   time.Duration
	MaxDuration       time.Duration
	TimeoutPercentage float64
}

// TimeoutTracker collects timeout statistics over time.
type TimeoutTracker struct {
	stats  map[string]*TimeoutStats
	logger *logrus.Logger
}

// NewTimeoutTracker creates a new tracker.
func NewTimeoutTracker() *TimeoutTracker {
	return &TimeoutTracker{
		stats:  make(map[string]*TimeoutStats),
		logger: logrus.StandardLogger(),
	}
}

// RecordExecution records an execution result.
func (tt *TimeoutTracker) RecordExecution(operation string, duration time.Duration, timedOut bool) {
	if tt.stats[operation] == nil {
		tt.stats[operation] = &TimeoutStats{Operation: operation}
	}

	stats := tt.stats[operation]
	stats.TotalExecutions++

	if timedOut {
		stats.TimeoutCount++
	}

	if stats.TotalExecutions == 1 {
		stats.AverageDuration = duration
	} else {
		totalDuration := stats.AverageDuration.Nanoseconds() * int64(stats.TotalExecutions-1)
		stats.AverageDuration = time.Duration((totalDuration + duration.Nanoseconds()) / int64(stats.TotalExecutions))
	}

	if duration > stats.MaxDuration {
		stats.MaxDuration = duration
	}

	if stats.TotalExecutions > 0 {
		stats.TimeoutPercentage = float64(stats.TimeoutCount) / float64(stats.TotalExecutions) * 100
	}
}

// GetStats returns statistics for an operation.
func (tt *TimeoutTracker) GetStats(operation string) *TimeoutStats {
	return tt.stats[operation]
}

// GetAllStats returns all collected statistics.
func (tt *TimeoutTracker) GetAllStats() map[string]*TimeoutStats {
	return tt.stats
}

// LogSummary logs a summary of all timeout statistics.
func (tt *TimeoutTracker) LogSummary() {
	if len(tt.stats) == 0 {
		tt.logger.Info("no timeout statistics collected")
		return
	}

	tt.logger.Info("timeout statistics summary")
	for operation, stats := range tt.stats {
		tt.logger.WithFields(logrus.Fields{
			"operation":            operation,
			"total_executions":     stats.TotalExecutions,
			"timeout_count":        stats.TimeoutCount,
			"timeout_percentage":   stats.TimeoutPercentage,
			"avg_duration_seconds": stats.AverageDuration.Seconds(),
			"max_duration_seconds": stats.MaxDuration.Seconds(),
		}).Info("operation stats")
	}
}
