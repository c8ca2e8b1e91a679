package storekit

import (
	"errors"
	"fmt"
	"time"
)

var errAlreadyRunning = errors.New("sync worker is already running")

// SyncStats reports background replication counters.
type SyncStats struct {
	TotalAttempts int64      `json:"totalAttempts"`
	SuccessCount  int64      `json:"successCount"`
	FailureCount  int64      `json:"failureCount"`
	QueueSize     int        `json:"queueSize"`
	PendingCount  int        `json:"pendingCount"`
	LastSyncAt    *time.Time `json:"lastSyncAt"`
	SuccessRate   float64    `json:"successRate"`
}

// HealthStatus grades the engine's replication health.
type HealthStatus string

const (
	HealthHealthy HealthStatus = "healthy"
	HealthWarning HealthStatus = "warning"
	HealthError   HealthStatus = "error"
)

// Health describes operator-facing replication health.
type Health struct {
	IsHealthy bool         `json:"isHealthy"`
	Status    HealthStatus `json:"status"`
	Issues    []string     `json:"issues"`
}

// SyncStatus is the monitoring surface consumed by dashboards.
type SyncStatus struct {
	Mode   Mode      `json:"mode"`
	Stats  SyncStats `json:"stats"`
	Health Health    `json:"health"`
}

// queue size above which the backlog is reported as a health issue
const queueBacklogThreshold = 100

// minimum acceptable replication success rate, in percent
const minSuccessRate = 95.0

// computeHealth grades replication health. A worker that was deliberately
// disabled by config is not an issue: inline per-write attempts and manual
// flushes still replicate, and a growing backlog is caught by the queue
// threshold. Only a worker that should be running but is not is an error.
func computeHealth(mode Mode, stats SyncStats, workerEnabled, workerRunning bool) Health {
	health := Health{
		IsHealthy: true,
		Status:    HealthHealthy,
		Issues:    []string{},
	}

	if mode != ModeDualWrite {
		return health
	}

	if stats.TotalAttempts > 0 && stats.SuccessRate < minSuccessRate {
		health.Issues = append(health.Issues,
			fmt.Sprintf("low sync success rate: %.1f%%", stats.SuccessRate))
		health.Status = HealthWarning
	}

	if stats.QueueSize > queueBacklogThreshold {
		health.Issues = append(health.Issues,
			fmt.Sprintf("large sync queue: %d operations", stats.QueueSize))
		health.Status = HealthWarning
	}

	if workerEnabled && !workerRunning {
		health.Issues = append(health.Issues, "sync worker is not running")
		health.Status = HealthError
	}

	health.IsHealthy = health.Status == HealthHealthy
	return health
}
