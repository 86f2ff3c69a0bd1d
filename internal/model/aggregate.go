package model

import "time"

// AggregateKey identifies the (app, service) pair a RollingAggregate
// tracks (§3, §4.J).
type AggregateKey struct {
	AppID   string
	Service string
}

// Health is the derived status of a service's rolling aggregate (§4.J).
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthWarning   Health = "warning"
	HealthUnhealthy Health = "unhealthy"
)

// AggregateSnapshot is an immutable, read-only view of a per-(app,service)
// RollingAggregate, published periodically by the owning per-app processor
// (§4.J "read-copy operation").
type AggregateSnapshot struct {
	AppID               string
	Service             string
	TotalCount          int64
	PerLevelCount       map[Level]int64
	ErrorsPer10Logs     []int64 // FIFO-aged, length <= MaxErrorWindow
	AvgErrorsPer10Logs  float64
	FirstErrorTS        time.Time
	LatestErrorTS       time.Time
	MostCommonErrorFP   string
	MostCommonErrorCnt  int64
	RecentErrorCountsFP map[string]int64 // fingerprint -> count in last 10 minutes
	Health              Health
	RecentErrors        []PersistedLog // up to 50, most recent first
	PublishedAt         time.Time
}

// MaxErrorWindow bounds the errors_per_10_logs series length (§4.J).
const MaxErrorWindow = 360

// MaxRecentErrors bounds the summary reader's recent-error record list (§4.K).
const MaxRecentErrors = 50

// SnapshotInterval is the default publish cadence for aggregate snapshots (§4.J).
const SnapshotInterval = 2 * time.Second

// Classify derives the Health of a snapshot per the §4.J thresholds.
func Classify(avgErrorsPer10 float64, mostCommonErrorLast10Min int64) Health {
	if avgErrorsPer10 >= 5 || mostCommonErrorLast10Min >= 20 {
		return HealthUnhealthy
	}
	if avgErrorsPer10 >= 2 {
		return HealthWarning
	}
	return HealthHealthy
}
