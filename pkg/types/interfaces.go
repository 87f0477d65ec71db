// Package types holds interfaces shared between manualbox components.
package types

import (
	"time"
)

// MetricsCollector defines the metrics collection interface
type MetricsCollector interface {
	RecordOperation(operation string, duration time.Duration, size int64, success bool)
	RecordError(operation string, err error)
	RecordDecision(outcome string)
	RecordPrompt(duration time.Duration, granted bool)
	SetAccessRecords(n int)
	SetContainerSize(bytes int64)
}

// Decision outcomes reported by the access gate.
const (
	DecisionGranted       = "granted"
	DecisionDenied        = "denied"
	DecisionCachedGranted = "cached_granted"
	DecisionCachedDenied  = "cached_denied"
	DecisionFailed        = "failed"
)
