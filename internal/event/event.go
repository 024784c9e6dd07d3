// Package event defines failure events and the deduplication state that
// decides which of them trigger an analysis run.
package event

import (
	"fmt"
	"time"
)

// FailureEvent is an immutable record of a detected workload anomaly.
type FailureEvent struct {
	Timestamp time.Time
	Namespace string
	Workload  string
	PodName   string
	Reason    string
	Message   string
	SourceID  string
}

// DedupKey identifies the underlying problem an event belongs to. Pod names
// are excluded on purpose: they churn across restarts while the problem
// stays the same.
func (e FailureEvent) DedupKey() string {
	return fmt.Sprintf("%s/%s/%s", e.Namespace, e.Workload, e.Reason)
}

func (e FailureEvent) String() string {
	return fmt.Sprintf("%s/%s (%s)", e.Namespace, e.Workload, e.Reason)
}
