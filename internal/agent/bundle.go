// Package agent runs the bounded tool-use investigation loop over a single
// failure event and produces a structured verdict.
package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"crashwatch/internal/datasource"
	"crashwatch/internal/event"
)

const (
	initialLogLines  = 50
	initialTraceRows = 10
)

// ToolCallRecord is one tool invocation made during the loop. The records
// form an append-only audit trail carried into the final alert.
type ToolCallRecord struct {
	Seq  int
	Name string
	Args map[string]any
	// Result holds the payload fed back to the model; Err is set instead
	// when the handler failed.
	Result any
	Err    string
}

// ContextBundle is the working state of one analysis run. It is owned by
// exactly one run and discarded when the run terminates.
type ContextBundle struct {
	RunID string
	Event event.FailureEvent

	Logs   []datasource.LogEntry
	Traces []datasource.TraceEntry

	// LogsErr and TracesErr carry the fetch failure when the initial
	// context could not be gathered. The run proceeds either way.
	LogsErr   string
	TracesErr string

	Trail []ToolCallRecord
}

// Record appends one tool invocation to the audit trail.
func (b *ContextBundle) Record(name string, args map[string]any, result any, err string) {
	b.Trail = append(b.Trail, ToolCallRecord{
		Seq:    len(b.Trail),
		Name:   name,
		Args:   args,
		Result: result,
		Err:    err,
	})
}

// ToolNames returns the distinct tool names used, in first-use order.
func (b *ContextBundle) ToolNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, r := range b.Trail {
		if !seen[r.Name] {
			seen[r.Name] = true
			names = append(names, r.Name)
		}
	}
	return names
}

// DataSource is the slice of the diagnostic store the aggregator needs.
type DataSource interface {
	QueryLogs(ctx context.Context, q datasource.LogQuery) ([]datasource.LogEntry, error)
	QuerySlowTraces(ctx context.Context, q datasource.TraceQuery) ([]datasource.TraceEntry, error)
}

// Aggregator seeds a ContextBundle with recent logs and slow traces before
// the loop starts, so common cases resolve without any tool call.
type Aggregator struct {
	Source      DataSource
	LogLookback time.Duration
}

// Collect builds the initial bundle for an event. Fetch failures are not
// fatal: the bundle records them and the loop can re-fetch through tools.
func (a *Aggregator) Collect(ctx context.Context, ev event.FailureEvent) *ContextBundle {
	bundle := &ContextBundle{
		RunID: uuid.NewString(),
		Event: ev,
	}
	log := slog.With("run_id", bundle.RunID, "workload", ev.Namespace+"/"+ev.Workload)

	logs, err := a.Source.QueryLogs(ctx, datasource.LogQuery{
		Namespace: ev.Namespace,
		Workload:  ev.Workload,
		Lookback:  a.LogLookback,
		Limit:     initialLogLines,
	})
	if err != nil {
		log.Warn("initial log fetch failed, continuing without", "err", err)
		bundle.LogsErr = err.Error()
	} else {
		bundle.Logs = logs
	}

	traces, err := a.Source.QuerySlowTraces(ctx, datasource.TraceQuery{
		Namespace:   ev.Namespace,
		Workload:    ev.Workload,
		MinDuration: time.Second,
		Limit:       initialTraceRows,
	})
	if err != nil {
		log.Warn("initial trace fetch failed, continuing without", "err", err)
		bundle.TracesErr = err.Error()
	} else {
		bundle.Traces = traces
	}

	log.Info("context bundle assembled", "logs", len(bundle.Logs), "traces", len(bundle.Traces))
	return bundle
}
