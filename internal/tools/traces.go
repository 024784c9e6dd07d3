package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"crashwatch/internal/datasource"
)

const (
	maxTraceRows     = 50
	defaultTraceRows = 20
)

// TraceSource is the slice of the data source the traces tool needs.
type TraceSource interface {
	QuerySlowTraces(ctx context.Context, q datasource.TraceQuery) ([]datasource.TraceEntry, error)
}

// TracesTool finds slow or failed requests for a workload.
type TracesTool struct {
	Source TraceSource
}

func (t *TracesTool) Declaration() Declaration {
	return Declaration{
		Name: "query_traces",
		Description: "Search distributed traces. Use this to find slow requests, high " +
			"latency operations, or failed HTTP calls. High latency (>10s) often " +
			"indicates event loop blocking.",
		Properties: map[string]any{
			"namespace": map[string]any{
				"type": "string", "description": "Kubernetes namespace",
			},
			"workload": map[string]any{
				"type": "string", "description": "Workload name",
			},
			"min_duration_ms": map[string]any{
				"type": "number", "description": "Minimum duration in milliseconds to filter slow traces (default: 1000)",
			},
			"status_code": map[string]any{
				"type": "string", "description": "HTTP status code filter, e.g., '500', '4xx', '5xx' (optional)",
			},
			"limit": map[string]any{
				"type": "number", "description": "Maximum traces to return (default: 20)",
			},
		},
		Required: []string{"namespace", "workload"},
	}
}

type traceRow struct {
	Timestamp       string  `json:"timestamp"`
	SpanName        string  `json:"spanName"`
	DurationSeconds float64 `json:"duration_seconds"`
	StatusCode      string  `json:"statusCode"`
	Status          string  `json:"status"`
}

type tracesPayload struct {
	Success    bool       `json:"success"`
	TraceCount int        `json:"traceCount"`
	Traces     []traceRow `json:"traces"`
	Namespace  string     `json:"namespace"`
	Workload   string     `json:"workload"`
	Message    string     `json:"message,omitempty"`
}

func (t *TracesTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	if err := requireStrings(args, "namespace", "workload"); err != nil {
		return nil, err
	}

	q := datasource.TraceQuery{
		Namespace:   stringArg(args, "namespace"),
		Workload:    stringArg(args, "workload"),
		MinDuration: time.Duration(intArg(args, "min_duration_ms", 1000)) * time.Millisecond,
		Limit:       clamp(intArg(args, "limit", defaultTraceRows), 1, maxTraceRows),
	}

	entries, err := t.Source.QuerySlowTraces(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query traces: %w", err)
	}

	if filter := stringArg(args, "status_code"); filter != "" {
		entries = filterByStatus(entries, filter)
	}

	payload := tracesPayload{
		Success:    true,
		TraceCount: len(entries),
		Traces:     make([]traceRow, 0, len(entries)),
		Namespace:  q.Namespace,
		Workload:   q.Workload,
	}
	if len(entries) == 0 {
		payload.Message = fmt.Sprintf("No slow traces found for %s/%s", q.Namespace, q.Workload)
	}
	for _, e := range entries {
		payload.Traces = append(payload.Traces, traceRow{
			Timestamp:       e.Timestamp.Format(time.RFC3339),
			SpanName:        e.SpanName,
			DurationSeconds: e.Duration.Seconds(),
			StatusCode:      e.StatusCode,
			Status:          e.Status,
		})
	}
	return payload, nil
}

// filterByStatus keeps traces matching an exact code ("500") or a class
// pattern ("5xx").
func filterByStatus(entries []datasource.TraceEntry, filter string) []datasource.TraceEntry {
	var out []datasource.TraceEntry
	classPrefix := ""
	if len(filter) == 3 && strings.HasSuffix(filter, "xx") {
		classPrefix = filter[:1]
	}
	for _, e := range entries {
		switch {
		case classPrefix != "" && strings.HasPrefix(e.StatusCode, classPrefix):
			out = append(out, e)
		case classPrefix == "" && e.StatusCode == filter:
			out = append(out, e)
		}
	}
	return out
}
