package tools

import (
	"context"
	"fmt"
	"time"

	"crashwatch/internal/datasource"
)

const (
	maxLogLines      = 200
	maxLogLineChars  = 500
	defaultLogLines  = 100
	defaultLookbackM = 30
)

// LogSource is the slice of the data source the logs tool needs.
type LogSource interface {
	QueryLogs(ctx context.Context, q datasource.LogQuery) ([]datasource.LogEntry, error)
}

// LogsTool searches container logs in the observability store.
type LogsTool struct {
	Source LogSource
}

func (t *LogsTool) Declaration() Declaration {
	return Declaration{
		Name: "query_logs",
		Description: "Search container logs. Use this to find log entries related to " +
			"errors, exceptions, or specific patterns. Returns log messages with " +
			"timestamps and log levels.",
		Properties: map[string]any{
			"namespace": map[string]any{
				"type": "string", "description": "Kubernetes namespace to search logs in",
			},
			"workload": map[string]any{
				"type": "string", "description": "Workload name (deployment/statefulset name)",
			},
			"level": map[string]any{
				"type": "string", "description": "Log level filter: error, warn, info, debug (optional)",
			},
			"pattern": map[string]any{
				"type": "string", "description": "Text pattern to search for in log content (optional)",
			},
			"minutes": map[string]any{
				"type": "number", "description": "How many minutes back to search (default: 30)",
			},
			"limit": map[string]any{
				"type": "number", "description": "Maximum logs to return (default: 100)",
			},
		},
		Required: []string{"namespace", "workload"},
	}
}

// logLine is one entry in the tool's result payload.
type logLine struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Content   string `json:"content"`
	Pod       string `json:"pod,omitempty"`
	Container string `json:"container,omitempty"`
}

type logsPayload struct {
	Success   bool      `json:"success"`
	LogCount  int       `json:"logCount"`
	Logs      []logLine `json:"logs"`
	Namespace string    `json:"namespace"`
	Workload  string    `json:"workload"`
	Message   string    `json:"message,omitempty"`
}

func (t *LogsTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	if err := requireStrings(args, "namespace", "workload"); err != nil {
		return nil, err
	}

	q := datasource.LogQuery{
		Namespace: stringArg(args, "namespace"),
		Workload:  stringArg(args, "workload"),
		Level:     stringArg(args, "level"),
		Pattern:   stringArg(args, "pattern"),
		Lookback:  time.Duration(clamp(intArg(args, "minutes", defaultLookbackM), 1, 24*60)) * time.Minute,
		Limit:     clamp(intArg(args, "limit", defaultLogLines), 1, maxLogLines),
	}

	entries, err := t.Source.QueryLogs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}

	payload := logsPayload{
		Success:   true,
		LogCount:  len(entries),
		Logs:      make([]logLine, 0, len(entries)),
		Namespace: q.Namespace,
		Workload:  q.Workload,
	}
	if len(entries) == 0 {
		payload.Message = fmt.Sprintf("No logs found for %s/%s", q.Namespace, q.Workload)
	}
	for _, e := range entries {
		payload.Logs = append(payload.Logs, logLine{
			Timestamp: e.Timestamp.Format(time.RFC3339),
			Level:     e.Level,
			Content:   truncate(e.Content, maxLogLineChars),
			Pod:       e.PodName,
			Container: e.Container,
		})
	}
	return payload, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
