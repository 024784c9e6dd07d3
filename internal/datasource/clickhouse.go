// Package datasource implements the read-only query interface against the
// observability store (ClickHouse over its HTTP JSON interface): failure
// events, log lines, and trace summaries.
package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"crashwatch/internal/event"
)

const queryTimeout = 30 * time.Second

// chTimeLayout is the timestamp format ClickHouse emits in JSON output.
const chTimeLayout = "2006-01-02 15:04:05"

// LogEntry is one log line fetched from the store.
type LogEntry struct {
	Timestamp time.Time
	Level     string
	Content   string
	PodName   string
	Container string
}

// TraceEntry is one trace/span summary, ranked by duration.
type TraceEntry struct {
	Timestamp  time.Time
	SpanName   string
	Duration   time.Duration
	StatusCode string
	Status     string
}

// LogQuery bounds a log fetch. Workload and PodName are alternatives; when
// both are set PodName wins (it is the narrower filter).
type LogQuery struct {
	Namespace string
	Workload  string
	PodName   string
	Level     string
	Pattern   string
	Lookback  time.Duration
	Limit     int
}

// TraceQuery bounds a trace fetch.
type TraceQuery struct {
	Namespace   string
	Workload    string
	Lookback    time.Duration
	MinDuration time.Duration
	Limit       int
}

// Client queries ClickHouse over HTTP. All queries are read-only and bounded.
type Client struct {
	baseURL  string
	user     string
	password string
	database string
	http     *http.Client
}

// NewClient creates a ClickHouse client for the given HTTP base URL.
func NewClient(baseURL, user, password, database string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		user:     user,
		password: password,
		database: database,
		http:     &http.Client{Timeout: queryTimeout},
	}
}

// chResult mirrors the FORMAT JSON response envelope.
type chResult struct {
	Data []map[string]any `json:"data"`
}

// execute runs a query with bound parameters and returns the decoded rows.
func (c *Client) execute(ctx context.Context, query string, params map[string]string) ([]map[string]any, error) {
	vals := url.Values{}
	vals.Set("query", query+" FORMAT JSON")
	vals.Set("database", c.database)
	for k, v := range params {
		vals.Set("param_"+k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/?"+vals.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build query request: %w", err)
	}
	req.SetBasicAuth(c.user, c.password)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("clickhouse query: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read query response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("clickhouse query: HTTP %d: %s", resp.StatusCode, truncate(string(body), 300))
	}

	var result chResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}
	return result.Data, nil
}

// QueryEvents fetches warning events matching the reason set, excluding the
// given namespaces, created after since. Events come back in event-time
// ascending order so the poll cursor can advance monotonically.
func (c *Client) QueryEvents(ctx context.Context, since time.Time, reasons, excludeNamespaces []string) ([]event.FailureEvent, error) {
	query := fmt.Sprintf(`
		SELECT timestamp, entity_namespace, entity_workload, entity_name, reason, message
		FROM events
		WHERE type = 'Warning'
		  AND reason IN (%s)
		  AND timestamp > parseDateTime64BestEffort({since:String})
		  AND entity_namespace NOT IN (%s)
		  AND entity_namespace != ''
		ORDER BY timestamp ASC
		LIMIT 100`,
		quoteList(reasons), quoteList(excludeNamespaces))

	rows, err := c.execute(ctx, query, map[string]string{
		"since": since.UTC().Format(chTimeLayout),
	})
	if err != nil {
		return nil, err
	}

	events := make([]event.FailureEvent, 0, len(rows))
	for _, row := range rows {
		ts := parseTime(str(row, "timestamp"))
		ev := event.FailureEvent{
			Timestamp: ts,
			Namespace: str(row, "entity_namespace"),
			Workload:  str(row, "entity_workload"),
			PodName:   str(row, "entity_name"),
			Reason:    str(row, "reason"),
			Message:   str(row, "message"),
		}
		ev.SourceID = fmt.Sprintf("%s@%d", ev.DedupKey(), ts.Unix())
		events = append(events, ev)
	}
	slog.Debug("fetched failure events", "count", len(events), "since", since)
	return events, nil
}

// QueryLogs fetches recent log lines for a workload or pod.
func (c *Client) QueryLogs(ctx context.Context, q LogQuery) ([]LogEntry, error) {
	limit := q.Limit
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	lookback := int(q.Lookback.Minutes())
	if lookback <= 0 {
		lookback = 30
	}

	conditions := []string{
		"namespace = {ns:String}",
		fmt.Sprintf("timestamp > now() - INTERVAL %d MINUTE", lookback),
	}
	params := map[string]string{"ns": q.Namespace}

	if q.PodName != "" {
		conditions = append(conditions, "pod_name = {pod:String}")
		params["pod"] = q.PodName
	} else {
		conditions = append(conditions, "workload = {wl:String}")
		params["wl"] = q.Workload
	}
	if q.Level != "" {
		conditions = append(conditions, "lower(level) = {lvl:String}")
		params["lvl"] = strings.ToLower(q.Level)
	}
	if q.Pattern != "" {
		conditions = append(conditions, "content ILIKE {pat:String}")
		params["pat"] = "%" + q.Pattern + "%"
	}

	query := fmt.Sprintf(`
		SELECT timestamp, level, content, pod_name, container_name
		FROM logs
		WHERE %s
		ORDER BY timestamp DESC
		LIMIT %d`, strings.Join(conditions, " AND "), limit)

	rows, err := c.execute(ctx, query, params)
	if err != nil {
		return nil, err
	}

	logs := make([]LogEntry, 0, len(rows))
	for _, row := range rows {
		logs = append(logs, LogEntry{
			Timestamp: parseTime(str(row, "timestamp")),
			Level:     str(row, "level"),
			Content:   str(row, "content"),
			PodName:   str(row, "pod_name"),
			Container: str(row, "container_name"),
		})
	}
	return logs, nil
}

// QuerySlowTraces fetches the slowest trace summaries for a workload,
// duration descending.
func (c *Client) QuerySlowTraces(ctx context.Context, q TraceQuery) ([]TraceEntry, error) {
	limit := q.Limit
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	lookback := int(q.Lookback.Minutes())
	if lookback <= 0 {
		lookback = 30
	}
	minMs := q.MinDuration.Milliseconds()

	query := fmt.Sprintf(`
		SELECT start_timestamp, span_name, duration_seconds, return_code, status
		FROM traces
		WHERE namespace = {ns:String}
		  AND workload = {wl:String}
		  AND start_timestamp > now() - INTERVAL %d MINUTE
		  AND duration_seconds * 1000 >= %d
		ORDER BY duration_seconds DESC
		LIMIT %d`, lookback, minMs, limit)

	rows, err := c.execute(ctx, query, map[string]string{
		"ns": q.Namespace,
		"wl": q.Workload,
	})
	if err != nil {
		return nil, err
	}

	traces := make([]TraceEntry, 0, len(rows))
	for _, row := range rows {
		traces = append(traces, TraceEntry{
			Timestamp:  parseTime(str(row, "start_timestamp")),
			SpanName:   str(row, "span_name"),
			Duration:   time.Duration(num(row, "duration_seconds") * float64(time.Second)),
			StatusCode: str(row, "return_code"),
			Status:     str(row, "status"),
		})
	}
	return traces, nil
}

// quoteList renders a []string as a quoted SQL list, escaping single quotes.
func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = "'" + strings.ReplaceAll(s, "'", "\\'") + "'"
	}
	if len(quoted) == 0 {
		return "''"
	}
	return strings.Join(quoted, ",")
}

// parseTime handles ClickHouse DateTime and DateTime64 string forms.
func parseTime(s string) time.Time {
	for _, layout := range []string{chTimeLayout + ".999999999", chTimeLayout, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func str(row map[string]any, key string) string {
	if v, ok := row[key].(string); ok {
		return v
	}
	return ""
}

// num reads a numeric column that may arrive as float64 or string.
func num(row map[string]any, key string) float64 {
	switch v := row[key].(type) {
	case float64:
		return v
	case string:
		var f float64
		fmt.Sscanf(v, "%g", &f)
		return f
	default:
		return 0
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
