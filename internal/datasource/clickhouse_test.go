package datasource

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// newTestClient returns a Client pointed at a stub ClickHouse that answers
// every query with the given JSON rows and records the last request.
func newTestClient(t *testing.T, rows string) (*Client, *http.Request) {
	t.Helper()
	var last http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		last = *r
		fmt.Fprintf(w, `{"data":[%s]}`, rows)
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "default", "", "observability"), &last
}

func TestQueryEvents_ParsesRows(t *testing.T) {
	c, _ := newTestClient(t, `
		{"timestamp":"2025-06-01 12:00:05","entity_namespace":"prod",
		 "entity_workload":"solar-service","entity_name":"solar-service-abc12",
		 "reason":"Unhealthy","message":"Liveness probe failed"}`)

	events, err := c.QueryEvents(context.Background(), time.Now().Add(-time.Minute),
		[]string{"Unhealthy"}, []string{"kube-system"})
	if err != nil {
		t.Fatalf("QueryEvents() error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Namespace != "prod" || ev.Workload != "solar-service" || ev.Reason != "Unhealthy" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.Timestamp.IsZero() {
		t.Error("timestamp not parsed")
	}
	if ev.SourceID == "" {
		t.Error("SourceID not derived")
	}
}

func TestQueryEvents_FiltersInQuery(t *testing.T) {
	c, last := newTestClient(t, "")

	_, err := c.QueryEvents(context.Background(), time.Now(),
		[]string{"OOMKilled", "CrashLoopBackOff"}, []string{"kube-system", "monitoring"})
	if err != nil {
		t.Fatalf("QueryEvents() error: %v", err)
	}

	q := last.URL.Query().Get("query")
	for _, want := range []string{"'OOMKilled','CrashLoopBackOff'", "'kube-system','monitoring'", "type = 'Warning'", "ORDER BY timestamp ASC"} {
		if !strings.Contains(q, want) {
			t.Errorf("query missing %q:\n%s", want, q)
		}
	}
	if last.URL.Query().Get("param_since") == "" {
		t.Error("since parameter not bound")
	}
}

func TestQueryLogs_PodNameWinsOverWorkload(t *testing.T) {
	c, last := newTestClient(t, "")

	_, err := c.QueryLogs(context.Background(), LogQuery{
		Namespace: "prod", Workload: "api", PodName: "api-abc", Pattern: "ECONNREFUSED",
	})
	if err != nil {
		t.Fatalf("QueryLogs() error: %v", err)
	}
	q := last.URL.Query().Get("query")
	if !strings.Contains(q, "pod_name = {pod:String}") {
		t.Errorf("pod filter missing:\n%s", q)
	}
	if strings.Contains(q, "workload =") {
		t.Errorf("workload filter should be skipped when pod is set:\n%s", q)
	}
	if got := last.URL.Query().Get("param_pat"); got != "%ECONNREFUSED%" {
		t.Errorf("param_pat = %q", got)
	}
}

func TestQueryLogs_LimitClamped(t *testing.T) {
	c, last := newTestClient(t, "")

	if _, err := c.QueryLogs(context.Background(), LogQuery{Namespace: "prod", Workload: "api", Limit: 9999}); err != nil {
		t.Fatalf("QueryLogs() error: %v", err)
	}
	if q := last.URL.Query().Get("query"); !strings.Contains(q, "LIMIT 200") {
		t.Errorf("limit not clamped to 200:\n%s", q)
	}
}

func TestQuerySlowTraces_ParsesDurations(t *testing.T) {
	c, _ := newTestClient(t, `
		{"start_timestamp":"2025-06-01 12:00:00.123","span_name":"GET /slow",
		 "duration_seconds":12.5,"return_code":"500","status":"error"}`)

	traces, err := c.QuerySlowTraces(context.Background(), TraceQuery{Namespace: "prod", Workload: "api"})
	if err != nil {
		t.Fatalf("QuerySlowTraces() error: %v", err)
	}
	if len(traces) != 1 {
		t.Fatalf("got %d traces, want 1", len(traces))
	}
	if traces[0].Duration != 12500*time.Millisecond {
		t.Errorf("Duration = %v, want 12.5s", traces[0].Duration)
	}
	if traces[0].SpanName != "GET /slow" {
		t.Errorf("SpanName = %q", traces[0].SpanName)
	}
}

func TestExecute_HTTPErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Code: 60. DB::Exception: Table default.events does not exist", http.StatusNotFound)
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "default", "", "observability")

	_, err := c.QueryEvents(context.Background(), time.Now(), []string{"Error"}, nil)
	if err == nil || !strings.Contains(err.Error(), "HTTP 404") {
		t.Errorf("QueryEvents() = %v, want HTTP 404 error", err)
	}
}

func TestQuoteList_EscapesQuotes(t *testing.T) {
	got := quoteList([]string{"a'b", "c"})
	if got != `'a\'b','c'` {
		t.Errorf("quoteList = %s", got)
	}
	if quoteList(nil) != "''" {
		t.Errorf("empty list should render as ''")
	}
}
