package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"crashwatch/internal/agent"
	"crashwatch/internal/event"
)

func testEvent() event.FailureEvent {
	return event.FailureEvent{
		Timestamp: time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC),
		Namespace: "prod",
		Workload:  "solar-service",
		PodName:   "solar-service-7d4b9-x2k1p",
		Reason:    "CrashLoopBackOff",
		Message:   "Back-off restarting failed container",
	}
}

func testVerdict() *agent.Verdict {
	return &agent.Verdict{
		Summary:         "Pod cannot reach postgres.",
		RootCause:       "DATABASE_URL points at localhost.",
		Confidence:      "high",
		Recommendations: []string{"Point DATABASE_URL at the postgres service", "Add a readiness probe"},
		ToolsUsed:       []string{"query_logs", "get_pod_env"},
	}
}

func testTrail() []agent.ToolCallRecord {
	return []agent.ToolCallRecord{
		{Seq: 0, Name: "query_logs"},
		{Seq: 1, Name: "get_pod_env"},
		{Seq: 2, Name: "get_pod_env"},
	}
}

func TestSend_RendersMrkdwnBlock(t *testing.T) {
	var got slackPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("payload not JSON: %v", err)
		}
	}))
	defer srv.Close()

	n := &SlackNotifier{
		WebhookURL:       srv.URL,
		DashboardBaseURL: "https://app.groundcover.com",
		Tenant:           "tenant-1",
		Cluster:          "prod-cluster",
		Client:           srv.Client(),
	}
	if err := n.Send(context.Background(), testEvent(), testVerdict(), testTrail()); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	if len(got.Blocks) != 1 || got.Blocks[0].Text.Type != "mrkdwn" {
		t.Fatalf("blocks = %+v", got.Blocks)
	}
	text := got.Blocks[0].Text.Text
	for _, want := range []string{
		"\U0001F534 CrashLoopBackOff: solar-service",
		"Pod cannot reach postgres.",
		"_high confidence_",
		"> DATABASE_URL points at localhost.",
		"Point DATABASE_URL at the postgres service",
		"3 tool calls",
		"freeText=solar-service",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("message missing %q:\n%s", want, text)
		}
	}
	// Only the first recommendation goes to Slack.
	if strings.Contains(text, "readiness probe") {
		t.Error("second recommendation should not be rendered")
	}
	if !strings.Contains(got.Text, "CrashLoopBackOff: solar-service in prod") {
		t.Errorf("fallback text = %q", got.Text)
	}
}

func TestSend_DegradedVerdictMarked(t *testing.T) {
	var text string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p slackPayload
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &p)
		text = p.Blocks[0].Text.Text
	}))
	defer srv.Close()

	v := testVerdict()
	v.Degraded = true
	n := &SlackNotifier{WebhookURL: srv.URL, Client: srv.Client()}
	if err := n.Send(context.Background(), testEvent(), v, nil); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if !strings.Contains(text, "incomplete analysis") {
		t.Error("degraded verdict should be called out")
	}
}

func TestSend_DeliveryFailureReturnedNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("invalid_token"))
	}))
	defer srv.Close()

	n := &SlackNotifier{WebhookURL: srv.URL, Client: srv.Client()}
	err := n.Send(context.Background(), testEvent(), testVerdict(), nil)
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Errorf("err = %v, want 403 in message", err)
	}
}

func TestSend_NoWebhookSkips(t *testing.T) {
	n := &SlackNotifier{}
	if err := n.Send(context.Background(), testEvent(), testVerdict(), nil); err != nil {
		t.Errorf("missing webhook should skip silently, got %v", err)
	}
}

func TestEmojiFor_UnknownReasonGetsBell(t *testing.T) {
	if emojiFor("SomethingNew") != defaultEmoji {
		t.Error("unknown reason should fall back to the bell emoji")
	}
	if emojiFor("Unhealthy") != "\U0001F7E1" {
		t.Error("Unhealthy should be yellow")
	}
}
