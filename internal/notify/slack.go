// Package notify delivers finished verdicts to Slack.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"crashwatch/internal/agent"
	"crashwatch/internal/event"
)

const webhookTimeout = 10 * time.Second

// severityEmoji maps event reasons to an alert color. Unknown reasons get
// a bell.
var severityEmoji = map[string]string{
	"CrashLoopBackOff": "\U0001F534",
	"OOMKilled":        "\U0001F534",
	"Failed":           "\U0001F534",
	"Error":            "\U0001F534",
	"BackOff":          "\U0001F7E1",
	"Unhealthy":        "\U0001F7E1",
}

const defaultEmoji = "\U0001F514"

// SlackNotifier posts one mrkdwn block per verdict to an incoming webhook.
// An empty webhook URL disables delivery.
type SlackNotifier struct {
	WebhookURL string
	// DashboardBaseURL, Tenant and Cluster build the deep link into the
	// observability UI.
	DashboardBaseURL string
	Tenant           string
	Cluster          string

	// Client overrides the HTTP client, for tests.
	Client *http.Client
}

type slackBlock struct {
	Type string     `json:"type"`
	Text *slackText `json:"text,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackPayload struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

// Send delivers the verdict along with its tool-call trail. Failures are
// returned for logging only; the caller treats the run as complete either way.
func (n *SlackNotifier) Send(ctx context.Context, ev event.FailureEvent, v *agent.Verdict, trail []agent.ToolCallRecord) error {
	if n.WebhookURL == "" {
		slog.Warn("no Slack webhook configured, skipping notification", "key", ev.DedupKey())
		return nil
	}

	payload := slackPayload{
		Text: fmt.Sprintf("%s %s: %s in %s", emojiFor(ev.Reason), ev.Reason, ev.Workload, ev.Namespace),
		Blocks: []slackBlock{{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: n.messageText(ev, v, trail)},
		}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: webhookTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post to slack: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack returned %d: %s", resp.StatusCode, msg)
	}

	slog.Info("slack notification sent", "key", ev.DedupKey(), "degraded", v.Degraded)
	return nil
}

// messageText renders the verdict as Slack mrkdwn (not markdown).
func (n *SlackNotifier) messageText(ev event.FailureEvent, v *agent.Verdict, trail []agent.ToolCallRecord) string {
	recommendation := "Review logs manually"
	if len(v.Recommendations) > 0 {
		recommendation = v.Recommendations[0]
	}

	summary := v.Summary
	if v.Degraded {
		summary += " _(incomplete analysis)_"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "*%s %s: %s*\n\n", emojiFor(ev.Reason), ev.Reason, ev.Workload)
	fmt.Fprintf(&sb, "*Summary*\n%s\n\n", summary)
	fmt.Fprintf(&sb, "*Findings*\n• *Event:* `%s`\n  _Namespace:_ %s\n  _Pod:_ `%s`\n  _Message:_ %s\n\n",
		ev.Reason, ev.Namespace, ev.PodName, clip(ev.Message, 200))
	fmt.Fprintf(&sb, "*Root Cause* _%s confidence_\n> %s\n\n", v.Confidence, v.RootCause)
	fmt.Fprintf(&sb, "*Recommended Action*\n%s\n\n", recommendation)
	fmt.Fprintf(&sb, "_Last seen:_ %s | _Investigation: %d tool calls_ | <%s|View dashboard>",
		ev.Timestamp.Format("15:04"), len(trail), n.dashboardLink(ev))
	return sb.String()
}

// dashboardLink deep-links the workload's pod list in the observability UI.
func (n *SlackNotifier) dashboardLink(ev event.FailureEvent) string {
	base := strings.TrimRight(n.DashboardBaseURL, "/")
	q := url.Values{}
	q.Set("duration", "Last hour")
	q.Set("tenantUUID", n.Tenant)
	q.Set("backendId", n.Cluster)
	q.Set("selectedTab", "Pods")
	q.Set("freeText", ev.Workload)
	return base + "/infrastructure?" + q.Encode()
}

func emojiFor(reason string) string {
	if e, ok := severityEmoji[reason]; ok {
		return e
	}
	return defaultEmoji
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
