package agent

import (
	"fmt"
	"strings"
	"time"
)

const systemPrompt = `You are an expert Kubernetes/DevOps engineer investigating a production incident.
A pod crash or unhealthy event has occurred. Your job is to find the ROOT CAUSE and provide actionable fixes.

You have access to these investigation tools:
- query_logs: Search container logs for errors, exceptions, patterns
- query_traces: Find slow requests and high-latency operations (>10s often means event loop blocking)
- web_search: Search the web for error solutions (Stack Overflow, GitHub issues)
- query_docs: Look up official library documentation
- read_pod_file: Read config files from the pod (package.json, requirements.txt, .env)
- list_pod_files: List files in a pod directory
- get_pod_env: Check environment variables

INVESTIGATION STRATEGY:
1. Start with the logs and traces already provided below; call query_logs only if you need more
2. If you see slow operations mentioned, use query_traces to find latency issues
3. When you find a specific error, use web_search to find solutions
4. If it's a library issue, use query_docs to check correct usage
5. If config might be wrong, use read_pod_file or get_pod_env

IMPORTANT PATTERNS TO RECOGNIZE:
- "ECONNREFUSED" = Can't connect to a service (database, redis, etc.)
- "ETIMEDOUT" = Connection timeout, service not responding
- "OOMKilled" = Out of memory, need to increase limits or fix memory leak
- "CrashLoopBackOff" = App keeps crashing, check startup errors
- High latency traces (>10s) = Event loop blocking, sync operations
- "SIGTERM" / "SIGKILL" = Pod being killed, check liveness probes

RESPONSE FORMAT (when you have enough info):
Provide a BRIEF, actionable analysis:

SUMMARY: <one short sentence - what happened>
ROOT_CAUSE: <1-2 sentences - why it happened>
CONFIDENCE: <high|medium|low>
RECOMMENDATIONS:
- <most important fix>
- <second fix if needed>

Keep it concise. DevOps engineers need quick answers, not essays.`

const forceSummaryPrompt = "You've gathered enough information. Provide your final analysis NOW. " +
	"Use the SUMMARY/ROOT_CAUSE/CONFIDENCE/RECOMMENDATIONS format."

// initialPrompt renders the incident details plus the pre-fetched context
// into the first user message.
func initialPrompt(b *ContextBundle) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `A Kubernetes incident has occurred. Investigate and find the root cause.

## Incident Details
- **Reason**: %s
- **Namespace**: %s
- **Workload**: %s
- **Pod**: %s
- **Message**: %s
- **Time**: %s
`, b.Event.Reason, b.Event.Namespace, b.Event.Workload, b.Event.PodName,
		b.Event.Message, b.Event.Timestamp.Format(time.RFC3339))

	sb.WriteString("\n## Recent Logs\n")
	switch {
	case b.LogsErr != "":
		fmt.Fprintf(&sb, "(unavailable: %s — use query_logs to retry)\n", b.LogsErr)
	case len(b.Logs) == 0:
		sb.WriteString("(no log lines in the lookback window)\n")
	default:
		for _, l := range b.Logs {
			fmt.Fprintf(&sb, "%s [%s] %s\n", l.Timestamp.Format(time.RFC3339), l.Level, l.Content)
		}
	}

	sb.WriteString("\n## Slowest Traces\n")
	switch {
	case b.TracesErr != "":
		fmt.Fprintf(&sb, "(unavailable: %s — use query_traces to retry)\n", b.TracesErr)
	case len(b.Traces) == 0:
		sb.WriteString("(no slow traces in the lookback window)\n")
	default:
		for _, t := range b.Traces {
			fmt.Fprintf(&sb, "%s %s %.2fs status=%s\n",
				t.Timestamp.Format(time.RFC3339), t.SpanName, t.Duration.Seconds(), t.StatusCode)
		}
	}

	sb.WriteString("\nStart your investigation. Use the tools to gather information and find the root cause.")
	return sb.String()
}
