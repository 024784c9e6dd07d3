package agent

import (
	"fmt"
	"strings"
)

// Verdict is the structured outcome of an investigation run.
type Verdict struct {
	Summary         string
	RootCause       string
	Confidence      string
	Recommendations []string

	// Degraded marks a verdict produced after the turn budget or wall
	// clock ran out, rather than a model-chosen conclusion.
	Degraded bool

	Turns        int
	ToolsUsed    []string
	InputTokens  int
	OutputTokens int
	Raw          string
}

var verdictSections = []string{"SUMMARY:", "ROOT_CAUSE:", "CONFIDENCE:", "RECOMMENDATIONS:"}

// parseVerdict extracts the SUMMARY/ROOT_CAUSE/CONFIDENCE/RECOMMENDATIONS
// sections from the model's final text. Missing sections get placeholders
// so the notifier always has something to render.
func parseVerdict(text string) *Verdict {
	v := &Verdict{
		Summary:         extractSection(text, "SUMMARY"),
		RootCause:       extractSection(text, "ROOT_CAUSE"),
		Confidence:      normalizeConfidence(extractSection(text, "CONFIDENCE")),
		Recommendations: extractRecommendations(text),
		Raw:             text,
	}
	if v.Summary == "" {
		v.Summary = firstChars(text, 200)
	}
	if v.RootCause == "" {
		v.RootCause = "See analysis"
	}
	return v
}

// degradedVerdict synthesizes a low-confidence verdict locally when the
// model never produced one. It is built from the bundle alone.
func degradedVerdict(b *ContextBundle, reason string) *Verdict {
	return &Verdict{
		Summary: fmt.Sprintf("Investigation of %s/%s (%s) incomplete: %s",
			b.Event.Namespace, b.Event.Workload, b.Event.Reason, reason),
		RootCause:  "Could not determine within budget - check logs manually",
		Confidence: "low",
		Recommendations: []string{
			fmt.Sprintf("Review logs for %s/%s manually", b.Event.Namespace, b.Event.Workload),
		},
		Degraded: true,
	}
}

func extractSection(text, section string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, section+":") {
			continue
		}
		content := strings.TrimSpace(trimmed[len(section)+1:])
		// Continuation lines up to the next section header.
		for _, next := range lines[i+1:] {
			next = strings.TrimSpace(next)
			if isSectionHeader(next) {
				break
			}
			if next != "" && !strings.HasPrefix(next, "-") {
				content += " " + next
			}
		}
		return content
	}
	return ""
}

func extractRecommendations(text string) []string {
	var recs []string
	in := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.Contains(line, "RECOMMENDATIONS:") {
			in = true
			continue
		}
		if !in {
			continue
		}
		if strings.HasPrefix(line, "-") {
			recs = append(recs, strings.TrimSpace(line[1:]))
		} else if isSectionHeader(line) {
			break
		}
	}
	if len(recs) == 0 {
		recs = []string{"Review logs manually"}
	}
	return recs
}

func isSectionHeader(line string) bool {
	for _, s := range verdictSections {
		if strings.HasPrefix(line, s) {
			return true
		}
	}
	return false
}

func normalizeConfidence(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return "high"
	case "low":
		return "low"
	default:
		return "medium"
	}
}

func firstChars(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
