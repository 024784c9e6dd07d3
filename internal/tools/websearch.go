package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	defaultSearchResults = 5
	maxSearchResults     = 10
	maxSnippetChars      = 300
	searchTimeout        = 15 * time.Second
)

// WebSearchTool queries DuckDuckGo's HTML endpoint for error messages and
// returns title/snippet/URL triples.
type WebSearchTool struct {
	// BaseURL overrides the search endpoint, for tests.
	BaseURL string
	// Client overrides the HTTP client, for tests.
	Client *http.Client
}

func (t *WebSearchTool) Declaration() Declaration {
	return Declaration{
		Name: "web_search",
		Description: "Search the web for solutions to errors, exceptions, or technical " +
			"issues. Use this when you see a specific error message and want to find " +
			"solutions or explanations from Stack Overflow, GitHub issues, or documentation.",
		Properties: map[string]any{
			"query": map[string]any{
				"type": "string",
				"description": "Search query. Include the error message or technology name. " +
					"Example: 'Node.js ECONNREFUSED connection refused postgresql'",
			},
			"max_results": map[string]any{
				"type": "number", "description": "Maximum results to return (default: 5)",
			},
		},
		Required: []string{"query"},
	}
}

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
}

type searchPayload struct {
	Success     bool           `json:"success"`
	ResultCount int            `json:"resultCount"`
	Results     []SearchResult `json:"results"`
	Query       string         `json:"query"`
	Message     string         `json:"message,omitempty"`
}

func (t *WebSearchTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	if err := requireStrings(args, "query"); err != nil {
		return nil, err
	}
	query := stringArg(args, "query")
	maxResults := clamp(intArg(args, "max_results", defaultSearchResults), 1, maxSearchResults)

	results, err := t.search(ctx, query, maxResults)
	if err != nil {
		return nil, fmt.Errorf("web search: %w", err)
	}

	payload := searchPayload{
		Success:     true,
		ResultCount: len(results),
		Results:     results,
		Query:       query,
	}
	if len(results) == 0 {
		payload.Message = fmt.Sprintf("No web results found for: %s", query)
	}
	return payload, nil
}

func (t *WebSearchTool) search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	baseURL := t.BaseURL
	if baseURL == "" {
		baseURL = "https://html.duckduckgo.com/html/"
	}
	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: searchTimeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		baseURL+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "crashwatch/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned HTTP %d", resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse search results: %w", err)
	}

	results := parseSearchResults(doc)
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

// parseSearchResults walks the result page DOM collecting result__a anchors
// (title + link) and result__snippet nodes.
func parseSearchResults(doc *html.Node) []SearchResult {
	var results []SearchResult
	var current *SearchResult

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			classes := attr(n, "class")
			switch {
			case n.Data == "a" && strings.Contains(classes, "result__a"):
				if current != nil {
					results = append(results, *current)
				}
				current = &SearchResult{
					Title: strings.TrimSpace(textContent(n)),
					URL:   cleanResultURL(attr(n, "href")),
				}
			case strings.Contains(classes, "result__snippet"):
				if current != nil && current.Snippet == "" {
					current.Snippet = truncate(strings.TrimSpace(textContent(n)), maxSnippetChars)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if current != nil {
		results = append(results, *current)
	}
	return results
}

// cleanResultURL unwraps DuckDuckGo's redirect links (//duckduckgo.com/l/?uddg=<target>).
func cleanResultURL(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(textContent(c))
	}
	return sb.String()
}
