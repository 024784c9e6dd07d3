package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const (
	maxDocSnippets     = 5
	maxDocSnippetChars = 400
	docsTimeout        = 15 * time.Second
)

// DocsTool looks up official library documentation through the Context7
// API. Without an API key every call degrades to a tool error the model
// can see and route around.
type DocsTool struct {
	APIKey string
	// BaseURL overrides the API endpoint, for tests.
	BaseURL string
	// Client overrides the HTTP client, for tests.
	Client *http.Client
}

func (t *DocsTool) Declaration() Declaration {
	return Declaration{
		Name: "query_docs",
		Description: "Look up official documentation for a library or framework using Context7. " +
			"Use this when you need to find correct usage, configuration options, " +
			"or best practices for a specific technology.",
		Properties: map[string]any{
			"library": map[string]any{
				"type": "string",
				"description": "Library or framework name. Examples: 'express', 'fastify', " +
					"'prisma', 'typeorm', 'nestjs', 'axios'",
			},
			"query": map[string]any{
				"type":        "string",
				"description": "What to look up in the docs. Example: 'connection timeout configuration'",
			},
		},
		Required: []string{"library", "query"},
	}
}

// DocSnippet is one documentation excerpt.
type DocSnippet struct {
	Content string `json:"content"`
	Source  string `json:"source"`
}

type docsPayload struct {
	Success      bool         `json:"success"`
	Library      string       `json:"library"`
	SnippetCount int          `json:"snippetCount"`
	Snippets     []DocSnippet `json:"snippets"`
	Message      string       `json:"message,omitempty"`
}

func (t *DocsTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	if err := requireStrings(args, "library", "query"); err != nil {
		return nil, err
	}
	if t.APIKey == "" {
		return nil, fmt.Errorf("Context7 API key not configured")
	}
	library := stringArg(args, "library")
	query := stringArg(args, "query")

	libraryID, err := t.resolveLibrary(ctx, library)
	if err != nil {
		return nil, err
	}

	snippets, err := t.queryDocs(ctx, libraryID, query)
	if err != nil {
		return nil, err
	}

	payload := docsPayload{
		Success:      true,
		Library:      library,
		SnippetCount: len(snippets),
		Snippets:     snippets,
	}
	if len(snippets) == 0 {
		payload.Message = fmt.Sprintf("No relevant docs found for %s in %s", query, library)
	}
	return payload, nil
}

// resolveLibrary maps a library name to its Context7 ID via the resolve
// endpoint, taking the first match.
func (t *DocsTool) resolveLibrary(ctx context.Context, library string) (string, error) {
	q := url.Values{}
	q.Set("query", library)
	q.Set("libraryName", library)

	var resolved struct {
		Libraries []struct {
			ID string `json:"id"`
		} `json:"libraries"`
	}
	if err := t.call(ctx, http.MethodGet, "/v1/resolve?"+q.Encode(), nil, &resolved); err != nil {
		return "", fmt.Errorf("library not found: %s", library)
	}
	if len(resolved.Libraries) == 0 {
		return "", fmt.Errorf("no documentation found for: %s", library)
	}
	return resolved.Libraries[0].ID, nil
}

// queryDocs fetches documentation snippets for the resolved library,
// bounded to the top few excerpts.
func (t *DocsTool) queryDocs(ctx context.Context, libraryID, query string) ([]DocSnippet, error) {
	body := map[string]string{"libraryId": libraryID, "query": query}

	var result struct {
		Snippets []DocSnippet `json:"snippets"`
	}
	if err := t.call(ctx, http.MethodPost, "/v1/query", body, &result); err != nil {
		return nil, fmt.Errorf("failed to query documentation")
	}

	snippets := result.Snippets
	if len(snippets) > maxDocSnippets {
		snippets = snippets[:maxDocSnippets]
	}
	for i := range snippets {
		snippets[i].Content = truncate(snippets[i].Content, maxDocSnippetChars)
	}
	return snippets, nil
}

// call performs one authenticated Context7 request and decodes the JSON
// response into out.
func (t *DocsTool) call(ctx context.Context, method, path string, body any, out any) error {
	baseURL := t.BaseURL
	if baseURL == "" {
		baseURL = "https://api.context7.com"
	}
	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: docsTimeout}
	}

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+t.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("context7 returned HTTP %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
