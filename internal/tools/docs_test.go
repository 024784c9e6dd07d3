package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func docsServer(t *testing.T, snippets string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		switch r.URL.Path {
		case "/v1/resolve":
			if r.URL.Query().Get("libraryName") != "express" {
				t.Errorf("libraryName = %q", r.URL.Query().Get("libraryName"))
			}
			w.Write([]byte(`{"libraries":[{"id":"/expressjs/express"}]}`))
		case "/v1/query":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["libraryId"] != "/expressjs/express" {
				t.Errorf("libraryId = %q", body["libraryId"])
			}
			w.Write([]byte(`{"snippets":[` + snippets + `]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
}

func TestDocsTool_ResolvesThenQueries(t *testing.T) {
	srv := docsServer(t, `{"content":"Set server.timeout to bound slow requests.","source":"expressjs.com/api"}`)
	defer srv.Close()

	tool := &DocsTool{APIKey: "test-key", BaseURL: srv.URL, Client: srv.Client()}
	got, err := tool.Invoke(context.Background(), map[string]any{
		"library": "express", "query": "connection timeout configuration",
	})
	if err != nil {
		t.Fatalf("Invoke() error: %v", err)
	}

	payload := got.(docsPayload)
	if payload.SnippetCount != 1 || payload.Library != "express" {
		t.Errorf("payload = %+v", payload)
	}
	if payload.Snippets[0].Source != "expressjs.com/api" {
		t.Errorf("Source = %q", payload.Snippets[0].Source)
	}
}

func TestDocsTool_SnippetsBounded(t *testing.T) {
	long := strings.Repeat("x", 900)
	var many []string
	for i := 0; i < 8; i++ {
		many = append(many, `{"content":"`+long+`","source":"s"}`)
	}
	srv := docsServer(t, strings.Join(many, ","))
	defer srv.Close()

	tool := &DocsTool{APIKey: "test-key", BaseURL: srv.URL, Client: srv.Client()}
	got, err := tool.Invoke(context.Background(), map[string]any{
		"library": "express", "query": "middleware",
	})
	if err != nil {
		t.Fatalf("Invoke() error: %v", err)
	}
	payload := got.(docsPayload)
	if payload.SnippetCount != maxDocSnippets {
		t.Errorf("SnippetCount = %d, want %d", payload.SnippetCount, maxDocSnippets)
	}
	if len(payload.Snippets[0].Content) > maxDocSnippetChars+3 {
		t.Errorf("snippet not truncated: %d chars", len(payload.Snippets[0].Content))
	}
}

func TestDocsTool_MissingKeyIsToolError(t *testing.T) {
	tool := &DocsTool{}

	_, err := tool.Invoke(context.Background(), map[string]any{
		"library": "express", "query": "timeouts",
	})
	if err == nil || !strings.Contains(err.Error(), "API key not configured") {
		t.Errorf("Invoke() = %v, want missing-key error", err)
	}
}

func TestDocsTool_UnknownLibrary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"libraries":[]}`))
	}))
	defer srv.Close()

	tool := &DocsTool{APIKey: "test-key", BaseURL: srv.URL, Client: srv.Client()}
	_, err := tool.Invoke(context.Background(), map[string]any{
		"library": "no-such-lib", "query": "anything",
	})
	if err == nil || !strings.Contains(err.Error(), "no documentation found") {
		t.Errorf("Invoke() = %v, want no-docs error", err)
	}
}

func TestDocsTool_EmptySnippetsStillSucceed(t *testing.T) {
	srv := docsServer(t, "")
	defer srv.Close()

	tool := &DocsTool{APIKey: "test-key", BaseURL: srv.URL, Client: srv.Client()}
	got, err := tool.Invoke(context.Background(), map[string]any{
		"library": "express", "query": "obscure option",
	})
	if err != nil {
		t.Fatalf("Invoke() error: %v", err)
	}
	payload := got.(docsPayload)
	if !payload.Success || payload.Message == "" {
		t.Errorf("empty snippets should succeed with a message, got %+v", payload)
	}
}
