// Package tools implements the diagnostic tool handlers the model may
// invoke, behind a registry resolved by tool name.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"crashwatch/internal/model"
)

// Declaration describes one tool to the model: its name, what it does, and
// the JSON-schema shape of its arguments.
type Declaration struct {
	Name        string
	Description string
	Properties  map[string]any
	Required    []string
}

// Handler is the uniform capability every tool implements. Invoke returns a
// JSON-marshalable payload or an error; handlers enforce their own bounds
// (line caps, byte caps, timeouts) independent of the loop's turn budget.
type Handler interface {
	Declaration() Declaration
	Invoke(ctx context.Context, args map[string]any) (any, error)
}

// Registry maps tool names to handlers. Unknown names are a data condition:
// dispatch yields an error result the model sees on its next turn, never a
// failure of the run.
type Registry struct {
	names    []string
	handlers map[string]Handler
}

// NewRegistry builds a registry from the given handlers, preserving
// registration order for the declared tool list.
func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{handlers: make(map[string]Handler)}
	for _, h := range handlers {
		name := h.Declaration().Name
		if _, dup := r.handlers[name]; dup {
			continue
		}
		r.handlers[name] = h
		r.names = append(r.names, name)
	}
	return r
}

// Specs returns the declared tool set in registration order, in the shape
// the model request needs.
func (r *Registry) Specs() []model.ToolSpec {
	specs := make([]model.ToolSpec, 0, len(r.names))
	for _, name := range r.names {
		d := r.handlers[name].Declaration()
		specs = append(specs, model.ToolSpec{
			Name:        d.Name,
			Description: d.Description,
			Properties:  d.Properties,
			Required:    d.Required,
		})
	}
	return specs
}

// Dispatch runs one turn's tool calls. Independent handlers run
// concurrently, but results come back in the order the model requested the
// calls — the model must see a complete, order-preserving result set.
func (r *Registry) Dispatch(ctx context.Context, calls []model.ToolCall) []model.ToolResult {
	results := make([]model.ToolResult, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call model.ToolCall) {
			defer wg.Done()
			results[i] = r.invoke(ctx, call)
		}(i, call)
	}
	wg.Wait()

	return results
}

// invoke resolves and runs a single call, converting panics and handler
// errors into error results.
func (r *Registry) invoke(ctx context.Context, call model.ToolCall) (result model.ToolResult) {
	result.ID = call.ID

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("tool handler panicked", "tool", call.Name, "panic", rec)
			result.Content = errorPayload(fmt.Sprintf("tool %s failed internally", call.Name))
			result.IsError = true
		}
	}()

	handler, ok := r.handlers[call.Name]
	if !ok {
		slog.Warn("unknown tool requested", "tool", call.Name)
		result.Content = errorPayload(fmt.Sprintf("unknown tool: %s", call.Name))
		result.IsError = true
		return result
	}

	start := time.Now()
	payload, err := handler.Invoke(ctx, call.Args)
	if err != nil {
		slog.Warn("tool failed", "tool", call.Name, "err", err, "took", time.Since(start))
		result.Content = errorPayload(err.Error())
		result.IsError = true
		return result
	}

	slog.Info("tool completed", "tool", call.Name, "took", time.Since(start))
	result.Content = payload
	return result
}

func errorPayload(msg string) map[string]any {
	return map[string]any{"success": false, "error": msg}
}

// --- argument helpers shared by handlers ---

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

func requireStrings(args map[string]any, keys ...string) error {
	for _, key := range keys {
		if stringArg(args, key) == "" {
			return fmt.Errorf("missing required argument: %s", key)
		}
	}
	return nil
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
