package model

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v5"
)

const defaultMaxTokens = 4096

// AnthropicClient implements LLM on the Anthropic Messages API.
// Transient and rate-limited transport failures are retried with backoff up
// to maxAttempts; the SDK's own retry layer is disabled so retries happen in
// exactly one place.
type AnthropicClient struct {
	client      anthropic.Client
	modelName   string
	maxAttempts int
}

// NewAnthropicClient creates a Claude client for the given model. Extra
// options come after the defaults, so tests can point at a stub server.
func NewAnthropicClient(modelName, apiKey string, opts ...option.RequestOption) *AnthropicClient {
	client := anthropic.NewClient(append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, opts...)...)
	return &AnthropicClient{
		client:      client,
		modelName:   modelName,
		maxAttempts: 3,
	}
}

// Generate performs one model turn. Only the HTTP round trip is retried;
// the request is identical across attempts so no tool work is replayed.
func (c *AnthropicClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	params, err := c.convertRequest(req)
	if err != nil {
		return nil, &TransportError{Kind: FailurePermanent, Err: err}
	}

	operation := func() (*anthropic.Message, error) {
		msg, err := c.client.Messages.New(ctx, params)
		if err == nil {
			return msg, nil
		}

		kind := Classify(err)
		slog.Warn("model call failed", "kind", kind.String(), "err", err)
		switch kind {
		case FailurePermanent:
			return nil, backoff.Permanent(err)
		case FailureRateLimited:
			if delay, ok := retryAfter(err); ok {
				return nil, &backoff.RetryAfterError{Duration: delay}
			}
			return nil, err
		default:
			return nil, err
		}
	}

	msg, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(c.maxAttempts)),
	)
	if err != nil {
		return nil, &TransportError{Kind: Classify(err), Err: err}
	}

	return convertResponse(msg), nil
}

// convertRequest maps a Request onto Anthropic message params.
func (c *AnthropicClient) convertRequest(req *Request) (anthropic.MessageNewParams, error) {
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg, err := convertMessage(m)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		messages = append(messages, msg)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.modelName),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}
	return params, nil
}

// convertMessage maps one conversation entry to an Anthropic MessageParam.
func convertMessage(m Message) (anthropic.MessageParam, error) {
	var blocks []anthropic.ContentBlockParamUnion

	if m.Text != "" {
		blocks = append(blocks, anthropic.NewTextBlock(m.Text))
	}
	for _, call := range m.ToolCalls {
		blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, call.Args, call.Name))
	}
	for _, result := range m.ToolResults {
		payload, err := json.Marshal(result.Content)
		if err != nil {
			return anthropic.MessageParam{}, fmt.Errorf("marshal tool result %s: %w", result.ID, err)
		}
		blocks = append(blocks, anthropic.NewToolResultBlock(result.ID, string(payload), result.IsError))
	}

	if m.Role == RoleAssistant {
		return anthropic.NewAssistantMessage(blocks...), nil
	}
	return anthropic.NewUserMessage(blocks...), nil
}

// convertTools maps tool specs to Anthropic tool definitions.
func convertTools(specs []ToolSpec) []anthropic.ToolUnionParam {
	result := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		inputSchema := anthropic.ToolInputSchemaParam{Type: "object"}
		if spec.Properties != nil {
			inputSchema.Properties = spec.Properties
		}
		if len(spec.Required) > 0 {
			inputSchema.Required = spec.Required
		}
		result = append(result, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        spec.Name,
				Description: anthropic.String(spec.Description),
				InputSchema: inputSchema,
			},
		})
	}
	return result
}

// convertResponse maps an Anthropic message back onto a Response.
func convertResponse(msg *anthropic.Message) *Response {
	resp := &Response{
		StopReason:   string(msg.StopReason),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}

	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Text += block.Text

		case "tool_use":
			args := make(map[string]any)
			if block.Input != nil {
				// Input is json.RawMessage; a malformed payload becomes an
				// empty args map, which the handler rejects with a tool error.
				if err := json.Unmarshal(block.Input, &args); err != nil {
					slog.Warn("unparseable tool input", "tool", block.Name, "err", err)
				}
			}
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:   block.ID,
				Name: block.Name,
				Args: args,
			})
		}
	}
	return resp
}
