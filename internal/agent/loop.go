package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"crashwatch/internal/model"
)

// State is one node of the orchestration state machine.
type State int

const (
	StateStart State = iota
	StateAwaitingModel
	StateDispatchingTools
	StateFinalizing
	StateBudgetExceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "START"
	case StateAwaitingModel:
		return "AWAITING_MODEL"
	case StateDispatchingTools:
		return "DISPATCHING_TOOLS"
	case StateFinalizing:
		return "FINALIZING"
	case StateBudgetExceeded:
		return "BUDGET_EXCEEDED"
	case StateFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// ErrProtocolViolation marks a model response the loop cannot act on, such
// as tool calls under an end-turn stop or an empty response.
var ErrProtocolViolation = errors.New("model protocol violation")

// Dispatcher is the tool registry surface the loop depends on.
type Dispatcher interface {
	Specs() []model.ToolSpec
	Dispatch(ctx context.Context, calls []model.ToolCall) []model.ToolResult
}

// Loop drives one investigation run: a strictly sequential conversation
// with the model, tools dispatched between turns, bounded by a turn budget
// and the caller's context deadline.
type Loop struct {
	LLM       model.LLM
	Tools     Dispatcher
	MaxTurns  int
	MaxTokens int
}

// Run executes the state machine over bundle until a terminal state. It
// returns a Verdict on FINALIZING and BUDGET_EXCEEDED, and an error on
// FAILED. The error never crashes the caller's poll cycle.
func (l *Loop) Run(ctx context.Context, bundle *ContextBundle) (*Verdict, error) {
	log := slog.With("run_id", bundle.RunID, "workload", bundle.Event.Namespace+"/"+bundle.Event.Workload)
	log.Info("investigation started", "reason", bundle.Event.Reason, "max_turns", l.MaxTurns)

	messages := []model.Message{
		{Role: model.RoleUser, Text: initialPrompt(bundle)},
	}
	specs := l.Tools.Specs()

	state := StateStart
	var inputTokens, outputTokens int
	turns := 0

	finish := func(v *Verdict) *Verdict {
		v.Turns = turns
		v.ToolsUsed = bundle.ToolNames()
		v.InputTokens = inputTokens
		v.OutputTokens = outputTokens
		log.Info("investigation finished", "state", state.String(), "turns", turns,
			"degraded", v.Degraded, "tools", v.ToolsUsed)
		return v
	}

	for {
		// Budget is checked before each request, so the loop never
		// issues more than MaxTurns model calls.
		if turns >= l.MaxTurns {
			state = StateBudgetExceeded
			log.Warn("turn budget exhausted, forcing summary", "turns", turns)
			return finish(l.forceSummary(ctx, log, bundle, messages)), nil
		}

		state = StateAwaitingModel
		turns++
		log.Debug("state transition", "state", state.String(), "turn", turns)

		resp, err := l.LLM.Generate(ctx, &model.Request{
			System:      systemPrompt,
			Messages:    messages,
			Tools:       specs,
			MaxTokens:   l.MaxTokens,
			Temperature: 0.2,
		})
		if err != nil {
			if ctx.Err() != nil && turns > 1 {
				// The wall clock ran out mid-run but earlier turns
				// gathered context, so degrade instead of failing.
				state = StateBudgetExceeded
				log.Warn("run deadline hit after partial progress", "turns", turns)
				return finish(degradedVerdict(bundle, "run deadline exceeded")), nil
			}
			state = StateFailed
			log.Error("model call failed", "turn", turns, "err", err)
			return nil, fmt.Errorf("model call on turn %d: %w", turns, err)
		}
		inputTokens += resp.InputTokens
		outputTokens += resp.OutputTokens

		switch resp.StopReason {
		case model.StopToolUse:
			if len(resp.ToolCalls) == 0 {
				state = StateFailed
				return nil, fmt.Errorf("%w: tool_use stop with no tool calls", ErrProtocolViolation)
			}
			state = StateDispatchingTools
			log.Debug("state transition", "state", state.String(), "calls", len(resp.ToolCalls))

			results := l.Tools.Dispatch(ctx, resp.ToolCalls)
			for i, call := range resp.ToolCalls {
				log.Info("tool call", "turn", turns, "tool", call.Name, "is_error", results[i].IsError)
				errText := ""
				if results[i].IsError {
					errText = fmt.Sprintf("%v", results[i].Content)
				}
				bundle.Record(call.Name, call.Args, results[i].Content, errText)
			}

			messages = append(messages,
				model.Message{Role: model.RoleAssistant, Text: resp.Text, ToolCalls: resp.ToolCalls},
				model.Message{Role: model.RoleUser, ToolResults: results},
			)

		case model.StopEndTurn:
			if len(resp.ToolCalls) > 0 {
				state = StateFailed
				return nil, fmt.Errorf("%w: tool calls under end_turn stop", ErrProtocolViolation)
			}
			if resp.Text == "" {
				state = StateFailed
				return nil, fmt.Errorf("%w: empty final response", ErrProtocolViolation)
			}
			state = StateFinalizing
			return finish(parseVerdict(resp.Text)), nil

		case model.StopMaxTokens:
			// The answer was cut off; one more turn without tools
			// usually recovers a usable summary.
			state = StateBudgetExceeded
			log.Warn("response truncated at max tokens, forcing summary")
			return finish(l.forceSummary(ctx, log, bundle, messages)), nil

		default:
			state = StateFailed
			return nil, fmt.Errorf("%w: unexpected stop reason %q", ErrProtocolViolation, resp.StopReason)
		}
	}
}

// forceSummary asks the model once more, without tools, to conclude from
// what it has. If that also fails the verdict is built locally from the
// bundle. Either way the caller gets something to notify about.
func (l *Loop) forceSummary(ctx context.Context, log *slog.Logger, bundle *ContextBundle, messages []model.Message) *Verdict {
	messages = append(messages, model.Message{Role: model.RoleUser, Text: forceSummaryPrompt})

	resp, err := l.LLM.Generate(ctx, &model.Request{
		System:      systemPrompt,
		Messages:    messages,
		MaxTokens:   l.MaxTokens,
		Temperature: 0.2,
	})
	if err != nil || resp.Text == "" {
		log.Warn("forced summary unavailable, synthesizing verdict locally", "err", err)
		return degradedVerdict(bundle, "turn budget exhausted")
	}

	v := parseVerdict(resp.Text)
	v.Degraded = true
	return v
}
