package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"github.com/appforge/internal/llm"
)

// maxToolRounds bounds how many consecutive tool-call exchanges a single
// agent turn may make before the turn is abandoned.
const maxToolRounds = 8

// Agent is one LLM-driven participant in the network: a system prompt, a
// model connector, its tools, and an optional hook over each final text
// response.
type Agent struct {
	Name        string
	Description string
	System      string
	Connector   *llm.Connector
	Tools       []Tool

	// OnResponse observes the agent's final text output for a turn, e.g. to
	// harvest <business_info> or <task_summary> blocks into state.
	OnResponse func(st *State, text string)
}

// Run executes one agent turn: it generates against the shared history,
// satisfies tool calls until the model produces plain text, and returns the
// extended history. Tool errors are folded into textual tool results so the
// model can react; they never abort the turn.
func (a *Agent) Run(ctx context.Context, st *State, history []llms.MessageContent) ([]llms.MessageContent, error) {
	toolDefs := make([]llms.Tool, 0, len(a.Tools))
	toolsByName := make(map[string]Tool, len(a.Tools))
	for _, t := range a.Tools {
		toolDefs = append(toolDefs, Definition(t))
		toolsByName[t.Name()] = t
	}

	messages := make([]llms.MessageContent, 0, len(history)+2)
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, a.System))
	messages = append(messages, history...)

	for round := 0; round < maxToolRounds; round++ {
		var opts []llms.CallOption
		if len(toolDefs) > 0 {
			opts = append(opts, llms.WithTools(toolDefs))
		}
		resp, err := a.Connector.GenerateContent(ctx, messages, opts...)
		if err != nil {
			return history, fmt.Errorf("agent %s: %w", a.Name, err)
		}
		if len(resp.Choices) == 0 {
			return history, fmt.Errorf("agent %s: empty response", a.Name)
		}
		choice := resp.Choices[0]

		if len(choice.ToolCalls) == 0 {
			final := llms.TextParts(llms.ChatMessageTypeAI, choice.Content)
			history = append(history, final)
			if a.OnResponse != nil {
				a.OnResponse(st, choice.Content)
			}
			return history, nil
		}

		callMsg := llms.MessageContent{Role: llms.ChatMessageTypeAI}
		if choice.Content != "" {
			callMsg.Parts = append(callMsg.Parts, llms.TextContent{Text: choice.Content})
		}
		for _, tc := range choice.ToolCalls {
			callMsg.Parts = append(callMsg.Parts, tc)
		}
		messages = append(messages, callMsg)
		history = append(history, callMsg)

		for _, tc := range choice.ToolCalls {
			result := a.invokeTool(ctx, st, toolsByName, tc)
			toolMsg := llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: tc.ID,
					Name:       tc.FunctionCall.Name,
					Content:    result,
				}},
			}
			messages = append(messages, toolMsg)
			history = append(history, toolMsg)
		}
	}

	log.Warn().Str("agent", a.Name).Int("rounds", maxToolRounds).Msg("agent exhausted tool rounds without a final response")
	return history, nil
}

func (a *Agent) invokeTool(ctx context.Context, st *State, tools map[string]Tool, tc llms.ToolCall) string {
	if tc.FunctionCall == nil {
		return "Error: malformed tool call"
	}
	tool, ok := tools[tc.FunctionCall.Name]
	if !ok {
		return fmt.Sprintf("Error: unknown tool %q", tc.FunctionCall.Name)
	}
	out, err := tool.Call(ctx, st, json.RawMessage(tc.FunctionCall.Arguments))
	if err != nil {
		log.Warn().Err(err).Str("agent", a.Name).Str("tool", tool.Name()).Msg("tool call failed")
		return "Error: " + err.Error()
	}
	return out
}
