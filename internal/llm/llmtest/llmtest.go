// Package llmtest provides a scripted llms.Model for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// ScriptedModel replays a fixed sequence of responses, one per
// GenerateContent call, and records the message history of every call.
type ScriptedModel struct {
	mu        sync.Mutex
	responses []*llms.ContentResponse
	calls     [][]llms.MessageContent
}

func NewScriptedModel(responses ...*llms.ContentResponse) *ScriptedModel {
	return &ScriptedModel{responses: responses}
}

// Enqueue appends further responses to the script.
func (m *ScriptedModel) Enqueue(responses ...*llms.ContentResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, responses...)
}

func (m *ScriptedModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, messages)
	if len(m.responses) == 0 {
		return nil, fmt.Errorf("scripted model exhausted after %d calls", len(m.calls))
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

// Call implements the deprecated llms.Model method via GenerateContent.
func (m *ScriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	resp, err := m.GenerateContent(ctx, []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)}, options...)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("scripted response has no choices")
	}
	return resp.Choices[0].Content, nil
}

// CallCount reports how many GenerateContent calls were made.
func (m *ScriptedModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Calls returns the recorded message histories.
func (m *ScriptedModel) Calls() [][]llms.MessageContent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]llms.MessageContent(nil), m.calls...)
}

// Text builds a plain text response.
func Text(content string) *llms.ContentResponse {
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: content}},
	}
}

// ToolCall builds a response containing a single tool call.
func ToolCall(id, name, arguments string) *llms.ContentResponse {
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			ToolCalls: []llms.ToolCall{{
				ID:   id,
				Type: "function",
				FunctionCall: &llms.FunctionCall{
					Name:      name,
					Arguments: arguments,
				},
			}},
		}},
	}
}
