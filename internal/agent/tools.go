package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tmc/langchaingo/llms"

	"github.com/appforge/internal/sandbox"
)

// Tool is one capability exposed to an agent. Call receives the run state and
// the raw JSON arguments produced by the model. A returned error is converted
// into a textual payload for the model at the tool boundary; it never fails
// the workflow.
type Tool interface {
	Name() string
	Description() string
	// Parameters is the JSON schema for the tool's arguments.
	Parameters() map[string]any
	Call(ctx context.Context, st *State, args json.RawMessage) (string, error)
}

// Definition converts a Tool into the langchaingo wire representation.
func Definition(t Tool) llms.Tool {
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}

// TerminalTool runs shell commands in the sandbox. Command failures come back
// to the model as text, with captured output attached, so it can react.
type TerminalTool struct {
	Sandbox sandbox.Sandbox
}

func (t *TerminalTool) Name() string        { return "terminal" }
func (t *TerminalTool) Description() string { return "Use the terminal to run commands" }

func (t *TerminalTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{"type": "string"},
		},
		"required": []string{"command"},
	}
}

func (t *TerminalTool) Call(ctx context.Context, st *State, args json.RawMessage) (string, error) {
	var params struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("invalid terminal arguments: %w", err)
	}
	output, err := t.Sandbox.RunCommand(ctx, params.Command)
	if err != nil {
		return fmt.Sprintf("Command failed: %v\noutput: %s", err, output), nil
	}
	return output, nil
}

// CreateOrUpdateFilesTool writes files into the sandbox and accumulates them
// in run state so a later sandbox can be rebuilt from state alone.
type CreateOrUpdateFilesTool struct {
	Sandbox sandbox.Sandbox
}

func (t *CreateOrUpdateFilesTool) Name() string { return "create_or_update_files" }
func (t *CreateOrUpdateFilesTool) Description() string {
	return "Create or update files in the sandbox"
}

func (t *CreateOrUpdateFilesTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"files": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"path":    map[string]any{"type": "string"},
						"content": map[string]any{"type": "string"},
					},
					"required": []string{"path", "content"},
				},
			},
		},
		"required": []string{"files"},
	}
}

func (t *CreateOrUpdateFilesTool) Call(ctx context.Context, st *State, args json.RawMessage) (string, error) {
	var params struct {
		Files []struct {
			Path    string `json:"path"`
			Content string `json:"content"`
		} `json:"files"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("invalid create_or_update_files arguments: %w", err)
	}
	for _, f := range params.Files {
		if err := t.Sandbox.WriteFile(ctx, f.Path, f.Content); err != nil {
			return "", fmt.Errorf("write %s: %w", f.Path, err)
		}
		st.SetFile(f.Path, f.Content)
	}
	return fmt.Sprintf("wrote %d file(s)", len(params.Files)), nil
}

// ReadFilesTool reads files back from the sandbox and returns them as a JSON
// list of path/content pairs.
type ReadFilesTool struct {
	Sandbox sandbox.Sandbox
}

func (t *ReadFilesTool) Name() string        { return "read_files" }
func (t *ReadFilesTool) Description() string { return "Read files from the sandbox" }

func (t *ReadFilesTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"files": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"required": []string{"files"},
	}
}

func (t *ReadFilesTool) Call(ctx context.Context, st *State, args json.RawMessage) (string, error) {
	var params struct {
		Files []string `json:"files"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("invalid read_files arguments: %w", err)
	}
	type fileContent struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	contents := make([]fileContent, 0, len(params.Files))
	for _, path := range params.Files {
		content, err := t.Sandbox.ReadFile(ctx, path)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
		contents = append(contents, fileContent{Path: path, Content: content})
	}
	out, err := json.Marshal(contents)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
