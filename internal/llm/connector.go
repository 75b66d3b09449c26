// Package llm wraps langchaingo model construction and invocation behind a
// small connector type shared by the agent network and the single-shot
// generators.
package llm

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"github.com/appforge/internal/retry"
)

// Provider represents an AI provider type.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
	ProviderClaude Provider = "claude"
	ProviderOllama Provider = "ollama"
)

// Options configures a connector.
type Options struct {
	Provider    Provider `json:"provider"`
	APIKey      string   `json:"api_key"`
	BaseURL     string   `json:"base_url,omitempty"`
	Model       string   `json:"model,omitempty"`
	Temperature float64  `json:"temperature,omitempty"`
	// RequestsPerMinute caps the call rate to the provider; 0 disables the
	// limiter.
	RequestsPerMinute int `json:"requests_per_minute,omitempty"`
}

// Connector is a rate-limited handle on one provider/model pair.
type Connector struct {
	provider Provider
	llm      llms.Model
	options  Options
	limiter  *rate.Limiter
}

// NewConnector creates a connector for the specified provider.
func NewConnector(ctx context.Context, options Options) (*Connector, error) {
	var model llms.Model
	var err error

	log.Debug().
		Str("provider", string(options.Provider)).
		Str("model", options.Model).
		Float64("temperature", options.Temperature).
		Msg("Creating new connector")

	switch options.Provider {
	case ProviderOpenAI:
		model, err = createOpenAIModel(options)
	case ProviderGemini:
		model, err = createGeminiModel(ctx, options)
	case ProviderClaude:
		model, err = createAnthropicModel(options)
	case ProviderOllama:
		model, err = createOllamaModel(options)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", options.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create model for provider %s: %w", options.Provider, err)
	}

	return newConnectorWithModel(model, options), nil
}

// NewConnectorWithModel wraps an existing model, used by tests to substitute
// scripted fakes.
func NewConnectorWithModel(model llms.Model, options Options) *Connector {
	return newConnectorWithModel(model, options)
}

func newConnectorWithModel(model llms.Model, options Options) *Connector {
	var limiter *rate.Limiter
	if options.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(options.RequestsPerMinute)/60.0), options.RequestsPerMinute)
	}
	return &Connector{
		provider: options.Provider,
		llm:      model,
		options:  options,
		limiter:  limiter,
	}
}

// Model exposes the underlying langchaingo model.
func (c *Connector) Model() llms.Model { return c.llm }

// GenerateContent invokes the model with full message history and optional
// tool definitions, honoring the connector's rate limit and defaults.
func (c *Connector) GenerateContent(ctx context.Context, messages []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	callOpts := c.defaultOptions()
	callOpts = append(callOpts, opts...)
	var resp *llms.ContentResponse
	err := retry.Do(ctx, retry.LLMConfig(), func() error {
		var callErr error
		resp, callErr = c.llm.GenerateContent(ctx, messages, callOpts...)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("LLM call failed: %w", err)
	}
	return resp, nil
}

// Complete runs a single-shot prompt and returns the raw text response.
func (c *Connector) Complete(ctx context.Context, prompt string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	var response string
	err := retry.Do(ctx, retry.LLMConfig(), func() error {
		var callErr error
		response, callErr = llms.GenerateFromSinglePrompt(ctx, c.llm, prompt, c.defaultOptions()...)
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("LLM call failed: %w", err)
	}
	return response, nil
}

func (c *Connector) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *Connector) defaultOptions() []llms.CallOption {
	var opts []llms.CallOption
	if c.options.Model != "" {
		opts = append(opts, llms.WithModel(c.options.Model))
	}
	if c.options.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(c.options.Temperature))
	}
	return opts
}

func createOpenAIModel(options Options) (llms.Model, error) {
	opts := []openai.Option{
		openai.WithModel(options.Model),
		openai.WithToken(options.APIKey),
	}
	if options.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(options.BaseURL))
	}
	return openai.New(opts...)
}

func createGeminiModel(ctx context.Context, options Options) (llms.Model, error) {
	opts := []googleai.Option{
		googleai.WithAPIKey(options.APIKey),
	}
	if options.Model != "" {
		opts = append(opts, googleai.WithDefaultModel(options.Model))
	}
	return googleai.New(ctx, opts...)
}

func createAnthropicModel(options Options) (llms.Model, error) {
	opts := []anthropic.Option{
		anthropic.WithToken(options.APIKey),
		anthropic.WithModel(options.Model),
	}
	if options.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(options.BaseURL))
	}
	return anthropic.New(opts...)
}

func createOllamaModel(options Options) (llms.Model, error) {
	opts := []ollama.Option{
		ollama.WithModel(options.Model),
	}
	if options.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(options.BaseURL))
	}
	return ollama.New(opts...)
}
