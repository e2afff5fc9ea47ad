// Package llm implements agent.DecisionProvider on top of an
// OpenAI-compatible chat-completions endpoint with tool calling. Any backend
// that speaks the same API (OpenAI, a local Ollama, vLLM) works.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tidwall/gjson"

	"crewmind/pkg/agent"
)

// Config holds Provider configuration.
type Config struct {
	Model       string
	BaseURL     string // empty uses the OpenAI default
	APIKey      string
	Retries     int           // attempts per Choose call (default 3)
	RetryDelay  time.Duration // initial backoff (default 500ms)
	Temperature float64       // 0 leaves the backend default
	Timeout     time.Duration // per attempt (default 60s)
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Model == "" {
		out.Model = DefaultModel
	}
	if out.Retries <= 0 {
		out.Retries = 3
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = 500 * time.Millisecond
	}
	if out.Timeout <= 0 {
		out.Timeout = 60 * time.Second
	}
	return out
}

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gpt-4o-mini"

// Provider asks a chat model to pick exactly one of the offered tools.
type Provider struct {
	cfg    Config
	client openai.Client
}

// New creates a Provider.
func New(cfg Config) *Provider {
	resolved := cfg.withDefaults()
	opts := []option.RequestOption{
		option.WithMaxRetries(0),
		option.WithRequestTimeout(resolved.Timeout),
	}
	if resolved.APIKey != "" {
		opts = append(opts, option.WithAPIKey(resolved.APIKey))
	}
	if resolved.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(resolved.BaseURL))
	}
	return &Provider{cfg: resolved, client: openai.NewClient(opts...)}
}

// Choose implements agent.DecisionProvider.
func (p *Provider) Choose(ctx context.Context, dc agent.DecisionContext, tools []agent.ToolSpec) (agent.ToolInvocation, error) {
	if len(tools) == 0 {
		return agent.ToolInvocation{}, errors.New("no tools offered")
	}
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(dc.SystemPrompt),
			openai.UserMessage(dc.Render()),
		},
		Tools:      toolParams(tools),
		ToolChoice: openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("required")},
	}
	if p.cfg.Temperature > 0 {
		params.Temperature = openai.Float(p.cfg.Temperature)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.cfg.RetryDelay

	call, err := backoff.Retry(ctx, func() (openai.ChatCompletionMessageToolCall, error) {
		resp, err := p.client.Chat.Completions.New(ctx, params)
		if err != nil {
			if permanent(err) {
				return openai.ChatCompletionMessageToolCall{}, backoff.Permanent(err)
			}
			return openai.ChatCompletionMessageToolCall{}, err
		}
		if len(resp.Choices) == 0 || len(resp.Choices[0].Message.ToolCalls) == 0 {
			return openai.ChatCompletionMessageToolCall{}, errors.New("model returned no tool call")
		}
		return resp.Choices[0].Message.ToolCalls[0], nil
	}, backoff.WithBackOff(eb), backoff.WithMaxTries(uint(p.cfg.Retries)))
	if err != nil {
		return agent.ToolInvocation{}, fmt.Errorf("chat completion for %s: %w", dc.Agent, err)
	}

	return decodeCall(tools, call.Function.Name, call.Function.Arguments)
}

// decodeCall binds a tool call to its spec. Arguments are flattened to
// strings; non-string JSON values keep their raw text.
func decodeCall(tools []agent.ToolSpec, name, arguments string) (agent.ToolInvocation, error) {
	spec, ok := agent.Lookup(tools, name)
	if !ok {
		return agent.ToolInvocation{}, fmt.Errorf("model called unknown tool %q", name)
	}
	args := make(map[string]string)
	if arguments != "" {
		if !gjson.Valid(arguments) {
			return agent.ToolInvocation{}, fmt.Errorf("tool %s: invalid arguments %q", name, arguments)
		}
		gjson.Parse(arguments).ForEach(func(key, value gjson.Result) bool {
			args[key.String()] = value.String()
			return true
		})
	}
	return spec.Invocation(args), nil
}

func toolParams(specs []agent.ToolSpec) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(specs))
	for _, s := range specs {
		props := make(map[string]any, len(s.Params))
		required := make([]string, 0, len(s.Params))
		for _, param := range s.Params {
			prop := map[string]any{"type": "string", "description": param.Description}
			if len(param.Enum) > 0 {
				prop["enum"] = param.Enum
			}
			props[param.Name] = prop
			required = append(required, param.Name)
		}
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        s.Name,
				Description: openai.String(s.Description),
				Parameters: openai.FunctionParameters{
					"type":       "object",
					"properties": props,
					"required":   required,
				},
			},
		})
	}
	return out
}

// permanent reports whether a backend error will not go away on retry.
func permanent(err error) bool {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusTooManyRequests, http.StatusRequestTimeout:
		return false
	default:
		return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
	}
}
