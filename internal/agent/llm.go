package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/intake/internal/observability"
	"github.com/rahul/intake/pkg/retry"
)

var errNoChoices = errors.New("model returned no choices")

// Caller wraps a model with retries, metrics and the transcript.
// The zero Retry config is replaced by retry.DefaultConfig.
type Caller struct {
	Model       llms.Model
	Retry       retry.Config
	Transcript  *observability.Transcript
	Log         *slog.Logger
	CallOptions []llms.CallOption
}

func NewCaller(model llms.Model, log *slog.Logger, transcript *observability.Transcript, opts ...llms.CallOption) *Caller {
	return &Caller{
		Model:       model,
		Retry:       retry.DefaultConfig(),
		Transcript:  transcript,
		Log:         log,
		CallOptions: opts,
	}
}

func (c *Caller) generate(ctx context.Context, phase, userID string, messages []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentChoice, error) {
	cfg := c.Retry
	if cfg.MaxAttempts == 0 {
		cfg = retry.DefaultConfig()
	}
	callOpts := append(append([]llms.CallOption{}, c.CallOptions...), opts...)

	var choice *llms.ContentChoice
	err := retry.Do(ctx, cfg, func() error {
		start := time.Now()
		resp, err := c.Model.GenerateContent(ctx, messages, callOpts...)
		if err == nil && (resp == nil || len(resp.Choices) == 0) {
			err = errNoChoices
		}
		observability.RecordLLMRequest(phase, time.Since(start), err)
		if err != nil {
			c.logger().Warn("model call failed", "event", "llm", "phase", phase, "user_id", userID, "error", err)
			return err
		}
		choice = resp.Choices[0]
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.Transcript.LogLLM(userID, phase, messages, choice.Content, choice.ToolCalls)
	if usage := tokenUsage(choice.GenerationInfo); len(usage) > 0 {
		for kind, n := range usage {
			observability.LLMTokensTotal.WithLabelValues(phase, kind).Add(float64(n))
		}
		c.Transcript.Log(observability.Event{Type: observability.EventTypeCost, UserID: userID, Phase: phase, Data: usage})
	}
	c.logger().Debug("model call", "event", "llm", "phase", phase, "user_id", userID, "tool_calls", len(choice.ToolCalls))
	return choice, nil
}

// tokenUsage reads token counts from provider generation info. OpenAI reports
// Prompt/Completion tokens, Anthropic Input/Output tokens.
func tokenUsage(info map[string]any) map[string]int {
	keys := map[string]string{
		"PromptTokens":     "input",
		"InputTokens":      "input",
		"CompletionTokens": "output",
		"OutputTokens":     "output",
	}
	usage := make(map[string]int)
	for key, kind := range keys {
		if n, ok := info[key].(int); ok && n > 0 {
			usage[kind] = n
		}
	}
	return usage
}

func (c *Caller) logger() *slog.Logger {
	if c.Log == nil {
		return slog.Default()
	}
	return c.Log
}

func systemMessage(text string) llms.MessageContent {
	return llms.MessageContent{
		Role:  llms.ChatMessageTypeSystem,
		Parts: []llms.ContentPart{llms.TextPart(text)},
	}
}

func humanMessage(text string) llms.MessageContent {
	return llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextPart(text)},
	}
}

// findToolCall returns the first call to name in choice.
func findToolCall(choice *llms.ContentChoice, name string) (llms.ToolCall, bool) {
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall != nil && tc.FunctionCall.Name == name {
			return tc, true
		}
	}
	return llms.ToolCall{}, false
}
