package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/BTreeMap/BotPipe/internal/models"
)

// messageService defines minimal interface for the Anthropic messages API.
type messageService interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// AnthropicClient completes chat requests with the Anthropic messages API.
type AnthropicClient struct {
	messages  messageService
	timeout   time.Duration
	debugMode bool
	stateDir  string
}

// NewAnthropicClient creates an Anthropic-backed client.
func NewAnthropicClient(opts ...Option) (*AnthropicClient, error) {
	cfg := applyOptions(opts)
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: %w", ErrNoAPIKey)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := anthropic.NewClient(reqOpts...)
	slog.Debug("AnthropicClient created", "timeout", cfg.Timeout, "debug", cfg.DebugMode)

	return &AnthropicClient{
		messages:  &cli.Messages,
		timeout:   cfg.Timeout,
		debugMode: cfg.DebugMode,
		stateDir:  cfg.StateDir,
	}, nil
}

// Complete sends the request and concatenates the text blocks of the answer.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = models.DefaultMaxTokens
	}
	system, messages := anthropicMessages(req.Messages)
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		Messages:    messages,
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(req.Temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system, Type: "text"}}
	}

	resp, err := c.messages.New(ctx, params)
	if c.debugMode {
		writeDebugLog(c.stateDir, ProviderAnthropic, req, resp, err)
	}
	if err != nil {
		f := classifyAnthropicError(err)
		slog.Error("AnthropicClient.Complete: request failed", "model", req.Model, "kind", f.Kind, "error", err)
		return Completion{}, f
	}

	var text strings.Builder
	if resp != nil {
		for i := range resp.Content {
			if resp.Content[i].Type == "text" {
				text.WriteString(resp.Content[i].Text)
			}
		}
	}
	if resp == nil || text.Len() == 0 {
		slog.Error("AnthropicClient.Complete: empty response", "model", req.Model)
		return Completion{}, &Failure{Kind: APIError, Err: ErrNoChoicesReturned}
	}

	in, out := int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens)
	slog.Debug("AnthropicClient.Complete succeeded", "model", req.Model, "total_tokens", in+out)
	return Completion{
		Text:  text.String(),
		Usage: Usage{Prompt: in, Completion: out, Total: in + out},
	}, nil
}

// anthropicMessages lifts system messages into the system parameter and drops
// leading assistant turns, since the conversation must open with the user.
func anthropicMessages(msgs []models.ChatMessage) (string, []anthropic.MessageParam) {
	var system []string
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case models.RoleSystem:
			system = append(system, m.Content)
		case models.RoleAssistant:
			if len(out) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return strings.Join(system, "\n\n"), out
}

func classifyAnthropicError(err error) *Failure {
	if kind, ok := classifyContext(err); ok {
		return &Failure{Kind: kind, Err: err}
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &Failure{Kind: classifyStatus(apiErr.StatusCode), Err: err}
	}
	return &Failure{Kind: Unknown, Err: err}
}
