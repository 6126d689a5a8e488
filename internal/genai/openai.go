package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/BTreeMap/BotPipe/internal/models"
)

// chatService defines minimal interface for chat completions.
type chatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIClient completes chat requests with the OpenAI API.
type OpenAIClient struct {
	chat      chatService
	timeout   time.Duration
	debugMode bool
	stateDir  string
}

// NewOpenAIClient creates an OpenAI-backed client.
func NewOpenAIClient(opts ...Option) (*OpenAIClient, error) {
	cfg := applyOptions(opts)
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: %w", ErrNoAPIKey)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)
	slog.Debug("OpenAIClient created", "timeout", cfg.Timeout, "debug", cfg.DebugMode, "base_url_set", cfg.BaseURL != "")

	return &OpenAIClient{
		chat:      &cli.Chat.Completions,
		timeout:   cfg.Timeout,
		debugMode: cfg.DebugMode,
		stateDir:  cfg.StateDir,
	}, nil
}

// Complete sends the request and returns the first choice.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: openAIMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	params.Temperature = openai.Float(req.Temperature)

	resp, err := c.chat.New(ctx, params)
	if c.debugMode {
		writeDebugLog(c.stateDir, ProviderOpenAI, req, resp, err)
	}
	if err != nil {
		f := classifyOpenAIError(err)
		slog.Error("OpenAIClient.Complete: request failed", "model", req.Model, "kind", f.Kind, "error", err)
		return Completion{}, f
	}
	if resp == nil || len(resp.Choices) == 0 {
		slog.Error("OpenAIClient.Complete: no choices returned", "model", req.Model)
		return Completion{}, &Failure{Kind: APIError, Err: ErrNoChoicesReturned}
	}

	out := Completion{
		Text: resp.Choices[0].Message.Content,
		Usage: Usage{
			Prompt:     int(resp.Usage.PromptTokens),
			Completion: int(resp.Usage.CompletionTokens),
			Total:      int(resp.Usage.TotalTokens),
		},
	}
	slog.Debug("OpenAIClient.Complete succeeded", "model", req.Model, "total_tokens", out.Usage.Total)
	return out, nil
}

func openAIMessages(msgs []models.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case models.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case models.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func classifyOpenAIError(err error) *Failure {
	if kind, ok := classifyContext(err); ok {
		return &Failure{Kind: kind, Err: err}
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &Failure{Kind: classifyStatus(apiErr.StatusCode), Err: err}
	}
	return &Failure{Kind: Unknown, Err: err}
}
