// Package genai provides chat completions from hosted language models.
//
// Two providers are supported, OpenAI and Anthropic. Every call runs under a
// bounded timeout and every failure is reported as a *Failure whose Kind
// selects the apology shown to the user.
package genai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/BTreeMap/BotPipe/internal/models"
)

// DefaultTimeout bounds a single completion call.
const DefaultTimeout = 30 * time.Second

// Provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Errors for missing configuration.
var (
	ErrNoAPIKey          = errors.New("API key not set")
	ErrNoChoicesReturned = errors.New("no choices returned")
	ErrUnknownProvider   = errors.New("unknown LLM provider")
)

// Request is a single chat completion request.
type Request struct {
	Messages    []models.ChatMessage
	Model       string
	MaxTokens   int
	Temperature float64
}

// Usage is the token accounting reported by the provider.
type Usage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Completion is a successful model answer.
type Completion struct {
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`
}

// Client completes chat requests. Errors returned by implementations in this
// package are always *Failure.
type Client interface {
	Complete(ctx context.Context, req Request) (Completion, error)
}

// FailureKind classifies LLM failures.
type FailureKind string

const (
	RateLimited FailureKind = "rate_limited"
	AuthError   FailureKind = "auth_error"
	APIError    FailureKind = "api_error"
	Unknown     FailureKind = "unknown"
)

// Failure is the error returned by Client implementations.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("llm %s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// UserMessage is the apology shown to a user for this kind of failure.
func (f *Failure) UserMessage() string {
	switch f.Kind {
	case RateLimited:
		return "❌ Too many requests to the language model. Please try again in a moment."
	case AuthError:
		return "❌ The language model rejected our credentials. Please contact the bot administrator."
	case APIError:
		return "❌ The language model service is not responding right now. Please try again later."
	default:
		return "❌ Something went wrong while generating a reply. Please try again later."
	}
}

// KindOf returns the failure kind of err, or Unknown.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return Unknown
}

// AsFailure returns err as a *Failure, classifying it as Unknown if needed.
func AsFailure(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Kind: Unknown, Err: err}
}

// classifyStatus maps an HTTP status from a provider error to a kind.
func classifyStatus(status int) FailureKind {
	switch {
	case status == http.StatusTooManyRequests:
		return RateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return AuthError
	case status > 0:
		return APIError
	default:
		return Unknown
	}
}

// classifyContext handles timeouts and cancellation, which are reported as
// service errors.
func classifyContext(err error) (FailureKind, bool) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return APIError, true
	}
	return "", false
}

// Opts holds configuration shared by provider clients.
type Opts struct {
	APIKey    string
	BaseURL   string
	Timeout   time.Duration
	DebugMode bool
	StateDir  string
}

// Option defines a configuration option for provider clients.
type Option func(*Opts)

// WithAPIKey sets the provider API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL overrides the provider endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithDebugMode writes every request and response as JSON into
// <stateDir>/debug.
func WithDebugMode(enabled bool, stateDir string) Option {
	return func(o *Opts) {
		o.DebugMode = enabled
		o.StateDir = stateDir
	}
}

func applyOptions(opts []Option) Opts {
	cfg := Opts{Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return cfg
}

// NewClient builds the client for the named provider.
func NewClient(provider string, opts ...Option) (Client, error) {
	switch provider {
	case ProviderOpenAI, "":
		return NewOpenAIClient(opts...)
	case ProviderAnthropic:
		return NewAnthropicClient(opts...)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
}
