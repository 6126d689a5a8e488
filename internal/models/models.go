// Package models defines the core data structures for BotPipe.
//
// It includes bots, scenarios and their steps, per-user scenario sessions and
// free-form conversation logs, which are shared across modules.
package models

import (
	"errors"
	"strings"
	"time"
)

// Bot defaults applied when a catalog entry leaves a setting unset.
const (
	DefaultModel            = "gpt-3.5-turbo"
	DefaultMaxTokens        = 1000
	DefaultTemperature      = 0.7
	DefaultMaxContextTokens = 3000
	DefaultHistoryWindow    = 20
	DefaultSystemPrompt     = "You are a helpful assistant. Answer concisely and to the point."
	DefaultUserName         = "User"
)

// Validation constants for input validation
const (
	// MaxScenarioNameLength defines the maximum allowed length of a scenario name
	MaxScenarioNameLength = 200
	// MaxTemperature is the upper bound accepted for sampling temperature
	MaxTemperature = 2.0
)

// Error variables for better error handling and testability
var (
	ErrEmptyBotID          = errors.New("bot id cannot be empty")
	ErrEmptyScenarioID     = errors.New("scenario id cannot be empty")
	ErrEmptyScenarioName   = errors.New("scenario name cannot be empty")
	ErrScenarioNameTooLong = errors.New("scenario name exceeds maximum length")
	ErrInvalidStepOrder    = errors.New("step order must be positive")
	ErrDuplicateStepOrder  = errors.New("duplicate step order in scenario")
	ErrInvalidStepData     = errors.New("invalid step data")
	ErrInvalidTemperature  = errors.New("temperature out of range")
	ErrInvalidTokenLimit   = errors.New("token limit must be positive")
)

// Bot is the identity and LLM configuration of one messaging bot.
type Bot struct {
	ID               string  `json:"id" yaml:"id"`
	Name             string  `json:"name" yaml:"name"`
	Description      string  `json:"description,omitempty" yaml:"description,omitempty"`
	Model            string  `json:"model,omitempty" yaml:"model,omitempty"`
	MaxTokens        int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Temperature      float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	SystemPrompt     string  `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	MaxContextTokens int     `json:"max_context_tokens,omitempty" yaml:"max_context_tokens,omitempty"`
	HistoryWindow    int     `json:"history_window,omitempty" yaml:"history_window,omitempty"`
	StartScenario    string  `json:"start_scenario,omitempty" yaml:"start_scenario,omitempty"`
	Active           *bool   `json:"active,omitempty" yaml:"active,omitempty"`
}

// WithDefaults returns a copy of the bot with unset settings filled in.
func (b Bot) WithDefaults() Bot {
	if b.Name == "" {
		b.Name = b.ID
	}
	if b.Model == "" {
		b.Model = DefaultModel
	}
	if b.MaxTokens == 0 {
		b.MaxTokens = DefaultMaxTokens
	}
	if b.Temperature == 0 {
		b.Temperature = DefaultTemperature
	}
	if strings.TrimSpace(b.SystemPrompt) == "" {
		b.SystemPrompt = DefaultSystemPrompt
	}
	if b.MaxContextTokens == 0 {
		b.MaxContextTokens = DefaultMaxContextTokens
	}
	if b.HistoryWindow == 0 {
		b.HistoryWindow = DefaultHistoryWindow
	}
	return b
}

// IsActive reports whether the bot should be started. Bots are active unless
// explicitly disabled.
func (b Bot) IsActive() bool {
	return b.Active == nil || *b.Active
}

// Validate checks the bot configuration.
func (b Bot) Validate() error {
	if strings.TrimSpace(b.ID) == "" {
		return ErrEmptyBotID
	}
	if b.Temperature < 0 || b.Temperature > MaxTemperature {
		return ErrInvalidTemperature
	}
	if b.MaxTokens < 0 || b.MaxContextTokens < 0 || b.HistoryWindow < 0 {
		return ErrInvalidTokenLimit
	}
	return nil
}

// User identifies the person on the other side of a bot.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
}

// Name returns the display name, or a generic fallback.
func (u User) Name() string {
	if strings.TrimSpace(u.DisplayName) == "" {
		return DefaultUserName
	}
	return u.DisplayName
}

// InboundMessage is a message received by a bot from a user.
type InboundMessage struct {
	BotID string    `json:"bot_id"`
	User  User      `json:"user"`
	Text  string    `json:"text"`
	Time  time.Time `json:"time"`
}
