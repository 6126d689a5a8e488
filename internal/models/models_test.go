package models

import (
	"errors"
	"testing"
)

func TestBotWithDefaults(t *testing.T) {
	b := Bot{ID: "support"}.WithDefaults()
	if b.Name != "support" {
		t.Errorf("expected name to default to id, got %q", b.Name)
	}
	if b.Model != DefaultModel || b.MaxTokens != DefaultMaxTokens || b.Temperature != DefaultTemperature {
		t.Errorf("unexpected LLM defaults: %+v", b)
	}
	if b.MaxContextTokens != DefaultMaxContextTokens || b.HistoryWindow != DefaultHistoryWindow {
		t.Errorf("unexpected context defaults: %+v", b)
	}
	if b.SystemPrompt == "" {
		t.Error("expected default system prompt")
	}
	if !b.IsActive() {
		t.Error("bots are active unless disabled")
	}

	custom := Bot{ID: "x", Model: "gpt-4", MaxTokens: 50, Temperature: 1.2}.WithDefaults()
	if custom.Model != "gpt-4" || custom.MaxTokens != 50 || custom.Temperature != 1.2 {
		t.Errorf("explicit settings overwritten: %+v", custom)
	}
}

func TestBotValidate(t *testing.T) {
	off := false
	tests := []struct {
		name string
		bot  Bot
		want error
	}{
		{"valid", Bot{ID: "a"}, nil},
		{"missing id", Bot{}, ErrEmptyBotID},
		{"temperature too high", Bot{ID: "a", Temperature: 3}, ErrInvalidTemperature},
		{"negative tokens", Bot{ID: "a", MaxTokens: -1}, ErrInvalidTokenLimit},
		{"inactive is still valid", Bot{ID: "a", Active: &off}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.bot.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestUserName(t *testing.T) {
	if got := (User{ID: "1"}).Name(); got != DefaultUserName {
		t.Errorf("expected fallback name, got %q", got)
	}
	if got := (User{ID: "1", DisplayName: "Ann"}).Name(); got != "Ann" {
		t.Errorf("expected display name, got %q", got)
	}
}

func TestScenarioValidate(t *testing.T) {
	step := func(order int) Step { return Step{Order: order, Kind: MessageStep{Text: "hi"}, Active: true} }
	tests := []struct {
		name string
		sc   Scenario
		want error
	}{
		{"valid", Scenario{ID: "s", Name: "S", Steps: []Step{step(1), step(2)}}, nil},
		{"missing id", Scenario{Name: "S"}, ErrEmptyScenarioID},
		{"missing name", Scenario{ID: "s"}, ErrEmptyScenarioName},
		{"duplicate order", Scenario{ID: "s", Name: "S", Steps: []Step{step(1), step(1)}}, ErrDuplicateStepOrder},
		{"zero order", Scenario{ID: "s", Name: "S", Steps: []Step{step(0)}}, ErrInvalidStepOrder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.sc.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestConversationRecent(t *testing.T) {
	c := Conversation{Turns: []Turn{
		{Role: RoleUser, Content: "1"},
		{Role: RoleAssistant, Content: "2"},
		{Role: RoleUser, Content: "3"},
	}}
	got := c.Recent(2)
	if len(got) != 2 || got[0].Content != "2" || got[1].Content != "3" {
		t.Errorf("unexpected recent window: %+v", got)
	}
	if all := c.Recent(0); len(all) != 3 {
		t.Errorf("expected all turns for n=0, got %d", len(all))
	}
}
