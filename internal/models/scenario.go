package models

import (
	"sort"
	"strings"
	"time"
)

// Scenario is a named, ordered set of steps a bot walks a user through.
type Scenario struct {
	ID          string    `json:"id"`
	BotID       string    `json:"bot_id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Active      bool      `json:"active"`
	Steps       []Step    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks identity fields and step order uniqueness.
func (s Scenario) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return ErrEmptyScenarioID
	}
	if strings.TrimSpace(s.Name) == "" {
		return ErrEmptyScenarioName
	}
	if len(s.Name) > MaxScenarioNameLength {
		return ErrScenarioNameTooLong
	}
	seen := make(map[int]bool, len(s.Steps))
	for _, st := range s.Steps {
		if st.Order < 1 {
			return ErrInvalidStepOrder
		}
		if seen[st.Order] {
			return ErrDuplicateStepOrder
		}
		seen[st.Order] = true
	}
	return nil
}

// AvailableTo reports whether a bot may run the scenario. Scenarios without a
// bot binding are shared.
func (s Scenario) AvailableTo(botID string) bool {
	return s.BotID == "" || s.BotID == botID
}

// SortSteps orders steps by position.
func SortSteps(steps []Step) {
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })
}

// Session is a user's progress through one scenario. At most one session per
// (bot, user) is active; finished sessions are kept for history.
type Session struct {
	ID           string    `json:"id"`
	BotID        string    `json:"bot_id"`
	UserID       string    `json:"user_id"`
	ScenarioID   string    `json:"scenario_id"`
	CurrentStep  *int      `json:"current_step,omitempty"`
	Context      Context   `json:"context"`
	Active       bool      `json:"active"`
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is a single message sent to the language model.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Turn is a recorded conversation entry.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is the free-form chat log between a bot and a user.
type Conversation struct {
	BotID        string    `json:"bot_id"`
	UserID       string    `json:"user_id"`
	Turns        []Turn    `json:"turns"`
	TotalTokens  int       `json:"total_tokens"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Recent returns up to n of the most recent turns as chat messages.
func (c Conversation) Recent(n int) []ChatMessage {
	turns := c.Turns
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	out := make([]ChatMessage, 0, len(turns))
	for _, t := range turns {
		out = append(out, ChatMessage{Role: t.Role, Content: t.Content})
	}
	return out
}
