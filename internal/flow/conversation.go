package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/BotPipe/internal/genai"
	"github.com/BTreeMap/BotPipe/internal/metrics"
	"github.com/BTreeMap/BotPipe/internal/models"
	"github.com/BTreeMap/BotPipe/internal/store"
	"github.com/BTreeMap/BotPipe/internal/tokens"
)

// ConversationStats summarizes a pair's free-form chat.
type ConversationStats struct {
	Turns         int
	TotalTokens   int
	ContextTokens int
	LastActivity  time.Time
}

// ConversationManager handles free-form chat: it keeps the turn log and asks
// the LLM for replies within the bot's context budget. Stored history is never
// trimmed; trimming applies only to the request being built.
type ConversationManager struct {
	repo    store.ConversationRepo
	llm     genai.Client
	counter *tokens.Counter
	locks   *PairLocker
	metrics metrics.Recorder
	now     func() time.Time
}

// NewConversationManager creates a ConversationManager. Nil counter, locks or
// recorder are replaced with defaults.
func NewConversationManager(repo store.ConversationRepo, llm genai.Client, counter *tokens.Counter, locks *PairLocker, recorder metrics.Recorder) *ConversationManager {
	if counter == nil {
		counter = tokens.NewCounter()
	}
	if locks == nil {
		locks = NewPairLocker()
	}
	if recorder == nil {
		recorder = metrics.Nop()
	}
	return &ConversationManager{
		repo:    repo,
		llm:     llm,
		counter: counter,
		locks:   locks,
		metrics: recorder,
		now:     time.Now,
	}
}

// Respond records the user's message, asks the LLM for a reply and records
// it. LLM failures produce an apology as the reply and record no assistant
// turn. Only storage failures are returned as errors.
func (m *ConversationManager) Respond(ctx context.Context, bot models.Bot, user models.User, text string) (string, error) {
	unlock, err := m.locks.Lock(ctx, bot.ID, user.ID)
	if err != nil {
		return "", err
	}
	defer unlock()

	bot = bot.WithDefaults()
	if err := m.append(ctx, bot.ID, user.ID, models.RoleUser, text); err != nil {
		return "", err
	}

	conv, err := m.repo.LoadConversation(ctx, bot.ID, user.ID)
	if err != nil {
		return "", fmt.Errorf("load conversation: %w", err)
	}
	msgs := m.requestMessages(bot, conv)

	if m.llm == nil {
		f := &genai.Failure{Kind: genai.APIError, Err: ErrNoLLMClient}
		m.metrics.ObserveChatReply(bot.ID, metrics.OutcomeFailed)
		return f.UserMessage(), nil
	}
	resp, err := m.llm.Complete(ctx, genai.Request{
		Messages:    msgs,
		Model:       bot.Model,
		MaxTokens:   bot.MaxTokens,
		Temperature: bot.Temperature,
	})
	if err != nil {
		f := genai.AsFailure(err)
		slog.Error("ConversationManager.Respond: LLM failure", "botID", bot.ID, "userID", user.ID, "kind", f.Kind, "error", err)
		m.metrics.ObserveChatReply(bot.ID, metrics.OutcomeFailed)
		return f.UserMessage(), nil
	}

	if err := m.append(ctx, bot.ID, user.ID, models.RoleAssistant, resp.Text); err != nil {
		return "", err
	}
	if err := m.repo.AddConversationTokens(ctx, bot.ID, user.ID, resp.Usage.Total); err != nil {
		return "", fmt.Errorf("add conversation tokens: %w", err)
	}
	m.metrics.ObserveChatReply(bot.ID, metrics.OutcomeSuccess)
	slog.Debug("ConversationManager.Respond succeeded", "botID", bot.ID, "userID", user.ID,
		"request_messages", len(msgs), "total_tokens", resp.Usage.Total)
	return resp.Text, nil
}

// requestMessages builds the system prompt plus the recent window, trimmed to
// the bot's context budget.
func (m *ConversationManager) requestMessages(bot models.Bot, conv *models.Conversation) []models.ChatMessage {
	msgs := []models.ChatMessage{{Role: models.RoleSystem, Content: bot.SystemPrompt}}
	msgs = append(msgs, conv.Recent(bot.HistoryWindow)...)
	return m.counter.Trim(msgs, bot.MaxContextTokens, bot.Model)
}

// RecordTurn appends one turn to the pair's log.
func (m *ConversationManager) RecordTurn(ctx context.Context, botID, userID, role, text string) error {
	unlock, err := m.locks.Lock(ctx, botID, userID)
	if err != nil {
		return err
	}
	defer unlock()
	return m.append(ctx, botID, userID, role, text)
}

func (m *ConversationManager) append(ctx context.Context, botID, userID, role, text string) error {
	turn := models.Turn{Role: role, Content: text, Timestamp: m.now().UTC()}
	if err := m.repo.AppendMessage(ctx, botID, userID, turn); err != nil {
		slog.Error("ConversationManager: append failed", "botID", botID, "userID", userID, "role", role, "error", err)
		return fmt.Errorf("append %s turn: %w", role, err)
	}
	return nil
}

// Clear empties the pair's log and resets its token counter.
func (m *ConversationManager) Clear(ctx context.Context, botID, userID string) error {
	unlock, err := m.locks.Lock(ctx, botID, userID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := m.repo.ResetConversation(ctx, botID, userID); err != nil {
		slog.Error("ConversationManager.Clear failed", "botID", botID, "userID", userID, "error", err)
		return fmt.Errorf("reset conversation: %w", err)
	}
	slog.Info("ConversationManager.Clear: history cleared", "botID", botID, "userID", userID)
	return nil
}

// Stats reports the log size, the running token total and the estimated
// cost of the next request's context.
func (m *ConversationManager) Stats(ctx context.Context, bot models.Bot, userID string) (ConversationStats, error) {
	bot = bot.WithDefaults()
	conv, err := m.repo.LoadConversation(ctx, bot.ID, userID)
	if err != nil {
		return ConversationStats{}, fmt.Errorf("load conversation: %w", err)
	}
	return ConversationStats{
		Turns:         len(conv.Turns),
		TotalTokens:   conv.TotalTokens,
		ContextTokens: m.counter.CountMessages(m.requestMessages(bot, conv), bot.Model),
		LastActivity:  conv.LastActivity,
	}, nil
}
