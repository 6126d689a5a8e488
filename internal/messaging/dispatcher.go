package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/BTreeMap/BotPipe/internal/flow"
	"github.com/BTreeMap/BotPipe/internal/models"
)

// ScenarioRunner is the part of flow.Engine the dispatcher uses.
type ScenarioRunner interface {
	StartScenario(ctx context.Context, bot models.Bot, user models.User, scenarioID string, initial models.Context) (*models.Session, error)
	ProcessMessage(ctx context.Context, bot models.Bot, user models.User, text string) (flow.Reply, error)
	EndSession(ctx context.Context, botID, userID string) (bool, error)
	Scenarios(ctx context.Context, botID string) ([]models.Scenario, error)
	CurrentPrompt(ctx context.Context, bot models.Bot, sess *models.Session) string
}

// ChatResponder is the part of flow.ConversationManager the dispatcher uses.
type ChatResponder interface {
	Respond(ctx context.Context, bot models.Bot, user models.User, text string) (string, error)
	Clear(ctx context.Context, botID, userID string) error
	Stats(ctx context.Context, bot models.Bot, userID string) (flow.ConversationStats, error)
}

// userQueue holds the pending messages of one user. At most one goroutine
// drains it at a time.
type userQueue struct {
	pending []models.InboundMessage
	running bool
}

// Dispatcher routes one bot's inbound messages. Messages of a user are handled
// in arrival order; different users are handled concurrently.
type Dispatcher struct {
	bot       models.Bot
	svc       Service
	scenarios ScenarioRunner
	chat      ChatResponder

	mu     sync.Mutex
	queues map[string]*userQueue
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher for bot.
func NewDispatcher(bot models.Bot, svc Service, scenarios ScenarioRunner, chat ChatResponder) *Dispatcher {
	return &Dispatcher{
		bot:       bot.WithDefaults(),
		svc:       svc,
		scenarios: scenarios,
		chat:      chat,
		queues:    make(map[string]*userQueue),
	}
}

// Run consumes the service's inbound channel until it closes or ctx is done,
// then waits for in-flight messages to finish.
func (d *Dispatcher) Run(ctx context.Context) error {
	slog.Info("Dispatcher starting", "botID", d.bot.ID)
	defer func() {
		d.wg.Wait()
		slog.Info("Dispatcher stopped", "botID", d.bot.ID)
	}()

	for {
		select {
		case msg, ok := <-d.svc.Inbound():
			if !ok {
				slog.Debug("Dispatcher inbound channel closed", "botID", d.bot.ID)
				return nil
			}
			d.enqueue(ctx, msg)
		case <-ctx.Done():
			slog.Debug("Dispatcher stopping due to context cancellation", "botID", d.bot.ID)
			return ctx.Err()
		}
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, msg models.InboundMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	q, ok := d.queues[msg.User.ID]
	if !ok {
		q = &userQueue{}
		d.queues[msg.User.ID] = q
	}
	q.pending = append(q.pending, msg)
	if !q.running {
		q.running = true
		d.wg.Add(1)
		go d.drain(ctx, msg.User.ID, q)
	}
}

func (d *Dispatcher) drain(ctx context.Context, userID string, q *userQueue) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			delete(d.queues, userID)
			d.mu.Unlock()
			return
		}
		msg := q.pending[0]
		q.pending = q.pending[1:]
		d.mu.Unlock()

		reply := d.Handle(ctx, msg)
		if reply == "" {
			continue
		}
		if err := d.svc.SendMessage(ctx, msg.User.ID, reply); err != nil {
			slog.Error("Dispatcher failed to send reply", "botID", d.bot.ID, "userID", userID, "error", err)
		}
	}
}

// Handle produces the reply to one message: a command result, the next
// scenario reply, or a chat answer when no scenario is active.
func (d *Dispatcher) Handle(ctx context.Context, msg models.InboundMessage) string {
	text := strings.TrimSpace(msg.Text)
	slog.Debug("Dispatcher handling message", "botID", d.bot.ID, "userID", msg.User.ID, "length", len(text))

	if strings.HasPrefix(text, "/") {
		return d.command(ctx, msg.User, text)
	}

	reply, err := d.scenarios.ProcessMessage(ctx, d.bot, msg.User, text)
	if err == nil {
		return reply.Text
	}
	if !errors.Is(err, flow.ErrNoActiveSession) {
		slog.Error("Dispatcher scenario processing failed", "botID", d.bot.ID, "userID", msg.User.ID, "error", err)
		return flow.ErrorReply
	}

	answer, err := d.chat.Respond(ctx, d.bot, msg.User, text)
	if err != nil {
		slog.Error("Dispatcher chat reply failed", "botID", d.bot.ID, "userID", msg.User.ID, "error", err)
		return flow.ErrorReply
	}
	return answer
}

func (d *Dispatcher) command(ctx context.Context, user models.User, text string) string {
	fields := strings.Fields(text)
	name := strings.ToLower(fields[0])
	if at := strings.IndexByte(name, '@'); at > 0 {
		name = name[:at]
	}
	args := fields[1:]

	switch name {
	case "/start":
		scenarioID := d.bot.StartScenario
		if len(args) > 0 {
			scenarioID = args[0]
		}
		if scenarioID == "" {
			return d.welcome()
		}
		return d.startScenario(ctx, user, scenarioID)
	case "/help":
		return d.help()
	case "/clear":
		if err := d.chat.Clear(ctx, d.bot.ID, user.ID); err != nil {
			slog.Error("Dispatcher /clear failed", "botID", d.bot.ID, "userID", user.ID, "error", err)
			return flow.ErrorReply
		}
		return "🗑️ Conversation history cleared. You can start a new conversation."
	case "/settings":
		return d.settings(ctx, user)
	case "/cancel":
		ended, err := d.scenarios.EndSession(ctx, d.bot.ID, user.ID)
		if err != nil {
			slog.Error("Dispatcher /cancel failed", "botID", d.bot.ID, "userID", user.ID, "error", err)
			return flow.ErrorReply
		}
		if !ended {
			return "There is no active scenario."
		}
		return "⏹️ Scenario cancelled."
	case "/scenarios":
		return d.listScenarios(ctx)
	default:
		return fmt.Sprintf("Unknown command %s. Send /help to see what I can do.", name)
	}
}

func (d *Dispatcher) startScenario(ctx context.Context, user models.User, scenarioID string) string {
	sess, err := d.scenarios.StartScenario(ctx, d.bot, user, scenarioID, nil)
	switch {
	case errors.Is(err, flow.ErrScenarioNotFound):
		return fmt.Sprintf("❌ Unknown scenario %q. Send /scenarios to see the available ones.", scenarioID)
	case errors.Is(err, flow.ErrScenarioInactive):
		return fmt.Sprintf("❌ Scenario %q is not active.", scenarioID)
	case errors.Is(err, flow.ErrScenarioEmpty):
		return fmt.Sprintf("❌ Scenario %q has no steps yet.", scenarioID)
	case err != nil:
		slog.Error("Dispatcher /start failed", "botID", d.bot.ID, "userID", user.ID, "scenarioID", scenarioID, "error", err)
		return flow.ErrorReply
	}

	reply := fmt.Sprintf("▶️ Scenario %q started. Send any message to continue, or /cancel to stop.", scenarioID)
	if prompt := d.scenarios.CurrentPrompt(ctx, d.bot, sess); prompt != "" {
		reply += "\n\n" + prompt
	}
	return reply
}

func (d *Dispatcher) welcome() string {
	var b strings.Builder
	fmt.Fprintf(&b, "👋 Hi! I'm %s.\n\n", d.bot.Name)
	if d.bot.Description != "" {
		b.WriteString(d.bot.Description + "\n\n")
	}
	b.WriteString("Just send me a message and I'll answer.\n\n")
	b.WriteString("Commands:\n/help - help\n/clear - clear the conversation history\n/settings - bot settings")
	return b.String()
}

func (d *Dispatcher) help() string {
	var b strings.Builder
	fmt.Fprintf(&b, "🤖 %s\n\n", d.bot.Name)
	if d.bot.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n\n", d.bot.Description)
	}
	b.WriteString("📋 Commands:\n")
	b.WriteString("/start [scenario] - start a conversation or a scenario\n")
	b.WriteString("/scenarios - list available scenarios\n")
	b.WriteString("/cancel - stop the current scenario\n")
	b.WriteString("/clear - clear the conversation history\n")
	b.WriteString("/settings - show bot settings\n")
	b.WriteString("/help - show this help\n\n")
	b.WriteString("💬 Any other message is answered by the language model.")
	return b.String()
}

func (d *Dispatcher) settings(ctx context.Context, user models.User) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⚙️ Settings of %s:\n\n", d.bot.Name)
	fmt.Fprintf(&b, "🤖 Model: %s\n", d.bot.Model)
	fmt.Fprintf(&b, "🎯 Max tokens: %d\n", d.bot.MaxTokens)
	fmt.Fprintf(&b, "🌡️ Temperature: %g\n", d.bot.Temperature)
	fmt.Fprintf(&b, "📏 Context budget: %d tokens, last %d messages\n", d.bot.MaxContextTokens, d.bot.HistoryWindow)
	if stats, err := d.chat.Stats(ctx, d.bot, user.ID); err != nil {
		slog.Warn("Dispatcher /settings stats unavailable", "botID", d.bot.ID, "userID", user.ID, "error", err)
	} else {
		fmt.Fprintf(&b, "📊 Your conversation: %d messages, %d tokens used\n", stats.Turns, stats.TotalTokens)
	}
	fmt.Fprintf(&b, "\n📝 System prompt:\n%s", d.bot.SystemPrompt)
	return b.String()
}

func (d *Dispatcher) listScenarios(ctx context.Context) string {
	list, err := d.scenarios.Scenarios(ctx, d.bot.ID)
	if err != nil {
		slog.Error("Dispatcher /scenarios failed", "botID", d.bot.ID, "error", err)
		return flow.ErrorReply
	}
	if len(list) == 0 {
		return "No scenarios are available."
	}
	var b strings.Builder
	b.WriteString("📋 Available scenarios:")
	for _, sc := range list {
		fmt.Fprintf(&b, "\n/start %s - %s", sc.ID, sc.Name)
		if sc.Description != "" {
			fmt.Fprintf(&b, ": %s", sc.Description)
		}
	}
	return b.String()
}
