// Package flow runs scenario sessions and free-form chat for BotPipe bots.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/BTreeMap/BotPipe/internal/genai"
	"github.com/BTreeMap/BotPipe/internal/metrics"
	"github.com/BTreeMap/BotPipe/internal/models"
	"github.com/BTreeMap/BotPipe/internal/store"
)

// MaxChainedSteps bounds how many steps one turn may evaluate, counting the
// step the session was waiting on.
const MaxChainedSteps = 16

// User-facing replies produced by the engine itself.
const (
	FinishedReply = "Scenario finished."
	ErrorReply    = "An error occurred while processing your message."
)

// Reply is the outcome of one scenario turn.
type Reply struct {
	Text     string
	Finished bool
}

// Engine runs scenario sessions: it starts them, feeds user messages through
// the step graph and ends them.
type Engine struct {
	scenarios store.ScenarioRepo
	sessions  *SessionManager
	interp    *Interpreter
	locks     *PairLocker
	metrics   metrics.Recorder
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLocker shares a PairLocker with other components.
func WithLocker(l *PairLocker) EngineOption {
	return func(e *Engine) { e.locks = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) EngineOption {
	return func(e *Engine) { e.metrics = r }
}

// NewEngine creates an Engine. llm may be nil if no scenario uses
// gpt_request steps.
func NewEngine(scenarios store.ScenarioRepo, sessions store.SessionRepo, llm genai.Client, opts ...EngineOption) *Engine {
	e := &Engine{
		scenarios: scenarios,
		sessions:  NewSessionManager(sessions),
		interp:    NewInterpreter(llm),
		locks:     NewPairLocker(),
		metrics:   metrics.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StartScenario starts scenarioID for the user, replacing any active session
// of the pair. A missing, inactive or empty scenario leaves the previous
// session untouched.
func (e *Engine) StartScenario(ctx context.Context, bot models.Bot, user models.User, scenarioID string, initial models.Context) (*models.Session, error) {
	unlock, err := e.locks.Lock(ctx, bot.ID, user.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sc, err := e.scenarios.LoadScenario(ctx, scenarioID)
	if err != nil {
		return nil, fmt.Errorf("load scenario %s: %w", scenarioID, err)
	}
	if sc == nil || !sc.AvailableTo(bot.ID) {
		return nil, fmt.Errorf("%w: %s", ErrScenarioNotFound, scenarioID)
	}
	if !sc.Active {
		return nil, fmt.Errorf("%w: %s", ErrScenarioInactive, scenarioID)
	}

	steps, err := e.scenarios.LoadScenarioSteps(ctx, scenarioID)
	if err != nil {
		return nil, fmt.Errorf("load steps of %s: %w", scenarioID, err)
	}
	first, ok := NewScenarioGraph(scenarioID, steps).First()
	if !ok {
		slog.Warn("Engine.StartScenario: scenario has no active steps", "botID", bot.ID, "scenarioID", scenarioID)
		return nil, fmt.Errorf("%w: %s", ErrScenarioEmpty, scenarioID)
	}

	vars := initial.Clone()
	if vars == nil {
		vars = models.Context{}
	}
	sess := models.Session{
		ID:          uuid.NewString(),
		BotID:       bot.ID,
		UserID:      user.ID,
		ScenarioID:  scenarioID,
		CurrentStep: models.NextOrder(first.Order),
		Context:     vars,
	}
	if err := e.sessions.Replace(ctx, sess); err != nil {
		return nil, fmt.Errorf("start scenario %s: %w", scenarioID, err)
	}

	e.metrics.ObserveSessionStarted(bot.ID, scenarioID)
	slog.Info("Engine.StartScenario: scenario started", "botID", bot.ID, "userID", user.ID, "scenarioID", scenarioID, "step", first.Order)
	return &sess, nil
}

// ProcessMessage feeds one user message into the pair's active session. It
// returns ErrNoActiveSession when there is nothing to resume. Faults inside a
// step end the session with a generic reply instead of an error.
func (e *Engine) ProcessMessage(ctx context.Context, bot models.Bot, user models.User, text string) (Reply, error) {
	unlock, err := e.locks.Lock(ctx, bot.ID, user.ID)
	if err != nil {
		return Reply{}, err
	}
	defer unlock()

	sess, err := e.sessions.Active(ctx, bot.ID, user.ID)
	if err != nil {
		return Reply{}, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return Reply{}, ErrNoActiveSession
	}

	sess.Context[KeyLastUserMessage] = models.StringValue(text)
	sess.Context[KeyUserName] = models.StringValue(user.Name())

	reply, err := e.runTurn(ctx, bot, sess, text)
	if err != nil {
		var stepErr *StepExecutionError
		if !errors.As(err, &stepErr) {
			stepErr = &StepExecutionError{BotID: bot.ID, UserID: user.ID, Err: err}
			if sess.CurrentStep != nil {
				stepErr.StepOrder = *sess.CurrentStep
			}
		}
		slog.Error("Engine.ProcessMessage: step failed, ending session", "botID", bot.ID, "userID", user.ID,
			"scenarioID", sess.ScenarioID, "step", stepErr.StepOrder, "error", stepErr)
		if ferr := e.sessions.Finish(ctx, sess); ferr != nil {
			slog.Error("Engine.ProcessMessage: failed to close broken session", "botID", bot.ID, "userID", user.ID, "error", ferr)
		}
		e.metrics.ObserveScenarioTurn(bot.ID, metrics.OutcomeFailed)
		return Reply{Text: ErrorReply, Finished: true}, nil
	}

	if reply.Finished {
		e.metrics.ObserveScenarioTurn(bot.ID, metrics.OutcomeFinished)
		slog.Info("Engine.ProcessMessage: scenario finished", "botID", bot.ID, "userID", user.ID, "scenarioID", sess.ScenarioID)
	} else {
		e.metrics.ObserveScenarioTurn(bot.ID, metrics.OutcomeAdvanced)
	}
	return reply, nil
}

// runTurn walks the graph from the session's current step, following chained
// non-interactive steps, and persists the outcome.
func (e *Engine) runTurn(ctx context.Context, bot models.Bot, sess *models.Session, text string) (reply Reply, err error) {
	order := 0
	if sess.CurrentStep != nil {
		order = *sess.CurrentStep
	}
	defer func() {
		if r := recover(); r != nil {
			err = &StepExecutionError{BotID: bot.ID, UserID: sess.UserID, StepOrder: order, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if sess.CurrentStep == nil {
		return Reply{}, errors.New("session has no current step")
	}
	steps, err := e.scenarios.LoadScenarioSteps(ctx, sess.ScenarioID)
	if err != nil {
		return Reply{}, fmt.Errorf("load steps: %w", err)
	}
	graph := NewScenarioGraph(sess.ScenarioID, steps)
	step, ok := graph.Step(order)
	if !ok {
		return Reply{}, fmt.Errorf("current step %d is missing or inactive", order)
	}

	var texts []string
	for hops := 0; ; hops++ {
		if hops >= MaxChainedSteps {
			return Reply{}, &StepExecutionError{BotID: bot.ID, UserID: sess.UserID, StepOrder: order, Err: ErrChainTooLong}
		}
		order = step.Order

		res, err := e.interp.Evaluate(ctx, bot, step, sess.Context, text)
		if err != nil {
			return Reply{}, &StepExecutionError{BotID: bot.ID, UserID: sess.UserID, StepOrder: order, Err: err}
		}
		if res.Text != "" {
			texts = append(texts, res.Text)
		}

		if res.Next == nil {
			return e.finish(ctx, sess, texts)
		}
		next, ok := graph.Step(*res.Next)
		if !ok {
			slog.Warn("Engine: transition targets a missing or inactive step, ending scenario",
				"botID", bot.ID, "userID", sess.UserID, "scenarioID", sess.ScenarioID, "from", order, "to", *res.Next)
			return e.finish(ctx, sess, texts)
		}

		if next.Interactive() {
			if prompt := e.prompt(bot, next, sess.Context); prompt != "" {
				texts = append(texts, prompt)
			}
			if err := e.sessions.Advance(ctx, sess, next.Order); err != nil {
				return Reply{}, err
			}
			slog.Debug("Engine: session advanced", "botID", bot.ID, "userID", sess.UserID, "from", order, "to", next.Order)
			return Reply{Text: strings.Join(texts, "\n\n")}, nil
		}
		step = next
	}
}

func (e *Engine) finish(ctx context.Context, sess *models.Session, texts []string) (Reply, error) {
	if err := e.sessions.Finish(ctx, sess); err != nil {
		return Reply{}, err
	}
	text := strings.Join(texts, "\n\n")
	if text == "" {
		text = FinishedReply
	}
	return Reply{Text: text, Finished: true}, nil
}

// prompt renders the question of an input step the session is about to wait
// on.
func (e *Engine) prompt(bot models.Bot, step models.Step, vars models.Context) string {
	in, ok := step.Kind.(models.InputStep)
	if !ok || in.Prompt == "" {
		return ""
	}
	return e.interp.render(bot, step, in.Prompt, vars)
}

// CurrentPrompt returns the rendered question of the session's current step
// when it is an input step with a prompt, or "".
func (e *Engine) CurrentPrompt(ctx context.Context, bot models.Bot, sess *models.Session) string {
	if sess == nil || sess.CurrentStep == nil {
		return ""
	}
	steps, err := e.scenarios.LoadScenarioSteps(ctx, sess.ScenarioID)
	if err != nil {
		slog.Error("Engine.CurrentPrompt: failed to load steps", "scenarioID", sess.ScenarioID, "error", err)
		return ""
	}
	step, ok := NewScenarioGraph(sess.ScenarioID, steps).Step(*sess.CurrentStep)
	if !ok {
		return ""
	}
	return e.prompt(bot, step, sess.Context)
}

// EndSession deactivates the pair's active session. It reports whether one
// existed.
func (e *Engine) EndSession(ctx context.Context, botID, userID string) (bool, error) {
	unlock, err := e.locks.Lock(ctx, botID, userID)
	if err != nil {
		return false, err
	}
	defer unlock()

	ended, err := e.sessions.End(ctx, botID, userID)
	if err != nil {
		return false, err
	}
	if ended {
		slog.Info("Engine.EndSession: session cancelled", "botID", botID, "userID", userID)
	}
	return ended, nil
}

// ActiveSession returns the pair's active session, or nil.
func (e *Engine) ActiveSession(ctx context.Context, botID, userID string) (*models.Session, error) {
	return e.sessions.Active(ctx, botID, userID)
}

// ListSessions returns every session of the pair, newest first.
func (e *Engine) ListSessions(ctx context.Context, botID, userID string) ([]models.Session, error) {
	return e.sessions.History(ctx, botID, userID)
}

// Scenarios lists the active scenarios available to the bot.
func (e *Engine) Scenarios(ctx context.Context, botID string) ([]models.Scenario, error) {
	all, err := e.scenarios.ListScenarios(ctx, botID)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, sc := range all {
		if sc.Active {
			out = append(out, sc)
		}
	}
	return out, nil
}
