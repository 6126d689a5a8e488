package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/BotPipe/internal/genai"
	"github.com/BTreeMap/BotPipe/internal/models"
)

// Context keys written by the interpreter and the engine.
const (
	KeyLastUserMessage = "last_user_message"
	KeyUserName        = "user_name"
	KeyLastInput       = "last_input"
)

// StepResult is the outcome of evaluating one step. A nil Next ends the
// scenario.
type StepResult struct {
	Text string
	Next *int
}

// Interpreter executes single steps against a session context.
type Interpreter struct {
	llm genai.Client
}

// NewInterpreter creates an Interpreter. llm may be nil, in which case
// gpt_request steps fail with an apology.
func NewInterpreter(llm genai.Client) *Interpreter {
	return &Interpreter{llm: llm}
}

// Evaluate runs step with the incoming text. vars is mutated in place by steps
// that capture data. The returned error is reserved for faults in the step
// itself; LLM failures are folded into the result.
func (in *Interpreter) Evaluate(ctx context.Context, bot models.Bot, step models.Step, vars models.Context, incoming string) (StepResult, error) {
	switch k := step.Kind.(type) {
	case models.MessageStep:
		text := in.render(bot, step, k.Text, vars)
		return in.advance(text, step.Transitions, vars, incoming), nil

	case models.InputStep:
		saveAs := k.SaveAs
		if saveAs == "" {
			saveAs = models.DefaultSaveAs
		}
		vars[saveAs] = models.StringValue(incoming)
		vars[KeyLastInput] = models.StringValue(incoming)
		text := in.render(bot, step, k.Response, vars)
		return in.advance(text, step.Transitions, vars, incoming), nil

	case models.GPTRequestStep:
		return in.gptRequest(ctx, bot, step, k, vars, incoming), nil

	case models.ConditionStep:
		return in.advance("", k.Branches, vars, incoming), nil

	case models.EndStep:
		text := k.Message
		if text == "" {
			text = models.DefaultEndMessage
		}
		return StepResult{Text: in.render(bot, step, text, vars)}, nil

	case models.PassThroughStep:
		slog.Debug("Interpreter.Evaluate: pass-through step", "botID", bot.ID, "step", step.Order, "type", k.Tag)
		return in.advance("", step.Transitions, vars, incoming), nil

	default:
		return StepResult{}, fmt.Errorf("step %d has no kind", step.Order)
	}
}

func (in *Interpreter) gptRequest(ctx context.Context, bot models.Bot, step models.Step, k models.GPTRequestStep, vars models.Context, incoming string) StepResult {
	if in.llm == nil {
		f := &genai.Failure{Kind: genai.APIError, Err: ErrNoLLMClient}
		slog.Error("Interpreter.gptRequest: no client", "botID", bot.ID, "step", step.Order)
		return StepResult{Text: f.UserMessage()}
	}

	prompt := in.render(bot, step, k.Prompt, vars)
	bot = bot.WithDefaults()
	resp, err := in.llm.Complete(ctx, genai.Request{
		Messages:    []models.ChatMessage{{Role: models.RoleUser, Content: prompt}},
		Model:       bot.Model,
		MaxTokens:   bot.MaxTokens,
		Temperature: bot.Temperature,
	})
	if err != nil {
		f := genai.AsFailure(err)
		slog.Error("Interpreter.gptRequest: LLM failure", "botID", bot.ID, "step", step.Order, "kind", f.Kind, "error", err)
		return StepResult{Text: f.UserMessage()}
	}

	if k.SaveAs != "" {
		vars[k.SaveAs] = models.StringValue(resp.Text)
	}
	return in.advance(resp.Text, step.Transitions, vars, incoming)
}

func (in *Interpreter) advance(text string, transitions []models.Transition, vars models.Context, incoming string) StepResult {
	t, ok := SelectTransition(transitions, vars, incoming)
	if !ok {
		return StepResult{Text: text}
	}
	return StepResult{Text: text, Next: t.Next}
}

func (in *Interpreter) render(bot models.Bot, step models.Step, tmpl string, vars models.Context) string {
	out, missing := Render(tmpl, vars)
	if len(missing) > 0 {
		slog.Warn("Interpreter: template references missing variables", "botID", bot.ID, "scenarioID", step.ScenarioID, "step", step.Order, "missing", missing)
	}
	return out
}
