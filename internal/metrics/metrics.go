// Package metrics records operational metrics for LLM calls, scenario turns
// and chat replies.
package metrics

import "time"

// Outcome labels shared by all recorders.
const (
	OutcomeSuccess  = "success"
	OutcomeAdvanced = "advanced"
	OutcomeFinished = "finished"
	OutcomeFailed   = "failed"
)

// Recorder defines the interface for recording BotPipe metrics.
type Recorder interface {
	// ObserveLLMRequest records a completed LLM request. errorKind is empty on success.
	ObserveLLMRequest(provider, model, errorKind string, promptTokens, completionTokens int, duration time.Duration)

	// ObserveSessionStarted counts a scenario session being started.
	ObserveSessionStarted(botID, scenarioID string)

	// ObserveScenarioTurn counts one processed scenario message by outcome.
	ObserveScenarioTurn(botID, outcome string)

	// ObserveChatReply counts one free-form chat reply by outcome.
	ObserveChatReply(botID, outcome string)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return NoopRecorder{}
}

func (NoopRecorder) ObserveLLMRequest(_, _, _ string, _, _ int, _ time.Duration) {}
func (NoopRecorder) ObserveSessionStarted(_, _ string) {}
func (NoopRecorder) ObserveScenarioTurn(_, _ string) {}
func (NoopRecorder) ObserveChatReply(_, _ string) {}
