package flow

import (
	"errors"
	"fmt"
)

// Engine errors surfaced to callers.
var (
	ErrScenarioEmpty    = errors.New("scenario has no active steps")
	ErrNoActiveSession  = errors.New("no active scenario session")
	ErrScenarioNotFound = errors.New("scenario not found")
	ErrScenarioInactive = errors.New("scenario is inactive")
	ErrChainTooLong     = errors.New("too many chained steps in one turn")
	ErrNoLLMClient      = errors.New("no LLM client configured")
)

// StepExecutionError describes an unexpected fault while executing a step.
// The engine logs it and ends the session with a generic reply.
type StepExecutionError struct {
	BotID     string
	UserID    string
	StepOrder int
	Err       error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %d for bot %s user %s: %v", e.StepOrder, e.BotID, e.UserID, e.Err)
}

func (e *StepExecutionError) Unwrap() error {
	return e.Err
}
