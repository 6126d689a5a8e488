// Package testutil provides common test utilities and fakes for BotPipe tests.
package testutil

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/BotPipe/internal/genai"
	"github.com/BTreeMap/BotPipe/internal/models"
	"github.com/BTreeMap/BotPipe/internal/store"
)

// ScriptedUsage is the usage reported for every scripted reply.
var ScriptedUsage = genai.Usage{Prompt: 10, Completion: 5, Total: 15}

type scripted struct {
	text string
	err  error
}

// ScriptedLLM is a genai.Client that answers from a queue. When the queue is
// empty it echoes the last request message.
type ScriptedLLM struct {
	mu       sync.Mutex
	queue    []scripted
	requests []genai.Request
}

// NewScriptedLLM creates a ScriptedLLM that replies with replies in order.
func NewScriptedLLM(replies ...string) *ScriptedLLM {
	s := &ScriptedLLM{}
	for _, r := range replies {
		s.queue = append(s.queue, scripted{text: r})
	}
	return s
}

// Reply queues a successful reply.
func (s *ScriptedLLM) Reply(text string) *ScriptedLLM {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, scripted{text: text})
	return s
}

// Fail queues a failure of the given kind.
func (s *ScriptedLLM) Fail(kind genai.FailureKind) *ScriptedLLM {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, scripted{err: &genai.Failure{Kind: kind, Err: context.DeadlineExceeded}})
	return s
}

// Complete implements genai.Client.
func (s *ScriptedLLM) Complete(ctx context.Context, req genai.Request) (genai.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)

	if err := ctx.Err(); err != nil {
		return genai.Completion{}, &genai.Failure{Kind: genai.APIError, Err: err}
	}
	if len(s.queue) == 0 {
		echo := ""
		if n := len(req.Messages); n > 0 {
			echo = "echo: " + req.Messages[n-1].Content
		}
		return genai.Completion{Text: echo, Usage: ScriptedUsage}, nil
	}
	next := s.queue[0]
	s.queue = s.queue[1:]
	if next.err != nil {
		return genai.Completion{}, next.err
	}
	return genai.Completion{Text: next.text, Usage: ScriptedUsage}, nil
}

// Requests returns a copy of every request received so far.
func (s *ScriptedLLM) Requests() []genai.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]genai.Request(nil), s.requests...)
}

// SentMessage is one message delivered through a RecordingService.
type SentMessage struct {
	To   string
	Body string
}

// RecordingService is an in-memory transport. Tests push inbound messages
// with Deliver and read replies with Sent or WaitForSent.
type RecordingService struct {
	mu      sync.Mutex
	sent    []SentMessage
	inbound chan models.InboundMessage
	notify  chan struct{}
	stopped bool
}

// NewRecordingService creates a RecordingService with a buffered inbound
// channel.
func NewRecordingService() *RecordingService {
	return &RecordingService{
		inbound: make(chan models.InboundMessage, 64),
		notify:  make(chan struct{}, 1),
	}
}

// SendMessage records the outgoing message.
func (r *RecordingService) SendMessage(_ context.Context, to, body string) error {
	r.mu.Lock()
	r.sent = append(r.sent, SentMessage{To: to, Body: body})
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
	return nil
}

// Start is a no-op.
func (r *RecordingService) Start(context.Context) error { return nil }

// Stop closes the inbound channel. It is safe to call more than once.
func (r *RecordingService) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.stopped {
		r.stopped = true
		close(r.inbound)
	}
	return nil
}

// Inbound returns the channel of delivered messages.
func (r *RecordingService) Inbound() <-chan models.InboundMessage { return r.inbound }

// Deliver simulates a user message arriving.
func (r *RecordingService) Deliver(botID, userID, text string) {
	r.inbound <- models.InboundMessage{
		BotID: botID,
		User:  models.User{ID: userID, DisplayName: userID},
		Text:  text,
		Time:  time.Now(),
	}
}

// Sent returns a copy of every message sent so far.
func (r *RecordingService) Sent() []SentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SentMessage(nil), r.sent...)
}

// WaitForSent waits until at least n messages were sent and returns them.
func (r *RecordingService) WaitForSent(t *testing.T, n int, timeout time.Duration) []SentMessage {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if sent := r.Sent(); len(sent) >= n {
			return sent
		}
		select {
		case <-r.notify:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatalf("timed out waiting for %d sent messages, got %d: %+v", n, len(r.Sent()), r.Sent())
			return nil
		}
	}
}

// SeedScenario saves sc into repo and fails the test on error.
func SeedScenario(t *testing.T, repo store.ScenarioRepo, sc models.Scenario) {
	t.Helper()
	if err := repo.SaveScenario(context.Background(), sc); err != nil {
		t.Fatalf("failed to seed scenario %s: %v", sc.ID, err)
	}
}

// ColorScenario returns a scenario that asks for a color and branches on it:
// step 1 (input, save_as=color) -> always -> step 2 (condition: color equals
// "red" -> step 3, otherwise end) -> step 3 (message).
func ColorScenario(id string) models.Scenario {
	return models.Scenario{
		ID:     id,
		Name:   "Color " + id,
		Active: true,
		Steps: []models.Step{
			{Order: 1, Name: "ask", Active: true,
				Kind:        models.InputStep{SaveAs: "color", Response: "You said {color}."},
				Transitions: []models.Transition{{When: models.Always{}, Next: models.NextOrder(2)}}},
			{Order: 2, Name: "branch", Active: true,
				Kind: models.ConditionStep{Branches: []models.Transition{
					{When: models.FieldEquals{Field: "color", Value: models.StringValue("red")}, Next: models.NextOrder(3)},
				}}},
			{Order: 3, Name: "red", Active: true,
				Kind:        models.MessageStep{Text: "Red is a fine choice, {user_name}."},
				Transitions: []models.Transition{{When: models.UserResponded{}, Next: models.NextOrder(4)}}},
			{Order: 4, Name: "bye", Active: true, Kind: models.EndStep{Message: "Bye!"}},
		},
	}
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// DecodeJSON decodes the recorder body into a map and fails the test on error.
func DecodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
	return out
}
