package genai

import (
	"context"
	"testing"
	"time"
)

type stubClient struct {
	resp Completion
	err  error
}

func (s stubClient) Complete(context.Context, Request) (Completion, error) { return s.resp, s.err }

type recordedCall struct {
	provider, model, kind string
	prompt, completion    int
}

type fakeRecorder struct{ calls []recordedCall }

func (f *fakeRecorder) ObserveLLMRequest(provider, model, kind string, prompt, completion int, _ time.Duration) {
	f.calls = append(f.calls, recordedCall{provider, model, kind, prompt, completion})
}
func (f *fakeRecorder) ObserveSessionStarted(_, _ string) {}
func (f *fakeRecorder) ObserveScenarioTurn(_, _ string) {}
func (f *fakeRecorder) ObserveChatReply(_, _ string) {}

func TestWithMetricsRecordsOutcome(t *testing.T) {
	rec := &fakeRecorder{}
	ok := WithMetrics(stubClient{resp: Completion{Text: "x", Usage: Usage{Prompt: 3, Completion: 4, Total: 7}}}, ProviderOpenAI, rec)
	failing := WithMetrics(stubClient{err: &Failure{Kind: AuthError}}, ProviderOpenAI, rec)

	if _, err := ok.Complete(context.Background(), Request{Model: "m"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := failing.Complete(context.Background(), Request{Model: "m"}); KindOf(err) != AuthError {
		t.Fatalf("expected AuthError to pass through, got %v", err)
	}

	if len(rec.calls) != 2 {
		t.Fatalf("expected 2 recorded calls, got %d", len(rec.calls))
	}
	if rec.calls[0] != (recordedCall{ProviderOpenAI, "m", "", 3, 4}) {
		t.Errorf("unexpected success record %+v", rec.calls[0])
	}
	if rec.calls[1].kind != string(AuthError) {
		t.Errorf("unexpected failure record %+v", rec.calls[1])
	}
}

func TestWithMetricsNilRecorder(t *testing.T) {
	inner := stubClient{}
	if got := WithMetrics(inner, ProviderOpenAI, nil); got != Client(inner) {
		t.Error("expected the client unchanged without a recorder")
	}
}
