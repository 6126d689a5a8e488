package testutil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BTreeMap/BotPipe/internal/genai"
	"github.com/BTreeMap/BotPipe/internal/models"
	"github.com/BTreeMap/BotPipe/internal/store"
)

func TestScriptedLLM(t *testing.T) {
	llm := NewScriptedLLM("first").Fail(genai.RateLimited)
	ctx := context.Background()
	req := genai.Request{Messages: []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}}}

	resp, err := llm.Complete(ctx, req)
	if err != nil || resp.Text != "first" || resp.Usage != ScriptedUsage {
		t.Fatalf("unexpected first reply %+v, %v", resp, err)
	}
	_, err = llm.Complete(ctx, req)
	if genai.KindOf(err) != genai.RateLimited {
		t.Fatalf("expected rate limited failure, got %v", err)
	}
	resp, err = llm.Complete(ctx, req)
	if err != nil || resp.Text != "echo: hi" {
		t.Fatalf("expected echo, got %+v, %v", resp, err)
	}
	if n := len(llm.Requests()); n != 3 {
		t.Errorf("expected 3 recorded requests, got %d", n)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = llm.Complete(cancelled, req)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected cancellation to surface, got %v", err)
	}
}

func TestRecordingService(t *testing.T) {
	svc := NewRecordingService()
	svc.Deliver("bot", "u1", "hello")
	msg := <-svc.Inbound()
	if msg.BotID != "bot" || msg.User.ID != "u1" || msg.Text != "hello" {
		t.Errorf("unexpected inbound %+v", msg)
	}

	go svc.SendMessage(context.Background(), "u1", "reply")
	sent := svc.WaitForSent(t, 1, time.Second)
	if sent[0] != (SentMessage{To: "u1", Body: "reply"}) {
		t.Errorf("unexpected sent %+v", sent)
	}

	svc.Stop()
	svc.Stop()
	if _, ok := <-svc.Inbound(); ok {
		t.Error("expected inbound channel to be closed")
	}
}

func TestColorScenarioIsValid(t *testing.T) {
	st := store.NewInMemoryStore()
	SeedScenario(t, st, ColorScenario("colors"))
	steps, err := st.LoadScenarioSteps(context.Background(), "colors")
	if err != nil || len(steps) != 4 {
		t.Fatalf("expected 4 steps, got %d, %v", len(steps), err)
	}
}

func TestAssertHTTPStatus(t *testing.T) {
	AssertHTTPStatus(t, http.StatusOK, http.StatusOK, "same status")

	rr := httptest.NewRecorder()
	rr.WriteString(`{"status":"ok"}`)
	if got := DecodeJSON(t, rr); got["status"] != "ok" {
		t.Errorf("unexpected body %v", got)
	}
}
