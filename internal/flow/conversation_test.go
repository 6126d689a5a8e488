package flow

import (
	"context"
	"fmt"
	"testing"

	"github.com/BTreeMap/BotPipe/internal/genai"
	"github.com/BTreeMap/BotPipe/internal/models"
	"github.com/BTreeMap/BotPipe/internal/store"
	"github.com/BTreeMap/BotPipe/internal/testutil"
	"github.com/BTreeMap/BotPipe/internal/tokens"
)

func newTestConversation(llm genai.Client) (*ConversationManager, *store.InMemoryStore) {
	st := store.NewInMemoryStore()
	return NewConversationManager(st, llm, tokens.NewCounter(), nil, nil), st
}

func TestRespondRecordsTurnsAndTokens(t *testing.T) {
	llm := testutil.NewScriptedLLM("Hello Ann!")
	cm, st := newTestConversation(llm)
	bot := models.Bot{ID: "bot1", Model: "mystery-model-x", SystemPrompt: "Be brief."}

	reply, err := cm.Respond(context.Background(), bot, ann, "hi")
	if err != nil || reply != "Hello Ann!" {
		t.Fatalf("Respond = %q, %v", reply, err)
	}

	conv, _ := st.LoadConversation(context.Background(), "bot1", ann.ID)
	if len(conv.Turns) != 2 || conv.Turns[0].Role != models.RoleUser || conv.Turns[1].Content != "Hello Ann!" {
		t.Errorf("unexpected turns %+v", conv.Turns)
	}
	if conv.TotalTokens != testutil.ScriptedUsage.Total {
		t.Errorf("TotalTokens = %d, want %d", conv.TotalTokens, testutil.ScriptedUsage.Total)
	}

	req := llm.Requests()[0]
	if req.Messages[0].Role != models.RoleSystem || req.Messages[0].Content != "Be brief." {
		t.Errorf("system prompt must lead the request: %+v", req.Messages)
	}
	if last := req.Messages[len(req.Messages)-1]; last.Content != "hi" {
		t.Errorf("user message must close the request: %+v", req.Messages)
	}
	if req.MaxTokens != models.DefaultMaxTokens || req.Temperature != models.DefaultTemperature {
		t.Errorf("bot defaults not applied: %+v", req)
	}
}

func TestRespondHonorsHistoryWindow(t *testing.T) {
	llm := testutil.NewScriptedLLM()
	cm, _ := newTestConversation(llm)
	bot := models.Bot{ID: "bot1", Model: "mystery-model-x", HistoryWindow: 3}

	for i := 0; i < 4; i++ {
		if _, err := cm.Respond(context.Background(), bot, ann, fmt.Sprintf("message %d", i)); err != nil {
			t.Fatal(err)
		}
	}
	reqs := llm.Requests()
	last := reqs[len(reqs)-1]
	if len(last.Messages) != 4 {
		t.Fatalf("expected system + 3 turns, got %d: %+v", len(last.Messages), last.Messages)
	}
	if last.Messages[1].Content != "message 2" || last.Messages[2].Content != "echo: message 2" || last.Messages[3].Content != "message 3" {
		t.Errorf("unexpected window %+v", last.Messages)
	}
}

func TestRespondTrimsToContextBudget(t *testing.T) {
	llm := testutil.NewScriptedLLM()
	cm, _ := newTestConversation(llm)
	counter := tokens.NewCounter()
	// 40-character messages cost 10 + 4 under the fallback estimate.
	bot := models.Bot{ID: "bot1", Model: "mystery-model-x", SystemPrompt: "sys", MaxContextTokens: 40}

	for i := 0; i < 5; i++ {
		if _, err := cm.Respond(context.Background(), bot, ann, fmt.Sprintf("%040d", i)); err != nil {
			t.Fatal(err)
		}
	}
	reqs := llm.Requests()
	last := reqs[len(reqs)-1].Messages
	if last[0].Role != models.RoleSystem {
		t.Fatalf("system prompt dropped: %+v", last)
	}
	cost := 0
	for _, m := range last {
		cost += counter.MessageCost(m, bot.Model)
	}
	if cost > bot.MaxContextTokens {
		t.Errorf("request cost %d exceeds budget %d", cost, bot.MaxContextTokens)
	}
	if last[len(last)-1].Content != fmt.Sprintf("%040d", 4) {
		t.Errorf("newest message must be kept: %+v", last)
	}
}

func TestRespondLLMFailure(t *testing.T) {
	llm := testutil.NewScriptedLLM().Fail(genai.RateLimited)
	cm, st := newTestConversation(llm)

	reply, err := cm.Respond(context.Background(), testBot, ann, "hi")
	if err != nil {
		t.Fatalf("LLM failures must not surface as errors: %v", err)
	}
	if reply != (&genai.Failure{Kind: genai.RateLimited}).UserMessage() {
		t.Errorf("unexpected apology %q", reply)
	}
	conv, _ := st.LoadConversation(context.Background(), testBot.ID, ann.ID)
	if len(conv.Turns) != 1 || conv.TotalTokens != 0 {
		t.Errorf("only the user turn should be recorded: %+v", conv)
	}
}

func TestClearResetsLogAndCounter(t *testing.T) {
	cm, st := newTestConversation(testutil.NewScriptedLLM("a", "b"))
	ctx := context.Background()
	cm.Respond(ctx, testBot, ann, "one")
	cm.Respond(ctx, testBot, ann, "two")

	if err := cm.Clear(ctx, testBot.ID, ann.ID); err != nil {
		t.Fatal(err)
	}
	conv, _ := st.LoadConversation(ctx, testBot.ID, ann.ID)
	if len(conv.Turns) != 0 || conv.TotalTokens != 0 {
		t.Errorf("expected empty conversation, got %+v", conv)
	}
}

func TestRecordTurnAndStats(t *testing.T) {
	cm, _ := newTestConversation(nil)
	ctx := context.Background()
	bot := models.Bot{ID: "bot1", Model: "mystery-model-x", SystemPrompt: "abcd"}

	if err := cm.RecordTurn(ctx, bot.ID, ann.ID, models.RoleUser, "12345678"); err != nil {
		t.Fatal(err)
	}
	stats, err := cm.Stats(ctx, bot, ann.ID)
	if err != nil {
		t.Fatal(err)
	}
	// (role + content + 4) per message, plus 2 for the request:
	// system: 1 + 1 + 4, user: 1 + 2 + 4.
	if stats.Turns != 1 || stats.TotalTokens != 0 || stats.ContextTokens != 15 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.LastActivity.IsZero() {
		t.Error("LastActivity not set")
	}
}

func TestRespondWithoutClient(t *testing.T) {
	cm, _ := newTestConversation(nil)
	reply, err := cm.Respond(context.Background(), testBot, ann, "hi")
	if err != nil || reply == "" {
		t.Errorf("expected an apology, got %q, %v", reply, err)
	}
}
