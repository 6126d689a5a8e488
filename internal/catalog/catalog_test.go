package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/BTreeMap/BotPipe/internal/models"
	"github.com/BTreeMap/BotPipe/internal/store"
)

func TestLoadYAML(t *testing.T) {
	cat, err := Load(filepath.Join("testdata", "catalog.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	bot, ok := cat.Bot("helper")
	if !ok || bot.Model != "gpt-4o-mini" || bot.MaxTokens != 500 || bot.StartScenario != "onboarding" {
		t.Fatalf("unexpected bot %+v", bot)
	}
	if len(cat.Scenarios) != 2 {
		t.Fatalf("expected 2 scenarios, got %d", len(cat.Scenarios))
	}

	onboarding := cat.Scenarios[0]
	if onboarding.ID != "onboarding" || !onboarding.Active || len(onboarding.Steps) != 5 {
		t.Fatalf("unexpected scenario %+v", onboarding)
	}
	ask, ok := onboarding.Steps[1].Kind.(models.InputStep)
	if !ok || ask.Prompt != "What is your favorite color?" || ask.SaveAs != "color" {
		t.Errorf("unexpected input step %#v", onboarding.Steps[1].Kind)
	}
	if kw, ok := onboarding.Steps[1].Transitions[0].When.(models.KeywordMatch); !ok || len(kw.Keywords) != 2 {
		t.Errorf("unexpected keyword transition %#v", onboarding.Steps[1].Transitions[0])
	}
	if onboarding.Steps[1].Transitions[0].Next != nil {
		t.Error("null next_step_order should terminate")
	}
	branch := onboarding.Steps[2].Kind.(models.ConditionStep)
	if len(branch.Branches) != 2 {
		t.Fatalf("expected 2 branches, got %d", len(branch.Branches))
	}
	if eq, ok := branch.Branches[0].When.(models.FieldEquals); !ok || !eq.Value.Equal(models.StringValue("red")) {
		t.Errorf("unexpected branch %#v", branch.Branches[0].When)
	}
	if end := onboarding.Steps[4].Kind.(models.EndStep); end.Message != "See you, {user_name}!" {
		t.Errorf("unexpected end message %q", end.Message)
	}

	poll := cat.Scenarios[1]
	if poll.ID != "quick_poll" || poll.Active {
		t.Errorf("unexpected defaults for poll %+v", poll)
	}
	if poll.Steps[0].Order != 1 || poll.Steps[0].Name != "Step 1" || !poll.Steps[0].Active {
		t.Errorf("unexpected step defaults %+v", poll.Steps[0])
	}
	if pt, ok := poll.Steps[1].Kind.(models.PassThroughStep); !ok || pt.Tag != models.StepKeyboard || poll.Steps[1].Active {
		t.Errorf("unexpected pass-through step %+v", poll.Steps[1])
	}
}

func TestParseJSON(t *testing.T) {
	doc := `{
		"bots": [{"id": "b1", "name": "B1"}],
		"scenarios": [{"id": "s1", "bot_id": "b1", "name": "S1", "steps": [
			{"order": 2, "step_type": "end"},
			{"order": 1, "step_type": "message", "data": {"text": "hi", "transitions": [{"condition": "always", "next_step_order": 2}]}}
		]}]
	}`
	cat, err := Parse([]byte(doc), FormatJSON)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	steps := cat.Scenarios[0].Steps
	if steps[0].Order != 1 || steps[1].Order != 2 {
		t.Errorf("steps not sorted: %+v", steps)
	}
	if steps[0].ScenarioID != "s1" {
		t.Errorf("scenario id not propagated: %+v", steps[0])
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"duplicate bot", "bots: [{id: a}, {id: a}]", ErrDuplicateBot},
		{"invalid bot", "bots: [{id: a, temperature: 5}]", models.ErrInvalidTemperature},
		{"duplicate scenario", "scenarios: [{id: s, name: S}, {id: s, name: T}]", ErrDuplicateScenario},
		{"duplicate step order", "scenarios: [{id: s, name: S, steps: [{order: 1}, {order: 1}]}]", models.ErrDuplicateStepOrder},
		{"unknown bot", "bots: [{id: a}]\nscenarios: [{id: s, name: S, bot_id: b}]", ErrUnknownBot},
		{"missing name", "scenarios: [{id: s}]", models.ErrEmptyScenarioName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.doc), FormatYAML); !errors.Is(err, tt.want) {
				t.Errorf("Parse error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := Parse([]byte("{"), FormatJSON); err == nil {
		t.Error("expected a decode error")
	}
	if _, err := Parse(nil, "toml"); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("expected ErrUnknownFormat, got %v", err)
	}
}

func TestFormatOf(t *testing.T) {
	for path, want := range map[string]string{"a.yaml": FormatYAML, "b.YML": FormatYAML, "c.json": FormatJSON} {
		if got, err := FormatOf(path); err != nil || got != want {
			t.Errorf("FormatOf(%s) = %q, %v", path, got, err)
		}
	}
	if _, err := FormatOf("catalog.txt"); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("expected ErrUnknownFormat, got %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestImportSkipsAndOverwrites(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	cat, err := Load(filepath.Join("testdata", "catalog.yaml"))
	if err != nil {
		t.Fatal(err)
	}

	res, err := Import(ctx, st, cat.Scenarios, false)
	if err != nil || res.Imported != 2 || res.Skipped != 0 {
		t.Fatalf("first import = %+v, %v", res, err)
	}

	changed := cat.Scenarios[0]
	changed.Steps = changed.Steps[:1]
	res, err = Import(ctx, st, []models.Scenario{changed}, false)
	if err != nil || res.Imported != 0 || res.Skipped != 1 {
		t.Fatalf("import without overwrite = %+v, %v", res, err)
	}
	steps, _ := st.LoadScenarioSteps(ctx, "onboarding")
	if len(steps) != 5 {
		t.Errorf("skipped import must not touch steps, got %d", len(steps))
	}

	res, err = Import(ctx, st, []models.Scenario{changed}, true)
	if err != nil || res.Imported != 1 {
		t.Fatalf("import with overwrite = %+v, %v", res, err)
	}
	steps, _ = st.LoadScenarioSteps(ctx, "onboarding")
	if len(steps) != 1 {
		t.Errorf("overwrite should replace steps, got %d", len(steps))
	}
}

func TestSlug(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Quick Poll", "quick_poll"},
		{"  Hello, World! ", "hello_world"},
		{"v2 -- beta", "v2_beta"},
	}
	for _, tt := range tests {
		if got := slug(tt.in); got != tt.want {
			t.Errorf("slug(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
