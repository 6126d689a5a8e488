package tokens

import (
	"reflect"
	"strings"
	"testing"

	"github.com/BTreeMap/BotPipe/internal/models"
)

func msg(role string, chars int) models.ChatMessage {
	return models.ChatMessage{Role: role, Content: strings.Repeat("x", chars)}
}

func totalCost(c *Counter, msgs []models.ChatMessage) int {
	n := 0
	for _, m := range msgs {
		n += c.MessageCost(m, unknownModel)
	}
	return n
}

func TestTrimKeepsSystemAndNewest(t *testing.T) {
	c := NewCounter()
	system := msg(models.RoleSystem, 8) // 2 + 4
	history := []models.ChatMessage{
		system,
		msg(models.RoleUser, 40),      // 14
		msg(models.RoleAssistant, 40), // 14
		msg(models.RoleUser, 40),      // 14
	}
	got := c.Trim(history, 6+14+14, unknownModel)
	want := []models.ChatMessage{system, history[2], history[3]}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Trim() = %+v, want %+v", got, want)
	}
}

func TestTrimStopsAtFirstOverflow(t *testing.T) {
	c := NewCounter()
	history := []models.ChatMessage{
		msg(models.RoleUser, 4),        // 5, would fit but is older than the overflow
		msg(models.RoleAssistant, 400), // 104
		msg(models.RoleUser, 4),        // 5
	}
	got := c.Trim(history, 20, unknownModel)
	if len(got) != 1 || got[0] != history[2] {
		t.Errorf("expected only the newest message, got %+v", got)
	}
}

func TestTrimReturnsFittingHistoryUnchanged(t *testing.T) {
	c := NewCounter()
	history := []models.ChatMessage{
		msg(models.RoleSystem, 8),
		msg(models.RoleUser, 12),
		msg(models.RoleAssistant, 12),
	}
	got := c.Trim(history, 1000, unknownModel)
	if !reflect.DeepEqual(got, history) {
		t.Errorf("Trim() changed a fitting history: %+v", got)
	}
}

func TestTrimIsIdempotent(t *testing.T) {
	c := NewCounter()
	history := []models.ChatMessage{msg(models.RoleSystem, 20)}
	for i := 0; i < 30; i++ {
		history = append(history, msg(models.RoleUser, 10+i*7))
	}
	for _, budget := range []int{0, 10, 50, 120, 400, 5000} {
		once := c.Trim(history, budget, unknownModel)
		twice := c.Trim(once, budget, unknownModel)
		if !reflect.DeepEqual(once, twice) {
			t.Errorf("budget %d: Trim not idempotent", budget)
		}
		if budget >= c.MessageCost(history[0], unknownModel) && totalCost(c, once) > budget {
			t.Errorf("budget %d: result costs %d", budget, totalCost(c, once))
		}
		if once[0].Role != models.RoleSystem {
			t.Errorf("budget %d: system message dropped", budget)
		}
	}
}

func TestTrimOversizedSystemIsKeptAlone(t *testing.T) {
	c := NewCounter()
	history := []models.ChatMessage{msg(models.RoleSystem, 400), msg(models.RoleUser, 4)}
	got := c.Trim(history, 10, unknownModel)
	if len(got) != 1 || got[0].Role != models.RoleSystem {
		t.Errorf("expected only the system message, got %+v", got)
	}
}

func TestTrimWithoutSystemMessage(t *testing.T) {
	c := NewCounter()
	if got := c.Trim(nil, 100, unknownModel); len(got) != 0 {
		t.Errorf("Trim(nil) = %+v", got)
	}
	history := []models.ChatMessage{msg(models.RoleUser, 40), msg(models.RoleSystem, 4)}
	// A system message that is not leading is treated like any other message.
	got := c.Trim(history, 5, unknownModel)
	if len(got) != 1 || got[0] != history[1] {
		t.Errorf("unexpected result: %+v", got)
	}
}
