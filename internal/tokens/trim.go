package tokens

import "github.com/BTreeMap/BotPipe/internal/models"

// Trim returns the longest suffix of msgs whose cost fits in maxTokens,
// preceded by the leading system message if there is one. The system message
// is counted first and is kept even when it alone exceeds the budget. Newer
// messages are admitted before older ones and admission stops at the first
// message that does not fit, so the result never has gaps. Chronological order
// is preserved.
func (c *Counter) Trim(msgs []models.ChatMessage, maxTokens int, model string) []models.ChatMessage {
	if len(msgs) == 0 {
		return nil
	}

	var system *models.ChatMessage
	rest := msgs
	used := 0
	if msgs[0].Role == models.RoleSystem {
		system = &msgs[0]
		rest = msgs[1:]
		used = c.MessageCost(*system, model)
	}

	start := len(rest)
	for i := len(rest) - 1; i >= 0; i-- {
		cost := c.MessageCost(rest[i], model)
		if used+cost > maxTokens {
			break
		}
		used += cost
		start = i
	}

	out := make([]models.ChatMessage, 0, len(rest)-start+1)
	if system != nil {
		out = append(out, *system)
	}
	return append(out, rest[start:]...)
}
