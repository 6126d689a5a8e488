// Package tokens estimates token usage for chat messages and trims
// conversation histories to a token budget.
package tokens

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/BTreeMap/BotPipe/internal/models"
)

const (
	// PerMessageOverhead is added for every message in a request.
	PerMessageOverhead = 4
	// RequestOverhead is added once per request.
	RequestOverhead = 2
	// charsPerToken is the estimate used when no encoder is known for a model.
	charsPerToken = 4
)

// modelPrefixes maps families of dated or suffixed model names onto a model the
// tokenizer knows. Longer prefixes come first.
var modelPrefixes = []struct {
	prefix string
	model  tokenizer.Model
}{
	{"gpt-4o", tokenizer.Model("gpt-4o")},
	{"gpt-4", tokenizer.GPT4},
	{"gpt-3.5", tokenizer.Model("gpt-3.5-turbo")},
	{"o1", tokenizer.Model("o1")},
	{"o3", tokenizer.Model("o3")},
}

// Counter counts tokens with the encoder matching a model name. It is safe for
// concurrent use.
type Counter struct {
	mu     sync.RWMutex
	codecs map[string]tokenizer.Codec
}

// NewCounter creates a Counter with an empty encoder cache.
func NewCounter() *Counter {
	return &Counter{codecs: make(map[string]tokenizer.Codec)}
}

// Count returns the number of tokens in text for model. Models without an
// encoder are estimated at one token per four bytes.
func (c *Counter) Count(text, model string) int {
	codec := c.codec(model)
	if codec == nil {
		return len(text) / charsPerToken
	}
	n, err := codec.Count(text)
	if err != nil {
		slog.Debug("Counter.Count: encoder failed, estimating", "model", model, "error", err)
		return len(text) / charsPerToken
	}
	return n
}

// MessageCost is the budget a single message consumes when trimming.
func (c *Counter) MessageCost(m models.ChatMessage, model string) int {
	return c.Count(m.Content, model) + PerMessageOverhead
}

// CountMessages estimates the full prompt cost of a request.
func (c *Counter) CountMessages(msgs []models.ChatMessage, model string) int {
	total := 0
	for _, m := range msgs {
		total += c.Count(m.Role, model) + c.Count(m.Content, model) + PerMessageOverhead
	}
	return total + RequestOverhead
}

func (c *Counter) codec(model string) tokenizer.Codec {
	c.mu.RLock()
	codec, cached := c.codecs[model]
	c.mu.RUnlock()
	if cached {
		return codec
	}

	codec = resolve(model)
	c.mu.Lock()
	c.codecs[model] = codec
	c.mu.Unlock()
	if codec == nil {
		slog.Warn("Counter: no encoder for model, using length estimate", "model", model)
	}
	return codec
}

func resolve(model string) tokenizer.Codec {
	if codec, err := tokenizer.ForModel(tokenizer.Model(model)); err == nil {
		return codec
	}
	name := strings.ToLower(model)
	for _, p := range modelPrefixes {
		if strings.HasPrefix(name, p.prefix) {
			if codec, err := tokenizer.ForModel(p.model); err == nil {
				return codec
			}
		}
	}
	return nil
}
