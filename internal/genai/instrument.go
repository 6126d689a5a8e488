package genai

import (
	"context"
	"time"

	"github.com/BTreeMap/BotPipe/internal/metrics"
)

// instrumentedClient records metrics around another Client.
type instrumentedClient struct {
	next     Client
	provider string
	recorder metrics.Recorder
}

// WithMetrics wraps next so every call is reported to recorder.
func WithMetrics(next Client, provider string, recorder metrics.Recorder) Client {
	if recorder == nil {
		return next
	}
	return &instrumentedClient{next: next, provider: provider, recorder: recorder}
}

func (c *instrumentedClient) Complete(ctx context.Context, req Request) (Completion, error) {
	start := time.Now()
	resp, err := c.next.Complete(ctx, req)
	kind := ""
	if err != nil {
		kind = string(KindOf(err))
	}
	c.recorder.ObserveLLMRequest(c.provider, req.Model, kind, resp.Usage.Prompt, resp.Usage.Completion, time.Since(start))
	return resp, err
}
