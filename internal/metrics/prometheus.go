package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements the Recorder interface using Prometheus metrics.
type PrometheusRecorder struct {
	llmRequests     *prometheus.CounterVec
	llmTokens       *prometheus.CounterVec
	llmDuration     *prometheus.HistogramVec
	sessionsStarted *prometheus.CounterVec
	scenarioTurns   *prometheus.CounterVec
	chatReplies     *prometheus.CounterVec
}

// NewPrometheusRecorder registers BotPipe metrics on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		llmRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botpipe_llm_requests_total",
				Help: "Total number of LLM requests by provider, model and status",
			},
			[]string{"provider", "model", "status", "error_kind"},
		),
		llmTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botpipe_llm_tokens_total",
				Help: "Total number of tokens reported by the LLM provider",
			},
			[]string{"provider", "model", "type"},
		),
		llmDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "botpipe_llm_request_duration_seconds",
				Help:    "Duration of LLM requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "model"},
		),
		sessionsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botpipe_scenario_sessions_started_total",
				Help: "Total number of scenario sessions started",
			},
			[]string{"bot_id", "scenario_id"},
		),
		scenarioTurns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botpipe_scenario_turns_total",
				Help: "Total number of scenario messages processed by outcome",
			},
			[]string{"bot_id", "outcome"},
		),
		chatReplies: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botpipe_chat_replies_total",
				Help: "Total number of free-form chat replies by outcome",
			},
			[]string{"bot_id", "outcome"},
		),
	}
}

// ObserveLLMRequest records metrics for a completed LLM request.
func (p *PrometheusRecorder) ObserveLLMRequest(provider, model, errorKind string, promptTokens, completionTokens int, duration time.Duration) {
	status := OutcomeSuccess
	if errorKind != "" {
		status = "error"
	}
	p.llmRequests.WithLabelValues(provider, model, status, errorKind).Inc()

	// Providers only report usage for successful calls
	if errorKind == "" {
		p.llmTokens.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
		p.llmTokens.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
	p.llmDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
}

func (p *PrometheusRecorder) ObserveSessionStarted(botID, scenarioID string) {
	p.sessionsStarted.WithLabelValues(botID, scenarioID).Inc()
}

func (p *PrometheusRecorder) ObserveScenarioTurn(botID, outcome string) {
	p.scenarioTurns.WithLabelValues(botID, outcome).Inc()
}

func (p *PrometheusRecorder) ObserveChatReply(botID, outcome string) {
	p.chatReplies.WithLabelValues(botID, outcome).Inc()
}
