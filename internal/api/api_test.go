package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/BTreeMap/BotPipe/internal/flow"
	"github.com/BTreeMap/BotPipe/internal/models"
	"github.com/BTreeMap/BotPipe/internal/store"
	"github.com/BTreeMap/BotPipe/internal/testutil"
)

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

type staticBots []models.Bot

func (b staticBots) List() []models.Bot { return b }

func serve(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHealthHandler(t *testing.T) {
	s := NewServer(store.NewInMemoryStore(), nil, nil, prometheus.NewRegistry())
	rr := serve(t, s, "/healthz")
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "healthy store")
	body := testutil.DecodeJSON(t, rr)
	if body["status"] != "healthy" {
		t.Errorf("unexpected body %v", body)
	}

	s = NewServer(failingPinger{}, nil, nil, prometheus.NewRegistry())
	rr = serve(t, s, "/healthz")
	testutil.AssertHTTPStatus(t, http.StatusServiceUnavailable, rr.Code, "failing store")
	body = testutil.DecodeJSON(t, rr)
	checks, _ := body["checks"].(map[string]any)
	if body["status"] != "degraded" || checks["store"] != "unreachable" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestMetricsEndpointServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "botpipe_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Add(3)

	rr := serve(t, NewServer(nil, nil, nil, reg), "/metrics")
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "metrics")
	if !strings.Contains(rr.Body.String(), "botpipe_test_total 3") {
		t.Errorf("metrics output missing counter:\n%s", rr.Body.String())
	}
}

func TestListBots(t *testing.T) {
	bots := staticBots{{ID: "a", Name: "Alpha"}, {ID: "b", Name: "Beta"}}
	rr := serve(t, NewServer(nil, bots, nil, prometheus.NewRegistry()), "/bots/")
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "list bots")
	body := testutil.DecodeJSON(t, rr)
	result, _ := body["result"].([]any)
	if len(result) != 2 {
		t.Fatalf("expected 2 bots, got %v", body)
	}
	if first, _ := result[0].(map[string]any); first["id"] != "a" {
		t.Errorf("unexpected first bot %v", result[0])
	}
}

func TestSessionHandlers(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	testutil.SeedScenario(t, st, testutil.ColorScenario("colors"))
	engine := flow.NewEngine(st, st, testutil.NewScriptedLLM())
	bot := models.Bot{ID: "bot1"}
	if _, err := engine.StartScenario(ctx, bot, models.User{ID: "u1"}, "colors", nil); err != nil {
		t.Fatalf("StartScenario: %v", err)
	}
	s := NewServer(st, nil, engine, prometheus.NewRegistry())

	rr := serve(t, s, "/bots/bot1/users/u1/session")
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "active session")
	body := testutil.DecodeJSON(t, rr)
	sess, _ := body["result"].(map[string]any)
	if sess["scenario_id"] != "colors" || sess["active"] != true {
		t.Errorf("unexpected session %v", body)
	}

	rr = serve(t, s, "/bots/bot1/users/nobody/session")
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "missing session")
	if body := testutil.DecodeJSON(t, rr); body["status"] != StatusError {
		t.Errorf("unexpected body %v", body)
	}

	if _, err := engine.EndSession(ctx, "bot1", "u1"); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	rr = serve(t, s, "/bots/bot1/users/u1/sessions")
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "history")
	body = testutil.DecodeJSON(t, rr)
	history, _ := body["result"].([]any)
	if len(history) != 1 {
		t.Fatalf("expected one past session, got %v", body)
	}
	if past, _ := history[0].(map[string]any); past["active"] != false {
		t.Errorf("ended session should be inactive: %v", past)
	}
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewServer(nil, nil, nil, prometheus.NewRegistry()).ListenAndServe(ctx, "127.0.0.1:0")
	}()
	cancel()
	if err := <-done; err != nil {
		t.Errorf("ListenAndServe = %v", err)
	}
}
