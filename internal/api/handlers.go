package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type healthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := healthStatus{Status: "healthy", Checks: map[string]string{"api": "ok"}}
	code := http.StatusOK

	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			slog.Error("Server.healthHandler: store ping failed", "error", err)
			status.Status = "degraded"
			status.Checks["store"] = "unreachable"
			code = http.StatusServiceUnavailable
		} else {
			status.Checks["store"] = "ok"
		}
	}
	writeJSONResponse(w, code, status)
}

func (s *Server) listBotsHandler(w http.ResponseWriter, r *http.Request) {
	if s.bots == nil {
		writeJSONResponse(w, http.StatusOK, okResponse([]any{}))
		return
	}
	writeJSONResponse(w, http.StatusOK, okResponse(s.bots.List()))
}

func (s *Server) activeSessionHandler(w http.ResponseWriter, r *http.Request) {
	botID, userID := chi.URLParam(r, "botID"), chi.URLParam(r, "userID")
	if s.sessions == nil {
		writeJSONResponse(w, http.StatusNotFound, errorResponse("No active session"))
		return
	}
	sess, err := s.sessions.ActiveSession(r.Context(), botID, userID)
	if err != nil {
		slog.Error("Server.activeSessionHandler: failed to load session", "botID", botID, "userID", userID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, errorResponse("Failed to load session"))
		return
	}
	if sess == nil {
		writeJSONResponse(w, http.StatusNotFound, errorResponse("No active session"))
		return
	}
	writeJSONResponse(w, http.StatusOK, okResponse(sess))
}

func (s *Server) sessionHistoryHandler(w http.ResponseWriter, r *http.Request) {
	botID, userID := chi.URLParam(r, "botID"), chi.URLParam(r, "userID")
	if s.sessions == nil {
		writeJSONResponse(w, http.StatusOK, okResponse([]any{}))
		return
	}
	history, err := s.sessions.ListSessions(r.Context(), botID, userID)
	if err != nil {
		slog.Error("Server.sessionHistoryHandler: failed to list sessions", "botID", botID, "userID", userID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, errorResponse("Failed to list sessions"))
		return
	}
	writeJSONResponse(w, http.StatusOK, okResponse(history))
}
