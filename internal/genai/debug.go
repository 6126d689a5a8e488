package genai

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// debugEntry is one request/response pair written in debug mode.
type debugEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Method    string    `json:"method"`
	Model     string    `json:"model"`
	Params    Request   `json:"params"`
	Response  any       `json:"response"`
	Error     string    `json:"error,omitempty"`
}

// writeDebugLog stores the exchange under <stateDir>/debug. Failures are
// logged and otherwise ignored.
func writeDebugLog(stateDir, provider string, req Request, resp any, callErr error) {
	dir := filepath.Join(stateDir, "debug")
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Warn("genai debug: failed to create directory", "dir", dir, "error", err)
		return
	}

	now := time.Now()
	entry := debugEntry{
		Timestamp: now,
		Method:    provider + ".Complete",
		Model:     req.Model,
		Params:    req,
		Response:  resp,
	}
	if callErr != nil {
		entry.Error = callErr.Error()
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("genai debug: failed to marshal entry", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%s.json", now.Format("20060102T150405.000000000"), provider)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		slog.Warn("genai debug: failed to write entry", "file", name, "error", err)
	}
}
