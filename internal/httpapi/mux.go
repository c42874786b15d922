// Package httpapi serves the station's health and stored readings.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"cloudpico-station/internal/types"
)

// Readings is the part of the store the API reads from.
type Readings interface {
	Ping(ctx context.Context) error
	LatestReadings(ctx context.Context, stationID string, limit int) ([]types.Telemetry, error)
}

func NewMux(readings Readings, logger *slog.Logger) *http.ServeMux {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{readings: readings, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /api/v1/stations/{id}/latest", h.handleLatest)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error":   http.StatusText(status),
		"message": msg,
	})
}
