package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"cloudpico-station/internal/types"
)

const (
	defaultLimit = 10
	maxLimit     = 1000
)

type handlers struct {
	readings Readings
	logger   *slog.Logger
}

func (h *handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.readings.Ping(r.Context()); err != nil {
		h.logger.Error("failed to check database connectivity", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to check database connectivity")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) handleLatest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := h.readings.LatestReadings(r.Context(), id, limit)
	if err != nil {
		h.logger.Error("failed to load readings", "station_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load readings")
		return
	}
	if items == nil {
		items = []types.Telemetry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stationId": id,
		"limit":     limit,
		"items":     items,
	})
}

func parseLimit(s string) (int, error) {
	if s == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.New("invalid 'limit' (expected integer)")
	}
	if n <= 0 {
		return 0, errors.New("'limit' must be > 0")
	}
	if n > maxLimit {
		return 0, errors.New("'limit' must be <= 1000")
	}
	return n, nil
}
