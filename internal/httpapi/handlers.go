package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"cloudpico-relay/internal/poller"
	"cloudpico-relay/internal/relay"
	"cloudpico-relay/internal/store"
	"cloudpico-relay/internal/utils"
)

const (
	defaultReadingsLimit = 20
	maxReadingsLimit     = 500
)

type statusResponse struct {
	UptimeSeconds int64          `json:"uptime_seconds"`
	Poller        poller.Status  `json:"poller"`
	Relay         relay.Snapshot `json:"relay"`
}

func registerStatus(mux *http.ServeMux, d Deps) {
	mux.HandleFunc("GET /api/v1/status", func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{}
		if !d.Started.IsZero() {
			resp.UptimeSeconds = int64(time.Since(d.Started) / time.Second)
		}
		if d.Poller != nil {
			resp.Poller = d.Poller.Status()
		}
		if d.Relay != nil {
			resp.Relay = d.Relay.Snapshot()
		}
		utils.WriteJSON(w, http.StatusOK, resp)
	})
}

func registerReadings(mux *http.ServeMux, repo store.ReadingRepository) {
	mux.HandleFunc("GET /api/v1/readings", func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			utils.WriteError(w, http.StatusServiceUnavailable, "reading journal is disabled")
			return
		}
		limit, err := parseLimit(r)
		if err != nil {
			utils.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		readings, err := repo.Latest(limit)
		if err != nil {
			slog.Error("failed to list readings", "error", err)
			utils.WriteError(w, http.StatusInternalServerError, "failed to list readings")
			return
		}
		utils.WriteJSON(w, http.StatusOK, map[string]any{
			"readings": readings,
			"count":    len(readings),
		})
	})
}

func parseLimit(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return defaultReadingsLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.New("invalid 'limit' (expected integer)")
	}
	if n <= 0 {
		return 0, errors.New("'limit' must be > 0")
	}
	if n > maxReadingsLimit {
		return 0, errors.New("'limit' must be <= 500")
	}
	return n, nil
}
