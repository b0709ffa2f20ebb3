package handler

import (
	"net/http"

	"github.com/sakif/ronin/internal/metrics"
)

type StatsHandler struct {
	recorder *metrics.Recorder
}

func NewStatsHandler(recorder *metrics.Recorder) *StatsHandler {
	return &StatsHandler{recorder: recorder}
}

// HandleStats reports request latency percentiles per route.
//
// HTTP: GET /api/stats
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.recorder.Snapshot())
}
