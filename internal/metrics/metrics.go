// Package metrics keeps per-route request latency histograms in memory and
// reports their percentiles.
package metrics

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/go-chi/chi/v5"
)

// Latencies are recorded in microseconds between 1µs and one minute with
// three significant figures.
const (
	minLatency = 1
	maxLatency = int64(time.Minute / time.Microsecond)
	sigFigs    = 3
)

type Recorder struct {
	mu      sync.Mutex
	routes  map[string]*hdrhistogram.Histogram
	started time.Time
}

func NewRecorder() *Recorder {
	return &Recorder{
		routes:  make(map[string]*hdrhistogram.Histogram),
		started: time.Now(),
	}
}

// Record adds one observation for route. Durations outside the tracked
// range are clamped.
func (r *Recorder) Record(route string, d time.Duration) {
	us := d.Microseconds()
	if us < minLatency {
		us = minLatency
	}
	if us > maxLatency {
		us = maxLatency
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.routes[route]
	if !ok {
		h = hdrhistogram.New(minLatency, maxLatency, sigFigs)
		r.routes[route] = h
	}
	_ = h.RecordValue(us)
}

// RouteStats is in milliseconds.
type RouteStats struct {
	Route string  `json:"route"`
	Count int64   `json:"count"`
	P50   float64 `json:"p50Ms"`
	P90   float64 `json:"p90Ms"`
	P99   float64 `json:"p99Ms"`
	Max   float64 `json:"maxMs"`
}

type Stats struct {
	UptimeSeconds int64        `json:"uptimeSeconds"`
	Routes        []RouteStats `json:"routes"`
}

// Snapshot returns the percentiles of every route, sorted by route.
func (r *Recorder) Snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{
		UptimeSeconds: int64(time.Since(r.started).Seconds()),
		Routes:        make([]RouteStats, 0, len(r.routes)),
	}
	for route, h := range r.routes {
		stats.Routes = append(stats.Routes, RouteStats{
			Route: route,
			Count: h.TotalCount(),
			P50:   toMillis(h.ValueAtQuantile(50)),
			P90:   toMillis(h.ValueAtQuantile(90)),
			P99:   toMillis(h.ValueAtQuantile(99)),
			Max:   toMillis(h.Max()),
		})
	}
	sort.Slice(stats.Routes, func(i, j int) bool { return stats.Routes[i].Route < stats.Routes[j].Route })
	return stats
}

func toMillis(us int64) float64 {
	return float64(us) / 1000
}

// Middleware times every request under its chi route pattern, so
// /api/posts/{id} is one series however many ids are requested.
func Middleware(rec *Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}
			rec.Record(r.Method+" "+route, time.Since(start))
		})
	}
}
