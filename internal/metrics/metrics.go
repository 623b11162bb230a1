// Package metrics exposes run counters via a Prometheus registry, started
// as an optional HTTP endpoint the same way vjache-cie's indexer does it
// (spec.md §6 "structured progress events" — these are the Prometheus-shaped
// counterpart, opt-in, off by default).
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors is the fixed set of counters/gauges a run updates.
type Collectors struct {
	BytesDownloaded prometheus.Counter
	BytesWritten    prometheus.Gauge
	ChunksFetched   prometheus.Counter
	ChunksReused    prometheus.Counter
	TasksFailed     prometheus.Counter
	ArenaFreeSegs   prometheus.Gauge
}

// New registers the run's counters against a fresh registry so repeated
// runs in the same process (tests) don't collide on global registration.
func New() (*Collectors, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Collectors{
		BytesDownloaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "galaxydl_bytes_downloaded_total",
			Help: "Compressed bytes fetched from the CDN.",
		}),
		BytesWritten: factory.NewGauge(prometheus.GaugeOpts{
			Name: "galaxydl_bytes_written",
			Help: "Uncompressed bytes written to disk so far this run.",
		}),
		ChunksFetched: factory.NewCounter(prometheus.CounterOpts{
			Name: "galaxydl_chunks_fetched_total",
			Help: "Chunks fetched from the network.",
		}),
		ChunksReused: factory.NewCounter(prometheus.CounterOpts{
			Name: "galaxydl_chunks_reused_total",
			Help: "Chunks reused from the old install or content cache.",
		}),
		TasksFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "galaxydl_tasks_failed_total",
			Help: "Tasks that exhausted their retry budget.",
		}),
		ArenaFreeSegs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "galaxydl_arena_free_segments",
			Help: "Free segments currently available in the shared arena.",
		}),
	}, reg
}

// Serve starts a /metrics HTTP endpoint in the background, mirroring the
// optional metrics server in vjache-cie's indexer CLI.
func Serve(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			_ = err
		}
	}()
	return srv
}

// Shutdown stops the metrics server, used by the CLI on a clean run exit.
func Shutdown(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
