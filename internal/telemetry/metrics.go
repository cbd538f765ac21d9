package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Engine-wide metrics, registered once at package init
var (
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "railrun_ticks_total",
		Help: "Scheduler ticks run, by cadence class",
	}, []string{"class"})

	TicksSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "railrun_ticks_skipped_total",
		Help: "Ticks skipped because the previous tick was still running",
	}, []string{"class"})

	EdgesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "railrun_edges_ingested_total",
		Help: "Normalized edges upserted into the hot cache, by provider",
	}, []string{"provider"})

	AdapterErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "railrun_adapter_errors_total",
		Help: "Adapter call errors swallowed per tick, by provider and kind",
	}, []string{"provider", "kind"})

	SolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "railrun_solve_duration_seconds",
		Help:    "Route solve latency",
		Buckets: prometheus.DefBuckets,
	})

	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "railrun_executions_total",
		Help: "Executions reaching a terminal state, by state",
	}, []string{"state"})

	SegmentsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "railrun_segments_executed_total",
		Help: "Segment executions, by class and outcome",
	}, []string{"class", "status"})

	ReroutesTriggered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "railrun_reroutes_triggered_total",
		Help: "Mid-execution reroutes installed",
	})
)

// HealthFunc supplies the adapter health snapshot for the health endpoint
type HealthFunc func() interface{}

// Server exposes /health and /metrics for operators
type Server struct {
	addr   string
	health HealthFunc
	srv    *http.Server
}

// NewServer creates the monitor server
func NewServer(addr string, health HealthFunc) *Server {
	return &Server{addr: addr, health: health}
}

// Run serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]interface{}{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
		if s.health != nil {
			resp["adapters"] = s.health()
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	s.srv = &http.Server{Addr: s.addr, Handler: r}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", s.addr).Msg("Monitor server listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
