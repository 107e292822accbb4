package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/BaSui01/agentgraph/api/handlers"
	"github.com/BaSui01/agentgraph/checkpoint"
	"github.com/BaSui01/agentgraph/engine"
	"github.com/BaSui01/agentgraph/registry"
	"go.uber.org/zap"
)

// HTTPObserver records per-request metrics.
type HTTPObserver interface {
	ObserveHTTP(method, path, status string, duration time.Duration)
}

// Deps carries everything the router needs.
type Deps struct {
	Engine       *engine.Engine
	Graphs       *handlers.GraphStore
	Checkpoints  checkpoint.Store
	Participants registry.Registry
	Version      string
	Logger       *zap.Logger
	Metrics      HTTPObserver  // optional
	Extra        []HealthCheck // optional readiness probes
	MetricsPage  http.Handler  // optional, mounted at /metrics
}

// HealthCheck re-exports the handler probe interface for wiring code.
type HealthCheck = handlers.HealthCheck

// NewRouter builds the service mux with all routes registered.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	health := handlers.NewHealthHandler(deps.Version, logger)
	for _, check := range deps.Extra {
		health.RegisterCheck(check)
	}
	graphs := handlers.NewGraphHandler(deps.Graphs, logger)
	executions := handlers.NewExecutionHandler(deps.Engine, deps.Graphs, logger)
	checkpoints := handlers.NewCheckpointHandler(deps.Engine, deps.Checkpoints, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", health.Live)
	mux.HandleFunc("GET /readyz", health.Ready)

	mux.HandleFunc("POST /api/v1/graphs", graphs.Create)
	mux.HandleFunc("GET /api/v1/graphs", graphs.List)
	mux.HandleFunc("GET /api/v1/graphs/{name}", graphs.Get)
	mux.HandleFunc("DELETE /api/v1/graphs/{name}", graphs.Delete)

	mux.HandleFunc("POST /api/v1/executions", executions.Start)
	mux.HandleFunc("GET /api/v1/executions/{id}", executions.Status)
	mux.HandleFunc("POST /api/v1/executions/{id}/cancel", executions.Cancel)
	mux.HandleFunc("POST /api/v1/executions/{id}/retry", executions.Retry)
	mux.HandleFunc("GET /api/v1/executions/{id}/events", executions.Events)

	mux.HandleFunc("GET /api/v1/checkpoints", checkpoints.ListPending)
	mux.HandleFunc("GET /api/v1/checkpoints/{id}", checkpoints.Get)
	mux.HandleFunc("POST /api/v1/checkpoints/{id}/decision", checkpoints.Decide)

	if deps.Participants != nil {
		participants := handlers.NewParticipantHandler(deps.Participants, logger)
		mux.HandleFunc("POST /api/v1/participants", participants.Register)
		mux.HandleFunc("GET /api/v1/participants", participants.List)
		mux.HandleFunc("GET /api/v1/participants/{id}", participants.Get)
		mux.HandleFunc("DELETE /api/v1/participants/{id}", participants.Unregister)
	}

	if deps.MetricsPage != nil {
		mux.Handle("GET /metrics", deps.MetricsPage)
	}

	if deps.Metrics == nil {
		return mux
	}
	return instrument(mux, deps.Metrics)
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the underlying writer, so
// websocket upgrades still work through the metrics middleware.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func instrument(next http.Handler, observer HTTPObserver) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		observer.ObserveHTTP(r.Method, r.URL.Path, strconv.Itoa(rec.status), time.Since(start))
	})
}
