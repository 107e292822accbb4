package handlers

import (
	"net/http"

	"github.com/BaSui01/agentgraph/engine"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// ExecutionHandler serves workflow execution lifecycle endpoints.
type ExecutionHandler struct {
	engine *engine.Engine
	graphs *GraphStore
	logger *zap.Logger
}

// NewExecutionHandler creates an execution handler.
func NewExecutionHandler(eng *engine.Engine, graphs *GraphStore, logger *zap.Logger) *ExecutionHandler {
	return &ExecutionHandler{
		engine: eng,
		graphs: graphs,
		logger: logger.With(zap.String("component", "execution_handler")),
	}
}

// startRequest is the body of POST /executions.
type startRequest struct {
	Graph     string         `json:"graph"`
	Variables map[string]any `json:"variables,omitempty"`
}

// Start launches an execution of a registered graph.
func (h *ExecutionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decode(r, &req); err != nil {
		WriteBadRequest(w, "invalid request body: "+err.Error(), h.logger)
		return
	}
	if req.Graph == "" {
		WriteBadRequest(w, "graph is required", h.logger)
		return
	}

	g, err := h.graphs.Get(req.Graph)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	id, err := h.engine.StartExecution(r.Context(), g, req.Variables)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	h.logger.Info("execution started",
		zap.String("execution_id", id),
		zap.String("graph", req.Graph),
	)
	WriteCreated(w, map[string]string{
		"execution_id": id,
		"graph":        req.Graph,
	})
}

// Status returns the current status of an execution.
func (h *ExecutionHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.Status(r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, status)
}

// Cancel aborts a running or suspended execution.
func (h *ExecutionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.engine.Cancel(r.Context(), id); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	h.logger.Info("execution cancelled", zap.String("execution_id", id))
	WriteSuccess(w, map[string]string{"execution_id": id})
}

// Retry re-runs a failed execution from its failed node.
func (h *ExecutionHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.engine.Retry(r.Context(), id); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	h.logger.Info("execution retried", zap.String("execution_id", id))
	WriteSuccess(w, map[string]string{"execution_id": id})
}

// Events streams execution events over a websocket. The stream closes
// when the execution reaches a terminal state or the client disconnects.
func (h *ExecutionHandler) Events(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.engine.Status(id); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	events, unsubscribe := h.engine.Subscribe(id)
	defer unsubscribe()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				h.logger.Debug("websocket write failed",
					zap.String("execution_id", id),
					zap.Error(err),
				)
				return
			}
			if ev.Type == engine.EventStateChange && ev.State.Terminal() {
				conn.Close(websocket.StatusNormalClosure, "execution settled")
				return
			}
		}
	}
}
