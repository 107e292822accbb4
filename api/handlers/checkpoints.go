package handlers

import (
	"net/http"

	"github.com/BaSui01/agentgraph/checkpoint"
	"github.com/BaSui01/agentgraph/engine"
	"go.uber.org/zap"
)

// CheckpointHandler serves approval checkpoint endpoints. Listing and
// reading go straight to the store; decisions go through the engine so
// suspended executions resume.
type CheckpointHandler struct {
	engine *engine.Engine
	store  checkpoint.Store
	logger *zap.Logger
}

// NewCheckpointHandler creates a checkpoint handler.
func NewCheckpointHandler(eng *engine.Engine, store checkpoint.Store, logger *zap.Logger) *CheckpointHandler {
	return &CheckpointHandler{
		engine: eng,
		store:  store,
		logger: logger.With(zap.String("component", "checkpoint_handler")),
	}
}

// ListPending returns pending checkpoints, optionally filtered by the
// execution_id query parameter.
func (h *CheckpointHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	pending, err := h.store.ListPending(r.Context(), r.URL.Query().Get("execution_id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, pending)
}

// Get returns a single checkpoint by id.
func (h *CheckpointHandler) Get(w http.ResponseWriter, r *http.Request) {
	cp, err := h.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, cp)
}

// decisionRequest is the body of POST /checkpoints/{id}/decision.
type decisionRequest struct {
	Approved  bool   `json:"approved"`
	DecidedBy string `json:"decided_by"`
}

// Decide records an approval decision and resumes the suspended
// execution. A second decision on the same checkpoint returns 409.
func (h *CheckpointHandler) Decide(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req decisionRequest
	if err := decode(r, &req); err != nil {
		WriteBadRequest(w, "invalid request body: "+err.Error(), h.logger)
		return
	}
	if req.DecidedBy == "" {
		WriteBadRequest(w, "decided_by is required", h.logger)
		return
	}

	if err := h.engine.SubmitApproval(r.Context(), id, req.Approved, req.DecidedBy); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	h.logger.Info("checkpoint decided",
		zap.String("checkpoint_id", id),
		zap.Bool("approved", req.Approved),
		zap.String("decided_by", req.DecidedBy),
	)
	WriteSuccess(w, map[string]any{
		"checkpoint_id": id,
		"approved":      req.Approved,
		"decided_by":    req.DecidedBy,
	})
}
