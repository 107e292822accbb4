package handlers

import (
	"net/http"
	"strings"

	"github.com/BaSui01/agentgraph/registry"
	"github.com/BaSui01/agentgraph/types"
	"go.uber.org/zap"
)

// ParticipantHandler serves the agent participant registry.
type ParticipantHandler struct {
	registry registry.Registry
	logger   *zap.Logger
}

// NewParticipantHandler creates a participant handler.
func NewParticipantHandler(reg registry.Registry, logger *zap.Logger) *ParticipantHandler {
	return &ParticipantHandler{
		registry: reg,
		logger:   logger.With(zap.String("component", "participant_handler")),
	}
}

// Register adds or replaces a participant.
func (h *ParticipantHandler) Register(w http.ResponseWriter, r *http.Request) {
	var p types.Participant
	if err := decode(r, &p); err != nil {
		WriteBadRequest(w, "invalid request body: "+err.Error(), h.logger)
		return
	}
	if p.ID == "" {
		WriteBadRequest(w, "id is required", h.logger)
		return
	}

	if err := h.registry.Register(r.Context(), p); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	h.logger.Info("participant registered",
		zap.String("participant_id", p.ID),
		zap.Strings("capabilities", p.Capabilities),
	)
	WriteCreated(w, p)
}

// List returns registered participants, optionally filtered by the
// capabilities query parameter (comma-separated, all required).
func (h *ParticipantHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		out []types.Participant
		err error
	)
	if raw := r.URL.Query().Get("capabilities"); raw != "" {
		out, err = h.registry.FindByCapabilities(r.Context(), strings.Split(raw, ","))
	} else {
		out, err = h.registry.List(r.Context())
	}
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, out)
}

// Get returns one participant with its current load.
func (h *ParticipantHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, err := h.registry.Get(r.Context(), id)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	load, err := h.registry.CurrentLoad(r.Context(), id)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{
		"participant": p,
		"load":        load,
	})
}

// Unregister removes a participant.
func (h *ParticipantHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.registry.Unregister(r.Context(), id); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	h.logger.Info("participant unregistered", zap.String("participant_id", id))
	WriteSuccess(w, map[string]string{"id": id})
}
