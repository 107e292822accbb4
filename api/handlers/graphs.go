package handlers

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/BaSui01/agentgraph/graph"
	"github.com/BaSui01/agentgraph/types"
	"go.uber.org/zap"
)

// GraphStore keeps named, validated workflow graphs in memory.
type GraphStore struct {
	mu     sync.RWMutex
	graphs map[string]*graph.Graph
	order  []string
}

// NewGraphStore creates an empty graph store.
func NewGraphStore() *GraphStore {
	return &GraphStore{graphs: make(map[string]*graph.Graph)}
}

// Put validates the definition and stores the resulting graph under its
// name. Re-registering a name replaces the graph and keeps its position.
func (s *GraphStore) Put(def *graph.Definition) (*graph.Graph, error) {
	g, err := def.Build()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.graphs[g.Name()]; !ok {
		s.order = append(s.order, g.Name())
	}
	s.graphs[g.Name()] = g
	return g, nil
}

// Get returns the graph registered under name.
func (s *GraphStore) Get(name string) (*graph.Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.graphs[name]
	if !ok {
		return nil, types.NewErrorf(types.ErrNotFound, "graph not found: %s", name)
	}
	return g, nil
}

// List returns all registered graphs in registration order.
func (s *GraphStore) List() []*graph.Graph {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*graph.Graph, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.graphs[name])
	}
	return out
}

// Delete removes the graph registered under name.
func (s *GraphStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.graphs[name]; !ok {
		return types.NewErrorf(types.ErrNotFound, "graph not found: %s", name)
	}
	delete(s.graphs, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// GraphHandler serves workflow definition CRUD.
type GraphHandler struct {
	store  *GraphStore
	logger *zap.Logger
}

// NewGraphHandler creates a graph handler over the given store.
func NewGraphHandler(store *GraphStore, logger *zap.Logger) *GraphHandler {
	return &GraphHandler{
		store:  store,
		logger: logger.With(zap.String("component", "graph_handler")),
	}
}

// graphSummary is the list/get response item.
type graphSummary struct {
	Name  string `json:"name"`
	Nodes int    `json:"nodes"`
	Edges int    `json:"edges"`
}

func summarize(g *graph.Graph) graphSummary {
	return graphSummary{Name: g.Name(), Nodes: len(g.Nodes()), Edges: len(g.Edges())}
}

// Create registers a graph from a JSON or YAML definition body.
func (h *GraphHandler) Create(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		WriteBadRequest(w, "failed to read request body", h.logger)
		return
	}
	if len(body) == 0 {
		WriteBadRequest(w, "empty request body", h.logger)
		return
	}

	var def *graph.Definition
	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		def, err = graph.FromYAML(string(body))
	} else {
		def, err = graph.FromJSON(string(body))
	}
	if err != nil {
		WriteBadRequest(w, err.Error(), h.logger)
		return
	}

	g, err := h.store.Put(def)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	h.logger.Info("graph registered", zap.String("graph", g.Name()))
	WriteCreated(w, summarize(g))
}

// List returns all registered graphs.
func (h *GraphHandler) List(w http.ResponseWriter, r *http.Request) {
	graphs := h.store.List()
	out := make([]graphSummary, 0, len(graphs))
	for _, g := range graphs {
		out = append(out, summarize(g))
	}
	WriteSuccess(w, out)
}

// Get returns the full definition of one graph.
func (h *GraphHandler) Get(w http.ResponseWriter, r *http.Request) {
	g, err := h.store.Get(r.PathValue("name"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, graph.DefinitionOf(g))
}

// Delete removes a registered graph.
func (h *GraphHandler) Delete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.store.Delete(name); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	h.logger.Info("graph removed", zap.String("graph", name))
	WriteSuccess(w, map[string]string{"name": name})
}
