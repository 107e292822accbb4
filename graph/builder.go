package graph

import (
	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/types"
)

// Builder provides a fluent API for constructing workflow graphs.
type Builder struct {
	name   string
	nodes  []*NodeSpec
	edges  []EdgeSpec
	logger *zap.Logger
}

// NewBuilder creates a new graph builder with the given workflow name.
func NewBuilder(name string) *Builder {
	return &Builder{name: name, logger: zap.NewNop()}
}

// WithLogger sets a custom logger.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger.With(zap.String("component", "graph_builder"))
	return b
}

// AddNode adds a node spec to the graph.
func (b *Builder) AddNode(id string, kind NodeKind, config map[string]any) *Builder {
	b.nodes = append(b.nodes, &NodeSpec{ID: id, Kind: kind, Config: config})
	return b
}

// AddEdge adds an unconditioned directed edge.
func (b *Builder) AddEdge(source, target string) *Builder {
	b.edges = append(b.edges, EdgeSpec{Source: source, Target: target})
	return b
}

// AddGuardedEdge adds a directed edge conditioned on the source's output.
func (b *Builder) AddGuardedEdge(source, target string, guard GuardExpr) *Builder {
	b.edges = append(b.edges, EdgeSpec{Source: source, Target: target, Guard: &guard})
	return b
}

// AddLabeledEdge adds an unconditioned edge with a label. Gateway nodes use
// the label "default" to mark the fallback branch of exclusive routing.
func (b *Builder) AddLabeledEdge(source, target, label string) *Builder {
	b.edges = append(b.edges, EdgeSpec{Source: source, Target: target, Label: label})
	return b
}

// Build validates the accumulated specs and produces an immutable Graph.
// Validation rejects duplicate or empty node ids, dangling edge references,
// graphs without exactly one start node, graphs where no end node is
// reachable from the start, and orphan nodes unreachable from the start.
func (b *Builder) Build() (*Graph, error) {
	g := &Graph{
		name:   b.name,
		nodes:  make(map[string]*NodeSpec, len(b.nodes)),
		edges:  make([]EdgeSpec, len(b.edges)),
		out:    make(map[string][]int),
		in:     make(map[string][]int),
		endIDs: make(map[string]bool),
	}
	copy(g.edges, b.edges)

	if len(b.nodes) == 0 {
		return nil, types.NewError(types.ErrValidation, "graph has no nodes")
	}

	for _, n := range b.nodes {
		if n.ID == "" {
			return nil, types.NewError(types.ErrValidation, "node id must not be empty")
		}
		if _, dup := g.nodes[n.ID]; dup {
			return nil, types.NewErrorf(types.ErrValidation, "duplicate node id: %s", n.ID)
		}
		g.nodes[n.ID] = n

		switch n.Kind {
		case KindStart:
			if g.startID != "" {
				return nil, types.NewErrorf(types.ErrValidation,
					"multiple start nodes: %s and %s", g.startID, n.ID)
			}
			g.startID = n.ID
		case KindEnd:
			g.endIDs[n.ID] = true
		case KindAgent, KindFunction, KindGateway, KindApproval:
		default:
			return nil, types.NewErrorf(types.ErrValidation, "unknown node kind: %s", n.Kind)
		}
	}

	if g.startID == "" {
		return nil, types.NewError(types.ErrValidation, "graph has no start node")
	}
	if len(g.endIDs) == 0 {
		return nil, types.NewError(types.ErrValidation, "graph has no end node")
	}

	for i, e := range g.edges {
		if _, ok := g.nodes[e.Source]; !ok {
			return nil, types.NewErrorf(types.ErrValidation,
				"edge references unknown source node: %s", e.Source)
		}
		if _, ok := g.nodes[e.Target]; !ok {
			return nil, types.NewErrorf(types.ErrValidation,
				"edge references unknown target node: %s", e.Target)
		}
		g.out[e.Source] = append(g.out[e.Source], i)
		g.in[e.Target] = append(g.in[e.Target], i)
	}

	reachable := g.reachableFrom(g.startID)
	endReachable := false
	for id := range g.endIDs {
		if reachable[id] {
			endReachable = true
			break
		}
	}
	if !endReachable {
		return nil, types.NewError(types.ErrValidation, "no end node reachable from start")
	}
	for id := range g.nodes {
		if !reachable[id] {
			return nil, types.NewErrorf(types.ErrValidation, "orphan node unreachable from start: %s", id)
		}
	}

	b.logger.Info("graph built",
		zap.String("name", g.name),
		zap.Int("nodes", len(g.nodes)),
		zap.Int("edges", len(g.edges)),
		zap.String("start", g.startID),
	)

	return g, nil
}

// reachableFrom walks edges breadth-first from the given node.
func (g *Graph) reachableFrom(startID string) map[string]bool {
	visited := map[string]bool{startID: true}
	queue := []string{startID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, i := range g.out[cur] {
			target := g.edges[i].Target
			if !visited[target] {
				visited[target] = true
				queue = append(queue, target)
			}
		}
	}
	return visited
}
