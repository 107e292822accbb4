package graph

// NodeKind defines the kind of a workflow node.
type NodeKind string

const (
	// KindStart seeds execution variables from the initial payload.
	KindStart NodeKind = "start"
	// KindEnd transforms the final output and completes the run.
	KindEnd NodeKind = "end"
	// KindAgent delegates to an external agent invocation.
	KindAgent NodeKind = "agent"
	// KindFunction invokes a registered pure function by name.
	KindFunction NodeKind = "function"
	// KindGateway performs parallel split/join or exclusive routing.
	KindGateway NodeKind = "gateway"
	// KindApproval suspends execution until a human decision arrives.
	KindApproval NodeKind = "approval"
)

// Operator is a guard comparison operator.
type Operator string

const (
	OpEq    Operator = "eq"
	OpNe    Operator = "ne"
	OpGt    Operator = "gt"
	OpLt    Operator = "lt"
	OpGte   Operator = "gte"
	OpLte   Operator = "lte"
	OpIn    Operator = "in"
	OpNotIn Operator = "not_in"
)

// GuardExpr conditions an edge on a field of the producing node's output.
// Path addresses a possibly nested field by dot-separated segments.
type GuardExpr struct {
	Path  string   `json:"path" yaml:"path"`
	Op    Operator `json:"op" yaml:"op"`
	Value any      `json:"value" yaml:"value"`
}

// NodeSpec describes a single node. Config carries kind-specific settings:
// the agent id for agent nodes, the function name for function nodes, the
// join policy for gateway nodes.
type NodeSpec struct {
	ID     string         `json:"id" yaml:"id"`
	Kind   NodeKind       `json:"kind" yaml:"kind"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// ConfigString returns a string config value, or the empty string.
func (n *NodeSpec) ConfigString(key string) string {
	if n.Config == nil {
		return ""
	}
	v, _ := n.Config[key].(string)
	return v
}

// ConfigInt returns an integer config value, tolerating float64 from JSON.
func (n *NodeSpec) ConfigInt(key string) int {
	if n.Config == nil {
		return 0
	}
	switch v := n.Config[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// EdgeSpec is a directed connection between two nodes, optionally guarded.
type EdgeSpec struct {
	Source string     `json:"source" yaml:"source"`
	Target string     `json:"target" yaml:"target"`
	Guard  *GuardExpr `json:"guard,omitempty" yaml:"guard,omitempty"`
	Label  string     `json:"label,omitempty" yaml:"label,omitempty"`
}

// Graph is the immutable description of a workflow. Create one through a
// Builder; direct construction bypasses validation.
type Graph struct {
	name    string
	nodes   map[string]*NodeSpec
	edges   []EdgeSpec
	out     map[string][]int // edge indices by source, declaration order
	in      map[string][]int // edge indices by target
	startID string
	endIDs  map[string]bool
}

// Name returns the workflow name.
func (g *Graph) Name() string { return g.name }

// StartID returns the id of the start node.
func (g *Graph) StartID() string { return g.startID }

// IsEnd reports whether the node id is an end node.
func (g *Graph) IsEnd(nodeID string) bool { return g.endIDs[nodeID] }

// EndIDs returns the end node ids.
func (g *Graph) EndIDs() []string {
	ids := make([]string, 0, len(g.endIDs))
	for id := range g.endIDs {
		ids = append(ids, id)
	}
	return ids
}

// Node retrieves a node by id.
func (g *Graph) Node(nodeID string) (*NodeSpec, bool) {
	n, ok := g.nodes[nodeID]
	return n, ok
}

// Nodes returns all node specs keyed by id. The returned map must be
// treated as read-only.
func (g *Graph) Nodes() map[string]*NodeSpec { return g.nodes }

// Outgoing returns the outgoing edges of a node in declaration order.
func (g *Graph) Outgoing(nodeID string) []EdgeSpec {
	idxs := g.out[nodeID]
	edges := make([]EdgeSpec, 0, len(idxs))
	for _, i := range idxs {
		edges = append(edges, g.edges[i])
	}
	return edges
}

// Incoming returns the incoming edges of a node in declaration order.
func (g *Graph) Incoming(nodeID string) []EdgeSpec {
	idxs := g.in[nodeID]
	edges := make([]EdgeSpec, 0, len(idxs))
	for _, i := range idxs {
		edges = append(edges, g.edges[i])
	}
	return edges
}

// Edges returns all edges in declaration order.
func (g *Graph) Edges() []EdgeSpec {
	edges := make([]EdgeSpec, len(g.edges))
	copy(edges, g.edges)
	return edges
}
