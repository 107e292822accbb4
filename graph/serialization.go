package graph

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Definition is the serializable form of a workflow graph. It is what the
// HTTP layer and workflow files carry; Build turns it into a validated
// Graph.
type Definition struct {
	Name  string     `json:"name" yaml:"name"`
	Nodes []NodeSpec `json:"nodes" yaml:"nodes"`
	Edges []EdgeSpec `json:"edges" yaml:"edges"`
}

// Build validates the definition and produces an immutable Graph.
func (d *Definition) Build() (*Graph, error) {
	b := NewBuilder(d.Name)
	for _, n := range d.Nodes {
		b.AddNode(n.ID, n.Kind, n.Config)
	}
	for _, e := range d.Edges {
		b.edges = append(b.edges, e)
	}
	return b.Build()
}

// DefinitionOf reconstructs the serializable definition of a graph.
func DefinitionOf(g *Graph) *Definition {
	def := &Definition{Name: g.Name(), Edges: g.Edges()}
	// Start first, then remaining nodes keyed by first appearance in edges,
	// keeping output stable for golden files.
	seen := map[string]bool{}
	appendNode := func(id string) {
		if seen[id] {
			return
		}
		if n, ok := g.Node(id); ok {
			def.Nodes = append(def.Nodes, *n)
			seen[id] = true
		}
	}
	appendNode(g.StartID())
	for _, e := range g.Edges() {
		appendNode(e.Source)
		appendNode(e.Target)
	}
	for id := range g.Nodes() {
		appendNode(id)
	}
	return def
}

// ToJSON converts a Definition to an indented JSON string.
func (d *Definition) ToJSON() (string, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal definition to JSON: %w", err)
	}
	return string(data), nil
}

// ToYAML converts a Definition to a YAML string.
func (d *Definition) ToYAML() (string, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("marshal definition to YAML: %w", err)
	}
	return string(data), nil
}

// FromJSON parses a Definition from a JSON string.
func FromJSON(jsonStr string) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal([]byte(jsonStr), &def); err != nil {
		return nil, fmt.Errorf("unmarshal definition from JSON: %w", err)
	}
	return &def, nil
}

// FromYAML parses a Definition from a YAML string.
func FromYAML(yamlStr string) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal([]byte(yamlStr), &def); err != nil {
		return nil, fmt.Errorf("unmarshal definition from YAML: %w", err)
	}
	return &def, nil
}

// LoadFile reads a Definition from a .json, .yaml, or .yml file.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition file: %w", err)
	}
	if len(data) > 0 && (data[0] == '{' || data[0] == '[') {
		return FromJSON(string(data))
	}
	return FromYAML(string(data))
}
