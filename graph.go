package flowkit

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// TriggerNodePrefix marks node types that act as workflow triggers,
// e.g. "trigger:schedule" or "trigger:webhook".
const TriggerNodePrefix = "trigger:"

// Node is a single typed step in a workflow graph. Config holds the
// per-type parameters; Label is display-only and has no behavioral
// effect.
type Node struct {
	ID     string         `json:"id" yaml:"id"`
	Type   string         `json:"node_type" yaml:"node_type"`
	Label  string         `json:"label,omitempty" yaml:"label,omitempty"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// IsTrigger reports whether the node is a trigger node.
func (n *Node) IsTrigger() bool {
	return strings.HasPrefix(n.Type, TriggerNodePrefix)
}

// Edge is a directed connection between two nodes.
type Edge struct {
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
}

// GraphOptions are used to configure a workflow graph.
type GraphOptions struct {
	Nodes []*Node `json:"nodes" yaml:"nodes"`
	Edges []*Edge `json:"edges" yaml:"edges"`
}

// Graph is a directed graph of typed nodes. It is pure data: the only
// behavior it carries is the traversal used to compute an execution
// order. Acyclicity is checked during traversal, not at construction.
type Graph struct {
	nodes     []*Node
	edges     []*Edge
	nodesByID map[string]*Node
	incoming  map[string][]*Edge
	outgoing  map[string][]*Edge
}

// NewGraph returns a new Graph configured with the given options.
func NewGraph(opts GraphOptions) (*Graph, error) {
	if len(opts.Nodes) == 0 {
		return nil, fmt.Errorf("graph nodes required")
	}
	nodesByID := make(map[string]*Node, len(opts.Nodes))
	for _, node := range opts.Nodes {
		if node.ID == "" {
			return nil, fmt.Errorf("node id required")
		}
		if node.Type == "" {
			return nil, fmt.Errorf("node %q: node type required", node.ID)
		}
		if _, ok := nodesByID[node.ID]; ok {
			return nil, fmt.Errorf("duplicate node id %q", node.ID)
		}
		nodesByID[node.ID] = node
	}
	incoming := make(map[string][]*Edge)
	outgoing := make(map[string][]*Edge)
	for _, edge := range opts.Edges {
		if _, ok := nodesByID[edge.Source]; !ok {
			return nil, NewGraphError(fmt.Sprintf("edge source %q not found in node set", edge.Source))
		}
		if _, ok := nodesByID[edge.Target]; !ok {
			return nil, NewGraphError(fmt.Sprintf("edge target %q not found in node set", edge.Target))
		}
		incoming[edge.Target] = append(incoming[edge.Target], edge)
		outgoing[edge.Source] = append(outgoing[edge.Source], edge)
	}
	return &Graph{
		nodes:     opts.Nodes,
		edges:     opts.Edges,
		nodesByID: nodesByID,
		incoming:  incoming,
		outgoing:  outgoing,
	}, nil
}

// Nodes returns all nodes in definition order.
func (g *Graph) Nodes() []*Node {
	return g.nodes
}

// Edges returns all edges in definition order.
func (g *Graph) Edges() []*Edge {
	return g.edges
}

// Node returns a node by ID.
func (g *Graph) Node(id string) (*Node, bool) {
	node, ok := g.nodesByID[id]
	return node, ok
}

// Parents returns the edges whose target is the given node, in
// edge-list order.
func (g *Graph) Parents(id string) []*Edge {
	return g.incoming[id]
}

// Children returns the edges whose source is the given node, in
// edge-list order.
func (g *Graph) Children(id string) []*Edge {
	return g.outgoing[id]
}

// Roots returns all nodes with no incoming edge, in definition order.
func (g *Graph) Roots() []*Node {
	var roots []*Node
	for _, node := range g.nodes {
		if len(g.incoming[node.ID]) == 0 {
			roots = append(roots, node)
		}
	}
	return roots
}

// Validate checks edge endpoints and decodes every node config against
// its typed schema. It does not check acyclicity; ExecutionOrder does.
func (g *Graph) Validate() error {
	for _, node := range g.nodes {
		if err := ValidateNodeConfig(node); err != nil {
			return err
		}
	}
	return nil
}

// visit markers for the traversal. A node on the current stack is
// "visiting"; seeing it again means a back-edge.
const (
	markUnvisited = 0
	markVisiting  = 1
	markVisited   = 2
)

// ExecutionOrder computes the order nodes run in: a pre-order
// depth-first walk from every root, visiting each node at most once. A
// node with multiple parents is placed the first time any parent
// reaches it, so multi-parent fan-in is a best-effort merge rather
// than a strict dependency guarantee.
//
// When skipTriggers is set, trigger nodes are left out of the order but
// their children are still walked; the engine uses this for manual runs
// where the trigger's output is replaced by the trigger input.
//
// A cycle produces a graph error rather than unbounded recursion.
func (g *Graph) ExecutionOrder(skipTriggers bool) ([]string, error) {
	marks := make(map[string]int, len(g.nodes))
	order := make([]string, 0, len(g.nodes))

	var visit func(node *Node) error
	visit = func(node *Node) error {
		switch marks[node.ID] {
		case markVisited:
			return nil
		case markVisiting:
			return NewGraphError(fmt.Sprintf("cycle detected at node %q", node.ID))
		}
		marks[node.ID] = markVisiting
		if !skipTriggers || !node.IsTrigger() {
			order = append(order, node.ID)
		}
		for _, edge := range g.outgoing[node.ID] {
			if err := visit(g.nodesByID[edge.Target]); err != nil {
				return err
			}
		}
		marks[node.ID] = markVisited
		return nil
	}

	for _, root := range g.Roots() {
		if err := visit(root); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// LoadGraphFile loads a workflow graph from a YAML file.
func LoadGraphFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph file: %w", err)
	}
	return LoadGraphString(string(data))
}

// LoadGraphString loads a workflow graph from a YAML string.
func LoadGraphString(data string) (*Graph, error) {
	var opts GraphOptions
	if err := yaml.Unmarshal([]byte(data), &opts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal graph: %w", err)
	}
	graph, err := NewGraph(opts)
	if err != nil {
		return nil, err
	}
	if err := graph.Validate(); err != nil {
		return nil, err
	}
	return graph, nil
}
