package network

import "fmt"

// AttrMap is a map-backed Attributes implementation. Every key present in
// the map counts as declared.
type AttrMap map[string]any

// Attr returns the attribute value and whether it is declared.
func (m AttrMap) Attr(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}

// SetAttr assigns an attribute, declaring it when absent.
func (m AttrMap) SetAttr(name string, value any) { m[name] = value }

// GraphNode is a node of an in-memory Graph.
type GraphNode struct {
	AttrMap
	label   string
	graph   *Graph
	updates int
	// OnUpdate, when set, runs on every Update call.
	OnUpdate func(*GraphNode) error
}

// Label returns the node label.
func (n *GraphNode) Label() string { return n.label }

// Update counts the call and runs OnUpdate.
func (n *GraphNode) Update() error {
	n.updates++
	if n.OnUpdate != nil {
		return n.OnUpdate(n)
	}
	return nil
}

// Updates reports how many times Update was called.
func (n *GraphNode) Updates() int { return n.updates }

// Inputs lists the labels of nodes with a flow into n.
func (n *GraphNode) Inputs() []string {
	var out []string
	for _, k := range n.graph.flowOrder {
		if k.to == n.label {
			out = append(out, k.from)
		}
	}
	return out
}

// Outputs lists the labels of nodes receiving a flow from n.
func (n *GraphNode) Outputs() []string {
	var out []string
	for _, k := range n.graph.flowOrder {
		if k.from == n.label {
			out = append(out, k.to)
		}
	}
	return out
}

type flowKey struct{ from, to string }

// Graph is an in-memory Network keeping insertion order for nodes and flows.
type Graph struct {
	nodes     map[string]*GraphNode
	nodeOrder []string
	flows     map[flowKey]AttrMap
	flowOrder []flowKey
}

// NewGraph constructs an empty graph.
func NewGraph() *Graph {
	return &Graph{nodes: map[string]*GraphNode{}, flows: map[flowKey]AttrMap{}}
}

var _ Network = (*Graph)(nil)

// AddNode adds a node with the given declared attributes, or returns the
// existing node with that label.
func (g *Graph) AddNode(label string, attrs map[string]any) *GraphNode {
	if n, ok := g.nodes[label]; ok {
		return n
	}
	bag := AttrMap{}
	for k, v := range attrs {
		bag[k] = v
	}
	n := &GraphNode{AttrMap: bag, label: label, graph: g}
	g.nodes[label] = n
	g.nodeOrder = append(g.nodeOrder, label)
	return n
}

// Connect adds a flow between two existing nodes and returns its attributes.
func (g *Graph) Connect(from, to string, attrs map[string]any) (AttrMap, error) {
	if _, ok := g.nodes[from]; !ok {
		return nil, fmt.Errorf("connect %s->%s: unknown node %q", from, to, from)
	}
	if _, ok := g.nodes[to]; !ok {
		return nil, fmt.Errorf("connect %s->%s: unknown node %q", from, to, to)
	}
	key := flowKey{from: from, to: to}
	if flow, ok := g.flows[key]; ok {
		return flow, nil
	}
	flow := AttrMap{}
	for k, v := range attrs {
		flow[k] = v
	}
	g.flows[key] = flow
	g.flowOrder = append(g.flowOrder, key)
	return flow, nil
}

// Node returns the node with the label.
func (g *Graph) Node(label string) (Node, bool) {
	n, ok := g.nodes[label]
	if !ok {
		return nil, false
	}
	return n, true
}

// GraphNode returns the concrete node with the label.
func (g *Graph) GraphNode(label string) (*GraphNode, bool) {
	n, ok := g.nodes[label]
	return n, ok
}

// Flow returns the attributes of the (from, to) flow.
func (g *Graph) Flow(from, to string) (AttrMap, bool) {
	f, ok := g.flows[flowKey{from: from, to: to}]
	return f, ok
}

// Labels lists node labels in insertion order.
func (g *Graph) Labels() []string { return append([]string(nil), g.nodeOrder...) }

// Edges lists flows in insertion order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.flowOrder))
	for _, k := range g.flowOrder {
		out = append(out, Edge{From: k.from, To: k.to, Flow: g.flows[k]})
	}
	return out
}
