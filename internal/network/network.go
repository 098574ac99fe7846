// Package network defines the contract the core consumes from the network
// construction collaborator, plus an in-memory Graph implementation.
package network

// Attributes is a named, settable attribute bag. Attr reports whether the
// attribute is declared on the target.
type Attributes interface {
	Attr(name string) (any, bool)
	SetAttr(name string, value any)
}

// Node is a named network component.
type Node interface {
	Attributes
	Label() string
	// Update recomputes derived state after attributes change.
	Update() error
	// Inputs and Outputs list the labels of the nodes connected by inbound
	// and outbound flows.
	Inputs() []string
	Outputs() []string
}

// Edge is a directed flow between two nodes.
type Edge struct {
	From string
	To   string
	Flow Attributes
}

// Network exposes nodes by label and enumerates its flows.
type Network interface {
	Node(label string) (Node, bool)
	Edges() []Edge
}

// FindEdge returns the flow whose endpoints are (from, to).
func FindEdge(n Network, from, to string) (Edge, bool) {
	for _, e := range n.Edges() {
		if e.From == from && e.To == to {
			return e, true
		}
	}
	return Edge{}, false
}
