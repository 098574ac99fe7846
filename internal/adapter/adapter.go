// Package adapter applies parameter overrides to a constructed network.
// Every mismatch is soft: it is logged and skipped, never returned.
package adapter

import (
	"context"
	"fmt"
	"sort"

	"energycore/internal/logging"
	"energycore/internal/network"
	"energycore/pkg/domain"
)

// FlowLabel is the reserved override label addressing flows directly. Its
// value is a list of [from, to, attribute, value] entries.
const FlowLabel = "flow"

const (
	inputParameters  = "input_parameters"
	outputParameters = "output_parameters"
)

// Adapter mutates networks according to parameter overrides.
type Adapter struct {
	log logging.Logger
}

// New constructs an Adapter that reports mismatches to log.
func New(log logging.Logger) *Adapter {
	return &Adapter{log: logging.OrNoop(log)}
}

// Adapt applies overrides to net and returns it. Labels are applied in
// sorted order, flow entries in list order.
func (a *Adapter) Adapt(ctx context.Context, net network.Network, overrides domain.Parameters) network.Network {
	labels := make([]string, 0, len(overrides))
	for label := range overrides {
		if label != FlowLabel {
			labels = append(labels, label)
		}
	}
	sort.Strings(labels)
	for _, label := range labels {
		a.adaptNode(ctx, net, label, overrides[label])
	}
	if flows, ok := overrides[FlowLabel]; ok {
		a.adaptFlows(ctx, net, flows)
	}
	return net
}

func (a *Adapter) adaptNode(ctx context.Context, net network.Network, label string, raw any) {
	attrs, ok := asMap(raw)
	if !ok {
		a.log.Warn(ctx, "parameter override is not an attribute mapping",
			logging.String("node", label), logging.String("kind", fmt.Sprintf("%T", raw)))
		return
	}
	node, ok := net.Node(label)
	if !ok {
		a.log.Warn(ctx, "unknown node in parameter overrides", logging.String("node", label))
		return
	}
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		value := attrs[name]
		a.assign(ctx, node, label, name, value)
		switch name {
		case inputParameters:
			a.adaptImplicitFlow(ctx, net, label, name, node.Inputs(), value, true)
		case outputParameters:
			a.adaptImplicitFlow(ctx, net, label, name, node.Outputs(), value, false)
		}
	}
	if err := node.Update(); err != nil {
		a.log.Warn(ctx, "node update failed after parameter adaptation",
			logging.String("node", label), logging.Err(err))
	}
}

// adaptImplicitFlow applies a node's input/output parameter mapping to its
// single inbound or outbound flow.
func (a *Adapter) adaptImplicitFlow(ctx context.Context, net network.Network, label, name string, peers []string, value any, inbound bool) {
	if len(peers) != 1 {
		a.log.Warn(ctx, "cannot resolve implicit flow for node parameters",
			logging.String("node", label), logging.String("attribute", name), logging.Int("candidates", len(peers)))
		return
	}
	from, to := label, peers[0]
	if inbound {
		from, to = peers[0], label
	}
	edge, ok := network.FindEdge(net, from, to)
	if !ok {
		a.log.Warn(ctx, "implicit flow not found", logging.String("from", from), logging.String("to", to))
		return
	}
	flowAttrs, ok := asMap(value)
	if !ok {
		a.log.Warn(ctx, "flow parameters are not an attribute mapping",
			logging.String("node", label), logging.String("attribute", name))
		return
	}
	names := make([]string, 0, len(flowAttrs))
	for k := range flowAttrs {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		a.assign(ctx, edge.Flow, from+"->"+to, k, flowAttrs[k])
	}
}

func (a *Adapter) adaptFlows(ctx context.Context, net network.Network, raw any) {
	entries, ok := raw.([]any)
	if !ok {
		a.log.Warn(ctx, "flow overrides are not a list", logging.String("kind", fmt.Sprintf("%T", raw)))
		return
	}
	for i, item := range entries {
		entry, ok := item.([]any)
		if !ok || len(entry) != 4 {
			a.log.Warn(ctx, "malformed flow override", logging.Int("index", i))
			continue
		}
		from, okFrom := entry[0].(string)
		to, okTo := entry[1].(string)
		attr, okAttr := entry[2].(string)
		if !okFrom || !okTo || !okAttr {
			a.log.Warn(ctx, "malformed flow override", logging.Int("index", i))
			continue
		}
		edge, found := network.FindEdge(net, from, to)
		if !found {
			a.log.Warn(ctx, "unknown flow in parameter overrides", logging.String("from", from), logging.String("to", to))
			continue
		}
		a.assign(ctx, edge.Flow, from+"->"+to, attr, entry[3])
	}
}

// assign sets the attribute even when the target does not declare it.
func (a *Adapter) assign(ctx context.Context, target network.Attributes, where, name string, value any) {
	if _, ok := target.Attr(name); !ok {
		a.log.Warn(ctx, "target has no such attribute; assigning anyway",
			logging.String("target", where), logging.String("attribute", name))
	}
	target.SetAttr(name, value)
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case domain.Parameters:
		return map[string]any(m), true
	default:
		return nil, false
	}
}
