package domain

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Edge is a directed (from, to) node pair identifying where an attribute
// value is attached. An empty To marks an attribute bound to From alone.
type Edge struct {
	From string
	To   string
}

// String renders the edge as "from->to", or just "from" for single-node keys.
func (e Edge) String() string {
	if e.To == "" {
		return e.From
	}
	return e.From + "->" + e.To
}

// EdgeData holds the scalar and sequence attributes of one edge.
// Scalar values are restricted to the kinds the typed codec supports;
// sequence values are either []float64 or Series.
type EdgeData struct {
	Scalars   map[string]any
	Sequences map[string]any
}

// Bundle is the in-memory form of a DataBundle: edge -> attributes.
type Bundle map[Edge]EdgeData

// Edges returns the bundle keys in deterministic order.
func (b Bundle) Edges() []Edge {
	out := make([]Edge, 0, len(b))
	for e := range b {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From == out[j].From {
			return out[i].To < out[j].To
		}
		return out[i].From < out[j].From
	})
	return out
}

// Float64 is a double scalar that was stored under the float64 tag. It is
// kept distinct from float64 so re-encoding preserves the tag.
type Float64 float64

// Series is an ordered sequence of float64 values carrying positional labels.
// Only Values are persisted; restored series receive the index 0..n-1.
type Series struct {
	Index  []int64
	Values []float64
}

// NewSeries builds a series with a positional index.
func NewSeries(values []float64) Series {
	idx := make([]int64, len(values))
	for i := range idx {
		idx[i] = int64(i)
	}
	return Series{Index: idx, Values: cloneFloats(values)}
}

// Len returns the number of values in the series.
func (s Series) Len() int { return len(s.Values) }

// Sum adds all values of the series.
func (s Series) Sum() float64 {
	var total float64
	for _, v := range s.Values {
		total += v
	}
	return total
}

// Parameters is a JSON-like nested mapping of parameter overrides.
type Parameters map[string]any

// Clone returns a deep copy of the parameters.
func (p Parameters) Clone() Parameters {
	if p == nil {
		return nil
	}
	cloned, _ := CloneValue(map[string]any(p)).(map[string]any)
	return Parameters(cloned)
}

// Without returns a copy of the parameters with the given top-level keys removed.
func (p Parameters) Without(keys ...string) Parameters {
	out := p.Clone()
	if out == nil {
		out = Parameters{}
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// CanonicalKey returns the canonical JSON encoding used as simulation identity.
// encoding/json sorts map keys, so equal structures yield equal keys.
func (p Parameters) CanonicalKey() (string, error) {
	if p == nil {
		p = Parameters{}
	}
	raw, err := json.Marshal(map[string]any(p))
	if err != nil {
		return "", fmt.Errorf("canonicalize parameters: %w", err)
	}
	return string(raw), nil
}

// ParseParameters decodes stored canonical JSON back into Parameters.
func ParseParameters(raw string) (Parameters, error) {
	if raw == "" {
		return Parameters{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode parameters: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return Parameters(out), nil
}

// CloneValue deep-copies JSON-like values: maps keyed by string, slices,
// Parameters, and Series. Other values are returned as-is.
func CloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if val == nil {
			return val
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = CloneValue(item)
		}
		return out
	case Parameters:
		if val == nil {
			return val
		}
		out := make(Parameters, len(val))
		for k, item := range val {
			out[k] = CloneValue(item)
		}
		return out
	case map[string]string:
		if val == nil {
			return val
		}
		out := make(map[string]string, len(val))
		for k, item := range val {
			out[k] = item
		}
		return out
	case []any:
		if val == nil {
			return val
		}
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = CloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	case []float64:
		return cloneFloats(val)
	case Series:
		return Series{Index: append([]int64(nil), val.Index...), Values: cloneFloats(val.Values)}
	default:
		return v
	}
}
