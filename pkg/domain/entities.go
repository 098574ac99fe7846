// Package domain defines the persistent entities, value types, and the
// persistence contract shared by energycore's storage backends and services.
package domain

import (
	"time"
)

// TypeTag records the runtime type of a persisted scalar or sequence so the
// value can be restored in its original shape.
type TypeTag string

// Supported type tags. Scalar tags carry a canonical string encoding of the
// value; sequence tags only decide the restored in-memory shape.
const (
	// TagStr marks a string scalar stored verbatim.
	TagStr TypeTag = "str"
	// TagFloat marks an IEEE-754 double scalar.
	TagFloat TypeTag = "float"
	// TagFloat64 marks an IEEE-754 double scalar written by numeric libraries.
	TagFloat64 TypeTag = "float64"
	// TagInt marks a base-10 integer scalar.
	TagInt TypeTag = "int"
	// TagInt64 marks a 64-bit base-10 integer scalar.
	TagInt64 TypeTag = "int64"
	// TagBool marks a boolean scalar.
	TagBool TypeTag = "bool"
	// TagList marks a plain ordered sequence of float64 values.
	TagList TypeTag = "list"
	// TagSeries marks a sequence restored with positional labels.
	TagSeries TypeTag = "series"
)

// IsSequence reports whether the tag describes a sequence rather than a scalar.
func (t TypeTag) IsSequence() bool {
	return t == TagList || t == TagSeries
}

// DataType distinguishes the two shapes a cached calculation payload can take.
type DataType string

const (
	// DataSeries is a single-column labeled sequence.
	DataSeries DataType = "series"
	// DataFrame is a multi-column table.
	DataFrame DataType = "frame"
)

// ScalarRow is the persisted form of one scalar attribute attached to an edge.
type ScalarRow struct {
	ID        int64   `json:"id"`
	FromNode  string  `json:"from_node"`
	ToNode    string  `json:"to_node"`
	Attribute string  `json:"attribute"`
	Value     string  `json:"value"`
	Type      TypeTag `json:"type"`
}

// SequenceRow is the persisted form of one sequence attribute. ToNode is nil
// for attributes attached to a single node.
type SequenceRow struct {
	ID        int64     `json:"id"`
	FromNode  string    `json:"from_node"`
	ToNode    *string   `json:"to_node,omitempty"`
	Attribute string    `json:"attribute"`
	Value     []float64 `json:"value"`
	Type      TypeTag   `json:"type"`
}

// DataBundle groups the scalar and sequence rows of one side (input or
// result) of a solve. Members carry no ordering guarantee.
type DataBundle struct {
	ID        int64         `json:"id"`
	Scalars   []ScalarRow   `json:"scalars"`
	Sequences []SequenceRow `json:"sequences"`
}

// Dataset pairs the input and result bundles produced by one solve. It is
// write-once.
type Dataset struct {
	ID     int64      `json:"id"`
	Input  DataBundle `json:"input"`
	Result DataBundle `json:"result"`
}

// Simulation identifies one solved (scenario, parameters) pair.
// ParametersKey is the canonical JSON of Parameters and, together with
// Scenario, is unique across the store.
type Simulation struct {
	ID            int64      `json:"id"`
	Scenario      string     `json:"scenario"`
	Parameters    Parameters `json:"parameters"`
	ParametersKey string     `json:"-"`
	DatasetID     *int64     `json:"dataset_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// HasDataset reports whether a dataset is attached to the simulation.
func (s Simulation) HasDataset() bool { return s.DatasetID != nil }

// Result is a cached calculation payload. (SimulationID, Name) is the cache
// key; an existing row is always trusted.
type Result struct {
	ID           int64     `json:"id"`
	SimulationID int64     `json:"simulation_id"`
	Name         string    `json:"name"`
	DataType     DataType  `json:"data_type"`
	Data         []byte    `json:"data"`
	CreatedAt    time.Time `json:"created_at"`
}

func cloneFloats(in []float64) []float64 {
	if in == nil {
		return nil
	}
	out := make([]float64, len(in))
	copy(out, in)
	return out
}

// Clone returns a deep copy of the bundle rows.
func (b DataBundle) Clone() DataBundle {
	out := DataBundle{ID: b.ID}
	if b.Scalars != nil {
		out.Scalars = append([]ScalarRow(nil), b.Scalars...)
	}
	if b.Sequences != nil {
		out.Sequences = make([]SequenceRow, len(b.Sequences))
		for i, seq := range b.Sequences {
			cp := seq
			cp.Value = cloneFloats(seq.Value)
			if seq.ToNode != nil {
				to := *seq.ToNode
				cp.ToNode = &to
			}
			out.Sequences[i] = cp
		}
	}
	return out
}

// Clone returns a deep copy of the dataset.
func (d Dataset) Clone() Dataset {
	return Dataset{ID: d.ID, Input: d.Input.Clone(), Result: d.Result.Clone()}
}

// Clone returns a deep copy of the simulation record.
func (s Simulation) Clone() Simulation {
	cp := s
	cp.Parameters = s.Parameters.Clone()
	if s.DatasetID != nil {
		id := *s.DatasetID
		cp.DatasetID = &id
	}
	return cp
}

// Clone returns a copy of the result with its own payload buffer.
func (r Result) Clone() Result {
	cp := r
	if r.Data != nil {
		cp.Data = append([]byte(nil), r.Data...)
	}
	return cp
}
