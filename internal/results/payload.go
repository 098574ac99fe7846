package results

import (
	"encoding/json"
	"fmt"
	"math"

	"energycore/pkg/domain"
)

// Output is a calculation value: a *Series or a *Frame.
type Output interface {
	DataType() domain.DataType
}

// Series is a single labelled column.
type Series struct {
	Name   string
	Index  []any
	Values []float64
}

// DataType reports domain.DataSeries.
func (*Series) DataType() domain.DataType { return domain.DataSeries }

// Frame is a table with named columns and row-major data.
type Frame struct {
	Columns []string
	Index   []any
	Data    [][]any
}

// DataType reports domain.DataFrame.
func (*Frame) DataType() domain.DataType { return domain.DataFrame }

// Column returns the values of the named column.
func (f *Frame) Column(name string) ([]any, bool) {
	for i, c := range f.Columns {
		if c != name {
			continue
		}
		out := make([]any, len(f.Data))
		for r, row := range f.Data {
			if i < len(row) {
				out[r] = row[i]
			}
		}
		return out, true
	}
	return nil, false
}

// payload is the table-oriented wire form of a cached result.
type payload struct {
	Columns []string `json:"columns"`
	Index   []any    `json:"index"`
	Data    [][]any  `json:"data"`
}

// EncodePayload serialises an output as {columns, index, data}. A series is
// written as a single column named after the series; NaN and infinities
// become null.
func EncodePayload(out Output) ([]byte, domain.DataType, error) {
	var p payload
	switch v := out.(type) {
	case *Series:
		if len(v.Index) != len(v.Values) {
			return nil, "", fmt.Errorf("series %q: %d index labels for %d values", v.Name, len(v.Index), len(v.Values))
		}
		name := v.Name
		if name == "" {
			name = "values"
		}
		p.Columns = []string{name}
		p.Index = nonNil(v.Index)
		p.Data = make([][]any, len(v.Values))
		for i, f := range v.Values {
			p.Data[i] = []any{finite(f)}
		}
	case *Frame:
		if len(v.Index) != len(v.Data) {
			return nil, "", fmt.Errorf("frame: %d index labels for %d rows", len(v.Index), len(v.Data))
		}
		p.Columns = append([]string{}, v.Columns...)
		p.Index = nonNil(v.Index)
		p.Data = make([][]any, len(v.Data))
		for i, row := range v.Data {
			if len(row) != len(v.Columns) {
				return nil, "", fmt.Errorf("frame row %d: %d cells for %d columns", i, len(row), len(v.Columns))
			}
			cells := make([]any, len(row))
			for j, cell := range row {
				if f, ok := cell.(float64); ok {
					cells[j] = finite(f)
					continue
				}
				cells[j] = cell
			}
			p.Data[i] = cells
		}
	default:
		return nil, "", fmt.Errorf("unsupported calculation output %T", out)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, "", fmt.Errorf("encode payload: %w", err)
	}
	return raw, out.DataType(), nil
}

// DecodePayload restores a cached payload. A series payload takes its single
// data column; null cells decode to NaN.
func DecodePayload(raw []byte, dataType domain.DataType) (Output, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if p.Index == nil {
		p.Index = []any{}
	}
	switch dataType {
	case domain.DataSeries:
		if len(p.Columns) != 1 {
			return nil, fmt.Errorf("series payload has %d columns", len(p.Columns))
		}
		s := &Series{Name: p.Columns[0], Index: p.Index, Values: make([]float64, len(p.Data))}
		for i, row := range p.Data {
			if len(row) != 1 {
				return nil, fmt.Errorf("series payload row %d has %d cells", i, len(row))
			}
			switch v := row[0].(type) {
			case float64:
				s.Values[i] = v
			case nil:
				s.Values[i] = math.NaN()
			default:
				return nil, fmt.Errorf("series payload row %d: non-numeric value %T", i, row[0])
			}
		}
		return s, nil
	case domain.DataFrame:
		data := p.Data
		if data == nil {
			data = [][]any{}
		}
		cols := p.Columns
		if cols == nil {
			cols = []string{}
		}
		return &Frame{Columns: cols, Index: p.Index, Data: data}, nil
	default:
		return nil, fmt.Errorf("unknown result data type %q", dataType)
	}
}

func finite(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

func nonNil(index []any) []any {
	if index == nil {
		return []any{}
	}
	return index
}
