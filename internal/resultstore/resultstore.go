// Package resultstore converts a solve's input/result bundles into persisted
// scalar and sequence rows and restores them back into edge-keyed bundles.
package resultstore

import (
	"context"
	"errors"
	"fmt"

	"energycore/internal/codec"
	"energycore/internal/logging"
	"energycore/pkg/domain"
)

// Store writes and restores datasets through a domain.PersistentStore.
type Store struct {
	persist domain.PersistentStore
	log     logging.Logger
}

// New constructs a result store over the persistent backend.
func New(persist domain.PersistentStore, log logging.Logger) *Store {
	return &Store{persist: persist, log: logging.OrNoop(log)}
}

// StoreResults encodes both bundles and persists them as a new dataset.
// Repeated calls always create new rows; deduplication belongs to the
// simulation layer.
func (s *Store) StoreResults(ctx context.Context, input, result domain.Bundle) (int64, error) {
	in, out, err := s.EncodeDataset(ctx, input, result)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.persist.RunInTransaction(ctx, func(tx domain.Transaction) error {
		ds, err := tx.CreateDataset(in, out)
		if err != nil {
			return err
		}
		id = ds.ID
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store results: %w", err)
	}
	return id, nil
}

// RestoreResults loads a dataset and decodes it back into bundles.
func (s *Store) RestoreResults(ctx context.Context, datasetID int64) (domain.Bundle, domain.Bundle, error) {
	var ds domain.Dataset
	err := s.persist.View(ctx, func(v domain.TransactionView) error {
		found, ok, err := v.GetDataset(datasetID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %d", domain.ErrDatasetNotFound, datasetID)
		}
		ds = found
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return RestoreDataset(ds)
}

// EncodeDataset encodes the input and result bundles without persisting
// them, so callers can write them inside their own transaction.
func (s *Store) EncodeDataset(ctx context.Context, input, result domain.Bundle) (domain.DataBundle, domain.DataBundle, error) {
	in, err := s.EncodeBundle(ctx, "input", input)
	if err != nil {
		return domain.DataBundle{}, domain.DataBundle{}, err
	}
	out, err := s.EncodeBundle(ctx, "result", result)
	if err != nil {
		return domain.DataBundle{}, domain.DataBundle{}, err
	}
	return in, out, nil
}

// EncodeBundle converts every edge attribute into a typed row. Scalars whose
// kind the codec cannot represent (node references among them) are dropped
// with a debug entry.
func (s *Store) EncodeBundle(ctx context.Context, side string, bundle domain.Bundle) (domain.DataBundle, error) {
	var out domain.DataBundle
	for _, edge := range bundle.Edges() {
		data := bundle[edge]
		for attr, value := range data.Scalars {
			if _, dup := data.Sequences[attr]; dup {
				return domain.DataBundle{}, domain.AttributeKindConflictError{Edge: edge, Attribute: attr}
			}
			raw, tag, err := codec.Encode(value)
			if errors.Is(err, codec.ErrUnsupportedKind) {
				s.log.Debug(ctx, "scalar skipped",
					logging.String("bundle", side),
					logging.String("edge", edge.String()),
					logging.String("attribute", attr),
					logging.String("kind", fmt.Sprintf("%T", value)))
				continue
			}
			if err != nil {
				return domain.DataBundle{}, err
			}
			out.Scalars = append(out.Scalars, domain.ScalarRow{
				FromNode:  edge.From,
				ToNode:    edge.To,
				Attribute: attr,
				Value:     raw,
				Type:      tag,
			})
		}
		for attr, value := range data.Sequences {
			values, tag, err := codec.EncodeSequence(value)
			if err != nil {
				return domain.DataBundle{}, fmt.Errorf("encode sequence %s on %s: %w", attr, edge, err)
			}
			row := domain.SequenceRow{
				FromNode:  edge.From,
				Attribute: attr,
				Value:     values,
				Type:      tag,
			}
			if edge.To != "" {
				to := edge.To
				row.ToNode = &to
			}
			out.Sequences = append(out.Sequences, row)
		}
	}
	return out, nil
}

// RestoreDataset decodes both bundles of a dataset. Any undecodable tag
// aborts the whole restore.
func RestoreDataset(ds domain.Dataset) (domain.Bundle, domain.Bundle, error) {
	input, err := DecodeBundle(ds.Input)
	if err != nil {
		return nil, nil, fmt.Errorf("restore input bundle: %w", err)
	}
	result, err := DecodeBundle(ds.Result)
	if err != nil {
		return nil, nil, fmt.Errorf("restore result bundle: %w", err)
	}
	return input, result, nil
}

// DecodeBundle groups rows back by edge and decodes each value by its tag.
func DecodeBundle(rows domain.DataBundle) (domain.Bundle, error) {
	out := make(domain.Bundle)
	entry := func(e domain.Edge) domain.EdgeData {
		data, ok := out[e]
		if !ok {
			data = domain.EdgeData{Scalars: map[string]any{}, Sequences: map[string]any{}}
			out[e] = data
		}
		return data
	}
	for _, row := range rows.Scalars {
		value, err := codec.Decode(row.Value, row.Type)
		if err != nil {
			return nil, fmt.Errorf("scalar %s on %s->%s: %w", row.Attribute, row.FromNode, row.ToNode, err)
		}
		entry(domain.Edge{From: row.FromNode, To: row.ToNode}).Scalars[row.Attribute] = value
	}
	for _, row := range rows.Sequences {
		value, err := codec.DecodeSequence(row.Value, row.Type)
		if err != nil {
			return nil, fmt.Errorf("sequence %s on %s: %w", row.Attribute, row.FromNode, err)
		}
		edge := domain.Edge{From: row.FromNode}
		if row.ToNode != nil {
			edge.To = *row.ToNode
		}
		entry(edge).Sequences[row.Attribute] = value
	}
	return out, nil
}
