// Package codec converts scalar and sequence attribute values to and from
// their persisted, type-tagged form.
package codec

import (
	"errors"
	"fmt"
	"strconv"

	"energycore/pkg/domain"
)

var (
	// ErrUnsupportedKind is returned for values outside the supported scalar
	// and sequence kinds. Callers drop such values instead of failing.
	ErrUnsupportedKind = errors.New("unsupported value kind")
	// ErrInvalidValue is returned when a stored string cannot be parsed as
	// its (known) tag.
	ErrInvalidValue = errors.New("invalid encoded value")
)

// Encode returns the canonical string form of a scalar and its type tag.
func Encode(value any) (string, domain.TypeTag, error) {
	switch v := value.(type) {
	case string:
		return v, domain.TagStr, nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), domain.TagFloat, nil
	case domain.Float64:
		return strconv.FormatFloat(float64(v), 'g', -1, 64), domain.TagFloat64, nil
	case int:
		return strconv.Itoa(v), domain.TagInt, nil
	case int64:
		return strconv.FormatInt(v, 10), domain.TagInt64, nil
	case bool:
		return strconv.FormatBool(v), domain.TagBool, nil
	default:
		return "", "", fmt.Errorf("%w: %T", ErrUnsupportedKind, value)
	}
}

// Decode parses a stored scalar according to its tag. An unrecognised tag
// yields domain.UnknownTypeTagError.
func Decode(raw string, tag domain.TypeTag) (any, error) {
	switch tag {
	case domain.TagStr:
		return raw, nil
	case domain.TagFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, invalid(raw, tag, err)
		}
		return f, nil
	case domain.TagFloat64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, invalid(raw, tag, err)
		}
		return domain.Float64(f), nil
	case domain.TagInt:
		n, err := strconv.ParseInt(raw, 10, strconv.IntSize)
		if err != nil {
			return nil, invalid(raw, tag, err)
		}
		return int(n), nil
	case domain.TagInt64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, invalid(raw, tag, err)
		}
		return n, nil
	case domain.TagBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, invalid(raw, tag, err)
		}
		return b, nil
	default:
		return nil, domain.UnknownTypeTagError{Tag: string(tag)}
	}
}

// EncodeSequence flattens a sequence value to float64s and reports whether it
// carried label semantics (Series) or was a plain list.
func EncodeSequence(value any) ([]float64, domain.TypeTag, error) {
	switch v := value.(type) {
	case domain.Series:
		return append([]float64(nil), v.Values...), domain.TagSeries, nil
	case *domain.Series:
		if v == nil {
			return nil, "", fmt.Errorf("%w: nil series", ErrUnsupportedKind)
		}
		return append([]float64(nil), v.Values...), domain.TagSeries, nil
	case []float64:
		return append([]float64(nil), v...), domain.TagList, nil
	case []int:
		out := make([]float64, len(v))
		for i, n := range v {
			out[i] = float64(n)
		}
		return out, domain.TagList, nil
	case []any:
		out := make([]float64, len(v))
		for i, item := range v {
			f, ok := toFloat(item)
			if !ok {
				return nil, "", fmt.Errorf("%w: sequence element %T", ErrUnsupportedKind, item)
			}
			out[i] = f
		}
		return out, domain.TagList, nil
	default:
		return nil, "", fmt.Errorf("%w: %T", ErrUnsupportedKind, value)
	}
}

// DecodeSequence rebuilds the in-memory sequence shape selected by tag.
func DecodeSequence(values []float64, tag domain.TypeTag) (any, error) {
	switch tag {
	case domain.TagList:
		return append([]float64{}, values...), nil
	case domain.TagSeries:
		return domain.NewSeries(values), nil
	default:
		return nil, domain.UnknownTypeTagError{Tag: string(tag)}
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case domain.Float64:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func invalid(raw string, tag domain.TypeTag, err error) error {
	return fmt.Errorf("%w: %q as %s: %v", ErrInvalidValue, raw, tag, err)
}
