package sqlstore

import (
	"database/sql/driver"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Dialect captures the per-backend differences in placeholders and column
// encodings. Queries are written with "?" placeholders and rebound.
type Dialect struct {
	Name string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// Floats encodes a sequence for the sequences.value column.
	Floats func([]float64) any
	// ScanFloats returns a scan destination that fills dst.
	ScanFloats func(dst *[]float64) any
	// JSON encodes a JSON document for a JSON-typed column.
	JSON func([]byte) any
	// Time encodes a timestamp column value.
	Time func(time.Time) any
}

// Rebind rewrites "?" placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if d.Placeholder == nil {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(d.Placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// QuestionPlaceholder keeps "?" placeholders.
func QuestionPlaceholder(int) string { return "?" }

// DollarPlaceholder renders "$n" placeholders.
func DollarPlaceholder(n int) string { return "$" + strconv.Itoa(n) }

// EncodeFloatBlob packs values as consecutive little-endian float64s.
func EncodeFloatBlob(values []float64) []byte {
	out := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(v))
	}
	return out
}

// DecodeFloatBlob unpacks a blob written by EncodeFloatBlob.
func DecodeFloatBlob(raw []byte) ([]float64, error) {
	if len(raw)%8 != 0 {
		return nil, fmt.Errorf("float blob length %d is not a multiple of 8", len(raw))
	}
	out := make([]float64, len(raw)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return out, nil
}

// FloatBlob scans a float blob column.
type FloatBlob struct {
	Dst *[]float64
}

// Scan implements sql.Scanner.
func (f FloatBlob) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*f.Dst = nil
		return nil
	case []byte:
		values, err := DecodeFloatBlob(v)
		if err != nil {
			return err
		}
		*f.Dst = values
		return nil
	default:
		return fmt.Errorf("float blob: unsupported source %T", src)
	}
}

// Timestamp scans both native timestamp columns and RFC3339 text columns.
type Timestamp struct {
	Dst *time.Time
}

// Scan implements sql.Scanner.
func (ts Timestamp) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*ts.Dst = v.UTC()
		return nil
	case string:
		return ts.parse(v)
	case []byte:
		return ts.parse(string(v))
	case nil:
		*ts.Dst = time.Time{}
		return nil
	default:
		return fmt.Errorf("timestamp: unsupported source %T", src)
	}
}

func (ts Timestamp) parse(raw string) error {
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	*ts.Dst = parsed.UTC()
	return nil
}

// TextTime formats a timestamp for TEXT columns.
func TextTime(t time.Time) any { return t.UTC().Format(time.RFC3339Nano) }

// TextJSON stores JSON in a TEXT column.
func TextJSON(raw []byte) any { return string(raw) }

var _ driver.Valuer = floatsValue(nil)

type floatsValue []float64

func (f floatsValue) Value() (driver.Value, error) { return EncodeFloatBlob(f), nil }

// BlobFloats encodes sequences as float blobs.
func BlobFloats(values []float64) any { return floatsValue(values) }

// ScanBlobFloats returns a FloatBlob scanner.
func ScanBlobFloats(dst *[]float64) any { return FloatBlob{Dst: dst} }
