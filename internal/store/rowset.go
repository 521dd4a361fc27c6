package store

import (
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/poirot-research/poirot/internal/schema"
)

// RowSet is the tabular result of a script: column names and rows of values
// in column order. Values are whatever the engine produced: int64, float64,
// string, []byte or nil.
type RowSet struct {
	Columns []string `json:"headers"`
	Rows    [][]any  `json:"rows"`
}

// Len is the number of rows.
func (r *RowSet) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// Column returns the position of the named column, or -1.
func (r *RowSet) Column(name string) int {
	if r == nil {
		return -1
	}
	for i, c := range r.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Value returns the value at row i in the named column.
func (r *RowSet) Value(i int, column string) (any, bool) {
	c := r.Column(column)
	if c < 0 || i < 0 || i >= r.Len() || c >= len(r.Rows[i]) {
		return nil, false
	}
	return r.Rows[i][c], true
}

// Text returns the named column of row i as text. NULL reads as "".
func (r *RowSet) Text(i int, column string) (string, error) {
	v, ok := r.Value(i, column)
	if !ok {
		return "", fmt.Errorf("no column %q in row %d", column, i)
	}
	return AsString(v)
}

// Int64 returns the named column of row i as an integer. ok is false for NULL.
func (r *RowSet) Int64(i int, column string) (n int64, ok bool, err error) {
	v, found := r.Value(i, column)
	if !found {
		return 0, false, fmt.Errorf("no column %q in row %d", column, i)
	}
	if v == nil {
		return 0, false, nil
	}
	n, err = AsInt64(v)
	return n, err == nil, err
}

// Float64 returns the named column of row i as a float.
func (r *RowSet) Float64(i int, column string) (float64, error) {
	v, ok := r.Value(i, column)
	if !ok {
		return 0, fmt.Errorf("no column %q in row %d", column, i)
	}
	return AsFloat64(v)
}

// AsString converts an engine value to text.
func AsString(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	default:
		return "", fmt.Errorf("cannot read %T as text", v)
	}
}

// AsInt64 converts an engine value to an integer.
func AsInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case float64:
		if x != float64(int64(x)) {
			return 0, fmt.Errorf("%v is not an integer", x)
		}
		return int64(x), nil
	case string:
		return strconv.ParseInt(x, 10, 64)
	case []byte:
		return strconv.ParseInt(string(x), 10, 64)
	default:
		return 0, fmt.Errorf("cannot read %T as integer", v)
	}
}

// AsFloat64 converts an engine value to a float.
func AsFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		return strconv.ParseFloat(x, 64)
	case []byte:
		return strconv.ParseFloat(string(x), 64)
	default:
		return 0, fmt.Errorf("cannot read %T as number", v)
	}
}

// ReadableBlobs replaces blob values in place for display: embedding-sized
// blobs become their float32 components and UTF-8 blobs become text. Other
// blobs are left as bytes.
func (r *RowSet) ReadableBlobs() {
	if r == nil {
		return
	}
	for _, row := range r.Rows {
		for i, v := range row {
			b, ok := v.([]byte)
			if !ok {
				continue
			}
			if len(b) == 4*schema.Dimension {
				if vec, err := schema.DecodeVector(b); err == nil {
					row[i] = vec
					continue
				}
			}
			if utf8.Valid(b) {
				row[i] = string(b)
			}
		}
	}
}
