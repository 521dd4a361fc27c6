// Package snapshot moves the contents of a store between stores, including
// between engine kinds. A snapshot is a zstd-compressed stream of JSON
// lines: a header followed by one line per row.
package snapshot

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/poirot-research/poirot/internal/metrics"
	"github.com/poirot-research/poirot/internal/schema"
	"github.com/poirot-research/poirot/internal/store"
)

const (
	formatName = "poirot-snapshot"
	// pageSize is the number of rows read per query while exporting.
	pageSize = 1000
	// batchSize is the number of rows written per script while importing.
	batchSize = 200
)

var ErrFormat = errors.New("not a snapshot")

// Executor is the part of *store.Store snapshots need.
type Executor interface {
	Execute(ctx context.Context, script string, params store.Params, mode store.Mode) (*store.RowSet, error)
}

type header struct {
	Format    string `json:"format"`
	Version   int    `json:"version"`
	Dimension int    `json:"dimension"`
}

type line struct {
	Rel string         `json:"rel"`
	Row map[string]any `json:"row"`
}

// Stats counts rows per relation.
type Stats map[string]int

// Total is the number of rows over all relations.
func (s Stats) Total() int {
	n := 0
	for _, c := range s {
		n += c
	}
	return n
}

// Export writes every row of every relation to w. Each page of a relation is
// read by its own immutable script, so writes running concurrently with the
// export may or may not be included.
func Export(ctx context.Context, st Executor, w io.Writer) (stats Stats, err error) {
	done := metrics.TimeOp("snapshot_export")
	defer func() { done(err == nil) }()

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	out := json.NewEncoder(enc)
	if err := out.Encode(header{Format: formatName, Version: schema.Version, Dimension: schema.Dimension}); err != nil {
		enc.Close()
		return nil, err
	}

	stats = make(Stats, len(schema.Relations))
	for _, rel := range schema.Relations {
		n, err := exportRelation(ctx, st, out, rel)
		if err != nil {
			enc.Close()
			return nil, fmt.Errorf("exporting %s: %w", rel.Name, err)
		}
		stats[rel.Name] = n
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return stats, nil
}

func exportRelation(ctx context.Context, st Executor, out *json.Encoder, rel schema.Relation) (int, error) {
	cols := rel.ColumnNames()
	q := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT ? OFFSET ?",
		strings.Join(cols, ", "), rel.Name, strings.Join(rel.Keys(), ", "))
	total := 0
	for {
		rs, err := st.Execute(ctx, q, store.Params{pageSize, total}, store.Immutable)
		if err != nil {
			return total, err
		}
		for i := 0; i < rs.Len(); i++ {
			row := make(map[string]any, len(cols))
			for _, c := range cols {
				v, _ := rs.Value(i, c)
				if b, ok := v.([]byte); ok {
					if isVector(rel, c) {
						vec, err := schema.DecodeVector(b)
						if err != nil {
							return total, err
						}
						v = vec
					} else {
						v = string(b)
					}
				}
				row[c] = v
			}
			if err := out.Encode(line{Rel: rel.Name, Row: row}); err != nil {
				return total, err
			}
			total++
		}
		if rs.Len() < pageSize {
			return total, nil
		}
	}
}

func isVector(rel schema.Relation, column string) bool {
	return rel.Name == schema.HNSWIndex.Relation && column == schema.HNSWIndex.Column
}

// Import replays a snapshot into st. Rows replace existing rows with the
// same key. Rows are written in batches; a failure leaves earlier batches in
// place.
func Import(ctx context.Context, st Executor, r io.Reader) (stats Stats, err error) {
	done := metrics.TimeOp("snapshot_import")
	defer func() { done(err == nil) }()

	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	in := json.NewDecoder(bufio.NewReader(dec))
	in.UseNumber()

	var h header
	if err := in.Decode(&h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if h.Format != formatName {
		return nil, fmt.Errorf("%w: format %q", ErrFormat, h.Format)
	}
	if h.Version > schema.Version {
		return nil, fmt.Errorf("%w: version %d is newer than %d", ErrFormat, h.Version, schema.Version)
	}
	if h.Dimension != schema.Dimension {
		return nil, fmt.Errorf("%w: embeddings have %d dimensions, store has %d", schema.ErrDimensionMismatch, h.Dimension, schema.Dimension)
	}

	stats = make(Stats)
	b := &batch{}
	for {
		var l line
		err := in.Decode(&l)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		rel, ok := schema.Lookup(l.Rel)
		if !ok {
			return stats, fmt.Errorf("%w: unknown relation %q", ErrFormat, l.Rel)
		}
		if err := b.add(rel, l.Row); err != nil {
			return stats, err
		}
		stats[rel.Name]++
		if b.n >= batchSize {
			if err := b.flush(ctx, st); err != nil {
				return stats, err
			}
		}
	}
	if err := b.flush(ctx, st); err != nil {
		return stats, err
	}
	return stats, nil
}

type batch struct {
	script strings.Builder
	params store.Params
	n      int
}

func (b *batch) add(rel schema.Relation, row map[string]any) error {
	cols := rel.ColumnNames()
	marks := make([]string, len(cols))
	for i, c := range cols {
		v, err := bindValue(rel, c, row[c])
		if err != nil {
			return fmt.Errorf("%s.%s: %w", rel.Name, c, err)
		}
		marks[i] = "?"
		if isVector(rel, c) {
			marks[i] = "vector32(?)"
		}
		b.params = append(b.params, v)
	}
	fmt.Fprintf(&b.script, "INSERT OR REPLACE INTO %s (%s) VALUES (%s);\n",
		rel.Name, strings.Join(cols, ", "), strings.Join(marks, ", "))
	b.n++
	return nil
}

func (b *batch) flush(ctx context.Context, st Executor) error {
	if b.n == 0 {
		return nil
	}
	if _, err := st.Execute(ctx, b.script.String(), b.params, store.Mutable); err != nil {
		return err
	}
	b.script.Reset()
	b.params = nil
	b.n = 0
	return nil
}

func bindValue(rel schema.Relation, column string, v any) (any, error) {
	if isVector(rel, column) {
		raw, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("embedding must be an array, got %T", v)
		}
		vec := make([]float32, len(raw))
		for i, x := range raw {
			n, ok := x.(json.Number)
			if !ok {
				return nil, fmt.Errorf("embedding component %d is %T", i, x)
			}
			f, err := n.Float64()
			if err != nil {
				return nil, err
			}
			vec[i] = float32(f)
		}
		if err := schema.CheckEmbedding(vec); err != nil {
			return nil, err
		}
		return schema.VectorLiteral(vec)
	}
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		return n.Float64()
	}
	return v, nil
}
