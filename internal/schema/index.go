package schema

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Metric is the distance function the ANN index orders neighbors by.
type Metric string

const (
	MetricL2     Metric = "l2"
	MetricCosine Metric = "cosine"
)

// ElementType is the numeric type of each embedding component.
type ElementType string

const (
	F32 ElementType = "F32"
	F64 ElementType = "F64"
)

// VectorIndex describes the ANN index bound to one vector column.
//
// libSQL builds a DiskANN-style graph: M maps to max_neighbors and
// EfConstruction to insert_l, the candidate list explored while a row is
// inserted. Filtering is always available through a join on the index
// result. The engine has no switch for extended candidates or keeping pruned
// connections, so both must stay false.
type VectorIndex struct {
	Name                  string
	Relation              string
	Column                string
	Dimension             int
	Metric                Metric
	M                     int
	EfConstruction        int
	ElementType           ElementType
	Filter                bool
	ExtendCandidates      bool
	KeepPrunedConnections bool
}

// HNSWIndex is the index over entity_vec.embedding.
var HNSWIndex = VectorIndex{
	Name:                  "entity_vec_hnsw",
	Relation:              "entity_vec",
	Column:                "embedding",
	Dimension:             768,
	Metric:                MetricL2,
	M:                     32,
	EfConstruction:        20,
	ElementType:           F32,
	Filter:                true,
	ExtendCandidates:      false,
	KeepPrunedConnections: false,
}

// ErrDimensionMismatch is returned when an index declares a dimension other
// than the embedding column's.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Validate checks the declared parameters before anything reaches the engine.
func (v VectorIndex) Validate() error {
	if v.Name == "" || v.Relation == "" || v.Column == "" {
		return fmt.Errorf("vector index needs a name, relation and column")
	}
	if v.Dimension != Dimension {
		return fmt.Errorf("%w: index %s declares %d, embeddings have %d", ErrDimensionMismatch, v.Name, v.Dimension, Dimension)
	}
	switch v.Metric {
	case MetricL2, MetricCosine:
	default:
		return fmt.Errorf("vector index %s: unsupported metric %q", v.Name, v.Metric)
	}
	switch v.ElementType {
	case F32, F64:
	default:
		return fmt.Errorf("vector index %s: unsupported element type %q", v.Name, v.ElementType)
	}
	if v.M <= 0 {
		return fmt.Errorf("vector index %s: m must be positive, got %d", v.Name, v.M)
	}
	if v.EfConstruction <= 0 {
		return fmt.Errorf("vector index %s: ef_construction must be positive, got %d", v.Name, v.EfConstruction)
	}
	if v.ExtendCandidates || v.KeepPrunedConnections {
		return fmt.Errorf("vector index %s: extend_candidates and keep_pruned_connections are not supported by the engine", v.Name)
	}
	return nil
}

// ColumnType is the declared type the indexed column must have.
func (v VectorIndex) ColumnType() string {
	return fmt.Sprintf("%s_BLOB(%d)", v.ElementType, v.Dimension)
}

// Options returns the engine options the index is created with.
func (v VectorIndex) Options() map[string]string {
	return map[string]string{
		"metric":        string(v.Metric),
		"max_neighbors": strconv.Itoa(v.M),
		"insert_l":      strconv.Itoa(v.EfConstruction),
	}
}

// Script renders the create-if-missing statement for the index.
func (v VectorIndex) Script() string {
	opts := v.Options()
	keys := []string{"metric", "max_neighbors", "insert_l"}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("'%s=%s'", k, opts[k]))
	}
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(libsql_vector_idx(%s, %s))",
		v.Name, v.Relation, v.Column, strings.Join(parts, ", "))
}

// IndexDDL is what an existing vector index was created with.
type IndexDDL struct {
	Relation string
	Column   string
	Options  map[string]string
}

var (
	vectorIdxRE = regexp.MustCompile(`(?is)\bON\s+["\x60\[]?(\w+)["\x60\]]?\s*\(\s*libsql_vector_idx\s*\(\s*["\x60\[]?(\w+)["\x60\]]?\s*((?:,\s*'[^']*'\s*)*)\)\s*\)`)
	optionRE    = regexp.MustCompile(`'\s*([^'=\s]+)\s*=\s*([^']*?)\s*'`)
)

// ParseIndexDDL extracts the relation, column and options from the CREATE
// INDEX text stored in sqlite_master.
func ParseIndexDDL(ddl string) (IndexDDL, error) {
	m := vectorIdxRE.FindStringSubmatch(ddl)
	if m == nil {
		return IndexDDL{}, fmt.Errorf("not a vector index: %q", ddl)
	}
	out := IndexDDL{
		Relation: m[1],
		Column:   m[2],
		Options:  make(map[string]string),
	}
	for _, o := range optionRE.FindAllStringSubmatch(m[3], -1) {
		out.Options[strings.ToLower(o[1])] = strings.ToLower(o[2])
	}
	return out, nil
}

// Diff lists every difference between an existing index and v. An empty
// result means the existing index satisfies v.
func (v VectorIndex) Diff(existing IndexDDL) []string {
	var diffs []string
	if !strings.EqualFold(existing.Relation, v.Relation) {
		diffs = append(diffs, fmt.Sprintf("relation %q, want %q", existing.Relation, v.Relation))
	}
	if !strings.EqualFold(existing.Column, v.Column) {
		diffs = append(diffs, fmt.Sprintf("column %q, want %q", existing.Column, v.Column))
	}
	want := v.Options()
	keys := make([]string, 0, len(want)+len(existing.Options))
	for k := range want {
		keys = append(keys, k)
	}
	for k := range existing.Options {
		if _, ok := want[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		got, ok := existing.Options[k]
		switch {
		case !ok:
			diffs = append(diffs, fmt.Sprintf("option %s missing, want %s", k, want[k]))
		case want[k] == "":
			diffs = append(diffs, fmt.Sprintf("unexpected option %s=%s", k, got))
		case got != want[k]:
			diffs = append(diffs, fmt.Sprintf("option %s=%s, want %s", k, got, want[k]))
		}
	}
	return diffs
}
