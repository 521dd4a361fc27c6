// Package schema holds the fixed relation and vector index definitions every
// store is initialized with.
//
// The definitions are versioned literal data. A store records the version it
// was initialized with (PRAGMA user_version) so a future migration can tell an
// old layout from the current one instead of re-applying blindly.
package schema

// Dimension is the length of every embedding stored in entity_vec.
const Dimension = 768

// Version of the relation and index layout below.
const Version = 1

// SchemaScript creates the five relations of the store. Every statement is
// create-if-missing so applying it to an initialized store is a no-op.
//
// The four plain relations are STRICT so a value of the wrong type is rejected
// instead of being stored with a different affinity. entity_vec cannot be
// STRICT because the vector column type is a libSQL extension; its length
// CHECK pins the blob to Dimension float32 components.
const SchemaScript = `
CREATE TABLE IF NOT EXISTS entity (
    id      TEXT NOT NULL PRIMARY KEY,
    kind    TEXT NOT NULL,
    title   TEXT NOT NULL,
    authors TEXT NOT NULL,
    uri     TEXT,
    year    INTEGER,
    props   TEXT CHECK (props IS NULL OR json_valid(props))
) STRICT;

CREATE TABLE IF NOT EXISTS edge (
    src   TEXT NOT NULL,
    dst   TEXT NOT NULL,
    kind  TEXT NOT NULL,
    props TEXT CHECK (props IS NULL OR json_valid(props)),
    PRIMARY KEY (src, dst, kind)
) STRICT;

CREATE TABLE IF NOT EXISTS tag (
    name TEXT NOT NULL PRIMARY KEY
) STRICT;

CREATE TABLE IF NOT EXISTS entity_tag (
    entity_id TEXT NOT NULL,
    tag_name  TEXT NOT NULL,
    PRIMARY KEY (entity_id, tag_name)
) STRICT;

CREATE TABLE IF NOT EXISTS entity_vec (
    entity_id TEXT NOT NULL PRIMARY KEY,
    embedding F32_BLOB(768) NOT NULL CHECK (length(embedding) = 3072)
);
`

// Column is the expected shape of one relation column as reported by
// pragma_table_info.
type Column struct {
	Name    string
	Type    string
	NotNull bool
	// PK is the 1-based position of the column in the primary key, 0 if the
	// column is a value column.
	PK int
}

// Relation is the expected shape of one table created by SchemaScript.
type Relation struct {
	Name    string
	Columns []Column
}

// Keys returns the key column names in primary-key order.
func (r Relation) Keys() []string {
	keys := make([]string, 0, len(r.Columns))
	for pos := 1; pos <= len(r.Columns); pos++ {
		for _, c := range r.Columns {
			if c.PK == pos {
				keys = append(keys, c.Name)
			}
		}
	}
	return keys
}

// ColumnNames returns every column name in declaration order.
func (r Relation) ColumnNames() []string {
	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.Name
	}
	return names
}

// Relations lists the shapes SchemaScript produces, in creation order.
var Relations = []Relation{
	{
		Name: "entity",
		Columns: []Column{
			{Name: "id", Type: "TEXT", NotNull: true, PK: 1},
			{Name: "kind", Type: "TEXT", NotNull: true},
			{Name: "title", Type: "TEXT", NotNull: true},
			{Name: "authors", Type: "TEXT", NotNull: true},
			{Name: "uri", Type: "TEXT"},
			{Name: "year", Type: "INTEGER"},
			{Name: "props", Type: "TEXT"},
		},
	},
	{
		Name: "edge",
		Columns: []Column{
			{Name: "src", Type: "TEXT", NotNull: true, PK: 1},
			{Name: "dst", Type: "TEXT", NotNull: true, PK: 2},
			{Name: "kind", Type: "TEXT", NotNull: true, PK: 3},
			{Name: "props", Type: "TEXT"},
		},
	},
	{
		Name: "tag",
		Columns: []Column{
			{Name: "name", Type: "TEXT", NotNull: true, PK: 1},
		},
	},
	{
		Name: "entity_tag",
		Columns: []Column{
			{Name: "entity_id", Type: "TEXT", NotNull: true, PK: 1},
			{Name: "tag_name", Type: "TEXT", NotNull: true, PK: 2},
		},
	},
	{
		Name: "entity_vec",
		Columns: []Column{
			{Name: "entity_id", Type: "TEXT", NotNull: true, PK: 1},
			{Name: "embedding", Type: "F32_BLOB(768)", NotNull: true},
		},
	},
}

// Lookup returns the relation called name.
func Lookup(name string) (Relation, bool) {
	for _, r := range Relations {
		if r.Name == name {
			return r, true
		}
	}
	return Relation{}, false
}

// Definition bundles everything the lifecycle manager applies to a store.
type Definition struct {
	Version   int
	Schema    string
	Relations []Relation
	Index     VectorIndex
}

// Current is the definition new and re-opened stores are brought to.
var Current = Definition{
	Version:   Version,
	Schema:    SchemaScript,
	Relations: Relations,
	Index:     HNSWIndex,
}
