package store

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poirot-research/poirot/internal/schema"
)

func texts(stmts []statement) []string {
	out := make([]string, len(stmts))
	for i, s := range stmts {
		out[i] = s.text
	}
	return out
}

func TestSplitScript(t *testing.T) {
	stmts, err := splitScript(`
		-- leading comment; not a statement
		INSERT INTO tag (name) VALUES ('a;b');
		/* block ; comment */ SELECT "semi;colon" FROM tag;
		;;
		SELECT [odd;name] FROM tag`)
	require.NoError(t, err)
	require.Len(t, stmts, 3)
	assert.Contains(t, stmts[0].text, "INSERT INTO tag (name) VALUES ('a;b')")
	assert.Equal(t, "INSERT", stmts[0].keyword())
	assert.Equal(t, "SELECT", stmts[1].keyword())
	assert.Equal(t, "SELECT [odd;name] FROM tag", stmts[2].text)
}

func TestSplitSchemaScript(t *testing.T) {
	stmts, err := splitScript(schema.SchemaScript)
	require.NoError(t, err)
	require.Len(t, stmts, len(schema.Relations))
	for _, s := range stmts {
		assert.Equal(t, "CREATE", s.keyword())
		assert.False(t, s.returnsRows())
	}
}

func TestSplitTrigger(t *testing.T) {
	stmts, err := splitScript(`
		CREATE TRIGGER drop_tags AFTER DELETE ON entity BEGIN
			DELETE FROM entity_tag WHERE entity_id = old.id;
			DELETE FROM entity_vec WHERE entity_id = old.id;
		END;
		SELECT 1`)
	require.NoError(t, err)
	require.Len(t, texts(stmts), 2)
	assert.Contains(t, stmts[0].text, "DELETE FROM entity_vec")
}

func TestSplitEscapedQuotes(t *testing.T) {
	stmts, err := splitScript("SELECT 'it''s; fine'; SELECT 2")
	require.NoError(t, err)
	assert.Equal(t, []string{"SELECT 'it''s; fine'", "SELECT 2"}, texts(stmts))

	_, err = splitScript("SELECT /* open")
	assert.Error(t, err)
}

func TestReturnsRows(t *testing.T) {
	cases := map[string]bool{
		"SELECT 1":                                    true,
		"with x AS (SELECT 1) SELECT * FROM x":        true,
		"PRAGMA table_info(entity)":                   true,
		"INSERT INTO tag VALUES ('a') RETURNING name": true,
		"INSERT INTO tag VALUES ('returning')":        false,
		"DELETE FROM tag":                             false,
	}
	for text, want := range cases {
		stmts, err := splitScript(text)
		require.NoError(t, err)
		require.Len(t, stmts, 1)
		assert.Equal(t, want, stmts[0].returnsRows(), text)
	}
}

func TestPlaceholders(t *testing.T) {
	stmts, err := splitScript("SELECT ?, '?', ?2, :name, @other, $third, '$notme' FROM tag WHERE name = ?")
	require.NoError(t, err)
	n, named := stmts[0].placeholders()
	assert.Equal(t, 2, n)
	assert.Equal(t, map[string]bool{"name": true, "other": true, "third": true}, named)
}

func TestBind(t *testing.T) {
	stmts, err := splitScript("SELECT ?; SELECT :id, ?; SELECT 1")
	require.NoError(t, err)

	args, err := bind(stmts, Params{1, sql.Named("id", "x"), 2})
	require.NoError(t, err)
	assert.Equal(t, []any{1}, args[0])
	assert.Equal(t, []any{2, sql.Named("id", "x")}, args[1])
	assert.Empty(t, args[2])

	_, err = bind(stmts, Params{1, 2})
	assert.ErrorContains(t, err, "missing named parameter")

	_, err = bind(stmts, Params{1, 2, 3, sql.Named("id", "x")})
	assert.ErrorContains(t, err, "positional parameters")
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Mutable")
	require.NoError(t, err)
	assert.Equal(t, Mutable, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, Immutable, m)

	_, err = ParseMode("append")
	assert.Error(t, err)
}

func TestTransactionControlDetection(t *testing.T) {
	cases := map[string]bool{
		"BEGIN IMMEDIATE":              true,
		"commit":                       true,
		"END TRANSACTION":              true,
		"ROLLBACK":                     true,
		"ROLLBACK TRANSACTION":         true,
		"ROLLBACK TO sp":               false,
		"ROLLBACK TRANSACTION TO sp":   false,
		"RELEASE sp":                   true,
		"DETACH other":                 true,
		"SAVEPOINT sp":                 false,
		"SELECT 'COMMIT'":              false,
		"INSERT INTO tag VALUES ('x')": false,
	}
	for text, want := range cases {
		stmts, err := splitScript(text)
		require.NoError(t, err)
		require.Len(t, stmts, 1)
		assert.Equal(t, want, stmts[0].endsTransaction(), text)
	}
}

func TestLockedPragmaDetection(t *testing.T) {
	cases := map[string]bool{
		"PRAGMA query_only = OFF":       true,
		"pragma Query_Only(0)":          true,
		"PRAGMA main.writable_schema=1": true,
		"PRAGMA table_info(entity)":     false,
		"PRAGMA user_version":           false,
		"SELECT 'query_only'":           false,
	}
	for text, want := range cases {
		stmts, err := splitScript(text)
		require.NoError(t, err)
		require.Len(t, stmts, 1)
		assert.Equal(t, want, stmts[0].setsLockedPragma(), text)
	}
}
