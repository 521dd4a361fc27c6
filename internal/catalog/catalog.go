// Package catalog maps academic records onto the store's relations. Every
// operation is one script run through the store's Execute, so each call is
// atomic on its own.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poirot-research/poirot/internal/embeddings"
	"github.com/poirot-research/poirot/internal/store"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalid      = errors.New("invalid record")
	ErrNoEmbeddings = errors.New("no embeddings provider configured")
)

// Executor is the part of *store.Store the catalog needs.
type Executor interface {
	Execute(ctx context.Context, script string, params store.Params, mode store.Mode) (*store.RowSet, error)
}

// Catalog runs typed operations against a store.
type Catalog struct {
	st       Executor
	embedder embeddings.Provider
	log      *slog.Logger
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithEmbedder enables EmbedText and SearchText.
func WithEmbedder(p embeddings.Provider) Option {
	return func(c *Catalog) { c.embedder = p }
}

// WithLogger sets the logger. The default discards.
func WithLogger(l *slog.Logger) Option {
	return func(c *Catalog) {
		if l != nil {
			c.log = l
		}
	}
}

// New returns a Catalog over st.
func New(st Executor, opts ...Option) *Catalog {
	c := &Catalog{st: st, log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Entity is one row of the entity relation.
type Entity struct {
	ID      string         `json:"id"`
	Kind    string         `json:"kind"`
	Title   string         `json:"title"`
	Authors []string       `json:"authors"`
	URI     string         `json:"uri,omitempty"`
	Year    int            `json:"year,omitempty"`
	Props   map[string]any `json:"props,omitempty"`
}

func (e Entity) validate() error {
	switch {
	case strings.TrimSpace(e.ID) == "":
		return fmt.Errorf("%w: entity id must be a non-empty string", ErrInvalid)
	case strings.TrimSpace(e.Kind) == "":
		return fmt.Errorf("%w: entity %q needs a kind", ErrInvalid, e.ID)
	}
	return nil
}

// columns renders e as bind values for id, kind, title, authors, uri, year,
// props. Absent optional fields become NULL.
func (e Entity) columns() ([]any, error) {
	authors := e.Authors
	if authors == nil {
		authors = []string{}
	}
	a, err := json.Marshal(authors)
	if err != nil {
		return nil, err
	}
	props, err := encodeProps(e.Props)
	if err != nil {
		return nil, err
	}
	var uri, year any
	if e.URI != "" {
		uri = e.URI
	}
	if e.Year != 0 {
		year = int64(e.Year)
	}
	return []any{e.ID, e.Kind, e.Title, string(a), uri, year, props}, nil
}

func encodeProps(p map[string]any) (any, error) {
	if len(p) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w: props: %v", ErrInvalid, err)
	}
	return string(b), nil
}

func decodeProps(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	var p map[string]any
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("decoding props: %w", err)
	}
	return p, nil
}

const upsertEntity = `INSERT INTO entity (id, kind, title, authors, uri, year, props)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    kind = excluded.kind,
    title = excluded.title,
    authors = excluded.authors,
    uri = excluded.uri,
    year = excluded.year,
    props = excluded.props`

const entityColumns = "e.id, e.kind, e.title, e.authors, e.uri, e.year, e.props"

// PutEntity creates the entity or replaces every field of an existing one.
func (c *Catalog) PutEntity(ctx context.Context, e Entity) error {
	if err := e.validate(); err != nil {
		return err
	}
	cols, err := e.columns()
	if err != nil {
		return err
	}
	if _, err := c.st.Execute(ctx, upsertEntity, cols, store.Mutable); err != nil {
		return fmt.Errorf("put entity %q: %w", e.ID, err)
	}
	return nil
}

// GetEntity returns the entity with id or ErrNotFound.
func (c *Catalog) GetEntity(ctx context.Context, id string) (Entity, error) {
	rs, err := c.st.Execute(ctx,
		"SELECT "+entityColumns+" FROM entity AS e WHERE e.id = ?", store.Params{id}, store.Immutable)
	if err != nil {
		return Entity{}, fmt.Errorf("get entity %q: %w", id, err)
	}
	if rs.Len() == 0 {
		return Entity{}, fmt.Errorf("entity %q: %w", id, ErrNotFound)
	}
	return scanEntity(rs, 0)
}

// ListEntities returns entities ordered by id. An empty kind lists every
// kind; limit <= 0 means no limit.
func (c *Catalog) ListEntities(ctx context.Context, kind string, limit int) ([]Entity, error) {
	q := "SELECT " + entityColumns + " FROM entity AS e"
	var params store.Params
	if kind != "" {
		q += " WHERE e.kind = ?"
		params = append(params, kind)
	}
	q += " ORDER BY e.id"
	if limit > 0 {
		q += " LIMIT ?"
		params = append(params, limit)
	}
	rs, err := c.st.Execute(ctx, q, params, store.Immutable)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	out := make([]Entity, 0, rs.Len())
	for i := 0; i < rs.Len(); i++ {
		e, err := scanEntity(rs, i)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// DeleteEntity removes the entity with its edges, tags and embedding.
func (c *Catalog) DeleteEntity(ctx context.Context, id string) error {
	rs, err := c.st.Execute(ctx, `
DELETE FROM entity WHERE id = ? RETURNING id;
DELETE FROM edge WHERE src = ? OR dst = ?;
DELETE FROM entity_tag WHERE entity_id = ?;
DELETE FROM entity_vec WHERE entity_id = ?;`,
		store.Params{id, id, id, id, id}, store.Mutable)
	if err != nil {
		return fmt.Errorf("delete entity %q: %w", id, err)
	}
	if rs.Len() == 0 {
		return fmt.Errorf("entity %q: %w", id, ErrNotFound)
	}
	return nil
}

func scanEntity(rs *store.RowSet, i int) (Entity, error) {
	var (
		e   Entity
		err error
	)
	text := func(col string) string {
		if err != nil {
			return ""
		}
		var s string
		s, err = rs.Text(i, col)
		return s
	}
	e.ID = text("id")
	e.Kind = text("kind")
	e.Title = text("title")
	authors := text("authors")
	e.URI = text("uri")
	props := text("props")
	if err != nil {
		return Entity{}, err
	}
	if authors != "" {
		if err := json.Unmarshal([]byte(authors), &e.Authors); err != nil {
			return Entity{}, fmt.Errorf("entity %q: decoding authors: %w", e.ID, err)
		}
	}
	year, ok, err := rs.Int64(i, "year")
	if err != nil {
		return Entity{}, err
	}
	if ok {
		e.Year = int(year)
	}
	if e.Props, err = decodeProps(props); err != nil {
		return Entity{}, fmt.Errorf("entity %q: %w", e.ID, err)
	}
	return e, nil
}
