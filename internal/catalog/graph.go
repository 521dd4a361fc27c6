package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/poirot-research/poirot/internal/store"
)

// Edge is a directed typed relation between two entities.
type Edge struct {
	Src   string         `json:"src"`
	Dst   string         `json:"dst"`
	Kind  string         `json:"kind"`
	Props map[string]any `json:"props,omitempty"`
}

// Direction selects which edges of an entity Edges returns.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
	Both
)

// ParseDirection accepts out, in and both.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "out", "outgoing":
		return Outgoing, nil
	case "in", "incoming":
		return Incoming, nil
	case "both", "any":
		return Both, nil
	default:
		return Outgoing, fmt.Errorf("unknown direction %q", s)
	}
}

// Link creates the edge or replaces its props. Both endpoints must exist;
// the engine does not enforce this, so it is checked in the same script.
func (c *Catalog) Link(ctx context.Context, e Edge) error {
	if e.Src == "" || e.Dst == "" || e.Kind == "" {
		return fmt.Errorf("%w: edge needs src, dst and kind", ErrInvalid)
	}
	props, err := encodeProps(e.Props)
	if err != nil {
		return err
	}
	rs, err := c.st.Execute(ctx, `
INSERT INTO edge (src, dst, kind, props)
SELECT ?, ?, ?, ?
WHERE EXISTS (SELECT 1 FROM entity WHERE id = ?)
  AND EXISTS (SELECT 1 FROM entity WHERE id = ?)
ON CONFLICT(src, dst, kind) DO UPDATE SET props = excluded.props
RETURNING src`,
		store.Params{e.Src, e.Dst, e.Kind, props, e.Src, e.Dst}, store.Mutable)
	if err != nil {
		return fmt.Errorf("link %s -[%s]-> %s: %w", e.Src, e.Kind, e.Dst, err)
	}
	if rs.Len() == 0 {
		return fmt.Errorf("link %s -[%s]-> %s: endpoint %w", e.Src, e.Kind, e.Dst, ErrNotFound)
	}
	return nil
}

// Unlink removes the edge. Removing an absent edge returns ErrNotFound.
func (c *Catalog) Unlink(ctx context.Context, src, dst, kind string) error {
	rs, err := c.st.Execute(ctx,
		"DELETE FROM edge WHERE src = ? AND dst = ? AND kind = ? RETURNING src",
		store.Params{src, dst, kind}, store.Mutable)
	if err != nil {
		return fmt.Errorf("unlink %s -[%s]-> %s: %w", src, kind, dst, err)
	}
	if rs.Len() == 0 {
		return fmt.Errorf("edge %s -[%s]-> %s: %w", src, kind, dst, ErrNotFound)
	}
	return nil
}

// Edges lists the edges touching id, ordered by src, kind, dst.
func (c *Catalog) Edges(ctx context.Context, id string, dir Direction) ([]Edge, error) {
	var (
		where  string
		params store.Params
	)
	switch dir {
	case Incoming:
		where, params = "dst = ?", store.Params{id}
	case Both:
		where, params = "src = ? OR dst = ?", store.Params{id, id}
	default:
		where, params = "src = ?", store.Params{id}
	}
	rs, err := c.st.Execute(ctx,
		"SELECT src, dst, kind, props FROM edge WHERE "+where+" ORDER BY src, kind, dst",
		params, store.Immutable)
	if err != nil {
		return nil, fmt.Errorf("edges of %q: %w", id, err)
	}
	return scanEdges(rs)
}

func scanEdges(rs *store.RowSet) ([]Edge, error) {
	out := make([]Edge, 0, rs.Len())
	for i := 0; i < rs.Len(); i++ {
		var (
			e     Edge
			props string
			err   error
		)
		for col, dst := range map[string]*string{"src": &e.Src, "dst": &e.Dst, "kind": &e.Kind, "props": &props} {
			if *dst, err = rs.Text(i, col); err != nil {
				return nil, err
			}
		}
		if e.Props, err = decodeProps(props); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Tag attaches tags to an existing entity. Tags are created as needed and
// attaching a tag twice is a no-op.
func (c *Catalog) Tag(ctx context.Context, entityID string, tags ...string) error {
	var (
		script strings.Builder
		params store.Params
	)
	script.WriteString("SELECT id FROM entity WHERE id = ?;\n")
	params = append(params, entityID)
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		script.WriteString("INSERT OR IGNORE INTO tag (name) VALUES (?);\n")
		script.WriteString("INSERT OR IGNORE INTO entity_tag (entity_id, tag_name) SELECT id, ? FROM entity WHERE id = ?;\n")
		params = append(params, t, t, entityID)
	}
	// The existence check is the only row-returning statement, so its rows
	// come back even though it runs first.
	rs, err := c.st.Execute(ctx, script.String(), params, store.Mutable)
	if err != nil {
		return fmt.Errorf("tag %q: %w", entityID, err)
	}
	if rs.Len() == 0 {
		return fmt.Errorf("entity %q: %w", entityID, ErrNotFound)
	}
	return nil
}

// Tags lists the tags of an entity in name order.
func (c *Catalog) Tags(ctx context.Context, entityID string) ([]string, error) {
	rs, err := c.st.Execute(ctx,
		"SELECT tag_name FROM entity_tag WHERE entity_id = ? ORDER BY tag_name",
		store.Params{entityID}, store.Immutable)
	if err != nil {
		return nil, fmt.Errorf("tags of %q: %w", entityID, err)
	}
	out := make([]string, 0, rs.Len())
	for i := 0; i < rs.Len(); i++ {
		t, err := rs.Text(i, "tag_name")
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Tagged lists the ids of entities carrying tag.
func (c *Catalog) Tagged(ctx context.Context, tag string) ([]string, error) {
	rs, err := c.st.Execute(ctx,
		"SELECT entity_id FROM entity_tag WHERE tag_name = ? ORDER BY entity_id",
		store.Params{tag}, store.Immutable)
	if err != nil {
		return nil, fmt.Errorf("entities tagged %q: %w", tag, err)
	}
	out := make([]string, 0, rs.Len())
	for i := 0; i < rs.Len(); i++ {
		id, err := rs.Text(i, "entity_id")
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
