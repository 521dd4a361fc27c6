package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/poirot-research/poirot/internal/metrics"
	"github.com/poirot-research/poirot/internal/store"
)

// GetEntities returns the entities among ids that exist, ordered by id.
func (c *Catalog) GetEntities(ctx context.Context, ids []string) ([]Entity, error) {
	if len(ids) == 0 {
		return []Entity{}, nil
	}
	rs, err := c.st.Execute(ctx,
		"SELECT "+entityColumns+" FROM entity AS e WHERE e.id IN ("+marks(len(ids))+") ORDER BY e.id",
		strParams(ids), store.Immutable)
	if err != nil {
		return nil, fmt.Errorf("get entities: %w", err)
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

// Neighbors returns the 1-hop subgraph around ids: the edges touching them
// in direction dir and every entity those edges reach, including ids
// themselves. limit <= 0 returns every edge.
func (c *Catalog) Neighbors(ctx context.Context, ids []string, dir Direction, limit int) (ents []Entity, edges []Edge, err error) {
	done := metrics.TimeOp("catalog_neighbors")
	defer func() { done(err == nil) }()

	edges, err = c.edgesOf(ctx, ids, dir, limit)
	if err != nil {
		return nil, nil, err
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	for _, e := range edges {
		seen[e.Src] = struct{}{}
		seen[e.Dst] = struct{}{}
	}
	ents, err = c.GetEntities(ctx, keys(seen))
	if err != nil {
		return nil, nil, err
	}
	return ents, edges, nil
}

func (c *Catalog) edgesOf(ctx context.Context, ids []string, dir Direction, limit int) ([]Edge, error) {
	if len(ids) == 0 {
		return []Edge{}, nil
	}
	in := marks(len(ids))
	params := strParams(ids)
	var where string
	switch dir {
	case Incoming:
		where = "dst IN (" + in + ")"
	case Both:
		where = "src IN (" + in + ") OR dst IN (" + in + ")"
		params = append(params, strParams(ids)...)
	default:
		where = "src IN (" + in + ")"
	}
	q := "SELECT src, dst, kind, props FROM edge WHERE " + where + " ORDER BY src, kind, dst"
	if limit > 0 {
		q += " LIMIT ?"
		params = append(params, limit)
	}
	rs, err := c.st.Execute(ctx, q, params, store.Immutable)
	if err != nil {
		return nil, fmt.Errorf("edges: %w", err)
	}
	return scanEdges(rs)
}

// Walk expands breadth-first from seeds for up to maxDepth hops and returns
// the visited entities and the edges crossed. limit > 0 caps the number of
// visited entities.
func (c *Catalog) Walk(ctx context.Context, seeds []string, maxDepth int, dir Direction, limit int) (ents []Entity, edges []Edge, err error) {
	done := metrics.TimeOp("catalog_walk")
	defer func() { done(err == nil) }()

	if maxDepth <= 0 {
		maxDepth = 1
	}
	visited := make(map[string]struct{}, len(seeds))
	for _, s := range seeds {
		visited[s] = struct{}{}
	}
	edges = []Edge{}
	curr := seeds
	full := func() bool { return limit > 0 && len(visited) >= limit }
	for depth := 0; depth < maxDepth && len(curr) > 0 && !full(); depth++ {
		level, err := c.edgesOf(ctx, curr, dir, 0)
		if err != nil {
			return nil, nil, err
		}
		var next []string
		for _, e := range level {
			for _, id := range reached(e, dir) {
				if _, ok := visited[id]; ok {
					continue
				}
				if full() {
					break
				}
				visited[id] = struct{}{}
				next = append(next, id)
			}
			_, srcIn := visited[e.Src]
			_, dstIn := visited[e.Dst]
			if srcIn && dstIn {
				edges = append(edges, e)
			}
		}
		curr = next
	}
	ents, err = c.GetEntities(ctx, keys(visited))
	if err != nil {
		return nil, nil, err
	}
	return ents, dedupeEdges(edges), nil
}

// ShortestPath returns the entities along a shortest path from one entity
// to another, in path order, with the edges connecting them. Both are empty
// when no path exists.
func (c *Catalog) ShortestPath(ctx context.Context, from, to string, dir Direction) (ents []Entity, path []Edge, err error) {
	done := metrics.TimeOp("catalog_shortest_path")
	defer func() { done(err == nil) }()

	if from == "" || to == "" {
		return nil, nil, fmt.Errorf("%w: both endpoints are required", ErrInvalid)
	}
	if from == to {
		e, err := c.GetEntity(ctx, from)
		if err != nil {
			return nil, nil, err
		}
		return []Entity{e}, []Edge{}, nil
	}

	// parent maps a reached id to the edge it was first reached through.
	parent := make(map[string]Edge)
	visited := map[string]bool{from: true}
	q := []string{from}
	found := false
	for len(q) > 0 && !found {
		level, err := c.edgesOf(ctx, q, dir, 0)
		if err != nil {
			return nil, nil, err
		}
		var next []string
		for _, e := range level {
			try := func(u, v string) {
				if visited[u] && !visited[v] {
					visited[v] = true
					parent[v] = e
					next = append(next, v)
					found = found || v == to
				}
			}
			switch dir {
			case Outgoing:
				try(e.Src, e.Dst)
			case Incoming:
				try(e.Dst, e.Src)
			default:
				try(e.Src, e.Dst)
				try(e.Dst, e.Src)
			}
			if found {
				break
			}
		}
		q = next
	}
	if !found {
		return []Entity{}, []Edge{}, nil
	}

	ids := []string{to}
	for cur := to; cur != from; {
		e := parent[cur]
		path = append(path, e)
		if e.Dst == cur {
			cur = e.Src
		} else {
			cur = e.Dst
		}
		ids = append(ids, cur)
	}
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}

	byID := make(map[string]Entity, len(ids))
	got, err := c.GetEntities(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	for _, e := range got {
		byID[e.ID] = e
	}
	ents = make([]Entity, 0, len(ids))
	for _, id := range ids {
		ents = append(ents, byID[id])
	}
	return ents, path, nil
}

// reached lists the endpoints of e a traversal in direction dir can move to.
func reached(e Edge, dir Direction) []string {
	switch dir {
	case Outgoing:
		return []string{e.Dst}
	case Incoming:
		return []string{e.Src}
	default:
		return []string{e.Src, e.Dst}
	}
}

func dedupeEdges(in []Edge) []Edge {
	type key struct{ src, dst, kind string }
	seen := make(map[key]bool, len(in))
	out := in[:0]
	for _, e := range in {
		k := key{e.Src, e.Dst, e.Kind}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	return out
}

func marks(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func strParams(ids []string) store.Params {
	p := make(store.Params, len(ids))
	for i, id := range ids {
		p[i] = id
	}
	return p
}

func keys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
