package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/poirot-research/poirot/internal/buildinfo"
	"github.com/poirot-research/poirot/internal/catalog"
	"github.com/poirot-research/poirot/internal/domain"
	"github.com/poirot-research/poirot/internal/metrics"
	"github.com/poirot-research/poirot/internal/schema"
	"github.com/poirot-research/poirot/internal/store"
)

// defaultNearest is the k used when a nearest call does not set one.
const defaultNearest = 10

// --- Input types ---

type StoreInfoInput struct{}

type RunScriptInput struct {
	Script  string         `json:"script" jsonschema:"One or more SQL statements separated by semicolons"`
	Params  []any          `json:"params,omitempty" jsonschema:"Positional parameters bound to ? placeholders in order across all statements"`
	Named   map[string]any `json:"named,omitempty" jsonschema:"Named parameters bound to :name, @name or $name placeholders"`
	Mutable bool           `json:"mutable,omitempty" jsonschema:"Allow the script to write; by default writes are rejected"`
}

type EntityInput struct {
	ID      string         `json:"id" jsonschema:"Unique entity id, e.g. doi:10.1000/xyz or orcid:0000-0001-2345-6789"`
	Kind    string         `json:"kind" jsonschema:"Entity kind: paper, author, institution, topic or any other label"`
	Title   string         `json:"title,omitempty" jsonschema:"Title or display name"`
	Authors []string       `json:"authors,omitempty" jsonschema:"Author names in order"`
	URI     string         `json:"uri,omitempty" jsonschema:"Canonical link"`
	Year    int            `json:"year,omitempty" jsonschema:"Publication year"`
	Props   map[string]any `json:"props,omitempty" jsonschema:"Free-form properties stored as JSON"`
	Tags    []string       `json:"tags,omitempty" jsonschema:"Tags to attach after storing"`
}

type EntityIDInput struct {
	ID string `json:"id" jsonschema:"Entity id"`
}

type ListEntitiesInput struct {
	Kind  string `json:"kind,omitempty" jsonschema:"Only list entities of this kind"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum number of entities; 0 lists all"`
}

type LinkInput struct {
	Src   string         `json:"src" jsonschema:"Source entity id"`
	Dst   string         `json:"dst" jsonschema:"Destination entity id"`
	Kind  string         `json:"kind" jsonschema:"Edge kind, e.g. cites, authored_by, affiliated_with"`
	Props map[string]any `json:"props,omitempty" jsonschema:"Free-form edge properties"`
}

type TagInput struct {
	ID   string   `json:"id" jsonschema:"Entity id"`
	Tags []string `json:"tags" jsonschema:"Tags to attach"`
}

type NeighborsInput struct {
	IDs       []string `json:"ids" jsonschema:"Entity ids to expand"`
	Direction string   `json:"direction,omitempty" jsonschema:"out, in or both (default both)"`
	Limit     int      `json:"limit,omitempty" jsonschema:"Maximum number of edges; 0 returns all"`
}

type WalkInput struct {
	IDs       []string `json:"ids" jsonschema:"Seed entity ids"`
	MaxDepth  int      `json:"maxDepth,omitempty" jsonschema:"Number of hops (default 1)"`
	Direction string   `json:"direction,omitempty" jsonschema:"out, in or both (default both)"`
	Limit     int      `json:"limit,omitempty" jsonschema:"Maximum number of visited entities; 0 means no cap"`
}

type ShortestPathInput struct {
	From      string `json:"from" jsonschema:"Start entity id"`
	To        string `json:"to" jsonschema:"End entity id"`
	Direction string `json:"direction,omitempty" jsonschema:"out, in or both (default both)"`
}

type AuthorInput struct {
	Name        string   `json:"name" jsonschema:"Full name: first last, or first middle last"`
	ORCID       string   `json:"orcid,omitempty" jsonschema:"ORCID iD, e.g. 0000-0001-2345-6789"`
	Affiliation string   `json:"affiliation,omitempty" jsonschema:"Institution; department; address; country"`
	Tags        []string `json:"tags,omitempty" jsonschema:"Research areas"`
}

type EmbeddingInput struct {
	ID        string    `json:"id" jsonschema:"Entity id"`
	Embedding []float32 `json:"embedding,omitempty" jsonschema:"Vector of exactly 768 components"`
	Text      string    `json:"text,omitempty" jsonschema:"Text to embed instead of passing a vector"`
}

type NearestInput struct {
	Embedding []float32 `json:"embedding,omitempty" jsonschema:"Query vector of exactly 768 components"`
	Text      string    `json:"text,omitempty" jsonschema:"Query text to embed instead of passing a vector"`
	K         int       `json:"k,omitempty" jsonschema:"Number of neighbours to return (default 10)"`
}

type HealthInput struct{}

// --- Result types ---

type StoreInfo struct {
	Engine      string    `json:"engine"`
	Path        string    `json:"path,omitempty"`
	State       string    `json:"state"`
	Description string    `json:"description"`
	Version     int       `json:"schemaVersion"`
	Dimension   int       `json:"dimension"`
	Index       IndexInfo `json:"index"`
	Relations   []string  `json:"relations"`
	VectorTopK  bool      `json:"vectorTopK"`
}

type IndexInfo struct {
	Name           string `json:"name"`
	On             string `json:"on"`
	Metric         string `json:"metric"`
	M              int    `json:"m"`
	EfConstruction int    `json:"efConstruction"`
	ElementType    string `json:"elementType"`
}

type EntityDetail struct {
	catalog.Entity
	Tags  []string       `json:"tags"`
	Edges []catalog.Edge `json:"edges"`
}

type Graph struct {
	Entities []catalog.Entity `json:"entities"`
	Edges    []catalog.Edge   `json:"edges"`
}

type Health struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Revision  string `json:"revision"`
	BuildDate string `json:"buildDate"`
	Engine    string `json:"engine"`
	State     string `json:"state"`
	Dimension int    `json:"dimension"`
	InUse     int    `json:"connsInUse"`
	Idle      int    `json:"connsIdle"`
}

// --- Handlers ---

func (s *MCPServer) handleStoreInfo(_ context.Context, _ *mcp.CallToolRequest, _ StoreInfoInput) (*mcp.CallToolResult, any, error) {
	def := s.st.Definition()
	info := StoreInfo{
		Engine:      s.st.Kind().String(),
		State:       s.st.State().String(),
		Description: s.st.String(),
		Version:     def.Version,
		Dimension:   def.Index.Dimension,
		Index:       indexInfo(def.Index),
		VectorTopK:  s.st.Capabilities().VectorTopK,
	}
	if p, ok := s.st.Path(); ok {
		info.Path = p
	}
	for _, r := range def.Relations {
		info.Relations = append(info.Relations, r.Name)
	}
	return toolJSON(info)
}

func (s *MCPServer) handleRunScript(ctx context.Context, _ *mcp.CallToolRequest, in RunScriptInput) (*mcp.CallToolResult, any, error) {
	params, err := scriptParams(in.Params, in.Named)
	if err != nil {
		return toolError("Invalid params: %v", err), nil, nil
	}
	mode := store.Immutable
	if in.Mutable {
		mode = store.Mutable
	}
	rs, err := s.st.Execute(ctx, in.Script, params, mode)
	if err != nil {
		return toolError("%v", err), nil, nil
	}
	rs.ReadableBlobs()
	return toolJSON(rs)
}

func (s *MCPServer) handlePutEntity(ctx context.Context, _ *mcp.CallToolRequest, in EntityInput) (*mcp.CallToolResult, any, error) {
	e := catalog.Entity{
		ID:      in.ID,
		Kind:    in.Kind,
		Title:   in.Title,
		Authors: in.Authors,
		URI:     in.URI,
		Year:    in.Year,
		Props:   in.Props,
	}
	if err := s.cat.PutEntity(ctx, e); err != nil {
		return toolError("Failed to store entity: %v", err), nil, nil
	}
	if len(in.Tags) > 0 {
		if err := s.cat.Tag(ctx, in.ID, in.Tags...); err != nil {
			return toolError("Stored entity %s but tagging failed: %v", in.ID, err), nil, nil
		}
	}
	return toolText("Stored entity %s", in.ID), nil, nil
}

func (s *MCPServer) handleGetEntity(ctx context.Context, _ *mcp.CallToolRequest, in EntityIDInput) (*mcp.CallToolResult, any, error) {
	e, err := s.cat.GetEntity(ctx, in.ID)
	if err != nil {
		return toolError("Failed to get entity: %v", err), nil, nil
	}
	tags, err := s.cat.Tags(ctx, in.ID)
	if err != nil {
		return toolError("Failed to get tags: %v", err), nil, nil
	}
	edges, err := s.cat.Edges(ctx, in.ID, catalog.Both)
	if err != nil {
		return toolError("Failed to get edges: %v", err), nil, nil
	}
	return toolJSON(EntityDetail{Entity: e, Tags: tags, Edges: edges})
}

func (s *MCPServer) handleListEntities(ctx context.Context, _ *mcp.CallToolRequest, in ListEntitiesInput) (*mcp.CallToolResult, any, error) {
	if in.Limit < 0 {
		return toolError("limit must not be negative"), nil, nil
	}
	es, err := s.cat.ListEntities(ctx, in.Kind, in.Limit)
	if err != nil {
		return toolError("Failed to list entities: %v", err), nil, nil
	}
	return toolJSON(es)
}

func (s *MCPServer) handleDeleteEntity(ctx context.Context, _ *mcp.CallToolRequest, in EntityIDInput) (*mcp.CallToolResult, any, error) {
	if err := s.cat.DeleteEntity(ctx, in.ID); err != nil {
		return toolError("Failed to delete entity: %v", err), nil, nil
	}
	return toolText("Deleted entity %s", in.ID), nil, nil
}

func (s *MCPServer) handleLinkEntities(ctx context.Context, _ *mcp.CallToolRequest, in LinkInput) (*mcp.CallToolResult, any, error) {
	e := catalog.Edge{Src: in.Src, Dst: in.Dst, Kind: in.Kind, Props: in.Props}
	if err := s.cat.Link(ctx, e); err != nil {
		return toolError("Failed to link entities: %v", err), nil, nil
	}
	return toolText("Linked %s -[%s]-> %s", in.Src, in.Kind, in.Dst), nil, nil
}

func (s *MCPServer) handleTagEntity(ctx context.Context, _ *mcp.CallToolRequest, in TagInput) (*mcp.CallToolResult, any, error) {
	if len(in.Tags) == 0 {
		return toolError("at least one tag is required"), nil, nil
	}
	if err := s.cat.Tag(ctx, in.ID, in.Tags...); err != nil {
		return toolError("Failed to tag entity: %v", err), nil, nil
	}
	return toolText("Tagged %s with %d tag(s)", in.ID, len(in.Tags)), nil, nil
}

func (s *MCPServer) handleNeighbors(ctx context.Context, _ *mcp.CallToolRequest, in NeighborsInput) (*mcp.CallToolResult, any, error) {
	dir, err := direction(in.Direction)
	if err != nil {
		return toolError("%v", err), nil, nil
	}
	ents, edges, err := s.cat.Neighbors(ctx, in.IDs, dir, in.Limit)
	if err != nil {
		return toolError("Neighbors failed: %v", err), nil, nil
	}
	return toolJSON(Graph{Entities: ents, Edges: edges})
}

func (s *MCPServer) handleWalk(ctx context.Context, _ *mcp.CallToolRequest, in WalkInput) (*mcp.CallToolResult, any, error) {
	dir, err := direction(in.Direction)
	if err != nil {
		return toolError("%v", err), nil, nil
	}
	ents, edges, err := s.cat.Walk(ctx, in.IDs, in.MaxDepth, dir, in.Limit)
	if err != nil {
		return toolError("Walk failed: %v", err), nil, nil
	}
	return toolJSON(Graph{Entities: ents, Edges: edges})
}

func (s *MCPServer) handleShortestPath(ctx context.Context, _ *mcp.CallToolRequest, in ShortestPathInput) (*mcp.CallToolResult, any, error) {
	dir, err := direction(in.Direction)
	if err != nil {
		return toolError("%v", err), nil, nil
	}
	ents, edges, err := s.cat.ShortestPath(ctx, in.From, in.To, dir)
	if err != nil {
		return toolError("Shortest path failed: %v", err), nil, nil
	}
	return toolJSON(Graph{Entities: ents, Edges: edges})
}

func (s *MCPServer) handlePutAuthor(ctx context.Context, _ *mcp.CallToolRequest, in AuthorInput) (*mcp.CallToolResult, any, error) {
	name, err := domain.ParseName(in.Name)
	if err != nil {
		return toolError("Invalid name: %v", err), nil, nil
	}
	var opts []domain.AuthorOption
	if in.ORCID != "" {
		opts = append(opts, domain.WithORCID(in.ORCID))
	}
	if in.Affiliation != "" {
		opts = append(opts, domain.WithAffiliation(in.Affiliation))
	}
	if len(in.Tags) > 0 {
		opts = append(opts, domain.WithTags(in.Tags...))
	}
	a, err := domain.NewAuthor(name, opts...)
	if err != nil {
		return toolError("Invalid author: %v", err), nil, nil
	}
	id, err := s.cat.PutAuthor(ctx, a)
	if err != nil {
		return toolError("Failed to store author: %v", err), nil, nil
	}
	return toolText("Stored author %s", id), nil, nil
}

func (s *MCPServer) handlePutEmbedding(ctx context.Context, _ *mcp.CallToolRequest, in EmbeddingInput) (*mcp.CallToolResult, any, error) {
	var err error
	switch {
	case len(in.Embedding) > 0 && in.Text != "":
		return toolError("pass either embedding or text, not both"), nil, nil
	case len(in.Embedding) > 0:
		err = s.cat.PutEmbedding(ctx, in.ID, in.Embedding)
	case in.Text != "":
		err = s.cat.EmbedText(ctx, in.ID, in.Text)
	default:
		return toolError("one of embedding or text is required"), nil, nil
	}
	if err != nil {
		return toolError("Failed to store embedding: %v", err), nil, nil
	}
	return toolText("Stored embedding for %s", in.ID), nil, nil
}

func (s *MCPServer) handleNearest(ctx context.Context, _ *mcp.CallToolRequest, in NearestInput) (*mcp.CallToolResult, any, error) {
	k := in.K
	if k == 0 {
		k = defaultNearest
	}
	var (
		hits []catalog.Neighbor
		err  error
	)
	switch {
	case len(in.Embedding) > 0 && in.Text != "":
		return toolError("pass either embedding or text, not both"), nil, nil
	case len(in.Embedding) > 0:
		hits, err = s.cat.Nearest(ctx, in.Embedding, k)
	case in.Text != "":
		hits, err = s.cat.SearchText(ctx, in.Text, k)
	default:
		return toolError("one of embedding or text is required"), nil, nil
	}
	if err != nil {
		return toolError("Nearest search failed: %v", err), nil, nil
	}
	return toolJSON(hits)
}

func (s *MCPServer) handleHealth(_ context.Context, _ *mcp.CallToolRequest, _ HealthInput) (*mcp.CallToolResult, any, error) {
	inUse, idle := s.st.PoolStats()
	metrics.Default().ObservePoolStats(inUse, idle)
	return toolJSON(Health{
		Name:      serverName,
		Version:   buildinfo.Version,
		Revision:  buildinfo.Revision,
		BuildDate: buildinfo.BuildDate,
		Engine:    s.st.Kind().String(),
		State:     s.st.State().String(),
		Dimension: s.st.Definition().Index.Dimension,
		InUse:     inUse,
		Idle:      idle,
	})
}

// --- Helpers ---

// direction parses a tool's direction argument. Unlike the catalog, tools
// default to both.
func direction(s string) (catalog.Direction, error) {
	if s == "" {
		return catalog.Both, nil
	}
	return catalog.ParseDirection(s)
}

// scriptParams converts JSON-decoded values into bindable ones. Integral
// numbers bind as integers; objects and arrays bind as JSON text.
func scriptParams(positional []any, named map[string]any) (store.Params, error) {
	out := make(store.Params, 0, len(positional)+len(named))
	for i, v := range positional {
		b, err := bindable(v)
		if err != nil {
			return nil, fmt.Errorf("param %d: %w", i+1, err)
		}
		out = append(out, b)
	}
	for name, v := range named {
		b, err := bindable(v)
		if err != nil {
			return nil, fmt.Errorf("param %s: %w", name, err)
		}
		out = append(out, sql.Named(name, b))
	}
	return out, nil
}

func bindable(v any) (any, error) {
	switch x := v.(type) {
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x), nil
		}
		return x, nil
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	default:
		return v, nil
	}
}

func indexInfo(v schema.VectorIndex) IndexInfo {
	return IndexInfo{
		Name:           v.Name,
		On:             v.Relation + "." + v.Column,
		Metric:         string(v.Metric),
		M:              v.M,
		EfConstruction: v.EfConstruction,
		ElementType:    string(v.ElementType),
	}
}

func toolText(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
	}
}

func toolError(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

func toolJSON(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError("Failed to marshal response: %v", err), nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}
