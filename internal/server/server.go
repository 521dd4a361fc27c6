// Package server exposes a store and its catalog as MCP tools.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/poirot-research/poirot/internal/buildinfo"
	"github.com/poirot-research/poirot/internal/catalog"
	"github.com/poirot-research/poirot/internal/metrics"
	"github.com/poirot-research/poirot/internal/store"
)

const serverName = "poirot"

// poolStatsInterval is how often pool gauges are refreshed while serving.
const poolStatsInterval = 5 * time.Second

// MCPServer handles MCP protocol communication
type MCPServer struct {
	server *mcp.Server
	st     *store.Store
	cat    *catalog.Catalog
	log    *slog.Logger
}

// Option configures an MCPServer.
type Option func(*MCPServer)

// WithLogger sets the logger. The default discards.
func WithLogger(l *slog.Logger) Option {
	return func(s *MCPServer) {
		if l != nil {
			s.log = l
		}
	}
}

// NewMCPServer creates a new MCP server over st. cat must wrap st.
func NewMCPServer(st *store.Store, cat *catalog.Catalog, opts ...Option) *MCPServer {
	s := &MCPServer{
		server: mcp.NewServer(&mcp.Implementation{
			Name:    serverName,
			Version: buildinfo.Version,
		}, nil),
		st:  st,
		cat: cat,
		log: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupToolHandlers()
	return s
}

// MCP returns the underlying server, for callers that bring their own
// transport.
func (s *MCPServer) MCP() *mcp.Server { return s.server }

// setupToolHandlers registers all MCP tools
func (s *MCPServer) setupToolHandlers() {
	addTool(s, &mcp.Tool{
		Name:        "store_info",
		Description: "Describe the open store: engine, location, lifecycle state and schema definition",
	}, s.handleStoreInfo)

	addTool(s, &mcp.Tool{
		Name: "run_script",
		Description: "Run a SQL script against the store as one transaction and return the rows of its " +
			"last row-returning statement. Read-only unless mutable is true.",
	}, s.handleRunScript)

	// Catalog tools
	addTool(s, &mcp.Tool{
		Name:        "put_entity",
		Description: "Create or replace an entity (paper, author, institution, topic, ...)",
	}, s.handlePutEntity)

	addTool(s, &mcp.Tool{
		Name:        "get_entity",
		Description: "Fetch an entity with its tags and edges",
	}, s.handleGetEntity)

	addTool(s, &mcp.Tool{
		Name:        "list_entities",
		Description: "List entities ordered by id, optionally filtered by kind",
	}, s.handleListEntities)

	addTool(s, &mcp.Tool{
		Name:        "delete_entity",
		Description: "Delete an entity together with its edges, tags and embedding",
	}, s.handleDeleteEntity)

	addTool(s, &mcp.Tool{
		Name:        "link_entities",
		Description: "Create or update a directed typed edge between two existing entities",
	}, s.handleLinkEntities)

	addTool(s, &mcp.Tool{
		Name:        "tag_entity",
		Description: "Attach one or more tags to an existing entity",
	}, s.handleTagEntity)

	addTool(s, &mcp.Tool{
		Name:        "neighbors",
		Description: "Return the entities one hop away from the given ids and the connecting edges",
	}, s.handleNeighbors)

	addTool(s, &mcp.Tool{
		Name:        "walk",
		Description: "Expand breadth-first from seed ids up to a depth and return the visited subgraph",
	}, s.handleWalk)

	addTool(s, &mcp.Tool{
		Name:        "shortest_path",
		Description: "Find a shortest path of edges between two entities",
	}, s.handleShortestPath)

	addTool(s, &mcp.Tool{
		Name:        "put_author",
		Description: "Store an author from a full name, optional ORCID, affiliation string and tags",
	}, s.handlePutAuthor)

	// Vector tools
	addTool(s, &mcp.Tool{
		Name: "put_embedding",
		Description: "Store the 768-dimensional embedding of an entity. Pass the vector directly, or text " +
			"to embed with the configured provider.",
	}, s.handlePutEmbedding)

	addTool(s, &mcp.Tool{
		Name:        "nearest",
		Description: "Find the k entities nearest to a query vector or query text by L2 distance",
	}, s.handleNearest)

	addTool(s, &mcp.Tool{
		Name:        "health_check",
		Description: "Report server version, store state and connection pool usage",
	}, s.handleHealth)
}

// addTool registers h under t and times each call.
func addTool[In any](s *MCPServer, t *mcp.Tool, h mcp.ToolHandlerFor[In, any]) {
	name := t.Name
	mcp.AddTool(s.server, t, func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, any, error) {
		done := metrics.TimeTool(name)
		res, out, err := h(ctx, req, in)
		ok := err == nil && (res == nil || !res.IsError)
		done(ok)
		if !ok {
			s.log.DebugContext(ctx, "tool failed", "tool", name, "error", err)
		}
		return res, out, err
	})
}

// reportPoolStats refreshes pool gauges until ctx is done.
func (s *MCPServer) reportPoolStats(ctx context.Context) {
	ticker := time.NewTicker(poolStatsInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				inUse, idle := s.st.PoolStats()
				metrics.Default().ObservePoolStats(inUse, idle)
			}
		}
	}()
}

// Run serves MCP over stdin/stdout until ctx is done or the client
// disconnects.
func (s *MCPServer) Run(ctx context.Context) error {
	s.reportPoolStats(ctx)
	s.log.InfoContext(ctx, "serving MCP over stdio", "store", s.st.String())
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Handler returns a streamable HTTP handler for the server.
func (s *MCPServer) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.server }, nil)
}

// RunHTTP serves MCP over streamable HTTP at addr and endpoint until ctx is
// done.
func (s *MCPServer) RunHTTP(ctx context.Context, addr, endpoint string) error {
	s.reportPoolStats(ctx)
	mux := http.NewServeMux()
	mux.Handle(endpoint, s.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.InfoContext(ctx, "serving MCP over HTTP", "addr", addr, "endpoint", endpoint, "store", s.st.String())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
