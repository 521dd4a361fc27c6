// Package store owns the lifecycle of one knowledge store: it opens the
// selected engine, applies the fixed relation and vector index definitions,
// and executes caller scripts against the ready store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/poirot-research/poirot/internal/engine"
	"github.com/poirot-research/poirot/internal/metrics"
	"github.com/poirot-research/poirot/internal/schema"
)

// State is a step of the store lifecycle.
type State int

const (
	Uninitialized State = iota
	EngineOpened
	SchemaApplied
	IndexApplied
	Ready
	Failed
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case EngineOpened:
		return "engine-opened"
	case SchemaApplied:
		return "schema-applied"
	case IndexApplied:
		return "index-applied"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// PoolConfig tunes the connection pool of file and directory engines.
// In-memory stores always use a single connection.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type options struct {
	logger   *slog.Logger
	def      schema.Definition
	recorder metrics.Recorder
	pool     PoolConfig
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger for lifecycle events. The default discards.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithDefinition replaces the relation and index definitions. It exists for
// tests that exercise the failure paths.
func WithDefinition(d schema.Definition) Option {
	return func(o *options) { o.def = d }
}

// WithRecorder sets the metrics recorder. The default is the process-wide
// recorder from the metrics package.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithPool sets the connection pool limits.
func WithPool(p PoolConfig) Option {
	return func(o *options) { o.pool = p }
}

// Store is an initialized knowledge store. A Store is safe for concurrent
// use; each Execute call runs in its own transaction.
type Store struct {
	kind    engine.Kind
	path    string
	hasPath bool
	db      *sql.DB
	def     schema.Definition
	log     *slog.Logger
	rec     metrics.Recorder

	mu    sync.RWMutex
	state State
	caps  Capabilities
}

// Open creates the engine at path, applies the relation definitions and then
// the vector index definition. It returns a Ready store or an *InitError
// naming the step that failed; no handle is returned on failure.
//
// path is ignored for the in-memory engine. Opening an existing store
// verifies its relations and index against the definitions and keeps its
// data.
func Open(ctx context.Context, kind engine.Kind, path string, opts ...Option) (*Store, error) {
	o := options{
		logger:   slog.New(slog.DiscardHandler),
		def:      schema.Current,
		recorder: metrics.Default(),
		pool: PoolConfig{
			MaxOpenConns:    8,
			MaxIdleConns:    4,
			ConnMaxIdleTime: 60 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Store{
		kind:  kind,
		def:   o.def,
		log:   o.logger.With("engine", kind.String()),
		rec:   o.recorder,
		state: Uninitialized,
	}
	s.path, s.hasPath = engine.Resolve(kind, path)

	done := metrics.Time(s.rec, "store_open")
	if err := s.initialize(ctx, o.pool); err != nil {
		done(false)
		return nil, err
	}
	done(true)
	s.log.InfoContext(ctx, "store ready", "path", s.location())
	return s, nil
}

func (s *Store) initialize(ctx context.Context, pool PoolConfig) error {
	if err := s.openEngine(ctx, pool); err != nil {
		return s.fail(ctx, EngineOpenFailed, err)
	}
	s.state = EngineOpened

	done := metrics.Time(s.rec, "schema_apply")
	if err := s.applySchema(ctx); err != nil {
		done(false)
		return s.fail(ctx, SchemaFailed, err)
	}
	done(true)
	s.state = SchemaApplied

	done = metrics.Time(s.rec, "index_apply")
	if err := s.applyIndex(ctx); err != nil {
		done(false)
		return s.fail(ctx, IndexFailed, err)
	}
	done(true)
	s.state = IndexApplied

	if err := s.recordVersion(ctx); err != nil {
		return s.fail(ctx, IndexFailed, err)
	}
	s.caps = s.detectCapabilities(ctx)
	s.state = Ready
	return nil
}

// fail releases the engine and reports the step that failed.
func (s *Store) fail(ctx context.Context, kind InitErrorKind, err error) error {
	reached := s.state
	s.state = Failed
	if s.db != nil {
		if cerr := s.db.Close(); cerr != nil {
			s.log.WarnContext(ctx, "closing engine after failed open", "error", cerr)
		}
		s.db = nil
	}
	s.log.ErrorContext(ctx, "store initialization failed", "step", kind.String(), "reached", reached.String(), "error", err)
	path := ""
	if s.hasPath {
		path = s.path
	}
	return &InitError{Kind: kind, Engine: s.kind, Path: path, Reached: reached, Err: err}
}

func (s *Store) openEngine(ctx context.Context, pool PoolConfig) error {
	if !s.kind.Valid() {
		return fmt.Errorf("unknown engine kind %d", int(s.kind))
	}
	if s.kind.RequiresPath() && !s.hasPath {
		return fmt.Errorf("the %s engine requires a path", s.kind)
	}
	loc, err := engine.Locate(s.kind, s.path)
	if err != nil {
		return err
	}
	if s.kind == engine.LogStructured {
		if fi, err := os.Stat(loc.Dir); err == nil && !fi.IsDir() {
			return fmt.Errorf("%s exists and is not a directory", loc.Dir)
		}
	}
	if loc.Dir != "" {
		if err := os.MkdirAll(loc.Dir, 0o755); err != nil {
			return fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	if loc.File != "" {
		if fi, err := os.Stat(loc.File); err == nil && fi.IsDir() {
			return fmt.Errorf("%s is a directory", loc.File)
		}
	}

	s.log.DebugContext(ctx, "opening engine", "dsn", loc.DSN)
	db, err := sql.Open("libsql", loc.DSN)
	if err != nil {
		return fmt.Errorf("failed to create database connector: %w", err)
	}
	s.db = db

	if loc.SingleConn {
		// Every connection to a named in-memory database shares it, and it
		// disappears with the last one. Pin one connection for the lifetime
		// of the store.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxIdleTime(0)
		db.SetConnMaxLifetime(0)
	} else {
		if pool.MaxOpenConns > 0 {
			db.SetMaxOpenConns(pool.MaxOpenConns)
		}
		if pool.MaxIdleConns > 0 {
			db.SetMaxIdleConns(pool.MaxIdleConns)
		}
		if pool.ConnMaxIdleTime > 0 {
			db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
		}
		if pool.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(pool.ConnMaxLifetime)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	if loc.WAL {
		var mode string
		if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&mode); err != nil {
			return fmt.Errorf("failed to enable write-ahead log: %w", err)
		}
		if !strings.EqualFold(mode, "wal") {
			return fmt.Errorf("engine refused write-ahead log, journal mode is %q", mode)
		}
	}
	return nil
}

func (s *Store) applySchema(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read layout version: %w", err)
	}
	if version > s.def.Version {
		return fmt.Errorf("store layout version %d is newer than supported version %d", version, s.def.Version)
	}

	if _, err := s.run(ctx, s.def.Schema, nil, Mutable); err != nil {
		return err
	}
	for _, rel := range s.def.Relations {
		if err := s.verifyRelation(ctx, rel); err != nil {
			return err
		}
	}
	s.log.DebugContext(ctx, "relations applied", "count", len(s.def.Relations))
	return nil
}

func (s *Store) applyIndex(ctx context.Context) error {
	idx := s.def.Index
	if err := idx.Validate(); err != nil {
		return err
	}
	col, err := s.column(ctx, idx.Relation, idx.Column)
	if err != nil {
		return err
	}
	if normalizeType(col.Type) != normalizeType(idx.ColumnType()) {
		return fmt.Errorf("%w: column %s.%s is %s, index %s needs %s",
			schema.ErrDimensionMismatch, idx.Relation, idx.Column, col.Type, idx.Name, idx.ColumnType())
	}

	if _, err := s.run(ctx, idx.Script(), nil, Mutable); err != nil {
		return err
	}

	var ddl sql.NullString
	err = s.db.QueryRowContext(ctx,
		"SELECT sql FROM sqlite_master WHERE type = 'index' AND name = ?", idx.Name).Scan(&ddl)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("index %s was not created", idx.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to read back index %s: %w", idx.Name, err)
	}
	existing, err := schema.ParseIndexDDL(ddl.String)
	if err != nil {
		return fmt.Errorf("index %s exists but is incompatible: %w", idx.Name, err)
	}
	if diffs := idx.Diff(existing); len(diffs) > 0 {
		return fmt.Errorf("index %s exists with different parameters: %s", idx.Name, strings.Join(diffs, "; "))
	}
	s.log.DebugContext(ctx, "vector index applied", "index", idx.Name, "dimension", idx.Dimension, "metric", string(idx.Metric))
	return nil
}

func (s *Store) recordVersion(ctx context.Context) error {
	// PRAGMA arguments cannot be bound.
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", s.def.Version)); err != nil {
		return fmt.Errorf("%w: %w", ErrVersionNotRecorded, err)
	}
	return nil
}

func (s *Store) tableInfo(ctx context.Context, relation string) ([]schema.Column, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, type, "notnull", pk FROM pragma_table_info(?)`, relation)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect relation %s: %w", relation, err)
	}
	defer rows.Close()

	var cols []schema.Column
	for rows.Next() {
		var (
			c       schema.Column
			notNull int64
			pk      int64
		)
		if err := rows.Scan(&c.Name, &c.Type, &notNull, &pk); err != nil {
			return nil, fmt.Errorf("failed to inspect relation %s: %w", relation, err)
		}
		c.NotNull = notNull != 0
		c.PK = int(pk)
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to inspect relation %s: %w", relation, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("relation %s does not exist", relation)
	}
	return cols, nil
}

func (s *Store) column(ctx context.Context, relation, name string) (schema.Column, error) {
	cols, err := s.tableInfo(ctx, relation)
	if err != nil {
		return schema.Column{}, err
	}
	for _, c := range cols {
		if strings.EqualFold(c.Name, name) {
			return c, nil
		}
	}
	return schema.Column{}, fmt.Errorf("relation %s has no column %s", relation, name)
}

func (s *Store) verifyRelation(ctx context.Context, want schema.Relation) error {
	got, err := s.tableInfo(ctx, want.Name)
	if err != nil {
		return err
	}
	var diffs []string
	if len(got) != len(want.Columns) {
		diffs = append(diffs, fmt.Sprintf("%d columns, want %d", len(got), len(want.Columns)))
	}
	byName := make(map[string]schema.Column, len(got))
	for _, c := range got {
		byName[strings.ToLower(c.Name)] = c
	}
	for _, w := range want.Columns {
		g, ok := byName[strings.ToLower(w.Name)]
		switch {
		case !ok:
			diffs = append(diffs, "missing column "+w.Name)
		case normalizeType(g.Type) != normalizeType(w.Type):
			diffs = append(diffs, fmt.Sprintf("column %s is %s, want %s", w.Name, g.Type, w.Type))
		case g.PK != w.PK:
			diffs = append(diffs, fmt.Sprintf("column %s has key position %d, want %d", w.Name, g.PK, w.PK))
		case w.NotNull && !g.NotNull && w.PK == 0:
			diffs = append(diffs, fmt.Sprintf("column %s is nullable", w.Name))
		}
	}
	if len(diffs) > 0 {
		return fmt.Errorf("relation %s has an incompatible shape: %s", want.Name, strings.Join(diffs, "; "))
	}
	return nil
}

func normalizeType(t string) string {
	return strings.ToUpper(strings.Join(strings.Fields(t), ""))
}

// Kind reports the engine the store was opened with.
func (s *Store) Kind() engine.Kind { return s.kind }

// Path reports the storage location. ok is false for the in-memory engine.
func (s *Store) Path() (path string, ok bool) { return s.path, s.hasPath }

// State reports the lifecycle state: Ready until Close, then Closed.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Definition returns the definitions the store was initialized with.
func (s *Store) Definition() schema.Definition { return s.def }

func (s *Store) location() string {
	if !s.hasPath {
		return "in-memory"
	}
	return s.path
}

// String describes the store, e.g. "Store using SQLite engine at test.db".
func (s *Store) String() string {
	return fmt.Sprintf("Store using %s engine at %s", s.kind, s.location())
}

// PoolStats reports connections in use and idle, and forwards them to the
// metrics recorder.
func (s *Store) PoolStats() (inUse, idle int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return 0, 0
	}
	st := s.db.Stats()
	s.rec.ObservePoolStats(st.InUse, st.Idle)
	return st.InUse, st.Idle
}

// Close releases the engine. Data written to file and directory engines
// persists; an in-memory store is discarded. Close is idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return nil
	}
	s.state = Closed
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.log.Info("store closed", "path", s.location())
	return err
}
