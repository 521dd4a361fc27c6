package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/poirot-research/poirot/internal/engine"
)

// InitErrorKind identifies the initialization step that failed.
type InitErrorKind int

const (
	EngineOpenFailed InitErrorKind = iota + 1
	SchemaFailed
	IndexFailed
)

var (
	ErrEngineOpenFailed = errors.New("engine open failed")
	ErrSchemaFailed     = errors.New("schema failed")
	ErrIndexFailed      = errors.New("index failed")

	// ErrVersionNotRecorded is wrapped by an IndexFailed error whose index
	// was applied but whose layout version could not be written.
	ErrVersionNotRecorded = errors.New("layout version not recorded")
)

func (k InitErrorKind) sentinel() error {
	switch k {
	case EngineOpenFailed:
		return ErrEngineOpenFailed
	case SchemaFailed:
		return ErrSchemaFailed
	case IndexFailed:
		return ErrIndexFailed
	default:
		return errors.New("initialization failed")
	}
}

func (k InitErrorKind) String() string {
	return k.sentinel().Error()
}

// InitError is returned by Open. No store handle exists when it is returned.
//
// Reached is the last state the store got to before the failing step. For
// file and directory engines anything applied up to that point is still on
// disk: an IndexFailed error has Reached == SchemaApplied and the relations
// exist.
//
// Recording the layout version closes the index step. When that write fails
// the error is IndexFailed with Reached == IndexApplied, and it wraps
// ErrVersionNotRecorded.
type InitError struct {
	Kind    InitErrorKind
	Engine  engine.Kind
	Path    string
	Reached State
	Err     error
}

func (e *InitError) Error() string {
	where := e.Path
	if where == "" {
		where = "in-memory"
	}
	return fmt.Sprintf("%s: %s engine at %s: %v", e.Kind, e.Engine, where, e.Err)
}

// Unwrap exposes both the step sentinel and the cause to errors.Is/As.
func (e *InitError) Unwrap() []error {
	return []error{e.Kind.sentinel(), e.Err}
}

// QueryErrorKind separates caller mistakes from storage failures.
type QueryErrorKind int

const (
	// ScriptError is a malformed or semantically invalid script: syntax,
	// unknown relation, type or constraint violation, bad parameters.
	ScriptError QueryErrorKind = iota + 1
	// EngineError is an I/O or storage failure while executing.
	EngineError
)

var (
	ErrScript = errors.New("script error")
	ErrEngine = errors.New("engine error")
	// ErrClosed is wrapped in an EngineError when a closed store is used.
	ErrClosed = errors.New("store is closed")
)

func (k QueryErrorKind) sentinel() error {
	if k == EngineError {
		return ErrEngine
	}
	return ErrScript
}

func (k QueryErrorKind) String() string {
	return k.sentinel().Error()
}

// QueryError is returned by Execute. Neither kind is retried internally.
type QueryError struct {
	Kind QueryErrorKind
	// Statement is the statement that failed, empty when the failure is not
	// tied to one.
	Statement string
	Err       error
}

func (e *QueryError) Error() string {
	if e.Statement == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v (in %q)", e.Kind, e.Err, abbreviate(e.Statement, 120))
}

func (e *QueryError) Unwrap() []error {
	return []error{e.Kind.sentinel(), e.Err}
}

func scriptErr(statement string, err error) *QueryError {
	return &QueryError{Kind: ScriptError, Statement: statement, Err: err}
}

func engineErr(statement string, err error) *QueryError {
	return &QueryError{Kind: EngineError, Statement: statement, Err: err}
}

// engineMarkers are fragments of SQLite result messages that indicate the
// storage layer failed rather than the script.
var engineMarkers = []string{
	"disk i/o error",
	"i/o error",
	"database is locked",
	"database table is locked",
	"unable to open database",
	"database disk image is malformed",
	"file is not a database",
	"out of memory",
	"database or disk is full",
	"interrupted",
	"cannot open",
}

// classify turns an error raised while running a caller statement into a
// QueryError.
func classify(mode Mode, statement string, err error) *QueryError {
	if isEngineFailure(mode, err) {
		return engineErr(statement, err)
	}
	return scriptErr(statement, err)
}

func isEngineFailure(mode Mode, err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "readonly database") {
		// Immutable scripts run with query_only on, so a write attempt there
		// is the script's fault.
		return mode == Mutable
	}
	for _, m := range engineMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func abbreviate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
