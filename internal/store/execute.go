package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/poirot-research/poirot/internal/metrics"
)

// Mode states whether a script may change the store.
type Mode int

const (
	// Immutable scripts run read-only and never change the store. Any write
	// fails with a ScriptError.
	Immutable Mode = iota
	// Mutable scripts may change the store. A script commits as a whole or
	// not at all.
	Mutable
)

func (m Mode) String() string {
	if m == Mutable {
		return "mutable"
	}
	return "immutable"
}

// ParseMode accepts "mutable" and "immutable".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mutable", "rw", "write":
		return Mutable, nil
	case "immutable", "ro", "read", "":
		return Immutable, nil
	default:
		return Immutable, fmt.Errorf("unknown mode %q", s)
	}
}

// Execute runs script against the store. All statements of the script run in
// one transaction; the returned rows are those of the last statement that
// produced a result set, or an empty RowSet when none did.
//
// Failures are *QueryError values: ScriptError for problems with the script
// itself, EngineError for storage failures. In Mutable mode a failed script
// leaves the store as it was. Statements that would end the transaction
// (BEGIN, COMMIT, END, ROLLBACK without TO, RELEASE, ATTACH, DETACH, VACUUM)
// or lift the read-only guard (PRAGMA query_only, PRAGMA writable_schema)
// are rejected with a ScriptError before anything runs.
func (s *Store) Execute(ctx context.Context, script string, params Params, mode Mode) (*RowSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != Ready || s.db == nil {
		return nil, engineErr("", ErrClosed)
	}

	done := metrics.Time(s.rec, "execute_"+mode.String())
	rs, err := s.run(ctx, script, params, mode)
	done(err == nil)
	if err != nil {
		s.log.DebugContext(ctx, "script failed", "mode", mode.String(), "error", err)
		return nil, err
	}
	return rs, nil
}

// run executes script without checking the lifecycle state. Initialization
// uses it to apply the definitions.
func (s *Store) run(ctx context.Context, script string, params Params, mode Mode) (rs *RowSet, err error) {
	stmts, err := splitScript(script)
	if err != nil {
		return nil, scriptErr("", err)
	}
	if len(stmts) == 0 {
		return nil, scriptErr("", errors.New("script has no statements"))
	}
	if err := checkStatements(stmts); err != nil {
		return nil, err
	}
	args, err := bind(stmts, params)
	if err != nil {
		return nil, scriptErr("", err)
	}

	var tx *sql.Tx
	if mode == Immutable {
		conn, err := s.db.Conn(ctx)
		if err != nil {
			return nil, engineErr("", fmt.Errorf("failed to acquire connection: %w", err))
		}
		defer conn.Close()
		if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
			return nil, engineErr("", fmt.Errorf("failed to enter read-only mode: %w", err))
		}
		defer func() {
			// A connection still in read-only mode must not go back to the
			// pool.
			if _, rerr := conn.ExecContext(context.Background(), "PRAGMA query_only = OFF"); rerr != nil {
				s.log.Warn("discarding connection stuck in read-only mode", "error", rerr)
				_ = conn.Raw(func(any) error { return driver.ErrBadConn })
			}
		}()
		tx, err = conn.BeginTx(ctx, nil)
		if err != nil {
			return nil, engineErr("", fmt.Errorf("failed to begin transaction: %w", err))
		}
	} else {
		tx, err = s.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, engineErr("", fmt.Errorf("failed to begin transaction: %w", err))
		}
	}
	defer func() {
		if mode == Immutable || err != nil {
			_ = tx.Rollback()
		}
	}()

	rs = &RowSet{Rows: [][]any{}}
	for i, st := range stmts {
		if st.returnsRows() {
			out, err := query(ctx, tx, st.text, args[i])
			if err != nil {
				return nil, classify(mode, st.text, err)
			}
			rs = out
			continue
		}
		if _, err := tx.ExecContext(ctx, st.text, args[i]...); err != nil {
			return nil, classify(mode, st.text, err)
		}
	}

	if mode == Mutable {
		if err := tx.Commit(); err != nil {
			return nil, classify(mode, "", fmt.Errorf("commit failed: %w", err))
		}
	}
	return rs, nil
}

func query(ctx context.Context, tx *sql.Tx, text string, args []any) (*RowSet, error) {
	rows, err := tx.QueryContext(ctx, text, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	rs := &RowSet{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rs.Rows = append(rs.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rs, nil
}
