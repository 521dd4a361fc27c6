// Package engine enumerates the storage engines a store can be opened on and
// derives the on-disk location each one needs.
package engine

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Kind selects the backing storage engine.
type Kind int

const (
	// InMemory keeps everything in process memory; nothing survives Close.
	InMemory Kind = iota
	// EmbeddedFile stores the database in a single file.
	EmbeddedFile
	// LogStructured stores the database inside a directory and appends writes
	// to a write-ahead log that is checkpointed into the main file.
	LogStructured
)

// LogStructuredFile is the database file created inside a LogStructured directory.
const LogStructuredFile = "store.db"

// String returns the display name used in diagnostics.
func (k Kind) String() string {
	switch k {
	case InMemory:
		return "In-Memory"
	case EmbeddedFile:
		return "SQLite"
	case LogStructured:
		return "RocksDB"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Valid reports whether k is one of the known engines.
func (k Kind) Valid() bool {
	return k >= InMemory && k <= LogStructured
}

// RequiresPath reports whether opening k needs a filesystem path.
func (k Kind) RequiresPath() bool {
	return k == EmbeddedFile || k == LogStructured
}

// ParseKind maps a configuration value to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mem", "memory", "in-memory", "inmemory":
		return InMemory, nil
	case "sqlite", "file", "embedded", "embedded-file":
		return EmbeddedFile, nil
	case "rocksdb", "log", "log-structured", "lsm":
		return LogStructured, nil
	default:
		return 0, fmt.Errorf("unknown engine %q (expected mem, sqlite or rocksdb)", s)
	}
}

// Resolve returns the path a store of kind k will be reported at.
// InMemory ignores path and always resolves to absent. The other kinds
// resolve to path unchanged; ok is false when it is empty.
func Resolve(k Kind, path string) (resolved string, ok bool) {
	if !k.RequiresPath() {
		return "", false
	}
	if path == "" {
		return "", false
	}
	return path, true
}

// Location describes how the engine is reached for a resolved path.
type Location struct {
	// DSN is handed to the libsql driver.
	DSN string
	// Dir must exist before the engine is opened. Empty when nothing is needed.
	Dir string
	// File is the database file on disk, empty for InMemory.
	File string
	// WAL requests write-ahead-log journaling.
	WAL bool
	// SingleConn pins the connection pool to one connection.
	SingleConn bool
}

// Locate derives the engine location for kind k at the resolved path.
func Locate(k Kind, resolved string) (Location, error) {
	switch k {
	case InMemory:
		// Each open gets its own shared-cache name so independent stores
		// never see each other's relations.
		name := "mem-" + uuid.NewString()
		return Location{
			DSN:        fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
			SingleConn: true,
		}, nil
	case EmbeddedFile:
		if resolved == "" {
			return Location{}, fmt.Errorf("%s engine requires a file path", k)
		}
		return Location{
			DSN:  "file:" + resolved,
			Dir:  filepath.Dir(resolved),
			File: resolved,
		}, nil
	case LogStructured:
		if resolved == "" {
			return Location{}, fmt.Errorf("%s engine requires a directory path", k)
		}
		file := filepath.Join(resolved, LogStructuredFile)
		return Location{
			DSN:  "file:" + file,
			Dir:  resolved,
			File: file,
			WAL:  true,
		}, nil
	default:
		return Location{}, fmt.Errorf("unknown engine %s", k)
	}
}
