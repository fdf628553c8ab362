// Package dialect translates engine-neutral reference persistence into the
// SQL of a specific database engine, and classifies the engine's errors.
//
// Dialects also declare the Concurrency model of their engine, which
// determines how an insert-if-absent of directory rows is made race-free.
package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Concurrency describes how an engine orders concurrent writers, as it
// bears on an insert of candidate rows which are filtered to exclude rows
// already present.
type Concurrency int

const (
	// SerializedWriters engines admit one writing transaction at a time, which
	// observes all previously committed rows. An insert driven by a negative
	// outer join can't race another writer.
	SerializedWriters Concurrency = iota
	// SnapshotIsolation engines allow concurrent writers which may each fail
	// to observe the other's uncommitted row. Inserts must be guarded by an
	// atomic conflict clause, and then re-read.
	SnapshotIsolation
)

func (c Concurrency) String() string {
	switch c {
	case SerializedWriters:
		return "serialized-writers"
	case SnapshotIsolation:
		return "snapshot-isolation"
	default:
		return fmt.Sprintf("Concurrency(%d)", int(c))
	}
}

// Type is an engine-neutral column type.
type Type int

const (
	Varchar Type = iota
	Integer
	BigInt
)

// Column is a named and typed column of a VALUES-style derived table.
type Column struct {
	Name string
	Type Type
	Size int // Of Varchar columns.
}

// Conn is the subset of *sql.Tx (or *sql.Conn, or *sql.DB) through which
// reference persistence issues statements.
type Conn interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// Dialect maps reference persistence onto the SQL of a database engine.
type Dialect interface {
	// Name of the Dialect, eg "postgres".
	Name() string
	// DriverName is the default "database/sql" driver of the Dialect.
	DriverName() string
	// Concurrency of the engine under the transaction isolation this
	// package expects.
	Concurrency() Concurrency
	// Isolation is the transaction isolation level under which the
	// engine has its declared Concurrency.
	Isolation() sql.IsolationLevel
	// Placeholder returns the bind parameter marker of 1-based argument |n|.
	Placeholder(n int) string
	// Qualify returns |name| qualified by |schema|, if a schema is set.
	Qualify(schema, name string) string
	// NextValue returns an expression which draws the next value of
	// |sequence|. An empty result means the engine assigns ids itself, and
	// the id column should be omitted from inserts.
	NextValue(schema, sequence string) string
	// Values returns a derived table aliased as "v", having |cols| and |rows|
	// rows of bound parameters numbered in row-major order from 1.
	Values(cols []Column, rows int) string
	// OnConflictDoNothing returns a clause which, appended to an INSERT into
	// |table|, suppresses rows conflicting with a unique key over |keys|.
	OnConflictDoNothing(table string, keys []string) string
	// Translate wraps a native driver error into an *Error. It returns nil
	// for a nil error, and returns an *Error unmodified.
	Translate(err error) error
}

var registry = map[string]Dialect{
	"postgres":   Postgres{},
	"postgresql": Postgres{},
	"sqlite":     SQLite{},
	"sqlite3":    SQLite{},
	"mariadb":    MariaDB{},
	"mysql":      MariaDB{},
}

// ForName returns the Dialect registered under |name|.
func ForName(name string) (Dialect, error) {
	if d, ok := registry[strings.ToLower(name)]; ok {
		return d, nil
	}
	return nil, errors.Errorf("unknown dialect %q (expected one of %s)",
		name, strings.Join(Names(), ", "))
}

// Names returns the sorted names under which Dialects are registered.
func Names() []string {
	var out []string
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// placeholderList returns |n| comma-separated placeholders numbered from |first|.
func placeholderList(d Dialect, first, n int) string {
	var b strings.Builder
	for i := 0; i != n; i++ {
		if i != 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.Placeholder(first + i))
	}
	return b.String()
}

func columnNames(cols []Column) string {
	var names = make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return strings.Join(names, ", ")
}

func qualify(schema, name string) string {
	if schema == "" {
		return name
	}
	return schema + "." + name
}
