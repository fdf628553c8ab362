package dialect

import (
	"database/sql"
	"strconv"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// SQLite is the Dialect of SQLite. Connections are expected to begin
// transactions with BEGIN IMMEDIATE (eg, by passing "_txlock=immediate" to
// github.com/mattn/go-sqlite3), which serializes writing transactions under
// the database write lock.
//
// SQLite has no sequences. Directory ids are INTEGER PRIMARY KEY rowids,
// which increase monotonically because directory rows are never deleted.
type SQLite struct{}

func (SQLite) Name() string             { return "sqlite" }
func (SQLite) DriverName() string       { return "sqlite3" }
func (SQLite) Concurrency() Concurrency { return SerializedWriters }
func (SQLite) Placeholder(int) string   { return "?" }

// Isolation is the default, as SQLite transactions are always serializable.
func (SQLite) Isolation() sql.IsolationLevel { return sql.LevelDefault }

func (SQLite) Qualify(schema, name string) string {
	if schema == "main" {
		return name
	}
	return qualify(schema, name)
}

func (SQLite) NextValue(string, string) string { return "" }

// Values renders eg:
//
//	(SELECT column1 AS token_value, column2 AS code_system_id FROM (VALUES (?, ?), ...)) AS v
//
// A VALUES clause can't alias its columns, so they're renamed by a sub-select.
func (d SQLite) Values(cols []Column, rows int) string {
	var b strings.Builder
	b.WriteString("(SELECT ")
	for c, col := range cols {
		if c != 0 {
			b.WriteString(", ")
		}
		b.WriteString("column" + strconv.Itoa(c+1) + " AS " + col.Name)
	}
	b.WriteString(" FROM (VALUES ")
	for r := 0; r != rows; r++ {
		if r != 0 {
			b.WriteString(", ")
		}
		b.WriteString("(" + placeholderList(d, 1+r*len(cols), len(cols)) + ")")
	}
	b.WriteString(")) AS v")
	return b.String()
}

func (SQLite) OnConflictDoNothing(string, []string) string { return " ON CONFLICT DO NOTHING" }

func (d SQLite) Translate(err error) error { return translate(d.Name(), err, classifySQLite) }

func classifySQLite(err error) (Kind, string) {
	var sqErr sqlite3.Error
	if !errors.As(err, &sqErr) {
		return Unknown, ""
	}
	var code = strconv.Itoa(int(sqErr.ExtendedCode))

	switch sqErr.Code {
	case sqlite3.ErrConstraint:
		return ConstraintViolation, code
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return LockConflict, code
	case sqlite3.ErrInterrupt:
		return Timeout, code
	case sqlite3.ErrCantOpen, sqlite3.ErrIoErr, sqlite3.ErrNotADB, sqlite3.ErrCorrupt:
		return Connectivity, code
	case sqlite3.ErrError:
		return Syntax, code
	default:
		return Unknown, code
	}
}
