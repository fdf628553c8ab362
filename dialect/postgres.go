package dialect

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // Registers the "pgx" driver.
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// Postgres is the Dialect of PostgreSQL. Under READ COMMITTED, concurrent
// writers don't observe one another's uncommitted rows, so directory inserts
// use ON CONFLICT DO NOTHING. Errors of both github.com/lib/pq ("postgres")
// and github.com/jackc/pgx ("pgx") drivers are classified.
type Postgres struct{}

func (Postgres) Name() string             { return "postgres" }
func (Postgres) DriverName() string       { return "postgres" }
func (Postgres) Concurrency() Concurrency { return SnapshotIsolation }
func (Postgres) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

// Isolation is READ COMMITTED, under which each statement reads a fresh
// snapshot. The re-select following an upsert observes rows committed by a
// concurrent writer on whose uncommitted row the upsert waited.
func (Postgres) Isolation() sql.IsolationLevel { return sql.LevelReadCommitted }

func (Postgres) Qualify(schema, name string) string { return qualify(schema, name) }

func (Postgres) NextValue(schema, sequence string) string {
	return fmt.Sprintf("nextval('%s')", qualify(schema, sequence))
}

// Values renders eg:
//
//	(VALUES (CAST($1 AS VARCHAR(1024)), CAST($2 AS INT)), ...) AS v(token_value, code_system_id)
//
// Types are cast explicitly as the database must know them when parsing.
func (d Postgres) Values(cols []Column, rows int) string {
	var b strings.Builder
	b.WriteString("(VALUES ")

	var n = 1
	for r := 0; r != rows; r++ {
		if r != 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for c, col := range cols {
			if c != 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "CAST(%s AS %s)", d.Placeholder(n), postgresType(col))
			n++
		}
		b.WriteString(")")
	}
	fmt.Fprintf(&b, ") AS v(%s)", columnNames(cols))
	return b.String()
}

func (Postgres) OnConflictDoNothing(string, []string) string { return " ON CONFLICT DO NOTHING" }

func (d Postgres) Translate(err error) error { return translate(d.Name(), err, classifyPostgres) }

func postgresType(col Column) string {
	switch col.Type {
	case Integer:
		return "INT"
	case BigInt:
		return "BIGINT"
	default:
		return fmt.Sprintf("VARCHAR(%d)", col.Size)
	}
}

func classifyPostgres(err error) (Kind, string) {
	var pqErr *pq.Error
	var pgErr *pgconn.PgError
	var code string

	if errors.As(err, &pqErr) {
		code = string(pqErr.Code)
	} else if errors.As(err, &pgErr) {
		code = pgErr.Code
	} else if pgconn.Timeout(err) {
		return Timeout, ""
	} else {
		return Unknown, ""
	}
	return postgresKind(code), code
}

// postgresKind maps a SQLSTATE to its Kind.
func postgresKind(code string) Kind {
	switch {
	case code == "40001", code == "40P01", code == "55P03":
		return LockConflict // serialization_failure, deadlock_detected, lock_not_available.
	case code == "57014":
		return Timeout // query_canceled.
	case code == "57P01", code == "57P02", code == "57P03":
		return Connectivity // Administrative shutdown, crash shutdown, cannot connect now.
	case strings.HasPrefix(code, "23"):
		return ConstraintViolation
	case strings.HasPrefix(code, "08"):
		return Connectivity
	case strings.HasPrefix(code, "42"):
		return Syntax
	default:
		return Unknown
	}
}
