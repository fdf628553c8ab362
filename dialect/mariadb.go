package dialect

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
)

// MariaDB is the Dialect of MariaDB (10.3 and later, which have sequences)
// using InnoDB tables. InnoDB reads of INSERT ... SELECT don't exclude a
// concurrent writer of the same key under every isolation level, so
// directory inserts use ON DUPLICATE KEY UPDATE as a no-op conflict clause.
type MariaDB struct{}

func (MariaDB) Name() string             { return "mariadb" }
func (MariaDB) DriverName() string       { return "mysql" }
func (MariaDB) Concurrency() Concurrency { return SnapshotIsolation }
func (MariaDB) Placeholder(int) string   { return "?" }

// Isolation is READ COMMITTED. Under InnoDB's default REPEATABLE READ, the
// re-select following an upsert reads the transaction's first snapshot,
// which may predate the commit of a concurrent writer of the same key.
func (MariaDB) Isolation() sql.IsolationLevel { return sql.LevelReadCommitted }

func (MariaDB) Qualify(schema, name string) string { return qualify(schema, name) }

func (MariaDB) NextValue(schema, sequence string) string {
	return "NEXT VALUE FOR " + qualify(schema, sequence)
}

// Values renders eg:
//
//	(SELECT ? AS token_value, ? AS code_system_id UNION ALL SELECT ?, ? ...) AS v
func (d MariaDB) Values(cols []Column, rows int) string {
	var b strings.Builder
	b.WriteString("(SELECT ")
	for c, col := range cols {
		if c != 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.Placeholder(c+1) + " AS " + col.Name)
	}
	for r := 1; r < rows; r++ {
		b.WriteString(" UNION ALL SELECT " + placeholderList(d, 1+r*len(cols), len(cols)))
	}
	b.WriteString(") AS v")
	return b.String()
}

// OnConflictDoNothing assigns a key column to itself. Unlike INSERT IGNORE,
// this doesn't also suppress unrelated errors.
func (MariaDB) OnConflictDoNothing(table string, keys []string) string {
	return fmt.Sprintf(" ON DUPLICATE KEY UPDATE %s.%s = %s.%s", table, keys[0], table, keys[0])
}

func (d MariaDB) Translate(err error) error { return translate(d.Name(), err, classifyMariaDB) }

func classifyMariaDB(err error) (Kind, string) {
	var myErr *mysql.MySQLError
	if errors.Is(err, mysql.ErrInvalidConn) {
		return Connectivity, ""
	} else if !errors.As(err, &myErr) {
		return Unknown, ""
	}
	var code = strconv.Itoa(int(myErr.Number))

	switch myErr.Number {
	case 1062, 1048, 1216, 1217, 1451, 1452, 4025:
		return ConstraintViolation, code // Duplicate entry, NULL column, foreign keys, CHECK.
	case 1205, 1213:
		return LockConflict, code // Lock wait timeout, deadlock.
	case 1317, 1969, 3024:
		return Timeout, code // Query interrupted, max_statement_time exceeded.
	case 1040, 1053, 1927, 2006, 2013:
		return Connectivity, code // Too many connections, shutdown, killed, server gone.
	case 1054, 1064, 1146, 1149:
		return Syntax, code // Unknown column, parse error, unknown table.
	default:
		return Unknown, code
	}
}
