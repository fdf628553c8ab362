// Package upsert creates the directory rows of keys which missed the
// identity cache, using a race-free insert Strategy selected for the engine,
// and reads back ids of every candidate key.
//
// Each batch of candidates costs exactly two round-trips: one insert of the
// candidates not yet present, and one select of the ids of all candidates.
// A candidate which can't be read back after its insert is a fatal
// ConsistencyError: it means either a lost write or an uncommitted read,
// and that the isolation assumption of the engine's Strategy was violated.
package upsert

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.refcache.dev/core/dialect"
	"go.refcache.dev/core/metrics"
	"go.refcache.dev/core/refs"
	"go.refcache.dev/core/schema"
)

// MaxCandidates is the largest number of candidate keys offered to a single
// insert statement. Larger batches are split into chunks, to stay within
// engine limits on bound parameters.
const MaxCandidates = 256

// ErrEmptyBatch is returned by an upsert of zero keys.
var ErrEmptyBatch = errors.New("upsert requires at least one key")

// ConsistencyError is a candidate key which wasn't found after its upsert.
type ConsistencyError struct {
	Table string
	Key   string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%s row of key %s was inserted but not found", e.Table, e.Key)
}

// IsConsistencyFault is true if |err| wraps a *ConsistencyError.
func IsConsistencyFault(err error) bool {
	var ce *ConsistencyError
	return errors.As(err, &ce)
}

// ID is the type of a directory's surrogate ids.
type ID interface{ ~int32 | ~int64 }

// Upserter creates missing directory rows of a schema.
type Upserter struct {
	dialect  dialect.Dialect
	schema   string
	strategy Strategy
}

// New returns an Upserter of tables within |schemaName| (which may be empty)
// using the Strategy of Dialect |d|.
func New(d dialect.Dialect, schemaName string) (*Upserter, error) {
	if schemaName != "" {
		if err := schema.ValidName(schemaName); err != nil {
			return nil, errors.WithMessage(err, "schema")
		}
	}
	return &Upserter{dialect: d, schema: schemaName, strategy: StrategyFor(d)}, nil
}

// Strategy used by the Upserter.
func (u *Upserter) Strategy() Strategy { return u.strategy }

// CodeSystems ensures rows exist for each of code-system |names|, returning
// the id of each.
func (u *Upserter) CodeSystems(ctx context.Context, conn dialect.Conn, names []string) (map[string]int32, error) {
	return createMissing(ctx, u, conn, codec[string, int32]{
		table: CodeSystemsTable,
		args:  func(k string) []interface{} { return []interface{}{k} },
		scan:  scanName[int32],
		less:  func(a, b string) bool { return a < b },
	}, names)
}

// CommonTokenValues ensures rows exist for each of |keys|, returning the id of each.
func (u *Upserter) CommonTokenValues(ctx context.Context, conn dialect.Conn, keys []refs.CommonTokenKey) (map[refs.CommonTokenKey]int64, error) {
	return createMissing(ctx, u, conn, codec[refs.CommonTokenKey, int64]{
		table: CommonTokenValuesTable,
		args: func(k refs.CommonTokenKey) []interface{} {
			return []interface{}{k.TokenValue, k.CodeSystemID}
		},
		scan: func(rows *sql.Rows) (k refs.CommonTokenKey, id int64, err error) {
			err = rows.Scan(&k.TokenValue, &k.CodeSystemID, &id)
			return
		},
		less: refs.CommonTokenKey.Less,
	}, keys)
}

// ExternalSystems ensures rows exist for each of external system |names|,
// returning the id of each.
func (u *Upserter) ExternalSystems(ctx context.Context, conn dialect.Conn, names []string) (map[string]int32, error) {
	return createMissing(ctx, u, conn, codec[string, int32]{
		table: ExternalSystemsTable,
		args:  func(k string) []interface{} { return []interface{}{k} },
		scan:  scanName[int32],
		less:  func(a, b string) bool { return a < b },
	}, names)
}

// ExternalReferenceValues ensures rows exist for each of external reference
// |values|, returning the id of each.
func (u *Upserter) ExternalReferenceValues(ctx context.Context, conn dialect.Conn, values []string) (map[string]int64, error) {
	return createMissing(ctx, u, conn, codec[string, int64]{
		table: ExternalReferenceValuesTable,
		args:  func(k string) []interface{} { return []interface{}{k} },
		scan:  scanName[int64],
		less:  func(a, b string) bool { return a < b },
	}, values)
}

// codec binds and scans the keys of a directory Table.
type codec[K comparable, V ID] struct {
	table *Table
	args  func(K) []interface{}
	scan  func(*sql.Rows) (K, V, error)
	less  func(a, b K) bool
}

func scanName[V ID](rows *sql.Rows) (name string, id V, err error) {
	err = rows.Scan(&name, &id)
	return
}

func createMissing[K comparable, V ID](ctx context.Context, u *Upserter, conn dialect.Conn, c codec[K, V], keys []K) (map[K]V, error) {
	if len(keys) == 0 {
		return nil, errors.WithMessage(ErrEmptyBatch, c.table.Name)
	}
	keys = distinctSorted(keys, c.less)
	metrics.UpsertCandidatesTotal.WithLabelValues(c.table.Name).Add(float64(len(keys)))

	var out = make(map[K]V, len(keys))
	for begin := 0; begin < len(keys); begin += MaxCandidates {
		var end = begin + MaxCandidates
		if end > len(keys) {
			end = len(keys)
		}
		if err := createChunk(ctx, u, conn, c, keys[begin:end], out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func createChunk[K comparable, V ID](ctx context.Context, u *Upserter, conn dialect.Conn, c codec[K, V], keys []K, out map[K]V) error {
	var args = make([]interface{}, 0, len(keys)*len(c.table.Keys))
	for _, k := range keys {
		args = append(args, c.args(k)...)
	}
	var insert = u.strategy.InsertSQL(u.dialect, u.schema, c.table, len(keys))

	if res, err := conn.ExecContext(ctx, insert, args...); err != nil {
		return u.failed(c.table, insert, keys, err, "inserting into %s")
	} else if n, err := res.RowsAffected(); err == nil {
		metrics.UpsertInsertedRowsTotal.WithLabelValues(c.table.Name).Add(float64(n))
	}
	u.succeeded(c.table)

	// Read back ids of all candidates. If we had a RETURNING which worked
	// reliably on every engine, this query wouldn't be needed.
	var query = selectSQL(u.dialect, u.schema, c.table, len(keys))
	var found = make(map[K]V, len(keys))

	if err := readIDs(ctx, conn, query, args, c.scan, found); err != nil {
		return u.failed(c.table, query, keys, err, "selecting from %s")
	}
	u.succeeded(c.table)

	for _, k := range keys {
		if id, ok := found[k]; ok {
			out[k] = id
			continue
		}
		metrics.ConsistencyFaultsTotal.WithLabelValues(c.table.Name).Inc()
		log.WithFields(log.Fields{
			"table":    c.table.Name,
			"key":      k,
			"strategy": u.strategy.Name(),
			"dialect":  u.dialect.Name(),
		}).Error("directory row inserted but not found")

		return &ConsistencyError{Table: c.table.Name, Key: fmt.Sprintf("%v", k)}
	}

	log.WithFields(log.Fields{
		"table":      c.table.Name,
		"candidates": len(keys),
		"strategy":   u.strategy.Name(),
	}).Debug("upserted directory rows")

	return nil
}

func readIDs[K comparable, V ID](ctx context.Context, conn dialect.Conn, query string, args []interface{},
	scan func(*sql.Rows) (K, V, error), into map[K]V) error {

	var rows, err = conn.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var k, id, err = scan(rows)
		if err != nil {
			return err
		}
		into[k] = id
	}
	return rows.Err()
}

func (u *Upserter) succeeded(t *Table) {
	metrics.UpsertStatementsTotal.WithLabelValues(t.Name, u.strategy.Name(), metrics.Ok).Inc()
}

func (u *Upserter) failed(t *Table, query string, keys interface{}, err error, format string) error {
	metrics.UpsertStatementsTotal.WithLabelValues(t.Name, u.strategy.Name(), metrics.Fail).Inc()
	err = u.dialect.Translate(err)

	log.WithFields(log.Fields{
		"sql":  query,
		"keys": keys,
		"err":  err,
	}).Error("directory upsert failed")

	return errors.WithMessagef(err, format, t.Name)
}

func distinctSorted[K comparable](keys []K, less func(a, b K) bool) []K {
	var seen = make(map[K]struct{}, len(keys))
	var out = make([]K, 0, len(keys))

	for _, k := range keys {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}
