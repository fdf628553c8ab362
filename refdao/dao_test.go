package refdao

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.refcache.dev/core/dialect"
	"go.refcache.dev/core/refcache"
	"go.refcache.dev/core/refs"
	"go.refcache.dev/core/schema"
)

func TestBatchSizeBoundary(t *testing.T) {
	const batchSize = 3

	for _, tc := range []struct {
		records int
		flushes []int // Rows of each expected flush.
	}{
		{records: batchSize, flushes: []int{3}},
		{records: batchSize + 1, flushes: []int{3, 1}},
		{records: 2*batchSize + 2, flushes: []int{3, 3, 2}},
	} {
		var db, mock, err = sqlmock.New()
		require.NoError(t, err)

		// Ids are already cached, so only reference rows are written.
		var cache = refcache.NewCache(refcache.Sizes{})
		require.NoError(t, cache.CodeSystems.Insert("http://loinc.org", 1))
		require.NoError(t, cache.CommonTokenValues.Insert(refs.CommonTokenKey{CodeSystemID: 1, TokenValue: "A"}, 10))

		for _, rows := range tc.flushes {
			mock.ExpectExec(exactly(insertRefs("Observation_RESOURCE_TOKEN_REFS", rows, "?"))).
				WillReturnResult(sqlmock.NewResult(0, int64(rows)))
		}

		var dao = newTestDAO(t, db, cache, Config{Dialect: dialect.SQLite{}, BatchSize: batchSize})
		var recs []*refs.TokenValueRec
		for i := 0; i != tc.records; i++ {
			recs = append(recs, &refs.TokenValueRec{
				ResourceType:      "Observation",
				LogicalResourceID: int64(i),
				ParameterNameID:   3,
				CodeSystem:        "http://loinc.org",
				TokenValue:        refs.String("A"),
			})
		}
		require.NoError(t, dao.Persist(context.Background(), recs))
		require.NoError(t, mock.ExpectationsWereMet())

		for _, r := range recs {
			require.Equal(t, int32(1), r.CodeSystemID)
			require.Equal(t, int64(10), r.CommonTokenValueID)
		}
		db.Close()
	}
}

func TestNullTokenIsWrittenWithNullReference(t *testing.T) {
	var db, mock, err = sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// One code system is created, and one common token value ("A").
	mock.ExpectExec("^INSERT INTO code_systems ").
		WithArgs("urn:rt200").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("^SELECT t.code_system_name, t.code_system_id ").
		WithArgs("urn:rt200").
		WillReturnRows(sqlmock.NewRows([]string{"code_system_name", "code_system_id"}).AddRow("urn:rt200", 4))
	mock.ExpectExec("^INSERT INTO common_token_values ").
		WithArgs("A", int32(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("^SELECT t.token_value, t.code_system_id, t.common_token_value_id ").
		WithArgs("A", int32(4)).
		WillReturnRows(sqlmock.NewRows([]string{"token_value", "code_system_id", "common_token_value_id"}).AddRow("A", 4, 55))
	mock.ExpectExec(exactly(insertRefs("Observation_RESOURCE_TOKEN_REFS", 2, "?"))).
		WithArgs(int32(7), int64(200), nil, nil, int32(7), int64(200), int64(55), int32(2)).
		WillReturnResult(sqlmock.NewResult(0, 2))

	var cache = refcache.NewCache(refcache.Sizes{})
	var dao = newTestDAO(t, db, cache, Config{Dialect: dialect.SQLite{}})

	var recs = []*refs.TokenValueRec{
		{ResourceType: "Observation", LogicalResourceID: 200, ParameterNameID: 7, CodeSystem: "urn:rt200"},
		{ResourceType: "Observation", LogicalResourceID: 200, ParameterNameID: 7, CodeSystem: "urn:rt200",
			TokenValue: refs.String("A"), RefVersionID: refs.Int32(2)},
	}
	require.NoError(t, dao.Persist(context.Background(), recs))
	require.NoError(t, mock.ExpectationsWereMet())

	require.Equal(t, int32(4), recs[0].CodeSystemID)
	require.Equal(t, int64(0), recs[0].CommonTokenValueID)
	require.Equal(t, int64(55), recs[1].CommonTokenValueID)

	// Created ids aren't yet visible in the shared cache.
	require.Equal(t, 0, cache.CodeSystems.Len())
}

func TestAddValuesUsesGivenResourceType(t *testing.T) {
	var db, mock, err = sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	var cache = refcache.NewCache(refcache.Sizes{})
	require.NoError(t, cache.CodeSystems.Insert(refs.DefaultCodeSystem, 1))
	require.NoError(t, cache.CommonTokenValues.Insert(refs.CommonTokenKey{CodeSystemID: 1, TokenValue: "x"}, 2))

	mock.ExpectExec(exactly(insertRefs("fhirdata.Patient_RESOURCE_TOKEN_REFS", 2, "$"))).
		WithArgs(int32(1), int64(1), int64(2), nil, int32(1), int64(2), int64(2), nil).
		WillReturnResult(sqlmock.NewResult(0, 2))

	var dao = newTestDAO(t, db, cache, Config{Dialect: dialect.Postgres{}, Schema: "fhirdata"})
	require.NoError(t, dao.AddValues(context.Background(), "Patient", []*refs.TokenValueRec{
		{ResourceType: "Observation", LogicalResourceID: 1, ParameterNameID: 1, TokenValue: refs.String("x")},
		{ResourceType: "Encounter", LogicalResourceID: 2, ParameterNameID: 1, TokenValue: refs.String("x")},
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInvalidInputIsRejectedBeforeIO(t *testing.T) {
	var db, mock, err = sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	var dao = newTestDAO(t, db, refcache.NewCache(refcache.Sizes{}), Config{Dialect: dialect.SQLite{}})
	var ctx = context.Background()
	var valid = &refs.TokenValueRec{ResourceType: "Observation", CodeSystem: "sys", TokenValue: refs.String("A")}

	// Case: resource types must form a valid table name.
	err = dao.AddValues(ctx, "Observation; DROP TABLE code_systems", []*refs.TokenValueRec{valid})
	require.Equal(t, schema.ErrInvalidName, errors.Cause(err))

	err = dao.Persist(ctx, []*refs.TokenValueRec{valid, {ResourceType: "bad-type", TokenValue: refs.String("A")}})
	require.Equal(t, schema.ErrInvalidName, errors.Cause(err))
	require.Equal(t, int32(0), valid.CodeSystemID) // Not resolved.

	_, err = dao.DeleteReferencesFor(ctx, "", 1)
	require.Equal(t, schema.ErrInvalidName, errors.Cause(err))

	// Case: values may not exceed their column.
	err = dao.AddValues(ctx, "Observation", []*refs.TokenValueRec{
		{TokenValue: refs.String(strings.Repeat("x", schema.MaxTokenValueBytes+1))}})
	require.Equal(t, ErrValueTooLong, errors.Cause(err))

	// Case: external lookups require at least one key.
	_, err = dao.ExternalSystemIDs(ctx)
	require.Equal(t, ErrEmptyKeys, err)
	_, err = dao.QueryExternalReferenceValues(ctx)
	require.Equal(t, ErrEmptyKeys, err)

	// Case: the DAO is closed.
	require.NoError(t, dao.Close())
	require.NoError(t, dao.Close())
	require.Equal(t, ErrClosed, dao.Persist(ctx, []*refs.TokenValueRec{valid}))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteReferencesFor(t *testing.T) {
	var db, mock, err = sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("DELETE FROM refs.Observation_RESOURCE_TOKEN_REFS WHERE logical_resource_id = ?").
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("DELETE FROM refs.Observation_RESOURCE_TOKEN_REFS WHERE logical_resource_id = ?").
		WithArgs(int64(43)).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectExec("DELETE FROM refs.Observation_RESOURCE_TOKEN_REFS WHERE logical_resource_id = ?").
		WithArgs(int64(44)).
		WillReturnResult(sqlmock.NewErrorResult(errors.New("rows unavailable")))

	var dao = newTestDAO(t, db, refcache.NewCache(refcache.Sizes{}), Config{Dialect: dialect.MariaDB{}, Schema: "refs"})

	n, err := dao.DeleteReferencesFor(context.Background(), "Observation", 42)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	_, err = dao.DeleteReferencesFor(context.Background(), "Observation", 43)
	require.EqualError(t, err, "deleting from Observation_RESOURCE_TOKEN_REFS: mariadb unknown: connection reset")

	// Case: a failure to read the affected row count is returned.
	n, err = dao.DeleteReferencesFor(context.Background(), "Observation", 44)
	require.EqualError(t, err, "deleting from Observation_RESOURCE_TOKEN_REFS: mariadb unknown: rows unavailable")
	require.Equal(t, int64(0), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPreparedStatementsAreCachedAndClosed(t *testing.T) {
	var db, mock, err = sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	var cache = refcache.NewCache(refcache.Sizes{})
	require.NoError(t, cache.CodeSystems.Insert("sys", 1))

	// Two full batches render identical text, and share a statement.
	var prep = mock.ExpectPrepare(exactly(insertRefs("Patient_RESOURCE_TOKEN_REFS", 2, "?"))).WillBeClosed()
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 2))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 2))

	var dao = newTestDAO(t, db, cache, Config{Dialect: dialect.SQLite{}, BatchSize: 2, StatementCacheSize: 4})

	var recs []*refs.TokenValueRec
	for i := 0; i != 4; i++ {
		recs = append(recs, &refs.TokenValueRec{ResourceType: "Patient", LogicalResourceID: int64(i), CodeSystem: "sys"})
	}
	require.NoError(t, dao.Persist(context.Background(), recs))
	require.NoError(t, dao.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUnresolvedReferenceIsRejected(t *testing.T) {
	var dao = &DAO{cfg: Config{Dialect: dialect.SQLite{}, BatchSize: 10}}

	var err = dao.writeRefs(context.Background(), "Observation_RESOURCE_TOKEN_REFS", []*refs.TokenValueRec{
		{LogicalResourceID: 1, TokenValue: refs.String("A")},
	})
	require.Equal(t, ErrUnresolvedRef, errors.Cause(err))
}

func TestTransactRollsBackOnPanic(t *testing.T) {
	var db, mock, err = sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	var cache = refcache.NewCache(refcache.Sizes{})
	require.PanicsWithValue(t, "whoops", func() {
		_ = Transact(context.Background(), db, cache, Config{Dialect: dialect.SQLite{}}, func(dao *DAO) error {
			require.NoError(t, dao.txn.AddCodeSystem("urn:panic", 1))
			panic("whoops")
		})
	})
	require.NoError(t, mock.ExpectationsWereMet())

	// Ids of the unit-of-work were discarded.
	var _, ok = cache.CodeSystems.Lookup("urn:panic")
	require.False(t, ok)
}

func newTestDAO(t *testing.T, conn dialect.Conn, cache *refcache.Cache, cfg Config) *DAO {
	var dao, err = New(cfg, conn, cache.Begin())
	require.NoError(t, err)
	return dao
}

// insertRefs renders the expected INSERT of |rows| token references.
// Placeholders are "?", or "$" for numbered placeholders.
func insertRefs(table string, rows int, mark string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO " + table +
		" (parameter_name_id, logical_resource_id, common_token_value_id, ref_version_id) VALUES ")

	var n = 1
	for r := 0; r != rows; r++ {
		if r != 0 {
			b.WriteString(", ")
		}
		var marks []string
		for c := 0; c != 4; c++ {
			if mark == "$" {
				marks = append(marks, "$"+strconv.Itoa(n))
			} else {
				marks = append(marks, mark)
			}
			n++
		}
		b.WriteString("(" + strings.Join(marks, ", ") + ")")
	}
	return b.String()
}

func exactly(query string) string { return "^" + regexp.QuoteMeta(query) + "$" }
