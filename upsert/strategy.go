package upsert

import (
	"strings"

	"go.refcache.dev/core/dialect"
	"go.refcache.dev/core/schema"
)

// Table describes a directory table: its id column, which is drawn from
// schema.RefSequence, and its natural key columns, over which the table
// has a unique constraint.
type Table struct {
	Name string
	ID   string
	Keys []dialect.Column
}

// Directory tables.
var (
	CodeSystemsTable = &Table{
		Name: schema.CodeSystems,
		ID:   schema.CodeSystemID,
		Keys: []dialect.Column{
			{Name: schema.CodeSystemName, Type: dialect.Varchar, Size: schema.MaxSearchStringBytes},
		},
	}
	CommonTokenValuesTable = &Table{
		Name: schema.CommonTokenValues,
		ID:   schema.CommonTokenValID,
		Keys: []dialect.Column{
			{Name: schema.TokenValue, Type: dialect.Varchar, Size: schema.MaxTokenValueBytes},
			{Name: schema.CodeSystemID, Type: dialect.Integer},
		},
	}
	ExternalSystemsTable = &Table{
		Name: schema.ExternalSystems,
		ID:   schema.ExternalSystemID,
		Keys: []dialect.Column{
			{Name: schema.ExternalSystemName, Type: dialect.Varchar, Size: schema.MaxSearchStringBytes},
		},
	}
	ExternalReferenceValuesTable = &Table{
		Name: schema.ExternalReferenceValues,
		ID:   schema.ExternalReferenceValueID,
		Keys: []dialect.Column{
			{Name: schema.ExternalReferenceValueCol, Type: dialect.Varchar, Size: schema.MaxSearchStringBytes},
		},
	}
)

func (t *Table) keyNames() []string {
	var out = make([]string, len(t.Keys))
	for i, k := range t.Keys {
		out[i] = k.Name
	}
	return out
}

// Strategy renders the statement which inserts those of |rows| candidate
// keys which are absent from a directory Table, drawing a new id for each.
// Candidates are bound in the row-major order of dialect.Dialect.Values.
type Strategy interface {
	Name() string
	InsertSQL(d dialect.Dialect, schemaName string, t *Table, rows int) string
}

// StrategyFor returns the Strategy which is race-free under the declared
// Concurrency of the Dialect.
func StrategyFor(d dialect.Dialect) Strategy {
	switch d.Concurrency() {
	case dialect.SerializedWriters:
		return NegativeJoin{}
	default:
		return OnConflict{}
	}
}

// NegativeJoin inserts candidates which have no matching row, as found by
// a left outer join against the table filtered to unmatched rows. It's
// race-free only where writers are serialized: under snapshot isolation
// two writers may both fail to match the other's uncommitted row.
//
//	INSERT INTO code_systems (code_system_id, code_system_name)
//	     SELECT nextval('fhir_ref_sequence'), v.code_system_name
//	       FROM (VALUES ...) AS v(code_system_name)
//	  LEFT OUTER JOIN code_systems t
//	         ON t.code_system_name = v.code_system_name
//	      WHERE t.code_system_name IS NULL
type NegativeJoin struct{}

func (NegativeJoin) Name() string { return "negative-join" }

func (NegativeJoin) InsertSQL(d dialect.Dialect, schemaName string, t *Table, rows int) string {
	var table = d.Qualify(schemaName, t.Name)
	var keys = t.keyNames()
	var nextVal = d.NextValue(schemaName, schema.RefSequence)

	var b strings.Builder
	b.WriteString("INSERT INTO " + table + " (")
	if nextVal != "" {
		b.WriteString(t.ID + ", ")
	}
	b.WriteString(strings.Join(keys, ", ") + ") SELECT ")
	if nextVal != "" {
		b.WriteString(nextVal + ", ")
	}
	for i, k := range keys {
		if i != 0 {
			b.WriteString(", ")
		}
		b.WriteString("v." + k)
	}
	b.WriteString(" FROM " + d.Values(t.Keys, rows))
	b.WriteString(" LEFT OUTER JOIN " + table + " t ON " + joinOn(keys))
	b.WriteString(" WHERE t." + keys[0] + " IS NULL")
	return b.String()
}

// OnConflict is a NegativeJoin which is further guarded by the Dialect's
// atomic conflict clause. Of two writers racing to insert a key, one blocks
// on the other's uncommitted row and then skips it, or fails with a lock
// conflict. Either way, the row must be re-read after insertion.
type OnConflict struct{}

func (OnConflict) Name() string { return "on-conflict" }

func (OnConflict) InsertSQL(d dialect.Dialect, schemaName string, t *Table, rows int) string {
	return NegativeJoin{}.InsertSQL(d, schemaName, t, rows) +
		d.OnConflictDoNothing(d.Qualify(schemaName, t.Name), t.keyNames())
}

// selectSQL renders the query which reads back ids of all |rows| candidate
// keys, whether pre-existing or newly inserted. Columns are keys and then id.
func selectSQL(d dialect.Dialect, schemaName string, t *Table, rows int) string {
	var keys = t.keyNames()

	var b strings.Builder
	b.WriteString("SELECT ")
	for _, k := range keys {
		b.WriteString("t." + k + ", ")
	}
	b.WriteString("t." + t.ID + " FROM " + d.Values(t.Keys, rows))
	b.WriteString(" JOIN " + d.Qualify(schemaName, t.Name) + " t ON " + joinOn(keys))
	return b.String()
}

func joinOn(keys []string) string {
	var parts = make([]string, len(keys))
	for i, k := range keys {
		parts[i] = "t." + k + " = v." + k
	}
	return strings.Join(parts, " AND ")
}
