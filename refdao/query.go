package refdao

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"go.refcache.dev/core/dialect"
	"go.refcache.dev/core/refs"
	"go.refcache.dev/core/upsert"
)

// QueryExternalSystemID returns the id of external system |name|, and
// whether it exists. It never creates a row.
func (d *DAO) QueryExternalSystemID(ctx context.Context, name string) (int32, bool, error) {
	var found, err = d.QueryExternalSystems(ctx, name)
	if err != nil || len(found) == 0 {
		return 0, false, err
	}
	return found[0].ID, true, nil
}

// QueryExternalReferenceValueID returns the id of external reference
// |value|, and whether it exists. It never creates a row.
func (d *DAO) QueryExternalReferenceValueID(ctx context.Context, value string) (int64, bool, error) {
	var found, err = d.QueryExternalReferenceValues(ctx, value)
	if err != nil || len(found) == 0 {
		return 0, false, err
	}
	return found[0].ID, true, nil
}

// QueryExternalSystems returns those of external system |names| which
// exist, ordered on name.
func (d *DAO) QueryExternalSystems(ctx context.Context, names ...string) ([]refs.ExternalSystem, error) {
	if err := d.checkKeys(names); err != nil {
		return nil, err
	}
	var ids, misses, err = d.txn.ResolveExternalSystems(names)
	if err != nil {
		return nil, err
	} else if len(misses) != 0 {
		read, err := queryIDs[int32](ctx, d, upsert.ExternalSystemsTable, misses)
		if err != nil {
			return nil, err
		}
		for name, id := range read {
			if err = d.txn.AddExternalSystem(name, id); err != nil {
				return nil, err
			}
			ids[name] = id
		}
	}

	var out = make([]refs.ExternalSystem, 0, len(ids))
	for name, id := range ids {
		out = append(out, refs.ExternalSystem{ID: id, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// QueryExternalReferenceValues returns those of external reference
// |values| which exist, ordered on value.
func (d *DAO) QueryExternalReferenceValues(ctx context.Context, values ...string) ([]refs.ExternalReferenceValue, error) {
	if err := d.checkKeys(values); err != nil {
		return nil, err
	}
	var ids, misses, err = d.txn.ResolveExternalReferenceValues(values)
	if err != nil {
		return nil, err
	} else if len(misses) != 0 {
		read, err := queryIDs[int64](ctx, d, upsert.ExternalReferenceValuesTable, misses)
		if err != nil {
			return nil, err
		}
		for value, id := range read {
			if err = d.txn.AddExternalReferenceValue(value, id); err != nil {
				return nil, err
			}
			ids[value] = id
		}
	}

	var out = make([]refs.ExternalReferenceValue, 0, len(ids))
	for value, id := range ids {
		out = append(out, refs.ExternalReferenceValue{ID: id, Value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out, nil
}

// queryIDs reads ids of existing rows of single-keyed directory |table|
// having one of |keys|, in chunks of upsert.MaxCandidates.
func queryIDs[V upsert.ID](ctx context.Context, d *DAO, table *upsert.Table, keys []string) (map[string]V, error) {
	var out = make(map[string]V, len(keys))

	for begin := 0; begin < len(keys); begin += upsert.MaxCandidates {
		var end = begin + upsert.MaxCandidates
		if end > len(keys) {
			end = len(keys)
		}
		var chunk = keys[begin:end]

		var args = make([]interface{}, len(chunk))
		var marks = make([]string, len(chunk))
		for i, k := range chunk {
			args[i], marks[i] = k, d.cfg.Dialect.Placeholder(i+1)
		}
		var query = "SELECT " + table.Keys[0].Name + ", " + table.ID +
			" FROM " + d.cfg.Dialect.Qualify(d.cfg.Schema, table.Name) +
			" WHERE " + table.Keys[0].Name + " IN (" + strings.Join(marks, ", ") + ")"

		if err := scanIDs(ctx, d.conn, query, args, out); err != nil {
			return nil, errors.WithMessagef(d.cfg.Dialect.Translate(err), "querying %s", table.Name)
		}
	}
	return out, nil
}

func scanIDs[V upsert.ID](ctx context.Context, conn dialect.Conn, query string, args []interface{}, into map[string]V) error {
	var rows, err = conn.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var id V
		if err = rows.Scan(&key, &id); err != nil {
			return err
		}
		into[key] = id
	}
	return rows.Err()
}
