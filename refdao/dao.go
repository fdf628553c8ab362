// Package refdao persists the token references of resources, resolving the
// natural keys of their values to surrogate ids of the directory tables.
//
// A DAO is owned by a single unit-of-work: it issues statements through
// that unit-of-work's transaction, and resolves ids through its
// refcache.Txn. Keys which miss the cache are created by an upsert.Upserter
// and recorded in the Txn, which promotes them into the shared Cache only
// once the transaction commits. Transact is a convenient owner of this
// boundary.
package refdao

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.refcache.dev/core/dialect"
	"go.refcache.dev/core/refcache"
	"go.refcache.dev/core/refs"
	"go.refcache.dev/core/schema"
	"go.refcache.dev/core/upsert"
)

// DefaultBatchSize is the number of reference rows written per statement,
// where not otherwise configured.
const DefaultBatchSize = 100

// Config of a DAO.
type Config struct {
	// Dialect of the database.
	Dialect dialect.Dialect
	// Schema of reference tables. May be empty.
	Schema string
	// BatchSize is the maximum number of reference rows written per
	// statement. If <= 0, DefaultBatchSize is used.
	BatchSize int
	// StatementCacheSize is the number of prepared statements retained by
	// the DAO. Zero disables prepared statements.
	StatementCacheSize int
}

// Errors of invalid input, returned before any I/O is attempted.
var (
	ErrEmptyKeys     = errors.New("at least one key is required")
	ErrValueTooLong  = errors.New("value exceeds maximum length")
	ErrUnresolvedRef = errors.New("token reference has no resolved common token value")
	ErrClosed        = errors.New("refdao: DAO is closed")
)

// DAO persists token references of a single unit-of-work.
type DAO struct {
	cfg      Config
	conn     dialect.Conn
	stmts    *stmtConn // Or nil, if statements aren't prepared.
	txn      *refcache.Txn
	upserter *upsert.Upserter
	closed   bool
}

// New returns a DAO which issues statements to |conn|, which is typically
// a *sql.Tx, and resolves ids through |txn|. Neither is owned by the DAO.
func New(cfg Config, conn dialect.Conn, txn *refcache.Txn) (*DAO, error) {
	if cfg.Dialect == nil {
		return nil, errors.New("expected a Dialect")
	} else if txn == nil {
		return nil, errors.New("expected a refcache.Txn")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	var upserter, err = upsert.New(cfg.Dialect, cfg.Schema)
	if err != nil {
		return nil, err
	}

	var dao = &DAO{
		cfg:      cfg,
		conn:     conn,
		txn:      txn,
		upserter: upserter,
	}
	if dao.stmts = newStmtConn(conn, cfg.StatementCacheSize); dao.stmts != nil {
		dao.conn = dao.stmts
	}
	return dao, nil
}

// AddValues resolves ids of |recs| and writes each as a token reference of
// |resourceType|, regardless of the record's own ResourceType.
func (d *DAO) AddValues(ctx context.Context, resourceType string, recs []*refs.TokenValueRec) error {
	if d.closed {
		return ErrClosed
	}
	var table, err = schema.TokenRefsTable(resourceType)
	if err != nil {
		return err
	} else if err = validateRecs(recs); err != nil {
		return err
	} else if err = d.resolveIDs(ctx, recs); err != nil {
		return err
	}
	return d.writeRefs(ctx, table, recs)
}

// Persist resolves ids of |recs| and writes each as a token reference of
// its ResourceType. Resource types are written in sorted order.
func (d *DAO) Persist(ctx context.Context, recs []*refs.TokenValueRec) error {
	if d.closed {
		return ErrClosed
	}
	var types, groups = refs.GroupByResourceType(recs)

	var tables = make([]string, len(types))
	for i, rt := range types {
		var err error
		if tables[i], err = schema.TokenRefsTable(rt); err != nil {
			return err
		}
	}
	if err := validateRecs(recs); err != nil {
		return err
	} else if err = d.resolveIDs(ctx, recs); err != nil {
		return err
	}

	for i, rt := range types {
		if err := d.writeRefs(ctx, tables[i], groups[rt]); err != nil {
			return err
		}
	}
	return nil
}

// resolveIDs assigns the CodeSystemID and CommonTokenValueID of each of
// |recs|, creating directory rows of keys not yet known. Ids already held by
// |recs| are discarded: they may be of an aborted unit-of-work, and since
// have been assigned to another key.
func (d *DAO) resolveIDs(ctx context.Context, recs []*refs.TokenValueRec) error {
	for _, r := range recs {
		r.CodeSystemID, r.CommonTokenValueID = 0, 0
	}
	var _, misses, err = d.txn.ResolveCodeSystems(recs)
	if err != nil {
		return err
	} else if len(misses) != 0 {
		ids, err := d.upserter.CodeSystems(ctx, d.conn, misses)
		if err != nil {
			return err
		}
		for name, id := range ids {
			if err = d.txn.AddCodeSystem(name, id); err != nil {
				return err
			}
		}
		for _, r := range recs {
			if id, ok := ids[r.CodeSystemName()]; ok {
				r.CodeSystemID = id
			}
		}
	}

	tokenMisses, err := d.resolveTokenValues(ctx, recs)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"records":           len(recs),
		"codeSystemMisses":  len(misses),
		"tokenValueMisses":  tokenMisses,
		"pendingPromotions": d.txn.Pending(),
	}).Debug("resolved token reference ids")

	return nil
}

func (d *DAO) resolveTokenValues(ctx context.Context, recs []*refs.TokenValueRec) (int, error) {
	var _, misses, err = d.txn.ResolveTokenValues(recs)
	if err != nil || len(misses) == 0 {
		return 0, err
	}
	ids, err := d.upserter.CommonTokenValues(ctx, d.conn, misses)
	if err != nil {
		return 0, err
	}
	for key, id := range ids {
		if err = d.txn.AddCommonTokenValue(key, id); err != nil {
			return 0, err
		}
	}
	for _, r := range recs {
		if key, ok := r.CommonTokenKey(); ok {
			if id, ok := ids[key]; ok {
				r.CommonTokenValueID = id
			}
		}
	}
	return len(misses), nil
}

// ExternalSystemIDs returns ids of each of external system |names|,
// creating those not yet known.
func (d *DAO) ExternalSystemIDs(ctx context.Context, names ...string) (map[string]int32, error) {
	if err := d.checkKeys(names); err != nil {
		return nil, err
	}
	var ids, misses, err = d.txn.ResolveExternalSystems(names)
	if err != nil || len(misses) == 0 {
		return ids, err
	}
	created, err := d.upserter.ExternalSystems(ctx, d.conn, misses)
	if err != nil {
		return nil, err
	}
	for name, id := range created {
		if err = d.txn.AddExternalSystem(name, id); err != nil {
			return nil, err
		}
		ids[name] = id
	}
	return ids, nil
}

// ExternalReferenceValueIDs returns ids of each of external reference
// |values|, creating those not yet known.
func (d *DAO) ExternalReferenceValueIDs(ctx context.Context, values ...string) (map[string]int64, error) {
	if err := d.checkKeys(values); err != nil {
		return nil, err
	}
	var ids, misses, err = d.txn.ResolveExternalReferenceValues(values)
	if err != nil || len(misses) == 0 {
		return ids, err
	}
	created, err := d.upserter.ExternalReferenceValues(ctx, d.conn, misses)
	if err != nil {
		return nil, err
	}
	for value, id := range created {
		if err = d.txn.AddExternalReferenceValue(value, id); err != nil {
			return nil, err
		}
		ids[value] = id
	}
	return ids, nil
}

// Close releases prepared statements of the DAO. It doesn't close, commit,
// or roll back the connection or Txn of the DAO, which it doesn't own.
func (d *DAO) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	if d.stmts != nil {
		return d.stmts.close()
	}
	return nil
}

func (d *DAO) checkKeys(keys []string) error {
	if d.closed {
		return ErrClosed
	} else if len(keys) == 0 {
		return ErrEmptyKeys
	}
	for _, k := range keys {
		if len(k) > schema.MaxSearchStringBytes {
			return errors.WithMessagef(ErrValueTooLong, "key of %d bytes", len(k))
		}
	}
	return nil
}

func validateRecs(recs []*refs.TokenValueRec) error {
	for _, r := range recs {
		if l := len(r.CodeSystemName()); l > schema.MaxSearchStringBytes {
			return errors.WithMessagef(ErrValueTooLong,
				"code system of %d bytes (logical resource %d)", l, r.LogicalResourceID)
		}
		if r.TokenValue != nil && len(*r.TokenValue) > schema.MaxTokenValueBytes {
			return errors.WithMessagef(ErrValueTooLong,
				"token value of %d bytes (logical resource %d)", len(*r.TokenValue), r.LogicalResourceID)
		}
	}
	return nil
}
