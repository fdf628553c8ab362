package refdao

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.refcache.dev/core/metrics"
	"go.refcache.dev/core/refs"
	"go.refcache.dev/core/schema"
)

// Columns of a token reference row, in bind order.
var refColumns = []string{
	schema.ParameterNameID,
	schema.LogicalResourceID,
	schema.CommonTokenValID,
	schema.RefVersionID,
}

// writeRefs writes |recs| to token reference |table| (which must already be
// validated), in batches of at most Config.BatchSize rows. Each batch is a
// single multi-row INSERT. A full batch is flushed as soon as it's filled,
// and a final partial batch is flushed at the end.
func (d *DAO) writeRefs(ctx context.Context, table string, recs []*refs.TokenValueRec) error {
	for _, r := range recs {
		if r.TokenValue != nil && r.CommonTokenValueID == 0 {
			return errors.WithMessagef(ErrUnresolvedRef, "%s logical resource %d, token value %q",
				table, r.LogicalResourceID, *r.TokenValue)
		}
	}

	var batch = make([]*refs.TokenValueRec, 0, d.cfg.BatchSize)
	for _, r := range recs {
		if batch = append(batch, r); len(batch) == d.cfg.BatchSize {
			if err := d.flush(ctx, table, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if len(batch) != 0 {
		return d.flush(ctx, table, batch)
	}
	return nil
}

func (d *DAO) flush(ctx context.Context, table string, batch []*refs.TokenValueRec) error {
	var query = d.insertRefsSQL(table, len(batch))
	var args = make([]interface{}, 0, len(batch)*len(refColumns))

	for _, r := range batch {
		var tokenValueID, refVersionID interface{}
		if r.CommonTokenValueID != 0 {
			tokenValueID = r.CommonTokenValueID
		}
		if r.RefVersionID != nil {
			refVersionID = *r.RefVersionID
		}
		args = append(args, r.ParameterNameID, r.LogicalResourceID, tokenValueID, refVersionID)
	}

	if _, err := d.conn.ExecContext(ctx, query, args...); err != nil {
		metrics.RefBatchFlushesTotal.WithLabelValues(metrics.Fail).Inc()
		err = d.cfg.Dialect.Translate(err)

		log.WithFields(log.Fields{
			"table": table,
			"rows":  len(batch),
			"err":   err,
		}).Error("failed to flush token references")

		return errors.WithMessagef(err, "writing %d rows to %s", len(batch), table)
	}
	metrics.RefBatchFlushesTotal.WithLabelValues(metrics.Ok).Inc()
	metrics.RefRowsWrittenTotal.Add(float64(len(batch)))

	log.WithFields(log.Fields{
		"table": table,
		"rows":  len(batch),
	}).Debug("flushed token references")

	return nil
}

// insertRefsSQL renders eg:
//
//	INSERT INTO fhirdata.Observation_RESOURCE_TOKEN_REFS
//	  (parameter_name_id, logical_resource_id, common_token_value_id, ref_version_id)
//	  VALUES ($1, $2, $3, $4), ($5, $6, $7, $8)
func (d *DAO) insertRefsSQL(table string, rows int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO " + d.cfg.Dialect.Qualify(d.cfg.Schema, table))
	b.WriteString(" (" + strings.Join(refColumns, ", ") + ") VALUES ")

	var n = 1
	for r := 0; r != rows; r++ {
		if r != 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for c := range refColumns {
			if c != 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.cfg.Dialect.Placeholder(n))
			n++
		}
		b.WriteString(")")
	}
	return b.String()
}

// DeleteReferencesFor removes the token references of |resourceType| owned
// by |logicalResourceID|, returning the number of rows removed. Directory
// rows are never removed, as they may be shared with other resources.
func (d *DAO) DeleteReferencesFor(ctx context.Context, resourceType string, logicalResourceID int64) (int64, error) {
	if d.closed {
		return 0, ErrClosed
	}
	var table, err = schema.TokenRefsTable(resourceType)
	if err != nil {
		return 0, err
	}
	var query = "DELETE FROM " + d.cfg.Dialect.Qualify(d.cfg.Schema, table) +
		" WHERE " + schema.LogicalResourceID + " = " + d.cfg.Dialect.Placeholder(1)

	var n int64
	res, err := d.conn.ExecContext(ctx, query, logicalResourceID)
	if err == nil {
		n, err = res.RowsAffected()
	}
	if err != nil {
		err = d.cfg.Dialect.Translate(err)
		log.WithFields(log.Fields{
			"table":             table,
			"logicalResourceID": logicalResourceID,
			"err":               err,
		}).Error("failed to delete token references")

		return 0, errors.WithMessagef(err, "deleting from %s", table)
	}

	metrics.RefRowsDeletedTotal.Add(float64(n))
	return n, nil
}
