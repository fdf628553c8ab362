package refdao

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.refcache.dev/core/metrics"
	"go.refcache.dev/core/refcache"
)

// Transact runs |fn| as a unit-of-work over a DAO of a new transaction of
// |db|, and a new Txn of |cache|. If |fn| succeeds, the DAO is closed and the
// transaction is committed. Only then is the Txn committed, promoting ids
// created by the unit-of-work into |cache|. If |fn| or the commit fails,
// both the transaction and the Txn are rolled back. They're also rolled back
// if |fn| panics, and the panic then continues.
//
// The transaction uses the isolation level of the configured Dialect.
func Transact(ctx context.Context, db *sql.DB, cache *refcache.Cache, cfg Config, fn func(*DAO) error) (err error) {
	if cfg.Dialect == nil {
		return errors.New("expected a Dialect")
	}
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: cfg.Dialect.Isolation()})
	if err != nil {
		return errors.WithMessage(cfg.Dialect.Translate(err), "beginning transaction")
	}
	var txn = cache.Begin()

	defer func() {
		var r = recover()
		if r == nil && err == nil {
			metrics.UnitsOfWorkTotal.WithLabelValues(metrics.Ok).Inc()
			return
		}
		metrics.UnitsOfWorkTotal.WithLabelValues(metrics.Fail).Inc()
		txn.Rollback()

		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			log.WithFields(log.Fields{"err": rbErr}).Warn("failed to roll back unit-of-work")
		}
		if r != nil {
			panic(r)
		}
	}()

	dao, err := New(cfg, tx, txn)
	if err != nil {
		return err
	}
	if err = fn(dao); err != nil {
		_ = dao.Close()
		return err
	} else if err = dao.Close(); err != nil {
		return err
	} else if err = tx.Commit(); err != nil {
		return errors.WithMessage(cfg.Dialect.Translate(err), "committing transaction")
	}

	// The transaction is durable. A failure to promote means a cached id
	// conflicts with a committed one, which is a consistency fault.
	if err = txn.Commit(); err != nil {
		log.WithFields(log.Fields{"err": err}).Error("failed to promote committed ids")
		return err
	}
	return nil
}
