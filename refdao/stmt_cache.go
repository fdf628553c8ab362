package refdao

import (
	"context"
	"database/sql"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.refcache.dev/core/dialect"
)

// preparer is implemented by *sql.Tx, *sql.Conn and *sql.DB.
type preparer interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// stmtConn is a dialect.Conn which executes statements through an LRU cache
// of prepared statements, keyed on statement text. Upserts and flushes of
// like-sized batches render identical text, and re-use a statement.
type stmtConn struct {
	prep  preparer
	stmts *lru.Cache
}

// newStmtConn returns a stmtConn of |conn| caching |size| statements,
// or nil if |size| is zero or |conn| can't prepare statements.
func newStmtConn(conn dialect.Conn, size int) *stmtConn {
	var prep, ok = conn.(preparer)
	if size <= 0 || !ok {
		return nil
	}
	var stmts, err = lru.NewWithEvict(size, func(key, value interface{}) {
		if err := value.(*sql.Stmt).Close(); err != nil {
			log.WithFields(log.Fields{"sql": key, "err": err}).Warn("failed to close prepared statement")
		}
	})
	if err != nil {
		panic(err.Error()) // Only errors on size <= 0.
	}
	return &stmtConn{prep: prep, stmts: stmts}
}

func (c *stmtConn) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var stmt, err = c.stmt(ctx, query)
	if err != nil {
		return nil, err
	}
	return stmt.ExecContext(ctx, args...)
}

func (c *stmtConn) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	var stmt, err = c.stmt(ctx, query)
	if err != nil {
		return nil, err
	}
	return stmt.QueryContext(ctx, args...)
}

func (c *stmtConn) stmt(ctx context.Context, query string) (*sql.Stmt, error) {
	if s, ok := c.stmts.Get(query); ok {
		return s.(*sql.Stmt), nil
	}
	var s, err = c.prep.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	c.stmts.Add(query, s)
	return s, nil
}

// close all cached statements.
func (c *stmtConn) close() error {
	var firstErr error
	for _, key := range c.stmts.Keys() {
		if s, ok := c.stmts.Peek(key); ok {
			if err := s.(*sql.Stmt).Close(); err != nil && firstErr == nil {
				firstErr = errors.WithMessage(err, "closing prepared statement")
			}
		}
	}
	// Statements are already closed, and Close is idempotent.
	c.stmts.Purge()
	return firstErr
}
