package mainboilerplate

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.refcache.dev/core/dialect"
	"go.refcache.dev/core/refcache"
	"go.refcache.dev/core/refdao"
)

// DatabaseConfig configures the database of token references.
type DatabaseConfig struct {
	Dialect         string        `long:"dialect" env:"DIALECT" default:"sqlite" choice:"postgres" choice:"sqlite" choice:"mariadb" description:"SQL dialect of the database"`
	Driver          string        `long:"driver" env:"DRIVER" description:"Name of the database/sql driver. If not set, the default driver of the dialect is used. Eg, 'pgx' may be used with postgres"`
	DSN             string        `long:"dsn" env:"DSN" description:"Data source name of the database. SQLite DSNs should include '_txlock=immediate'"`
	Schema          string        `long:"schema" env:"SCHEMA" description:"Schema of reference tables. If not set, tables are unqualified"`
	MaxOpenConns    int           `long:"max-open-conns" env:"MAX_OPEN_CONNS" default:"8" description:"Maximum number of open database connections"`
	ConnMaxLifetime time.Duration `long:"conn-max-lifetime" env:"CONN_MAX_LIFETIME" default:"10m" description:"Maximum lifetime of a database connection"`
	PingTimeout     time.Duration `long:"ping-timeout" env:"PING_TIMEOUT" default:"10s" description:"Timeout for verifying the database is reachable"`
}

// Open the configured database, verifying that it's reachable.
func (c *DatabaseConfig) Open(ctx context.Context) (*sql.DB, dialect.Dialect, error) {
	var d, err = dialect.ForName(c.Dialect)
	if err != nil {
		return nil, nil, err
	} else if c.DSN == "" {
		return nil, nil, errors.New("a database DSN is required")
	}
	var driver = c.Driver
	if driver == "" {
		driver = d.DriverName()
	}

	db, err := sql.Open(driver, c.DSN)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "opening %s database", driver)
	}
	db.SetMaxOpenConns(c.MaxOpenConns)
	db.SetConnMaxLifetime(c.ConnMaxLifetime)

	if c.PingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.PingTimeout)
		defer cancel()
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, errors.WithMessage(d.Translate(err), "verifying database connection")
	}

	log.WithFields(log.Fields{
		"dialect":     d.Name(),
		"driver":      driver,
		"schema":      c.Schema,
		"concurrency": d.Concurrency(),
	}).Info("opened database")

	return db, d, nil
}

// MustOpen opens the configured database, or panics.
func (c *DatabaseConfig) MustOpen(ctx context.Context) (*sql.DB, dialect.Dialect) {
	var db, d, err = c.Open(ctx)
	Must(err, "failed to open database", "dialect", c.Dialect)
	return db, d
}

// CacheConfig configures the sizes of the identity cache.
type CacheConfig struct {
	CodeSystems             int `long:"code-systems" env:"CODE_SYSTEMS" default:"1024" description:"Maximum cached code systems. If <= zero, the cache is unbounded"`
	CommonTokenValues       int `long:"common-token-values" env:"COMMON_TOKEN_VALUES" default:"100000" description:"Maximum cached common token values. If <= zero, the cache is unbounded"`
	ExternalSystems         int `long:"external-systems" env:"EXTERNAL_SYSTEMS" default:"1024" description:"Maximum cached external systems. If <= zero, the cache is unbounded"`
	ExternalReferenceValues int `long:"external-reference-values" env:"EXTERNAL_REFERENCE_VALUES" default:"100000" description:"Maximum cached external reference values. If <= zero, the cache is unbounded"`
}

// BuildCache returns an empty refcache.Cache of the configured sizes.
func (c CacheConfig) BuildCache() *refcache.Cache {
	return refcache.NewCache(refcache.Sizes{
		CodeSystems:             c.CodeSystems,
		CommonTokenValues:       c.CommonTokenValues,
		ExternalSystems:         c.ExternalSystems,
		ExternalReferenceValues: c.ExternalReferenceValues,
	})
}

// WriterConfig configures the writing of token references.
type WriterConfig struct {
	BatchSize          int `long:"batch-size" env:"BATCH_SIZE" default:"100" description:"Maximum token reference rows written per statement"`
	StatementCacheSize int `long:"statement-cache-size" env:"STATEMENT_CACHE_SIZE" default:"32" description:"Prepared statements retained per unit-of-work. If zero, statements aren't prepared"`
}

// DAOConfig returns the refdao.Config of a DAO using Dialect |d| and |schema|.
func (c WriterConfig) DAOConfig(d dialect.Dialect, schema string) refdao.Config {
	return refdao.Config{
		Dialect:            d,
		Schema:             schema,
		BatchSize:          c.BatchSize,
		StatementCacheSize: c.StatementCacheSize,
	}
}
