// Package db provides a fluent SQL generation engine and a lightweight
// active-record persistence layer for MySQL-flavored databases.
//
// The package is split into a handful of collaborating pieces:
//
//   - Quoter quotes identifiers, tables and values into safe SQL fragments.
//   - ConditionCompiler compiles nested condition trees into boolean SQL.
//   - QueryBuilder accumulates fluent state and renders full statements,
//     executing mutations through an Executor.
//   - Model tracks per-instance dirty/changed attribute state and fires
//     lifecycle events around persistence operations.
//   - Hub is the process-wide lifecycle event registry.
//
// Statement compilation and assembly are pure, synchronous string
// transformations; the only suspension point is the Executor call.
package db

import (
	"database/sql"
	"log/slog"
	"time"
)

// DB binds an Executor to quoting configuration and spawns query builders
// and model queries. A DB is safe for concurrent use; the builders it
// spawns are not, and must not be shared across concurrent operations.
type DB struct {
	exec     Executor
	quoter   Quoter
	compiler ConditionCompiler
	logger   *slog.Logger
	cache    *queryCache
	hub      *Hub
	logSQL   bool
}

// Option configures a DB.
type Option func(*DB)

// WithTablePrefix sets the prefix applied to bare table names.
func WithTablePrefix(prefix string) Option {
	return func(d *DB) {
		d.quoter.Prefix = prefix
	}
}

// WithLogger sets the structured logger used for SQL and slow-query
// logging. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(d *DB) {
		d.logger = l
	}
}

// WithSQLLog enables debug logging of every rendered statement.
func WithSQLLog() Option {
	return func(d *DB) {
		d.logSQL = true
	}
}

// WithCache enables the read-query cache for builders that opt in via
// Cached. Results are kept for the given TTL and invalidated by any
// mutation on the same table.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(d *DB) {
		d.cache = newQueryCache(c, ttl)
	}
}

// WithHub sets the lifecycle event hub. Defaults to the process-wide
// DefaultHub.
func WithHub(h *Hub) Option {
	return func(d *DB) {
		d.hub = h
	}
}

// New returns a DB running statements through the given Executor.
func New(exec Executor, opts ...Option) *DB {
	d := &DB{
		exec:   exec,
		logger: slog.Default(),
		hub:    DefaultHub,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.compiler = ConditionCompiler{Quoter: d.quoter}
	return d
}

// Open opens a database/sql handle with the given driver and DSN and wraps
// it. Connection pooling stays with database/sql.
func Open(driverName, dsn string, opts ...Option) (*DB, error) {
	h, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	return New(NewConn(h), opts...), nil
}

// OpenDB wraps an existing database/sql handle.
func OpenDB(h *sql.DB, opts ...Option) *DB {
	return New(NewConn(h), opts...)
}

// Table returns a fresh QueryBuilder for the given table. The table spec
// may carry an alias ("users u") and a database qualifier.
func (d *DB) Table(table string) *QueryBuilder {
	return newQueryBuilder(d, table)
}

// Model returns a ModelQuery bound to the given model type.
func (d *DB) Model(meta *Meta) *ModelQuery {
	return newModelQuery(d, meta)
}

// Executor returns the underlying Executor.
func (d *DB) Executor() Executor {
	return d.exec
}

// Quoter returns the configured Quoter.
func (d *DB) Quoter() Quoter {
	return d.quoter
}
