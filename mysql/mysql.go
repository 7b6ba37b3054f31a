// Package mysql opens wind-framework/db handles backed by the
// go-sql-driver/mysql driver and translates its error codes into the
// typed errors of the db package.
package mysql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"

	"github.com/wind-framework/db"
)

// MySQL server error codes translated into typed errors.
const (
	errDupEntry      = 1062
	errNoRefRow      = 1216
	errRowIsRef      = 1217
	errNoRefRow2     = 1452
	errRowIsRef2     = 1451
	errBadNullColumn = 1048
)

// Open opens a MySQL-backed DB for the given DSN. Driver errors surfaced
// by executions are translated via TranslateError.
func Open(dsn string, opts ...db.Option) (*db.DB, error) {
	h, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	return db.New(executor{db.NewConn(h)}, opts...), nil
}

// OpenDB wraps an existing database/sql handle using the mysql driver.
func OpenDB(h *sql.DB, opts ...db.Option) *db.DB {
	return db.New(executor{db.NewConn(h)}, opts...)
}

// executor decorates db.Conn with driver-error translation.
type executor struct {
	conn db.Conn
}

func (e executor) Query(ctx context.Context, query string, args ...any) (*db.Rows, error) {
	rs, err := e.conn.Query(ctx, query, args...)
	return rs, TranslateError(err)
}

func (e executor) Exec(ctx context.Context, query string, args ...any) (db.Result, error) {
	res, err := e.conn.Exec(ctx, query, args...)
	return res, TranslateError(err)
}

// TranslateError converts well-known MySQL server errors into the typed
// errors of the db package. Unknown errors pass through unchanged.
func TranslateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return db.ErrNotFound
	}
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return err
	}
	switch me.Number {
	case errDupEntry, errNoRefRow, errRowIsRef, errNoRefRow2, errRowIsRef2, errBadNullColumn:
		return db.NewConstraintError(me.Message, err)
	}
	return err
}
