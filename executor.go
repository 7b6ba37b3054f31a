package db

import (
	"context"
	"database/sql"
)

// Row is one fetched row keyed by column name.
type Row map[string]any

// Rows is a fully fetched result set. Columns preserves the select-list
// order, which map-keyed rows cannot.
type Rows struct {
	Columns []string
	Data    []Row
}

// Result reports the outcome of a mutation statement.
type Result struct {
	AffectedRows int64
	LastInsertID int64
}

// Executor runs rendered SQL against a database connection or pool. The
// core never retries; cancellation and timeouts belong to the Executor
// implementation. Implementations must be safe for concurrent use.
type Executor interface {
	Query(ctx context.Context, query string, args ...any) (*Rows, error)
	Exec(ctx context.Context, query string, args ...any) (Result, error)
}

// ExecQuerier wraps the standard ExecContext and QueryContext methods.
// Both *sql.DB and *sql.Tx implement it.
type ExecQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Conn implements Executor on top of a database/sql handle.
type Conn struct {
	ExecQuerier
}

// NewConn returns a Conn wrapping the given ExecQuerier.
func NewConn(eq ExecQuerier) Conn {
	return Conn{ExecQuerier: eq}
}

// Query implements the Executor.Query method.
func (c Conn) Query(ctx context.Context, query string, args ...any) (*Rows, error) {
	rows, err := c.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	rs := &Rows{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := make(Row, len(columns))
		for i, col := range columns {
			// MySQL text protocol reports strings as []byte.
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		rs.Data = append(rs.Data, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rs, nil
}

// Exec implements the Executor.Exec method.
func (c Conn) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	res, err := c.ExecContext(ctx, query, args...)
	if err != nil {
		return Result{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Result{}, err
	}
	// Drivers report no insert id for statements that did not insert.
	id, err := res.LastInsertId()
	if err != nil {
		id = 0
	}
	return Result{AffectedRows: affected, LastInsertID: id}, nil
}
