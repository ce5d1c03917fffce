package sqlmap

import (
	"context"
	"database/sql"
)

// Rows is the cursor a Conn returns for queries. *sql.Rows satisfies it.
type Rows interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Conn is the caller-owned connection statements run on. The Executor never
// opens, pools or closes connections; pass a *sql.DB, *sql.Tx or *sql.Conn
// through Wrap, or a pgx pool or transaction through pgxconn.Wrap.
type Conn interface {
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	Query(ctx context.Context, query string, args ...any) (Rows, error)
}

// BatchExecer is implemented by connections that can send one statement
// with many argument lists in a single round trip. On failure it returns
// the counts of the statements that completed, so the failing one is at
// index len(counts).
type BatchExecer interface {
	ExecBatch(ctx context.Context, query string, batch [][]any) ([]int64, error)
}

// Execer is implemented by *sql.DB, *sql.Tx and *sql.Conn.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Queryer is implemented by *sql.DB, *sql.Tx and *sql.Conn.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// DB groups Execer and Queryer.
type DB interface {
	Execer
	Queryer
}

// Wrap adapts a database/sql handle to Conn.
func Wrap(db DB) Conn {
	return sqlConn{db: db}
}

type sqlConn struct {
	db DB
}

func (c sqlConn) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (c sqlConn) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
