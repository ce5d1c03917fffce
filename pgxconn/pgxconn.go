// Package pgxconn adapts jackc/pgx connections, pools and transactions to
// sqlmap.Conn. Batches are sent with pgx.Batch in one round trip.
package pgxconn

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/gandaldf/sqlmap"
)

// Querier is implemented by *pgx.Conn, pgx.Tx, *pgxpool.Pool and
// *pgxpool.Conn.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Conn implements sqlmap.Conn and sqlmap.BatchExecer over a Querier.
type Conn struct {
	q Querier
}

// Wrap returns a Conn running statements on q.
func Wrap(q Querier) *Conn {
	return &Conn{q: q}
}

// Exec executes a statement and returns the affected row count from the
// command tag.
func (c *Conn) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := c.q.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Query executes a query that returns rows.
func (c *Conn) Query(ctx context.Context, query string, args ...any) (sqlmap.Rows, error) {
	rows, err := c.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &Rows{rows: rows}, nil
}

// ExecBatch queues one statement per argument list and sends them as a
// single batch. Outside an explicit transaction the server runs the batch
// in one implicit transaction.
func (c *Conn) ExecBatch(ctx context.Context, query string, batch [][]any) (counts []int64, err error) {
	b := &pgx.Batch{}
	for _, args := range batch {
		b.Queue(query, args...)
	}
	br := c.q.SendBatch(ctx, b)
	defer func() {
		if cerr := br.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	counts = make([]int64, 0, len(batch))
	for range batch {
		tag, err := br.Exec()
		if err != nil {
			return counts, err
		}
		counts = append(counts, tag.RowsAffected())
	}
	return counts, nil
}

// Rows implements sqlmap.Rows for pgx.Rows.
type Rows struct {
	rows              pgx.Rows
	fieldDescriptions []pgconn.FieldDescription
}

// Next prepares the next result row for reading.
func (r *Rows) Next() bool { return r.rows.Next() }

// Scan copies the columns from the current row into the provided destinations.
func (r *Rows) Scan(dest ...any) error { return r.rows.Scan(dest...) }

// Err returns the error, if any, that was encountered during iteration.
func (r *Rows) Err() error { return r.rows.Err() }

// Close closes the rows iterator.
func (r *Rows) Close() error { r.rows.Close(); return nil }

// Columns returns the column names.
func (r *Rows) Columns() ([]string, error) {
	if r.fieldDescriptions == nil {
		r.fieldDescriptions = r.rows.FieldDescriptions()
	}
	columns := make([]string, len(r.fieldDescriptions))
	for i, fd := range r.fieldDescriptions {
		columns[i] = fd.Name
	}
	return columns, nil
}

var (
	_ sqlmap.Conn        = (*Conn)(nil)
	_ sqlmap.BatchExecer = (*Conn)(nil)
	_ sqlmap.Rows        = (*Rows)(nil)
)
