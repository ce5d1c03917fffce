package sqlmap

import (
	"context"
	"errors"
	"fmt"
)

var (
	errNilConn  = errors.New("nil connection")
	errNoResult = errors.New("handler returned no result")
)

// Query runs a query and maps every row to a T, in result order. An empty
// result is an empty, non-nil slice. The record for T is looked up (or
// derived) before the driver is called, so an unmappable T never reaches
// the database.
func Query[T any](ctx context.Context, ex *Executor, conn Conn, query string, src Source) ([]T, error) {
	rec, err := recordFor[T](ex)
	if err != nil {
		return nil, err
	}
	rs, err := ex.Fetch(ctx, conn, query, src)
	if err != nil {
		return nil, err
	}
	if len(rs.Rows) == 0 {
		return []T{}, nil
	}
	p, err := planFor(ex, rec, rs.Columns)
	if err != nil {
		return nil, err
	}
	return mapRows(rec, p, rs)
}

// QuerySingle runs a query expected to return at most one row. It reports
// false when there is no row and fails with ErrMultipleResults when there
// is more than one.
func QuerySingle[T any](ctx context.Context, ex *Executor, conn Conn, query string, src Source) (T, bool, error) {
	var zero T
	rec, err := recordFor[T](ex)
	if err != nil {
		return zero, false, err
	}
	rs, err := ex.Fetch(ctx, conn, query, src)
	if err != nil {
		return zero, false, err
	}
	switch n := len(rs.Rows); {
	case n == 0:
		return zero, false, nil
	case n > 1:
		return zero, false, fmt.Errorf("%w: got %d", ErrMultipleResults, n)
	}
	p, err := planFor(ex, rec, rs.Columns)
	if err != nil {
		return zero, false, err
	}
	v, err := mapRow(rec, p, rs.Columns, rs.Rows[0])
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// QueryFunc runs a query and builds one T per row with fn, for results that
// do not fit a record (computed columns, joins into nested values).
func QueryFunc[T any](ctx context.Context, ex *Executor, conn Conn, query string, src Source, fn RowMapper[T]) ([]T, error) {
	rs, err := ex.Fetch(ctx, conn, query, src)
	if err != nil {
		return nil, err
	}
	pos := newRowIndex(rs.Columns)
	out := make([]T, 0, len(rs.Rows))
	for _, values := range rs.Rows {
		v, err := fn(&Row{cols: rs.Columns, values: values, pos: pos})
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Fetch runs a query and returns the materialized result without mapping it.
func (ex *Executor) Fetch(ctx context.Context, conn Conn, query string, src Source) (*ResultSet, error) {
	t, err := ex.Parse(query)
	if err != nil {
		return nil, err
	}
	args, err := t.Bind(src)
	if err != nil {
		return nil, err
	}
	st := &Statement{Kind: KindQuery, Template: t, Args: args, Conn: conn}
	out := ex.run(ctx, st)
	if out.Err != nil {
		return nil, out.Err
	}
	if out.Rows == nil {
		return nil, executionError(st, -1, errNoResult)
	}
	return out.Rows, nil
}

// Execute runs a data-changing statement and returns the number of rows it
// affected. Zero is a legal count.
func (ex *Executor) Execute(ctx context.Context, conn Conn, query string, src Source) (int64, error) {
	t, err := ex.Parse(query)
	if err != nil {
		return 0, err
	}
	args, err := t.Bind(src)
	if err != nil {
		return 0, err
	}
	out := ex.run(ctx, &Statement{Kind: KindExec, Template: t, Args: args, Conn: conn})
	return out.Affected, out.Err
}

// ExecuteFor runs a statement whose parameters are read from v through
// params.
func ExecuteFor[T any](ctx context.Context, ex *Executor, conn Conn, query string, v T, params *Params[T]) (int64, error) {
	t, err := ex.Parse(query)
	if err != nil {
		return 0, err
	}
	if err := params.Check(t); err != nil {
		return 0, err
	}
	return ex.Execute(ctx, conn, query, params.For(v))
}

// ExecuteAll runs the statement once per element of vs and returns one
// affected-row count per element, in input order. Every placeholder must
// have an accessor in params before anything runs.
//
// Connections implementing BatchExecer receive a single batch. Others run
// the statements one by one, which is not atomic: on failure the counts of
// the statements already applied are returned together with an
// *ExecutionError whose Index is the failing element. Wrap the call in a
// transaction for all-or-nothing behavior.
func ExecuteAll[T any](ctx context.Context, ex *Executor, conn Conn, query string, vs []T, params *Params[T]) ([]int64, error) {
	t, err := ex.Parse(query)
	if err != nil {
		return nil, err
	}
	if err := params.Check(t); err != nil {
		return nil, err
	}
	if len(vs) == 0 {
		return []int64{}, nil
	}
	batch := make([][]any, len(vs))
	for i, v := range vs {
		args, err := t.Bind(params.For(v))
		if err != nil {
			return nil, err
		}
		batch[i] = args
	}
	st := &Statement{Kind: KindBatch, Template: t, Batch: batch, Conn: conn}
	out := ex.run(ctx, st)
	if out.Err == nil && len(out.Counts) != len(batch) {
		return out.Counts, executionError(st, len(out.Counts),
			fmt.Errorf("%d counts for %d statements", len(out.Counts), len(batch)))
	}
	return out.Counts, out.Err
}

// run sends st through the middleware chain.
func (ex *Executor) run(ctx context.Context, st *Statement) *Outcome {
	st.Dialect = ex.dialect
	if st.Conn == nil {
		return &Outcome{Err: &ExecutionError{Op: string(st.Kind), SQL: st.Template.SQL(), Index: -1, Err: errNilConn}}
	}
	out := ex.handler(ctx, st)
	if out == nil {
		out = &Outcome{}
	}
	if out.Err != nil {
		ex.log.Debug().Err(out.Err).Str("kind", string(st.Kind)).Msg("statement failed")
	}
	return out
}

// driverHandler is the innermost Handler: it talks to the connection.
func driverHandler(ctx context.Context, st *Statement) *Outcome {
	switch st.Kind {
	case KindQuery:
		rs, err := fetchAll(ctx, st.Conn, st.Template.SQL(), st.Args)
		if err != nil {
			return &Outcome{Err: executionError(st, -1, err)}
		}
		return &Outcome{Rows: rs}

	case KindExec:
		n, err := st.Conn.Exec(ctx, st.Template.SQL(), st.Args...)
		if err != nil {
			return &Outcome{Err: executionError(st, -1, err)}
		}
		return &Outcome{Affected: n}

	case KindBatch:
		counts, err := execBatch(ctx, st.Conn, st.Template.SQL(), st.Batch)
		out := &Outcome{Counts: counts}
		for _, n := range counts {
			out.Affected += n
		}
		if err != nil {
			out.Err = executionError(st, len(counts), err)
		}
		return out
	}
	return &Outcome{Err: executionError(st, -1, fmt.Errorf("unknown statement kind %q", st.Kind))}
}

func executionError(st *Statement, index int, err error) error {
	return &ExecutionError{Op: string(st.Kind), SQL: st.Template.SQL(), Index: index, Err: err}
}

// fetchAll drains rows into a ResultSet and always closes them.
func fetchAll(ctx context.Context, conn Conn, query string, args []any) (rs *ResultSet, err error) {
	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			rs, err = nil, cerr
		}
	}()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	rs = &ResultSet{Columns: cols, Rows: [][]any{}}
	targets := make([]any, len(cols))
	for rows.Next() {
		values := make([]any, len(cols))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, err
		}
		rs.Rows = append(rs.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rs, nil
}

// execBatch runs batch through a BatchExecer when conn is one, otherwise
// statement by statement, stopping at the first failure.
func execBatch(ctx context.Context, conn Conn, query string, batch [][]any) ([]int64, error) {
	if be, ok := conn.(BatchExecer); ok {
		return be.ExecBatch(ctx, query, batch)
	}
	counts := make([]int64, 0, len(batch))
	for _, args := range batch {
		if err := ctx.Err(); err != nil {
			return counts, err
		}
		n, err := conn.Exec(ctx, query, args...)
		if err != nil {
			return counts, err
		}
		counts = append(counts, n)
	}
	return counts, nil
}
