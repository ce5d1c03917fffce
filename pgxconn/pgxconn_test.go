package pgxconn

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gandaldf/sqlmap"
)

type fakeRows struct {
	cols   []string
	values [][]any
	i      int
	err    error
	closed bool
}

func (r *fakeRows) Close()                                       { r.closed = true }
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return r.values[r.i-1], nil }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return fields(r.cols) }

func (r *fakeRows) Next() bool {
	if r.i >= len(r.values) {
		return false
	}
	r.i++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	for i, d := range dest {
		*(d.(*any)) = r.values[r.i-1][i]
	}
	return nil
}

func fields(cols []string) []pgconn.FieldDescription {
	out := make([]pgconn.FieldDescription, len(cols))
	for i, c := range cols {
		out[i] = pgconn.FieldDescription{Name: c}
	}
	return out
}

type fakeBatch struct {
	tags   []string
	failAt int
	i      int
	closed bool
}

func (b *fakeBatch) Exec() (pgconn.CommandTag, error) {
	defer func() { b.i++ }()
	if b.i == b.failAt {
		return pgconn.CommandTag{}, &pgconn.PgError{Code: "23505", Message: "duplicate key value"}
	}
	return pgconn.NewCommandTag(b.tags[b.i]), nil
}

func (b *fakeBatch) Query() (pgx.Rows, error) { return nil, errors.New("unexpected Query") }
func (b *fakeBatch) QueryRow() pgx.Row        { return nil }
func (b *fakeBatch) Close() error             { b.closed = true; return nil }

type fakeQuerier struct {
	sql     string
	args    []any
	tag     string
	rows    *fakeRows
	batch   *fakeBatch
	queued  *pgx.Batch
	execErr error
}

func (q *fakeQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q.sql, q.args = sql, args
	if q.execErr != nil {
		return pgconn.CommandTag{}, q.execErr
	}
	return pgconn.NewCommandTag(q.tag), nil
}

func (q *fakeQuerier) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	q.sql, q.args = sql, args
	return q.rows, nil
}

func (q *fakeQuerier) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	q.queued = b
	return q.batch
}

func TestConn_Exec_RowsAffected(t *testing.T) {
	q := &fakeQuerier{tag: "UPDATE 3"}
	n, err := Wrap(q).Exec(context.Background(), "UPDATE super_heroes SET age = $1", 30)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, []any{30}, q.args)
}

func TestConn_Query_ThroughExecutor(t *testing.T) {
	type hero struct {
		ID   int64  `db:"id"`
		Name string `db:"name"`
	}
	rows := &fakeRows{
		cols:   []string{"id", "name"},
		values: [][]any{{int64(1), "Batman"}, {int64(2), "Superman"}},
	}
	q := &fakeQuerier{rows: rows}
	ex := sqlmap.New(sqlmap.Postgres)

	got, err := sqlmap.Query[hero](context.Background(), ex, Wrap(q),
		"SELECT id, name FROM super_heroes WHERE age > :age", sqlmap.Args{"age": 30})
	require.NoError(t, err)
	assert.Equal(t, []hero{{1, "Batman"}, {2, "Superman"}}, got)
	assert.Equal(t, "SELECT id, name FROM super_heroes WHERE age > $1", q.sql)
	assert.True(t, rows.closed)
}

func numeric(t *testing.T, s string) pgtype.Numeric {
	t.Helper()
	var n pgtype.Numeric
	require.NoError(t, n.Scan(s))
	return n
}

func TestConn_Query_NumericAggregates(t *testing.T) {
	type popularMovie struct {
		Title      string   `db:"title"`
		AvgGross   float64  `db:"avg_gross"`
		TotalGross int64    `db:"total_gross"`
		AvgRating  *float64 `db:"avg_rating"`
	}
	rows := &fakeRows{
		cols: []string{"title", "avg_gross", "total_gross", "avg_rating"},
		values: [][]any{
			{"The Dark Knight", numeric(t, "1006234167.5"), numeric(t, "2012468335"), pgtype.Numeric{}},
			{"Superman", numeric(t, "300218018.25"), numeric(t, "300218018"), numeric(t, "7.25")},
		},
	}
	q := &fakeQuerier{rows: rows}

	got, err := sqlmap.Query[popularMovie](context.Background(), sqlmap.New(sqlmap.Postgres), Wrap(q),
		"SELECT title, AVG(gross_worldwide) AS avg_gross, SUM(gross_worldwide) AS total_gross, AVG(rating) AS avg_rating FROM movies GROUP BY title HAVING AVG(gross_worldwide) > :min",
		sqlmap.Args{"min": 1000})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1006234167.5, got[0].AvgGross)
	assert.Equal(t, int64(2012468335), got[0].TotalGross)
	assert.Nil(t, got[0].AvgRating)
	require.NotNil(t, got[1].AvgRating)
	assert.Equal(t, 7.25, *got[1].AvgRating)
}

func TestConn_ExecBatch(t *testing.T) {
	q := &fakeQuerier{batch: &fakeBatch{tags: []string{"INSERT 0 1", "INSERT 0 1"}, failAt: -1}}
	counts, err := Wrap(q).ExecBatch(context.Background(), "INSERT INTO t VALUES ($1)", [][]any{{1}, {2}})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 1}, counts)
	assert.Equal(t, 2, q.queued.Len())
	assert.True(t, q.batch.closed)
}

func TestConn_ExecBatch_PartialFailure(t *testing.T) {
	type hero struct{ ID int64 }
	params := sqlmap.MustParams(sqlmap.P("id", func(h hero) int64 { return h.ID }))
	q := &fakeQuerier{batch: &fakeBatch{tags: []string{"INSERT 0 1", "INSERT 0 1", "INSERT 0 1"}, failAt: 1}}

	counts, err := sqlmap.ExecuteAll(context.Background(), sqlmap.New(sqlmap.Postgres), Wrap(q),
		"INSERT INTO super_heroes (id) VALUES (:id)", []hero{{1}, {1}, {3}}, params)
	var ee *sqlmap.ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 1, ee.Index)
	assert.Equal(t, []int64{1}, counts)

	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, "23505", pgErr.Code)
	assert.True(t, q.batch.closed)
}
