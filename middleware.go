package sqlmap

import "context"

// Kind tells what a Statement asks of the connection.
type Kind string

const (
	KindQuery Kind = "query"
	KindExec  Kind = "exec"
	KindBatch Kind = "batch"
)

// Statement is one driver round trip: a bound template and the connection
// it runs on. Batch statements carry one argument list per instance.
type Statement struct {
	Kind     Kind
	Dialect  Dialect
	Template *Template
	Args     []any
	Batch    [][]any
	Conn     Conn
}

// Outcome is what a round trip produced. Rows is set for queries, Affected
// for exec and batch statements, Counts for batches. Counts holds one entry
// per statement that completed before Err, in input order.
type Outcome struct {
	Rows     *ResultSet
	Affected int64
	Counts   []int64
	Err      error
}

// Handler runs a Statement.
type Handler func(ctx context.Context, st *Statement) *Outcome

// Middleware wraps a Handler. Middlewares see every round trip made by the
// Executor they are configured on.
type Middleware func(next Handler) Handler

// chain wraps h so that mws[0] runs first.
func chain(h Handler, mws []Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
