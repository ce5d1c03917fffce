// Package querylog logs every statement an Executor sends with zerolog.
package querylog

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/gandaldf/sqlmap"
)

type MiddlewareBuilder struct {
	logger zerolog.Logger
	args   bool
	slow   time.Duration
}

// NewBuilder returns a builder logging to logger.
func NewBuilder(logger zerolog.Logger) *MiddlewareBuilder {
	return &MiddlewareBuilder{logger: logger}
}

// WithArgs includes argument values in log events. Off by default since
// arguments often carry personal data.
func (m *MiddlewareBuilder) WithArgs(on bool) *MiddlewareBuilder {
	m.args = on
	return m
}

// SlowThreshold logs statements slower than d at Warn level. Zero disables it.
func (m *MiddlewareBuilder) SlowThreshold(d time.Duration) *MiddlewareBuilder {
	m.slow = d
	return m
}

func (m *MiddlewareBuilder) Build() sqlmap.Middleware {
	return func(next sqlmap.Handler) sqlmap.Handler {
		return func(ctx context.Context, st *sqlmap.Statement) *sqlmap.Outcome {
			start := time.Now()
			out := next(ctx, st)
			elapsed := time.Since(start)

			var ev *zerolog.Event
			switch {
			case out.Err != nil:
				ev = m.logger.Error().Err(out.Err)
			case m.slow > 0 && elapsed >= m.slow:
				ev = m.logger.Warn().Bool("slow", true)
			default:
				ev = m.logger.Debug()
			}
			if !ev.Enabled() {
				return out
			}

			ev = ev.Str("kind", string(st.Kind)).
				Str("sql", st.Template.SQL()).
				Dur("elapsed", elapsed)
			switch st.Kind {
			case sqlmap.KindQuery:
				ev = ev.Int("params", len(st.Args))
				if out.Rows != nil {
					ev = ev.Int("rows", len(out.Rows.Rows))
				}
			case sqlmap.KindExec:
				ev = ev.Int("params", len(st.Args)).Int64("affected", out.Affected)
			case sqlmap.KindBatch:
				ev = ev.Int("statements", len(st.Batch)).Int("completed", len(out.Counts)).Int64("affected", out.Affected)
			}
			if m.args {
				if st.Kind == sqlmap.KindBatch {
					ev = ev.Interface("args", st.Batch)
				} else {
					ev = ev.Interface("args", st.Args)
				}
			}
			ev.Msg("sql statement")
			return out
		}
	}
}
