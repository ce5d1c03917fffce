// Package opentelemetry opens one span per statement an Executor sends.
package opentelemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gandaldf/sqlmap"
)

const instrumentationName = "github.com/gandaldf/sqlmap/middleware/opentelemetry"

type MiddlewareBuilder struct {
	Tracer trace.Tracer
}

func (m *MiddlewareBuilder) Build() sqlmap.Middleware {
	if m.Tracer == nil {
		m.Tracer = otel.GetTracerProvider().Tracer(instrumentationName)
	}
	return func(next sqlmap.Handler) sqlmap.Handler {
		return func(ctx context.Context, st *sqlmap.Statement) *sqlmap.Outcome {
			ctx, span := m.Tracer.Start(ctx, "sqlmap."+string(st.Kind), trace.WithSpanKind(trace.SpanKindClient))
			defer span.End()

			span.SetAttributes(
				attribute.String("db.system", st.Dialect.String()),
				attribute.String("db.statement", st.Template.SQL()),
				attribute.Int("db.sqlmap.params", st.Template.Len()),
			)
			if st.Kind == sqlmap.KindBatch {
				span.SetAttributes(attribute.Int("db.sqlmap.batch_size", len(st.Batch)))
			}

			out := next(ctx, st)

			switch st.Kind {
			case sqlmap.KindQuery:
				if out.Rows != nil {
					span.SetAttributes(attribute.Int("db.sqlmap.rows", len(out.Rows.Rows)))
				}
			default:
				span.SetAttributes(attribute.Int64("db.sqlmap.rows_affected", out.Affected))
			}
			if out.Err != nil {
				span.RecordError(out.Err)
				span.SetStatus(codes.Error, out.Err.Error())
			}
			return out
		}
	}
}
