package core

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/dosco/docjin"

func defaultTracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// Starts a span for one terminal operation
func (dj *DocJin) spanStart(c context.Context, op string, q *Query) (context.Context, trace.Span) {
	return dj.tracer.Start(c, "docjin."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "mongodb"),
			attribute.String("db.collection.name", q.pipe.collection),
			attribute.String("docjin.connection", q.conn),
			attribute.String("docjin.query_id", q.id.String()),
		))
}

func spanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// logExec writes one debug line per terminal operation. The full pipeline
// is only included in debug mode outside production.
func (dj *DocJin) logExec(q *Query, op string, stages []bson.D, took time.Duration, err error) {
	ce := dj.log.Check(zap.DebugLevel, "query executed")
	if ce == nil {
		if err != nil {
			dj.log.Warn("query failed",
				zap.String("qid", q.id.String()),
				zap.String("collection", q.pipe.collection),
				zap.String("op", op),
				zap.Error(err))
		}
		return
	}

	fields := []zap.Field{
		zap.String("qid", q.id.String()),
		zap.String("collection", q.pipe.collection),
		zap.String("op", op),
		zap.Int("stages", len(stages)),
		zap.Duration("took", took),
	}
	if dj.conf.Debug && !dj.conf.Production && len(stages) != 0 {
		fields = append(fields, zap.Reflect("pipeline", stages))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	ce.Write(fields...)
}
