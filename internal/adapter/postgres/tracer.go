package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/deskpulse/internal/adapter/metrics"
)

// MetricsTracer implements pgx.QueryTracer to collect read-model query metrics.
type MetricsTracer struct {
	m     *metrics.PostgresMetrics
	clock clockwork.Clock
}

var _ pgx.QueryTracer = (*MetricsTracer)(nil)

func NewMetricsTracer(m *metrics.PostgresMetrics) *MetricsTracer {
	return &MetricsTracer{m: m, clock: clockwork.NewRealClock()}
}

type queryContextKey struct{}

type queryContext struct {
	startTime time.Time
	queryName string
}

func (t *MetricsTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryContextKey{}, queryContext{
		startTime: t.clock.Now(),
		queryName: queryName(data.SQL),
	})
}

func (t *MetricsTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	qctx, ok := ctx.Value(queryContextKey{}).(queryContext)
	if !ok {
		return
	}

	t.m.QueryDuration.WithLabelValues(qctx.queryName).Observe(t.clock.Since(qctx.startTime).Seconds())
	if data.Err != nil {
		t.m.QueryErrors.WithLabelValues(qctx.queryName).Inc()
	}
}

// queryName returns a low-cardinality label for sql. Queries tagged with a
// leading "-- name: X" comment use X; anything else uses its first keyword.
func queryName(sql string) string {
	sql = strings.TrimSpace(sql)
	if rest, ok := strings.CutPrefix(sql, "-- name:"); ok {
		if name, _, _ := strings.Cut(strings.TrimSpace(rest), "\n"); name != "" {
			return strings.Fields(name)[0]
		}
	}

	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "unknown"
	}
	first := fields[0]
	if len(first) > 20 {
		first = first[:20]
	}
	return strings.ToUpper(first)
}
