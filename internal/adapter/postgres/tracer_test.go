package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/deskpulse/internal/adapter/metrics"
	"github.com/stretchr/testify/assert"
)

func TestQueryName(t *testing.T) {
	tests := []struct {
		sql  string
		want string
	}{
		{ticketOwnerSQL, "TicketOwner"},
		{jobSnapshotSQL, "JobSnapshot"},
		{"select 1", "SELECT"},
		{"  \n\tINSERT INTO tickets VALUES ($1)", "INSERT"},
		{"", "unknown"},
		{"-- name:\nSELECT 1", "SELECT"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, queryName(tt.sql), tt.sql)
	}
}

func TestMetricsTracer_RecordsErrors(t *testing.T) {
	m := metrics.NewPostgresMetrics(prometheus.NewRegistry())
	clock := clockwork.NewFakeClock()
	tracer := &MetricsTracer{m: m, clock: clock}

	ctx := tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: ticketOwnerSQL})
	clock.Advance(5 * time.Millisecond)
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{})

	ctx = tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: ticketOwnerSQL})
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: errors.New("boom")})

	assert.Equal(t, 1, testutil.CollectAndCount(m.QueryDuration))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueryErrors.WithLabelValues("TicketOwner")))
}

func TestMetricsTracer_IgnoresUntracedContext(t *testing.T) {
	m := metrics.NewPostgresMetrics(prometheus.NewRegistry())
	tracer := NewMetricsTracer(m)

	tracer.TraceQueryEnd(context.Background(), nil, pgx.TraceQueryEndData{Err: errors.New("boom")})

	assert.Equal(t, 0, testutil.CollectAndCount(m.QueryErrors))
}

func TestExtractSSLMode(t *testing.T) {
	assert.Equal(t, "disable", extractSSLMode("postgres://u:p@localhost/db?sslmode=DISABLE"))
	assert.Equal(t, "prefer (default)", extractSSLMode("postgres://u:p@localhost/db"))
	assert.Equal(t, "unknown", extractSSLMode("://bad"))
}
