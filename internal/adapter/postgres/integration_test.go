package postgres

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/deskpulse/internal/adapter/metrics"
	"github.com/pscheid92/deskpulse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	testPool    *pgxpool.Pool
	testMetrics *metrics.PostgresMetrics
)

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get connection string: %v\n", err)
		os.Exit(1)
	}

	testMetrics = metrics.NewPostgresMetrics(prometheus.NewRegistry())
	testPool, err = Connect(ctx, connStr, testMetrics)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to test database: %v\n", err)
		os.Exit(1)
	}

	if err := RunMigrationsWithLock(ctx, testPool); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	testPool.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	t.Cleanup(func() {
		if _, err := testPool.Exec(context.Background(), "TRUNCATE tickets, file_jobs"); err != nil {
			t.Logf("failed to truncate tables: %v", err)
		}
	})
	return testPool
}

func insertTicket(t *testing.T, pool *pgxpool.Pool, id, org, status string, updatedAt time.Time) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO tickets (ticket_id, organization_id, status, priority, updated_at) VALUES ($1, $2, $3, 'high', $4)`,
		id, org, status, updatedAt)
	require.NoError(t, err)
}

func insertJob(t *testing.T, pool *pgxpool.Pool, id, org, ticketID string, stage domain.Stage, progress int) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO file_jobs (job_id, organization_id, ticket_id, file_name, status, stage, progress)
		 VALUES ($1, $2, $3, 'call.mp3', 'processing', $4, $5)`,
		id, org, ticketID, string(stage), progress)
	require.NoError(t, err)
}

func TestRunMigrations_Idempotent(t *testing.T) {
	pool := setupTestDB(t)
	require.NoError(t, RunMigrationsWithLock(context.Background(), pool))
}

func TestOrganizationOf(t *testing.T) {
	pool := setupTestDB(t)
	rm := NewReadModel(pool)
	ctx := context.Background()

	insertTicket(t, pool, "17", "org-a", "open", time.Now())
	insertJob(t, pool, "42", "org-b", "17", domain.StageTranscription, 10)

	org, err := rm.OrganizationOf(ctx, domain.TicketTopic("17"))
	require.NoError(t, err)
	assert.Equal(t, "org-a", org)

	org, err = rm.OrganizationOf(ctx, domain.JobTopic("42"))
	require.NoError(t, err)
	assert.Equal(t, "org-b", org)

	_, err = rm.OrganizationOf(ctx, domain.TicketTopic("404"))
	assert.ErrorIs(t, err, domain.ErrTopicNotFound)

	assert.Positive(t, testutil.CollectAndCount(testMetrics.QueryDuration))
}

func TestOrganizationOf_UnknownFamily(t *testing.T) {
	rm := NewReadModel(setupTestDB(t))

	_, err := rm.OrganizationOf(context.Background(), domain.Topic{Family: "invoice", ID: "1"})
	assert.ErrorIs(t, err, domain.ErrInvalidTopic)
}

func TestTicketSnapshot(t *testing.T) {
	pool := setupTestDB(t)
	rm := NewReadModel(pool)
	updated := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	insertTicket(t, pool, "17", "org-a", "in_progress", updated)

	s, err := rm.TicketSnapshot(context.Background(), "17")
	require.NoError(t, err)
	assert.Equal(t, "17", s.TicketID)
	assert.Equal(t, "org-a", s.OrganizationID)
	assert.Equal(t, "in_progress", s.Status)
	assert.Equal(t, "high", s.Priority)
	assert.Empty(t, s.AssigneeID)
	assert.True(t, updated.Equal(s.UpdatedAt))

	_, err = rm.TicketSnapshot(context.Background(), "18")
	assert.ErrorIs(t, err, domain.ErrTopicNotFound)
}

func TestJobSnapshot(t *testing.T) {
	pool := setupTestDB(t)
	rm := NewReadModel(pool)

	insertJob(t, pool, "42", "org-a", "17", domain.StageOCR, 55)

	s, err := rm.JobSnapshot(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "42", s.JobID)
	assert.Equal(t, "17", s.TicketID)
	assert.Equal(t, "call.mp3", s.FileName)
	assert.Equal(t, domain.StageOCR, s.Stage)
	assert.Equal(t, 55, s.Progress)

	_, err = rm.JobSnapshot(context.Background(), "43")
	assert.ErrorIs(t, err, domain.ErrTopicNotFound)
}
