package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/deskpulse/internal/domain"
)

const (
	ticketOwnerSQL = `-- name: TicketOwner
SELECT organization_id FROM tickets WHERE ticket_id = $1`

	jobOwnerSQL = `-- name: JobOwner
SELECT organization_id FROM file_jobs WHERE job_id = $1`

	ticketSnapshotSQL = `-- name: TicketSnapshot
SELECT ticket_id, organization_id, status, priority, category, assignee_id, updated_at
FROM tickets WHERE ticket_id = $1`

	jobSnapshotSQL = `-- name: JobSnapshot
SELECT job_id, organization_id, ticket_id, file_name, status, stage, progress, error_message, updated_at
FROM file_jobs WHERE job_id = $1`
)

// ReadModel serves ownership and status lookups from the tickets and
// file_jobs tables maintained by the ticketing backend.
type ReadModel struct {
	pool *pgxpool.Pool
}

var (
	_ domain.OwnershipSource = (*ReadModel)(nil)
	_ domain.StatusSource    = (*ReadModel)(nil)
)

func NewReadModel(pool *pgxpool.Pool) *ReadModel {
	return &ReadModel{pool: pool}
}

func (r *ReadModel) OrganizationOf(ctx context.Context, topic domain.Topic) (string, error) {
	var query string
	switch topic.Family {
	case domain.FamilyTicket:
		query = ticketOwnerSQL
	case domain.FamilyJob:
		query = jobOwnerSQL
	default:
		return "", fmt.Errorf("%w: unknown family %q", domain.ErrInvalidTopic, topic.Family)
	}

	var orgID string
	err := r.pool.QueryRow(ctx, query, topic.ID).Scan(&orgID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrTopicNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get owner of %s: %w", topic, err)
	}
	return orgID, nil
}

func (r *ReadModel) TicketSnapshot(ctx context.Context, ticketID string) (*domain.TicketSnapshot, error) {
	var s domain.TicketSnapshot
	var updatedAt time.Time
	err := r.pool.QueryRow(ctx, ticketSnapshotSQL, ticketID).Scan(
		&s.TicketID, &s.OrganizationID, &s.Status, &s.Priority, &s.Category, &s.AssigneeID, &updatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTopicNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket snapshot: %w", err)
	}
	s.UpdatedAt = updatedAt.UTC()
	return &s, nil
}

func (r *ReadModel) JobSnapshot(ctx context.Context, jobID string) (*domain.JobSnapshot, error) {
	var s domain.JobSnapshot
	var stage string
	var updatedAt time.Time
	err := r.pool.QueryRow(ctx, jobSnapshotSQL, jobID).Scan(
		&s.JobID, &s.OrganizationID, &s.TicketID, &s.FileName, &s.Status, &stage, &s.Progress, &s.ErrorMessage, &updatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTopicNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job snapshot: %w", err)
	}
	s.Stage = domain.Stage(stage)
	s.UpdatedAt = updatedAt.UTC()
	return &s, nil
}
