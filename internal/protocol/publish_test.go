package protocol

import (
	"context"
	"testing"

	"github.com/pscheid92/deskpulse/internal/domain"
	apperrors "github.com/pscheid92/deskpulse/internal/platform/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobHandler_NotifyProcessingProgress(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.jobs.NotifyProcessingProgress(context.Background(), "42", domain.StageTranscription, 50, ""))

	got := f.publisher.last(t)
	assert.Equal(t, domain.JobTopic("42"), got.topic)
	assert.Equal(t, domain.NotifyFileProcessingProgress, got.env.Type)
	assert.Equal(t, map[string]any{"job_id": "42", "stage": "transcription", "progress": 50}, got.env.Data)
}

func TestJobHandler_ProgressValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		err  error
	}{
		{"bad stage", f.jobs.NotifyProcessingProgress(ctx, "42", domain.Stage("compression"), 10, "")},
		{"progress too high", f.jobs.NotifyProcessingProgress(ctx, "42", domain.StageOCR, 101, "")},
		{"progress negative", f.jobs.NotifyProcessingProgress(ctx, "42", domain.StageOCR, -1, "")},
		{"missing job id", f.jobs.NotifyProcessingProgress(ctx, "", domain.StageOCR, 10, "")},
		{"failed with bad stage", f.jobs.NotifyProcessingFailed(ctx, "42", "", "boom", false)},
		{"negative pages", f.jobs.NotifyOCRCompleted(ctx, "42", -3)},
		{"negative size", f.jobs.NotifyUploadCompleted(ctx, "42", "a.pdf", -1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, apperrors.IsType(tt.err, apperrors.TypeValidation), "got %v", tt.err)
		})
	}
	assert.Empty(t, f.publisher.sent)
}

func TestJobHandler_LifecycleHelpers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.jobs.NotifyUploadStarted(ctx, "42", "7", "call.mp3"))
	require.NoError(t, f.jobs.NotifyUploadCompleted(ctx, "42", "call.mp3", 2048))
	require.NoError(t, f.jobs.NotifyTranscriptionCompleted(ctx, "42", "de", 93.5))
	require.NoError(t, f.jobs.NotifyOCRCompleted(ctx, "42", 4))
	require.NoError(t, f.jobs.NotifyProcessingFailed(ctx, "42", domain.StageIntegrationUpload, "crm timeout", true))

	var types []string
	for _, p := range f.publisher.sent {
		assert.Equal(t, domain.JobTopic("42"), p.topic)
		assert.Equal(t, "42", p.env.Data["job_id"])
		types = append(types, p.env.Type)
	}
	assert.Equal(t, []string{
		domain.NotifyFileUploadStarted,
		domain.NotifyFileUploadCompleted,
		domain.NotifyTranscriptionCompleted,
		domain.NotifyOCRCompleted,
		domain.NotifyFileProcessingFailed,
	}, types)
	assert.Equal(t, "integration_upload", f.publisher.last(t).env.Data["stage"])
}

func TestTicketHandler_Helpers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.tickets.NotifyTicketStatusUpdate(ctx, "7", "resolved", "u1"))
	got := f.publisher.last(t)
	assert.Equal(t, domain.TicketTopic("7"), got.topic)
	assert.Equal(t, map[string]any{"ticket_id": "7", "status": "resolved", "updated_by": "u1"}, got.env.Data)

	require.NoError(t, f.tickets.NotifyTicketAssigned(ctx, "7", "u9", "u1"))
	require.NoError(t, f.tickets.NotifyTicketCommentAdded(ctx, "7", "c1", "u9", true))
	require.NoError(t, f.tickets.NotifyAICategorizationComplete(ctx, "7", "billing", "high", 0.92))
	assert.Len(t, f.publisher.sent, 4)

	assert.Error(t, f.tickets.NotifyTicketStatusUpdate(ctx, "7", "", "u1"))
	assert.Error(t, f.tickets.NotifyTicketStatusUpdate(ctx, "", "open", "u1"))
	assert.Error(t, f.tickets.NotifyTicketAssigned(ctx, "7", "", "u1"))
	assert.Error(t, f.tickets.NotifyTicketCommentAdded(ctx, "7", "", "u1", false))
	assert.Error(t, f.tickets.NotifyAICategorizationComplete(ctx, "7", "billing", "high", 1.5))
	assert.Len(t, f.publisher.sent, 4)
}

func TestHandler_GenericPublish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	n := domain.NewEnvelope(domain.NotifyTicketAssigned, map[string]any{"assignee_id": "u3"})
	require.NoError(t, f.tickets.Publish(ctx, domain.TicketTopic("7"), n))
	got := f.publisher.last(t)
	assert.Equal(t, "7", got.env.Data["ticket_id"], "id is filled in from the topic")
	assert.NotContains(t, n.Data, "ticket_id", "caller's data is not mutated")

	tests := []struct {
		name string
		err  error
	}{
		{"wrong family", f.tickets.Publish(ctx, domain.JobTopic("42"), n)},
		{"job notification on ticket handler", f.tickets.Publish(ctx, domain.TicketTopic("7"),
			domain.NewEnvelope(domain.NotifyOCRCompleted, nil))},
		{"unknown type", f.jobs.Publish(ctx, domain.JobTopic("42"), domain.NewEnvelope("job_exploded", nil))},
		{"id mismatch", f.jobs.Publish(ctx, domain.JobTopic("42"),
			domain.NewEnvelope(domain.NotifyOCRCompleted, map[string]any{"job_id": "43"}))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, apperrors.IsType(tt.err, apperrors.TypeValidation), "got %v", tt.err)
		})
	}
	assert.Len(t, f.publisher.sent, 1)
}
