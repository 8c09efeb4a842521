package protocol

import (
	"context"
	"fmt"

	"github.com/pscheid92/deskpulse/internal/domain"
	apperrors "github.com/pscheid92/deskpulse/internal/platform/errors"
)

// JobHandler serves file-job subscriptions and status queries, and is the
// publish entry point for the file-processing workers.
type JobHandler struct {
	registry  Registry
	status    domain.StatusSource
	publisher domain.Publisher
}

func NewJobHandler(registry Registry, status domain.StatusSource, publisher domain.Publisher) *JobHandler {
	return &JobHandler{registry: registry, status: status, publisher: publisher}
}

func (h *JobHandler) SupportedTypes() []string {
	return []string{domain.TypeSubscribeJob, domain.TypeUnsubscribeJob, domain.TypeGetJobStatus}
}

func (h *JobHandler) Handle(ctx context.Context, s Session, env domain.Envelope) (domain.Envelope, error) {
	jobID, err := requireID(env, "job_id")
	if err != nil {
		return domain.Envelope{}, err
	}
	topic := domain.JobTopic(jobID)

	switch env.Type {
	case domain.TypeSubscribeJob:
		return subscribeAck(ctx, h.registry, s, env, topic)
	case domain.TypeUnsubscribeJob:
		return unsubscribeAck(h.registry, s, env, topic), nil
	case domain.TypeGetJobStatus:
		snap, err := h.status.JobSnapshot(ctx, jobID)
		var owner string
		if snap != nil {
			owner = snap.OrganizationID
		}
		if err := checkTenant(s, owner, err); err != nil {
			return domain.Envelope{}, err
		}
		return domain.NewEnvelope(domain.TypeJobStatus, snap.Data()), nil
	default:
		return domain.Envelope{}, fmt.Errorf("job handler: unexpected type %q", env.Type)
	}
}

// Publish sends a job notification built by the caller.
func (h *JobHandler) Publish(ctx context.Context, topic domain.Topic, notification domain.Envelope) error {
	return publishChecked(ctx, h.publisher, domain.FamilyJob, topic, notification)
}

func (h *JobHandler) NotifyUploadStarted(ctx context.Context, jobID, ticketID, fileName string) error {
	return notify(ctx, h.publisher, domain.JobTopic(jobID), domain.NotifyFileUploadStarted, map[string]any{
		"ticket_id": ticketID,
		"file_name": fileName,
	})
}

func (h *JobHandler) NotifyUploadCompleted(ctx context.Context, jobID, fileName string, sizeBytes int64) error {
	if sizeBytes < 0 {
		return apperrors.ValidationError("file_upload_completed: size_bytes must not be negative")
	}
	return notify(ctx, h.publisher, domain.JobTopic(jobID), domain.NotifyFileUploadCompleted, map[string]any{
		"file_name":  fileName,
		"size_bytes": sizeBytes,
	})
}

// NotifyProcessingProgress reports progress (0..100) within a pipeline stage.
func (h *JobHandler) NotifyProcessingProgress(ctx context.Context, jobID string, stage domain.Stage, progress int, message string) error {
	if !stage.Valid() {
		return apperrors.ValidationError(fmt.Sprintf("file_processing_progress: invalid stage %q", stage))
	}
	if progress < 0 || progress > 100 {
		return apperrors.ValidationError(fmt.Sprintf("file_processing_progress: progress %d out of range [0, 100]", progress))
	}
	data := map[string]any{
		"stage":    string(stage),
		"progress": progress,
	}
	if message != "" {
		data["message"] = message
	}
	return notify(ctx, h.publisher, domain.JobTopic(jobID), domain.NotifyFileProcessingProgress, data)
}

func (h *JobHandler) NotifyTranscriptionCompleted(ctx context.Context, jobID, language string, durationSeconds float64) error {
	return notify(ctx, h.publisher, domain.JobTopic(jobID), domain.NotifyTranscriptionCompleted, map[string]any{
		"stage":            string(domain.StageTranscription),
		"language":         language,
		"duration_seconds": durationSeconds,
	})
}

func (h *JobHandler) NotifyOCRCompleted(ctx context.Context, jobID string, pageCount int) error {
	if pageCount < 0 {
		return apperrors.ValidationError("ocr_completed: page_count must not be negative")
	}
	return notify(ctx, h.publisher, domain.JobTopic(jobID), domain.NotifyOCRCompleted, map[string]any{
		"stage":      string(domain.StageOCR),
		"page_count": pageCount,
	})
}

// NotifyProcessingFailed reports a terminal or retryable failure at stage.
func (h *JobHandler) NotifyProcessingFailed(ctx context.Context, jobID string, stage domain.Stage, errMsg string, retryable bool) error {
	if !stage.Valid() {
		return apperrors.ValidationError(fmt.Sprintf("file_processing_failed: invalid stage %q", stage))
	}
	return notify(ctx, h.publisher, domain.JobTopic(jobID), domain.NotifyFileProcessingFailed, map[string]any{
		"stage":         string(stage),
		"error_message": errMsg,
		"retryable":     retryable,
	})
}
