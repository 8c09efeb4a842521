package domain

import "time"

// Stage is a file-processing pipeline stage.
type Stage string

const (
	StageValidation        Stage = "validation"
	StageTranscription     Stage = "transcription"
	StageOCR               Stage = "ocr"
	StageIntegrationUpload Stage = "integration_upload"
)

func (s Stage) Valid() bool {
	switch s {
	case StageValidation, StageTranscription, StageOCR, StageIntegrationUpload:
		return true
	}
	return false
}

// JobSnapshot is the point-in-time state returned by get_job_status.
type JobSnapshot struct {
	JobID          string
	OrganizationID string
	TicketID       string
	FileName       string
	Status         string
	Stage          Stage
	Progress       int
	ErrorMessage   string
	UpdatedAt      time.Time
}

// TicketSnapshot is the point-in-time state returned by get_ticket_status.
type TicketSnapshot struct {
	TicketID       string
	OrganizationID string
	Status         string
	Priority       string
	Category       string
	AssigneeID     string
	UpdatedAt      time.Time
}

// Data renders the snapshot as an envelope payload. Empty optional fields are omitted.
func (s JobSnapshot) Data() map[string]any {
	data := map[string]any{
		"job_id":     s.JobID,
		"status":     s.Status,
		"progress":   s.Progress,
		"updated_at": s.UpdatedAt.UTC().Format(TimestampFormat),
	}
	putIfSet(data, "ticket_id", s.TicketID)
	putIfSet(data, "file_name", s.FileName)
	putIfSet(data, "stage", string(s.Stage))
	putIfSet(data, "error_message", s.ErrorMessage)
	return data
}

func (s TicketSnapshot) Data() map[string]any {
	data := map[string]any{
		"ticket_id":  s.TicketID,
		"status":     s.Status,
		"updated_at": s.UpdatedAt.UTC().Format(TimestampFormat),
	}
	putIfSet(data, "priority", s.Priority)
	putIfSet(data, "category", s.Category)
	putIfSet(data, "assignee_id", s.AssigneeID)
	return data
}

func putIfSet(data map[string]any, key, value string) {
	if value != "" {
		data[key] = value
	}
}
