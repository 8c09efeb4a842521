package domain

// Client to server request types.
const (
	TypeSubscribeTicket   = "subscribe_ticket"
	TypeUnsubscribeTicket = "unsubscribe_ticket"
	TypeGetTicketStatus   = "get_ticket_status"
	TypeSubscribeJob      = "subscribe_job"
	TypeUnsubscribeJob    = "unsubscribe_job"
	TypeGetJobStatus      = "get_job_status"
)

// Server to client notification types.
const (
	NotifyTicketStatusUpdate       = "ticket_status_update"
	NotifyTicketAssigned           = "ticket_assigned"
	NotifyTicketCommentAdded       = "ticket_comment_added"
	NotifyAICategorizationComplete = "ai_categorization_complete"

	NotifyFileUploadStarted      = "file_upload_started"
	NotifyFileUploadCompleted    = "file_upload_completed"
	NotifyFileProcessingProgress = "file_processing_progress"
	NotifyTranscriptionCompleted = "transcription_completed"
	NotifyOCRCompleted           = "ocr_completed"
	NotifyFileProcessingFailed   = "file_processing_failed"
)

// Server notices and response types.
const (
	TypeError                 = "error"
	TypeConnectionEstablished = "connection_established"
	TypeQueueOverflow         = "queue_overflow"
	TypeServerShutdown        = "server_shutdown"
	TypeTicketStatus          = "ticket_status"
	TypeJobStatus             = "job_status"

	AckSuffix = "_ack"
)

// Error codes carried in the envelope "code" field.
const (
	CodeUnknownMessageType = "unknown_message_type"
)

var notificationFamilies = map[string]TopicFamily{
	NotifyTicketStatusUpdate:       FamilyTicket,
	NotifyTicketAssigned:           FamilyTicket,
	NotifyTicketCommentAdded:       FamilyTicket,
	NotifyAICategorizationComplete: FamilyTicket,

	NotifyFileUploadStarted:      FamilyJob,
	NotifyFileUploadCompleted:    FamilyJob,
	NotifyFileProcessingProgress: FamilyJob,
	NotifyTranscriptionCompleted: FamilyJob,
	NotifyOCRCompleted:           FamilyJob,
	NotifyFileProcessingFailed:   FamilyJob,
}

// IsNotification reports whether msgType belongs to the fixed notification set.
func IsNotification(msgType string) bool {
	_, ok := notificationFamilies[msgType]
	return ok
}

// TopicForNotification derives the target topic from a notification's type and data.
func TopicForNotification(n Envelope) (Topic, error) {
	family, ok := notificationFamilies[n.Type]
	if !ok {
		return Topic{}, ErrUnroutable
	}
	id, ok := n.StringField(family.IDField())
	if !ok {
		return Topic{}, ErrUnroutable
	}
	return Topic{Family: family, ID: id}, nil
}
