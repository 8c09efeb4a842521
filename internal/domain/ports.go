package domain

import "context"

// TokenValidator decodes a bearer token into a Principal.
// Returns ErrInvalidToken (possibly wrapped) for bad or expired tokens.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (Principal, error)
}

// OwnershipSource resolves the organization owning a topic's entity.
// Returns ErrTopicNotFound when the entity does not exist.
type OwnershipSource interface {
	OrganizationOf(ctx context.Context, topic Topic) (string, error)
}

// StatusSource serves the one-shot snapshots behind get_ticket_status and get_job_status.
// Returns ErrTopicNotFound when the entity does not exist.
type StatusSource interface {
	TicketSnapshot(ctx context.Context, ticketID string) (*TicketSnapshot, error)
	JobSnapshot(ctx context.Context, jobID string) (*JobSnapshot, error)
}

// Publisher is the only entry point domain collaborators use to emit notifications.
type Publisher interface {
	Publish(ctx context.Context, topic Topic, notification Envelope) error
}

// Deliverer hands an envelope to locally connected clients.
// Returns how many connections accepted it.
type Deliverer interface {
	Deliver(connectionIDs []string, envelope Envelope) int
}

// SubscriberIndex answers which local connections hold a topic.
type SubscriberIndex interface {
	LocalSubscribers(topic Topic) []string
}
