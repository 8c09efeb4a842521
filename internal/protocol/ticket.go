package protocol

import (
	"context"
	"fmt"

	"github.com/pscheid92/deskpulse/internal/domain"
	apperrors "github.com/pscheid92/deskpulse/internal/platform/errors"
)

// TicketHandler serves ticket subscriptions and status queries, and is the
// publish entry point for the ticket service.
type TicketHandler struct {
	registry  Registry
	status    domain.StatusSource
	publisher domain.Publisher
}

func NewTicketHandler(registry Registry, status domain.StatusSource, publisher domain.Publisher) *TicketHandler {
	return &TicketHandler{registry: registry, status: status, publisher: publisher}
}

func (h *TicketHandler) SupportedTypes() []string {
	return []string{domain.TypeSubscribeTicket, domain.TypeUnsubscribeTicket, domain.TypeGetTicketStatus}
}

func (h *TicketHandler) Handle(ctx context.Context, s Session, env domain.Envelope) (domain.Envelope, error) {
	ticketID, err := requireID(env, "ticket_id")
	if err != nil {
		return domain.Envelope{}, err
	}
	topic := domain.TicketTopic(ticketID)

	switch env.Type {
	case domain.TypeSubscribeTicket:
		return subscribeAck(ctx, h.registry, s, env, topic)
	case domain.TypeUnsubscribeTicket:
		return unsubscribeAck(h.registry, s, env, topic), nil
	case domain.TypeGetTicketStatus:
		snap, err := h.status.TicketSnapshot(ctx, ticketID)
		var owner string
		if snap != nil {
			owner = snap.OrganizationID
		}
		if err := checkTenant(s, owner, err); err != nil {
			return domain.Envelope{}, err
		}
		return domain.NewEnvelope(domain.TypeTicketStatus, snap.Data()), nil
	default:
		return domain.Envelope{}, fmt.Errorf("ticket handler: unexpected type %q", env.Type)
	}
}

// Publish sends a ticket notification built by the caller.
func (h *TicketHandler) Publish(ctx context.Context, topic domain.Topic, notification domain.Envelope) error {
	return publishChecked(ctx, h.publisher, domain.FamilyTicket, topic, notification)
}

func (h *TicketHandler) NotifyTicketStatusUpdate(ctx context.Context, ticketID, status, updatedBy string) error {
	if status == "" {
		return apperrors.ValidationError("ticket_status_update: missing required field: status")
	}
	return notify(ctx, h.publisher, domain.TicketTopic(ticketID), domain.NotifyTicketStatusUpdate, map[string]any{
		"status":     status,
		"updated_by": updatedBy,
	})
}

func (h *TicketHandler) NotifyTicketAssigned(ctx context.Context, ticketID, assigneeID, assignedBy string) error {
	if assigneeID == "" {
		return apperrors.ValidationError("ticket_assigned: missing required field: assignee_id")
	}
	return notify(ctx, h.publisher, domain.TicketTopic(ticketID), domain.NotifyTicketAssigned, map[string]any{
		"assignee_id": assigneeID,
		"assigned_by": assignedBy,
	})
}

func (h *TicketHandler) NotifyTicketCommentAdded(ctx context.Context, ticketID, commentID, authorID string, internal bool) error {
	if commentID == "" {
		return apperrors.ValidationError("ticket_comment_added: missing required field: comment_id")
	}
	return notify(ctx, h.publisher, domain.TicketTopic(ticketID), domain.NotifyTicketCommentAdded, map[string]any{
		"comment_id": commentID,
		"author_id":  authorID,
		"internal":   internal,
	})
}

// NotifyAICategorizationComplete reports the AI agent's triage result.
// confidence must lie in [0, 1].
func (h *TicketHandler) NotifyAICategorizationComplete(ctx context.Context, ticketID, category, priority string, confidence float64) error {
	if category == "" {
		return apperrors.ValidationError("ai_categorization_complete: missing required field: category")
	}
	if confidence < 0 || confidence > 1 {
		return apperrors.ValidationError(fmt.Sprintf("ai_categorization_complete: confidence %v out of range [0, 1]", confidence))
	}
	return notify(ctx, h.publisher, domain.TicketTopic(ticketID), domain.NotifyAICategorizationComplete, map[string]any{
		"category":   category,
		"priority":   priority,
		"confidence": confidence,
	})
}
