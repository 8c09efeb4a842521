// Package protocol validates inbound envelopes and dispatches them to the
// ticket and job handlers.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/pscheid92/deskpulse/internal/domain"
	apperrors "github.com/pscheid92/deskpulse/internal/platform/errors"
)

// Session is the connection-side view a handler works against.
type Session interface {
	ID() string
	Principal() domain.Principal
}

// Handler serves one family of request types.
type Handler interface {
	SupportedTypes() []string
	Handle(ctx context.Context, s Session, env domain.Envelope) (domain.Envelope, error)
}

// Registry is the subscription bookkeeping handlers mutate.
type Registry interface {
	Subscribe(ctx context.Context, connectionID string, topic domain.Topic, principal domain.Principal) (bool, error)
	Unsubscribe(connectionID string, topic domain.Topic) bool
}

func requireID(env domain.Envelope, field string) (string, error) {
	id, ok := env.StringField(field)
	if !ok {
		return "", apperrors.ValidationError("missing required field: " + field)
	}
	return id, nil
}

func subscribeAck(ctx context.Context, registry Registry, s Session, env domain.Envelope, topic domain.Topic) (domain.Envelope, error) {
	if _, err := registry.Subscribe(ctx, s.ID(), topic, s.Principal()); err != nil {
		return domain.Envelope{}, err
	}
	return ack(env.Type, topic, map[string]any{"subscribed": true}), nil
}

func unsubscribeAck(registry Registry, s Session, env domain.Envelope, topic domain.Topic) domain.Envelope {
	removed := registry.Unsubscribe(s.ID(), topic)
	return ack(env.Type, topic, map[string]any{
		"subscribed":     false,
		"was_subscribed": removed,
	})
}

func ack(requestType string, topic domain.Topic, data map[string]any) domain.Envelope {
	data["topic"] = topic.String()
	data[topic.Family.IDField()] = topic.ID
	return domain.NewEnvelope(requestType+domain.AckSuffix, data).WithSuccess(true, "")
}

// checkTenant maps a snapshot lookup result onto the same errors a
// subscribe would produce.
func checkTenant(s Session, ownerOrg string, lookupErr error) error {
	if errors.Is(lookupErr, domain.ErrTopicNotFound) {
		return apperrors.AuthorizationError("access denied")
	}
	if lookupErr != nil {
		return apperrors.UpstreamUnavailableError("status lookup failed", lookupErr)
	}
	if ownerOrg != s.Principal().OrganizationID {
		return apperrors.AuthorizationError("access denied")
	}
	return nil
}

// notify stamps the entity id into data and publishes on the entity's topic.
func notify(ctx context.Context, publisher domain.Publisher, topic domain.Topic, msgType string, data map[string]any) error {
	if topic.ID == "" {
		return apperrors.ValidationError(fmt.Sprintf("%s: missing required field: %s", msgType, topic.Family.IDField()))
	}
	if data == nil {
		data = map[string]any{}
	}
	data[topic.Family.IDField()] = topic.ID
	return publisher.Publish(ctx, topic, domain.NewEnvelope(msgType, data))
}

// publishChecked is the generic collaborator entry point. The notification
// must belong to family and agree with topic.
func publishChecked(ctx context.Context, publisher domain.Publisher, family domain.TopicFamily, topic domain.Topic, n domain.Envelope) error {
	if topic.Family != family || topic.ID == "" {
		return apperrors.ValidationError(fmt.Sprintf("topic %q is not a %s topic", topic.String(), family))
	}
	if !domain.IsNotification(n.Type) {
		return apperrors.ValidationError(fmt.Sprintf("unknown notification type %q", n.Type))
	}

	n = domain.NewEnvelope(n.Type, maps.Clone(n.Data))
	if id, ok := n.StringField(family.IDField()); ok && id != topic.ID {
		return apperrors.ValidationError(fmt.Sprintf("notification %s=%s does not match topic %s", family.IDField(), id, topic.String()))
	}
	n.Data[family.IDField()] = topic.ID

	routed, err := domain.TopicForNotification(n)
	if err != nil || routed != topic {
		return apperrors.ValidationError(fmt.Sprintf("notification %q cannot be sent on %s", n.Type, topic.String()))
	}
	return publisher.Publish(ctx, topic, n)
}
