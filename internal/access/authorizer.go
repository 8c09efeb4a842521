// Package access enforces tenant isolation on topic subscriptions.
package access

import (
	"context"
	"errors"
	"log/slog"

	"github.com/pscheid92/deskpulse/internal/adapter/metrics"
	"github.com/pscheid92/deskpulse/internal/domain"
	apperrors "github.com/pscheid92/deskpulse/internal/platform/errors"
	"golang.org/x/sync/singleflight"
)

// Authorizer allows a principal onto a topic only when the topic's entity
// belongs to the principal's organization. A missing entity is denied with
// the same error as a foreign one.
type Authorizer struct {
	source  domain.OwnershipSource
	cache   *OwnershipCache
	group   singleflight.Group
	metrics *metrics.CacheMetrics
}

func NewAuthorizer(source domain.OwnershipSource, cache *OwnershipCache, m *metrics.CacheMetrics) *Authorizer {
	return &Authorizer{source: source, cache: cache, metrics: m}
}

func (a *Authorizer) Authorize(ctx context.Context, principal domain.Principal, topic domain.Topic) error {
	if principal.OrganizationID == "" {
		return apperrors.AuthorizationError("access denied")
	}

	owner, err := a.ownerOf(ctx, topic)
	if errors.Is(err, domain.ErrTopicNotFound) {
		slog.DebugContext(ctx, "Subscribe to unknown entity denied", "topic", topic.String())
		return apperrors.AuthorizationError("access denied")
	}
	if err != nil {
		return apperrors.UpstreamUnavailableError("ownership lookup failed", err)
	}

	if owner != principal.OrganizationID {
		slog.InfoContext(ctx, "Cross-tenant subscribe denied",
			"topic", topic.String(),
			"user_id", principal.UserID,
			"organization_id", principal.OrganizationID,
		)
		return apperrors.AuthorizationError("access denied")
	}
	return nil
}

// ownerOf serves from the cache and collapses concurrent misses for the
// same topic into one source lookup.
func (a *Authorizer) ownerOf(ctx context.Context, topic domain.Topic) (string, error) {
	if owner, ok := a.cache.Get(topic); ok {
		a.observe("hit")
		return owner, nil
	}

	v, err, shared := a.group.Do(topic.String(), func() (any, error) {
		owner, err := a.source.OrganizationOf(ctx, topic)
		if err != nil {
			return "", err
		}
		a.cache.Set(topic, owner)
		return owner, nil
	})
	if shared {
		a.observe("shared")
	} else {
		a.observe("miss")
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (a *Authorizer) observe(result string) {
	if a.metrics != nil {
		a.metrics.Lookups.WithLabelValues(result).Inc()
	}
}
