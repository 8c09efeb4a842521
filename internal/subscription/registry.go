// Package subscription keeps the process-local topic membership index.
package subscription

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/pscheid92/deskpulse/internal/domain"
	apperrors "github.com/pscheid92/deskpulse/internal/platform/errors"
)

// Authorizer decides whether a principal may join a topic. It returns a
// structured authorization error when the tenant check fails.
type Authorizer interface {
	Authorize(ctx context.Context, principal domain.Principal, topic domain.Topic) error
}

type Stats struct {
	Connections   int `json:"connections"`
	Topics        int `json:"topics"`
	Subscriptions int `json:"subscriptions"`
}

// Registry maintains topic→connections and connection→topics under one lock.
// Both directions are updated together, so neither index ever references an
// entry the other lacks. Topics exist only while they have subscribers.
type Registry struct {
	authorizer Authorizer

	mu     sync.RWMutex
	topics map[domain.Topic]map[string]struct{}
	conns  map[string]map[domain.Topic]struct{}
}

func NewRegistry(authorizer Authorizer) *Registry {
	return &Registry{
		authorizer: authorizer,
		topics:     make(map[domain.Topic]map[string]struct{}),
		conns:      make(map[string]map[domain.Topic]struct{}),
	}
}

// Attach marks a connection as live. Subscriptions for unattached
// connections are refused so a late authorization result cannot resurrect a
// connection that was already cleaned up.
func (r *Registry) Attach(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[connectionID]; !ok {
		r.conns[connectionID] = make(map[domain.Topic]struct{})
	}
}

// Subscribe adds connectionID to topic after the tenant check passes.
// Returns true when newly added and false for a duplicate.
func (r *Registry) Subscribe(ctx context.Context, connectionID string, topic domain.Topic, principal domain.Principal) (bool, error) {
	if !topic.Family.Valid() || strings.TrimSpace(topic.ID) == "" {
		return false, apperrors.ValidationError(fmt.Sprintf("invalid topic %q", topic.String()))
	}

	if !r.isAttached(connectionID) {
		return false, fmt.Errorf("subscribe %s: %w", connectionID, domain.ErrConnectionClosed)
	}

	if err := r.authorizer.Authorize(ctx, principal, topic); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	held, ok := r.conns[connectionID]
	if !ok {
		return false, fmt.Errorf("subscribe %s: %w", connectionID, domain.ErrConnectionClosed)
	}
	if _, dup := held[topic]; dup {
		return false, nil
	}

	members, ok := r.topics[topic]
	if !ok {
		members = make(map[string]struct{})
		r.topics[topic] = members
	}
	members[connectionID] = struct{}{}
	held[topic] = struct{}{}
	return true, nil
}

// Unsubscribe removes connectionID from topic. Returns false when it was not held.
func (r *Registry) Unsubscribe(connectionID string, topic domain.Topic) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	held, ok := r.conns[connectionID]
	if !ok {
		return false
	}
	if _, ok := held[topic]; !ok {
		return false
	}

	delete(held, topic)
	r.removeMember(topic, connectionID)
	return true
}

// LocalSubscribers returns the sorted connection ids subscribed to topic.
func (r *Registry) LocalSubscribers(topic domain.Topic) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.topics[topic]
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// TopicsOf returns the topics held by connectionID, sorted by name.
func (r *Registry) TopicsOf(connectionID string) []domain.Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()

	held := r.conns[connectionID]
	topics := make([]domain.Topic, 0, len(held))
	for t := range held {
		topics = append(topics, t)
	}
	slices.SortFunc(topics, func(a, b domain.Topic) int {
		return strings.Compare(a.String(), b.String())
	})
	return topics
}

func (r *Registry) IsSubscribed(connectionID string, topic domain.Topic) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.conns[connectionID][topic]
	return ok
}

func (r *Registry) SubscriberCount(topic domain.Topic) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[topic])
}

// CleanupConnection drops every subscription of connectionID and detaches it.
// Returns the number of topics it held. Safe to call more than once.
func (r *Registry) CleanupConnection(connectionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	held, ok := r.conns[connectionID]
	if !ok {
		return 0
	}
	for topic := range held {
		r.removeMember(topic, connectionID)
	}
	delete(r.conns, connectionID)
	return len(held)
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{Connections: len(r.conns), Topics: len(r.topics)}
	for _, members := range r.topics {
		s.Subscriptions += len(members)
	}
	return s
}

func (r *Registry) isAttached(connectionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[connectionID]
	return ok
}

// Must be called with mu held.
func (r *Registry) removeMember(topic domain.Topic, connectionID string) {
	members, ok := r.topics[topic]
	if !ok {
		return
	}
	delete(members, connectionID)
	if len(members) == 0 {
		delete(r.topics, topic)
	}
}
