package subscription

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"

	"github.com/pscheid92/deskpulse/internal/domain"
	apperrors "github.com/pscheid92/deskpulse/internal/platform/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tenantAuthorizer owns entities by organization, mirroring the real access check.
type tenantAuthorizer struct {
	mu     sync.Mutex
	owners map[domain.Topic]string
	calls  int
	hook   func()
}

func (a *tenantAuthorizer) Authorize(_ context.Context, p domain.Principal, topic domain.Topic) error {
	a.mu.Lock()
	a.calls++
	hook := a.hook
	owner, ok := a.owners[topic]
	a.mu.Unlock()

	if hook != nil {
		hook()
	}
	if !ok || owner != p.OrganizationID {
		return apperrors.AuthorizationError("access denied")
	}
	return nil
}

var (
	orgX = domain.Principal{UserID: "u1", OrganizationID: "org-x"}
	orgY = domain.Principal{UserID: "u2", OrganizationID: "org-y"}
)

func newTestRegistry() (*Registry, *tenantAuthorizer) {
	auth := &tenantAuthorizer{owners: map[domain.Topic]string{
		domain.TicketTopic("1"): "org-x",
		domain.TicketTopic("2"): "org-x",
		domain.TicketTopic("9"): "org-y",
		domain.JobTopic("42"):   "org-x",
	}}
	return NewRegistry(auth), auth
}

func subscribe(t *testing.T, r *Registry, connID string, topic domain.Topic) bool {
	t.Helper()
	added, err := r.Subscribe(context.Background(), connID, topic, orgX)
	require.NoError(t, err)
	return added
}

func TestSubscribe_NewAndDuplicate(t *testing.T) {
	r, _ := newTestRegistry()
	r.Attach("c1")

	assert.True(t, subscribe(t, r, "c1", domain.TicketTopic("1")))
	assert.False(t, subscribe(t, r, "c1", domain.TicketTopic("1")), "duplicate is a no-op success")

	assert.Equal(t, []string{"c1"}, r.LocalSubscribers(domain.TicketTopic("1")))
	assert.Equal(t, []domain.Topic{domain.TicketTopic("1")}, r.TopicsOf("c1"))
}

func TestSubscribe_CrossTenantRejected(t *testing.T) {
	r, _ := newTestRegistry()
	r.Attach("c1")

	added, err := r.Subscribe(context.Background(), "c1", domain.TicketTopic("1"), orgY)
	require.Error(t, err)
	assert.False(t, added)
	assert.True(t, apperrors.IsType(err, apperrors.TypeAuthorization))

	assert.Empty(t, r.LocalSubscribers(domain.TicketTopic("1")))
	assert.Empty(t, r.TopicsOf("c1"))
	assert.Equal(t, 0, r.Stats().Topics)
}

func TestSubscribe_InvalidTopic(t *testing.T) {
	r, auth := newTestRegistry()
	r.Attach("c1")

	_, err := r.Subscribe(context.Background(), "c1", domain.Topic{Family: "user", ID: "1"}, orgX)
	assert.True(t, apperrors.IsType(err, apperrors.TypeValidation))

	_, err = r.Subscribe(context.Background(), "c1", domain.TicketTopic("  "), orgX)
	assert.True(t, apperrors.IsType(err, apperrors.TypeValidation))

	assert.Zero(t, auth.calls, "authorizer not consulted for malformed topics")
}

func TestSubscribe_UnattachedConnection(t *testing.T) {
	r, _ := newTestRegistry()

	_, err := r.Subscribe(context.Background(), "ghost", domain.TicketTopic("1"), orgX)
	assert.ErrorIs(t, err, domain.ErrConnectionClosed)
	assert.Empty(t, r.LocalSubscribers(domain.TicketTopic("1")))
}

func TestSubscribe_CleanupDuringAuthorization(t *testing.T) {
	r, auth := newTestRegistry()
	r.Attach("c1")
	auth.hook = func() { r.CleanupConnection("c1") }

	_, err := r.Subscribe(context.Background(), "c1", domain.TicketTopic("1"), orgX)

	assert.ErrorIs(t, err, domain.ErrConnectionClosed)
	assert.Empty(t, r.LocalSubscribers(domain.TicketTopic("1")))
	assert.Equal(t, Stats{}, r.Stats())
}

func TestUnsubscribe_Consistency(t *testing.T) {
	r, _ := newTestRegistry()
	r.Attach("c1")
	r.Attach("c2")
	topic := domain.TicketTopic("1")

	subscribe(t, r, "c1", topic)
	subscribe(t, r, "c2", topic)

	assert.True(t, r.Unsubscribe("c1", topic))
	assert.NotContains(t, r.LocalSubscribers(topic), "c1")
	assert.NotContains(t, r.TopicsOf("c1"), topic)
	assert.False(t, r.IsSubscribed("c1", topic))

	assert.False(t, r.Unsubscribe("c1", topic), "second unsubscribe is a no-op")
	assert.Equal(t, []string{"c2"}, r.LocalSubscribers(topic))
}

func TestUnsubscribe_LastSubscriberDeletesTopic(t *testing.T) {
	r, _ := newTestRegistry()
	r.Attach("c1")
	topic := domain.JobTopic("42")

	subscribe(t, r, "c1", topic)
	assert.Equal(t, 1, r.Stats().Topics)

	r.Unsubscribe("c1", topic)
	assert.Equal(t, 0, r.Stats().Topics)
	assert.Equal(t, 0, r.SubscriberCount(topic))
}

func TestUnsubscribe_UnknownConnection(t *testing.T) {
	r, _ := newTestRegistry()
	assert.False(t, r.Unsubscribe("nobody", domain.TicketTopic("1")))
}

func TestCleanupConnection(t *testing.T) {
	r, _ := newTestRegistry()
	r.Attach("c1")
	r.Attach("c2")

	subscribe(t, r, "c1", domain.TicketTopic("1"))
	subscribe(t, r, "c1", domain.TicketTopic("2"))
	subscribe(t, r, "c1", domain.JobTopic("42"))
	subscribe(t, r, "c2", domain.TicketTopic("1"))

	assert.Equal(t, 3, r.CleanupConnection("c1"))

	for _, topic := range []domain.Topic{domain.TicketTopic("1"), domain.TicketTopic("2"), domain.JobTopic("42")} {
		assert.NotContains(t, r.LocalSubscribers(topic), "c1")
	}
	assert.Empty(t, r.TopicsOf("c1"))
	assert.Equal(t, Stats{Connections: 1, Topics: 1, Subscriptions: 1}, r.Stats())

	assert.Equal(t, 0, r.CleanupConnection("c1"), "cleanup is idempotent")
}

func TestTopicsOf_Sorted(t *testing.T) {
	r, _ := newTestRegistry()
	r.Attach("c1")

	subscribe(t, r, "c1", domain.TicketTopic("2"))
	subscribe(t, r, "c1", domain.JobTopic("42"))
	subscribe(t, r, "c1", domain.TicketTopic("1"))

	assert.Equal(t, []domain.Topic{
		domain.JobTopic("42"),
		domain.TicketTopic("1"),
		domain.TicketTopic("2"),
	}, r.TopicsOf("c1"))
}

func TestSubscribe_AuthorizerErrorPassedThrough(t *testing.T) {
	boom := apperrors.UpstreamUnavailableError("ownership lookup failed", stderrors.New("pool closed"))
	r := NewRegistry(authorizerFunc(func(context.Context, domain.Principal, domain.Topic) error { return boom }))
	r.Attach("c1")

	_, err := r.Subscribe(context.Background(), "c1", domain.TicketTopic("1"), orgX)
	assert.Same(t, boom, err)
}

func TestRegistry_ConcurrentChurn(t *testing.T) {
	r, _ := newTestRegistry()

	var wg sync.WaitGroup
	for i := range 50 {
		connID := fmt.Sprintf("c%d", i)
		r.Attach(connID)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				_, _ = r.Subscribe(context.Background(), connID, domain.TicketTopic("1"), orgX)
				_, _ = r.Subscribe(context.Background(), connID, domain.JobTopic("42"), orgX)
				r.Unsubscribe(connID, domain.TicketTopic("1"))
			}
			r.CleanupConnection(connID)
		}()
	}
	wg.Wait()

	assert.Equal(t, Stats{}, r.Stats())
}

type authorizerFunc func(context.Context, domain.Principal, domain.Topic) error

func (f authorizerFunc) Authorize(ctx context.Context, p domain.Principal, t domain.Topic) error {
	return f(ctx, p, t)
}
