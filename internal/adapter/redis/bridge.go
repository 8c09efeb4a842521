package redis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/deskpulse/internal/adapter/metrics"
	"github.com/pscheid92/deskpulse/internal/domain"
	"github.com/pscheid92/deskpulse/internal/platform/retry"
	goredis "github.com/redis/go-redis/v9"
)

// BroadcastMessage replicates one publish to the other instances.
type BroadcastMessage struct {
	// Channel is the topic key, e.g. "job:42".
	Channel        string          `json:"channel"`
	Notification   domain.Envelope `json:"notification"`
	OriginServerID string          `json:"origin_server_id"`
}

type BridgeConfig struct {
	ServerID      string
	ChannelPrefix string
	Backoff       retry.Backoff
}

// Bridge delivers notifications to local subscribers and fans them out to
// other instances over one Redis channel per topic family. Messages coming
// back from Redis are delivered locally only and are never republished.
//
// Redis failures never reach publishers: the bridge enters degraded mode,
// keeps delivering locally and resubscribes with backoff.
type Bridge struct {
	rdb     *goredis.Client
	cfg     BridgeConfig
	index   domain.SubscriberIndex
	clock   clockwork.Clock
	metrics *metrics.BridgeMetrics

	mu        sync.RWMutex
	deliverer domain.Deliverer

	listenDown  atomic.Bool
	publishDown atomic.Bool
}

var _ domain.Publisher = (*Bridge)(nil)

func NewBridge(rdb *goredis.Client, cfg BridgeConfig, index domain.SubscriberIndex, clock clockwork.Clock, m *metrics.BridgeMetrics) *Bridge {
	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = "deskpulse"
	}
	if cfg.Backoff == (retry.Backoff{}) {
		cfg.Backoff = retry.DefaultBackoff()
	}
	return &Bridge{rdb: rdb, cfg: cfg, index: index, clock: clock, metrics: m}
}

// Bind sets the local delivery target. Call it before Listen or Publish.
func (b *Bridge) Bind(d domain.Deliverer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deliverer = d
}

// Channel returns the Redis channel carrying family's notifications.
func (b *Bridge) Channel(family domain.TopicFamily) string {
	return b.cfg.ChannelPrefix + ":" + string(family)
}

func (b *Bridge) channels() []string {
	chans := make([]string, 0, len(domain.Families))
	for _, f := range domain.Families {
		chans = append(chans, b.Channel(f))
	}
	return chans
}

// Degraded reports whether cross-instance fan-out is currently unavailable.
func (b *Bridge) Degraded() bool {
	return b.listenDown.Load() || b.publishDown.Load()
}

// Publish stamps the notification, delivers it to local subscribers and
// broadcasts it to the other instances. Only invalid input yields an error.
func (b *Bridge) Publish(ctx context.Context, topic domain.Topic, n domain.Envelope) error {
	if !topic.Family.Valid() || topic.ID == "" {
		return fmt.Errorf("publish: %w: %q", domain.ErrInvalidTopic, topic.String())
	}
	if n.Timestamp == "" {
		n = n.Stamped(b.clock.Now())
	}

	payload, err := json.Marshal(BroadcastMessage{
		Channel:        topic.String(),
		Notification:   n,
		OriginServerID: b.cfg.ServerID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal broadcast message: %w", err)
	}

	b.deliver(topic, n, "local")

	family := string(topic.Family)
	if err := b.rdb.Publish(ctx, b.Channel(topic.Family), payload).Err(); err != nil {
		b.setDown(&b.publishDown, err)
		b.observePublish(family, "degraded")
		return nil
	}
	b.setUp(&b.publishDown)
	b.observePublish(family, "ok")
	return nil
}

// Listen holds one subscription to the family channels until ctx is done,
// resubscribing with backoff after every failure.
func (b *Bridge) Listen(ctx context.Context) {
	attempt := 0
	for {
		err := b.listenOnce(ctx, func() { attempt = 0 })
		if ctx.Err() != nil {
			return
		}

		b.setDown(&b.listenDown, err)
		if b.metrics != nil {
			b.metrics.Reconnects.Inc()
		}

		delay := b.cfg.Backoff.Delay(attempt)
		attempt++
		slog.Debug("Resubscribing to Redis", "attempt", attempt, "backoff", delay)
		if err := retry.Sleep(ctx, b.clock, delay); err != nil {
			return
		}
	}
}

func (b *Bridge) listenOnce(ctx context.Context, onSubscribed func()) error {
	sub := b.rdb.Subscribe(ctx, b.channels()...)
	defer func() { _ = sub.Close() }()

	// The first reply confirms the subscription.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	b.setUp(&b.listenDown)
	onSubscribed()
	slog.Info("Subscribed to broadcast channels", "channels", b.channels())

	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			return fmt.Errorf("failed to receive: %w", err)
		}
		b.handleMessage(msg.Payload)
	}
}

func (b *Bridge) handleMessage(payload string) {
	dec := json.NewDecoder(bytes.NewReader([]byte(payload)))
	dec.UseNumber()

	var msg BroadcastMessage
	if err := dec.Decode(&msg); err != nil {
		slog.Warn("Dropping malformed broadcast message", "error", err)
		b.observeReceived("invalid")
		return
	}

	if msg.OriginServerID == b.cfg.ServerID {
		b.observeReceived("own")
		return
	}

	topic, err := domain.ParseTopic(msg.Channel)
	if err != nil {
		slog.Warn("Dropping broadcast message with bad topic", "channel", msg.Channel, "error", err)
		b.observeReceived("invalid")
		return
	}

	b.deliver(topic, msg.Notification, "remote")
	b.observeReceived("delivered")
}

func (b *Bridge) deliver(topic domain.Topic, n domain.Envelope, source string) {
	b.mu.RLock()
	d := b.deliverer
	b.mu.RUnlock()
	if d == nil {
		return
	}

	ids := b.index.LocalSubscribers(topic)
	if len(ids) == 0 {
		return
	}
	delivered := d.Deliver(ids, n)
	if b.metrics != nil {
		b.metrics.Delivered.WithLabelValues(source).Add(float64(delivered))
	}
}

// setDown flags one half of the bridge as failed, logging only on the
// transition into degraded mode.
func (b *Bridge) setDown(flag *atomic.Bool, err error) {
	wasDegraded := b.Degraded()
	flag.Store(true)
	if !wasDegraded {
		slog.Warn("Redis unavailable, delivering to local subscribers only", "error", err)
	}
	b.updateDegradedGauge()
}

func (b *Bridge) setUp(flag *atomic.Bool) {
	if !flag.Swap(false) {
		return
	}
	if !b.Degraded() {
		slog.Info("Redis fan-out restored")
	}
	b.updateDegradedGauge()
}

func (b *Bridge) updateDegradedGauge() {
	if b.metrics == nil {
		return
	}
	v := 0.0
	if b.Degraded() {
		v = 1
	}
	b.metrics.Degraded.Set(v)
}

func (b *Bridge) observePublish(family, result string) {
	if b.metrics != nil {
		b.metrics.Published.WithLabelValues(family, result).Inc()
	}
}

func (b *Bridge) observeReceived(result string) {
	if b.metrics != nil {
		b.metrics.Received.WithLabelValues(result).Inc()
	}
}
