// Command notify publishes one notification onto the fan-out channels so
// every running instance delivers it to its subscribers. It is meant for
// operators and for smoke-testing a deployment.
//
//	notify -topic job:42 -type file_processing_progress -data '{"stage":"transcription","progress":50}'
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/deskpulse/internal/adapter/redis"
	"github.com/pscheid92/deskpulse/internal/domain"
	"github.com/pscheid92/deskpulse/internal/platform/logging"
	"github.com/pscheid92/deskpulse/internal/protocol"
)

func main() {
	var (
		redisURL = flag.String("redis", os.Getenv("REDIS_URL"), "Redis URL (or set REDIS_URL env)")
		prefix   = flag.String("prefix", envOr("REDIS_CHANNEL_PREFIX", "deskpulse"), "Channel prefix")
		topicArg = flag.String("topic", "", "Topic, e.g. ticket:17 or job:42")
		msgType  = flag.String("type", "", "Notification type, e.g. ticket_status_update")
		dataArg  = flag.String("data", "{}", "Notification data as a JSON object")
		verbose  = flag.Bool("verbose", false, "Verbose logging")
	)
	flag.Parse()

	if *redisURL == "" {
		log.Fatal("Redis URL required (--redis or REDIS_URL env)")
	}

	level := "info"
	if *verbose {
		level = "debug"
	}
	logging.InitLogger(os.Stderr, level, "text", "notify-cli")

	topic, err := domain.ParseTopic(*topicArg)
	if err != nil {
		log.Fatalf("Invalid topic: %v", err)
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(*dataArg), &data); err != nil {
		log.Fatalf("Invalid data: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rdb, err := redis.NewClient(ctx, *redisURL, nil)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rdb.Close()
	slog.Debug("Connected to Redis", "url", sanitizeURL(*redisURL))

	// No local deliverer is bound, so the bridge only broadcasts.
	bridge := redis.NewBridge(rdb, redis.BridgeConfig{
		ServerID:      "notify-" + uuid.NewString(),
		ChannelPrefix: *prefix,
	}, nil, clockwork.NewRealClock(), nil)

	if err := publish(ctx, bridge, topic, domain.NewEnvelope(*msgType, data)); err != nil {
		log.Fatalf("Publish failed: %v", err)
	}
	if bridge.Degraded() {
		log.Fatal("Publish failed: Redis unavailable")
	}

	slog.Info("Notification published", "topic", topic.String(), "type", *msgType, "channel", bridge.Channel(topic.Family))
}

// publish validates n against its topic family before sending it.
func publish(ctx context.Context, publisher domain.Publisher, topic domain.Topic, n domain.Envelope) error {
	switch topic.Family {
	case domain.FamilyTicket:
		return protocol.NewTicketHandler(nil, nil, publisher).Publish(ctx, topic, n)
	case domain.FamilyJob:
		return protocol.NewJobHandler(nil, nil, publisher).Publish(ctx, topic, n)
	default:
		return fmt.Errorf("unsupported topic family %q", topic.Family)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid>"
	}
	return u.Redacted()
}
