package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/deskpulse/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

// Directory publishes which connections this instance serves. It is
// telemetry for operators and is never read on the delivery path.
//
// Keys: {prefix}:instances (field per server) and
// {prefix}:connections:{server_id} (field per connection). The connections
// hash expires unless refreshed, so a crashed instance leaves nothing behind.
type Directory struct {
	rdb       *goredis.Client
	prefix    string
	serverID  string
	version   string
	heartbeat time.Duration
	clock     clockwork.Clock
	startedAt time.Time
}

// InstanceInfo is the value stored per server in the instances hash.
type InstanceInfo struct {
	ServerID    string `json:"server_id"`
	Version     string `json:"version"`
	StartedAt   int64  `json:"started_at"`
	HeartbeatAt int64  `json:"heartbeat_at"`
	Connections int    `json:"connections"`
}

// ConnectionInfo is the value stored per connection.
type ConnectionInfo struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	ConnectedAt    int64  `json:"connected_at"`
}

func NewDirectory(rdb *goredis.Client, prefix, serverID, version string, heartbeat time.Duration, clock clockwork.Clock) *Directory {
	if prefix == "" {
		prefix = "deskpulse"
	}
	return &Directory{
		rdb:       rdb,
		prefix:    prefix,
		serverID:  serverID,
		version:   version,
		heartbeat: heartbeat,
		clock:     clock,
		startedAt: clock.Now(),
	}
}

func (d *Directory) instancesKey() string   { return d.prefix + ":instances" }
func (d *Directory) connectionsKey() string { return d.prefix + ":connections:" + d.serverID }

// ttl keeps the connections hash alive across two missed heartbeats.
func (d *Directory) ttl() time.Duration { return 3 * d.heartbeat }

func (d *Directory) Register(ctx context.Context, connectionID string, principal domain.Principal) error {
	data, err := json.Marshal(ConnectionInfo{
		UserID:         principal.UserID,
		OrganizationID: principal.OrganizationID,
		ConnectedAt:    d.clock.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal connection info: %w", err)
	}

	pipe := d.rdb.TxPipeline()
	pipe.HSet(ctx, d.connectionsKey(), connectionID, data)
	pipe.Expire(ctx, d.connectionsKey(), d.ttl())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to register connection: %w", err)
	}
	return nil
}

func (d *Directory) Unregister(ctx context.Context, connectionID string) error {
	if err := d.rdb.HDel(ctx, d.connectionsKey(), connectionID).Err(); err != nil {
		return fmt.Errorf("failed to unregister connection: %w", err)
	}
	return nil
}

// Run heartbeats the instance entry until ctx is cancelled, then removes
// this instance's keys. connections reports the live connection count.
func (d *Directory) Run(ctx context.Context, connections func() int) {
	d.beat(ctx, connections())

	ticker := d.clock.NewTicker(d.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			d.beat(ctx, connections())
		case <-ctx.Done():
			d.deregister()
			return
		}
	}
}

func (d *Directory) beat(ctx context.Context, connections int) {
	data, err := json.Marshal(InstanceInfo{
		ServerID:    d.serverID,
		Version:     d.version,
		StartedAt:   d.startedAt.Unix(),
		HeartbeatAt: d.clock.Now().Unix(),
		Connections: connections,
	})
	if err != nil {
		return
	}

	pipe := d.rdb.Pipeline()
	pipe.HSet(ctx, d.instancesKey(), d.serverID, data)
	pipe.Expire(ctx, d.connectionsKey(), d.ttl())
	if _, err := pipe.Exec(ctx); err != nil && ctx.Err() == nil {
		slog.Debug("Directory heartbeat failed", "error", err)
	}
}

func (d *Directory) deregister() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pipe := d.rdb.Pipeline()
	pipe.HDel(ctx, d.instancesKey(), d.serverID)
	pipe.Del(ctx, d.connectionsKey())
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("Failed to remove instance from directory", "error", err)
	}
}
