package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/deskpulse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDirectory(t *testing.T) (*Directory, *miniredis.Miniredis, *clockwork.FakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	clock := clockwork.NewFakeClockAt(time.Unix(1_770_000_000, 0))
	d := NewDirectory(newMiniredisClient(t, mr), "test", "server-a", "v1.2.3", 10*time.Second, clock)
	return d, mr, clock
}

func TestDirectory_RegisterUnregister(t *testing.T) {
	d, mr, _ := newTestDirectory(t)
	ctx := context.Background()

	require.NoError(t, d.Register(ctx, "conn-1", domain.Principal{UserID: "u1", OrganizationID: "org-x"}))

	raw := mr.HGet("test:connections:server-a", "conn-1")
	var info ConnectionInfo
	require.NoError(t, json.Unmarshal([]byte(raw), &info))
	assert.Equal(t, ConnectionInfo{UserID: "u1", OrganizationID: "org-x", ConnectedAt: 1_770_000_000}, info)
	assert.Equal(t, 30*time.Second, mr.TTL("test:connections:server-a"))

	require.NoError(t, d.Unregister(ctx, "conn-1"))
	assert.Empty(t, mr.HGet("test:connections:server-a", "conn-1"))
}

func TestDirectory_RunHeartbeatsAndDeregisters(t *testing.T) {
	d, mr, clock := newTestDirectory(t)
	require.NoError(t, d.Register(context.Background(), "conn-1", domain.Principal{UserID: "u1"}))

	count := 1
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx, func() int { return count })
	}()

	readInstance := func() InstanceInfo {
		var info InstanceInfo
		raw := mr.HGet("test:instances", "server-a")
		if raw != "" {
			_ = json.Unmarshal([]byte(raw), &info)
		}
		return info
	}

	require.Eventually(t, func() bool { return readInstance().ServerID == "server-a" }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "v1.2.3", readInstance().Version)
	assert.Equal(t, 1, readInstance().Connections)

	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	clock.Advance(10 * time.Second)
	require.Eventually(t, func() bool {
		return readInstance().HeartbeatAt == 1_770_000_010
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	assert.False(t, mr.Exists("test:connections:server-a"))
	assert.Empty(t, mr.HGet("test:instances", "server-a"))
}
