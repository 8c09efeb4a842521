package websocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func note(s string) outbound     { return outbound{payload: []byte(s)} }
func critical(s string) outbound { return outbound{payload: []byte(s), critical: true} }

func payloads(items []outbound) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = string(it.payload)
	}
	return out
}

func TestSendQueue_FIFO(t *testing.T) {
	q := newSendQueue(4)
	for _, s := range []string{"a", "b", "c"} {
		res, err := q.push(note(s))
		require.NoError(t, err)
		assert.Equal(t, pushQueued, res)
	}

	items, dropped := q.drain()
	assert.Equal(t, []string{"a", "b", "c"}, payloads(items))
	assert.Zero(t, dropped)
	assert.Zero(t, q.len())
}

func TestSendQueue_DropsOldestNotification(t *testing.T) {
	q := newSendQueue(3)
	_, _ = q.push(critical("ack"))
	_, _ = q.push(note("n1"))
	_, _ = q.push(note("n2"))

	res, err := q.push(note("n3"))
	require.NoError(t, err)
	assert.Equal(t, pushReplaced, res)

	res, err = q.push(critical("err"))
	require.NoError(t, err)
	assert.Equal(t, pushReplaced, res)

	items, dropped := q.drain()
	assert.Equal(t, []string{"ack", "n3", "err"}, payloads(items))
	assert.Equal(t, 2, dropped)
}

func TestSendQueue_FullOfCritical(t *testing.T) {
	q := newSendQueue(2)
	_, _ = q.push(critical("a"))
	_, _ = q.push(critical("b"))

	res, err := q.push(note("n"))
	require.NoError(t, err)
	assert.Equal(t, pushDropped, res)

	_, err = q.push(critical("c"))
	assert.ErrorIs(t, err, errQueueFull)

	items, dropped := q.drain()
	assert.Equal(t, []string{"a", "b"}, payloads(items))
	assert.Equal(t, 1, dropped)
}

func TestSendQueue_SignalsOnce(t *testing.T) {
	q := newSendQueue(4)
	_, _ = q.push(note("a"))
	_, _ = q.push(note("b"))

	assert.Len(t, q.ready, 1)
}

func TestSendQueue_Closed(t *testing.T) {
	q := newSendQueue(1)
	q.close()

	_, err := q.push(critical("a"))
	assert.ErrorIs(t, err, errQueueClosed)
}
