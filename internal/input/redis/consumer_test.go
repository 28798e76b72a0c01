package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestConsumerPushPop(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewConsumer(Config{Addr: mr.Addr(), Key: "trace_events", BlockTimeout: 50 * time.Millisecond})
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Ping(ctx))
	require.NoError(t, c.Push(ctx))
	require.NoError(t, c.Push(ctx, []byte(`{"n":1}`), []byte(`{"n":2}`)))

	n, err := c.Backlog(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	got, err := c.Pop(ctx)
	require.NoError(t, err)
	require.Equal(t, `{"n":1}`, string(got))
	got, err = c.Pop(ctx)
	require.NoError(t, err)
	require.Equal(t, `{"n":2}`, string(got))
}

func TestConsumerRequiresKey(t *testing.T) {
	_, err := NewConsumer(Config{})
	require.Error(t, err)
}
