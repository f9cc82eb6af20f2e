package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "resolutions", map[string]string{"key": "movie:tt1"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "other", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "resolutions", msgs[0].Topic)

	msgs[0].Topic = "modified"
	require.Equal(t, "resolutions", pub.Messages()[0].Topic)
}

func TestPublisherFailures(t *testing.T) {
	t.Parallel()

	pub := New()
	boom := errors.New("boom")
	pub.FailWith(boom)
	_, err := pub.Publish(context.Background(), "t", 1)
	require.ErrorIs(t, err, boom)

	pub.FailWith(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pub.Publish(ctx, "t", 1)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, pub.Messages())
}
