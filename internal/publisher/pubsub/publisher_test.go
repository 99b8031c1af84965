package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishWithoutTopicPublisher(t *testing.T) {
	t.Parallel()

	p := New(nil)
	_, err := p.Publish(context.Background(), "batches", map[string]string{"k": "v"})
	require.ErrorContains(t, err, "not configured")
	require.NotPanics(t, p.Stop)

	var nilPub *Publisher
	_, err = nilPub.Publish(context.Background(), "batches", nil)
	require.Error(t, err)
}
