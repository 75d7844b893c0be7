package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherRecordsMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "alerts", map[string]string{"service": "a"})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "other", "payload")
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	assert.Len(t, pub.Messages(""), 2)
	alerts := pub.Messages("alerts")
	require.Len(t, alerts, 1)
	assert.Equal(t, map[string]string{"service": "a"}, alerts[0].Payload)

	alerts[0].Topic = "modified"
	assert.Equal(t, "alerts", pub.Messages("alerts")[0].Topic)
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	boom := errors.New("unavailable")
	pub.FailWith(boom)
	_, err := pub.Publish(context.Background(), "alerts", "x")
	require.ErrorIs(t, err, boom)
	assert.Empty(t, pub.Messages(""))

	pub.FailWith(nil)
	_, err = pub.Publish(context.Background(), "alerts", "x")
	require.NoError(t, err)
}
