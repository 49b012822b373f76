package events_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betagouv/l-immersion-facile-sub002/internal/events"
)

func TestRecorder(t *testing.T) {
	rec := events.NewRecorder()
	at := time.Date(2024, 5, 14, 9, 0, 0, 0, time.UTC)
	require.NoError(t, rec.Publish(context.Background(), events.Event{Type: events.EstablishmentInserted, Siret: "12345678901234", OccurredAt: at}))
	require.NoError(t, rec.Publish(context.Background(), events.Event{Type: events.EstablishmentDeleted, Siret: "12345678901234", OccurredAt: at}))

	assert.Equal(t, []string{events.EstablishmentInserted, events.EstablishmentDeleted}, rec.Types())
	assert.Equal(t, "12345678901234", rec.Events()[1].Siret)
}

func TestRedisPublisher(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, events.EstablishmentUpdated)
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	pub := events.NewRedisPublisher(rdb)
	require.NoError(t, pub.Publish(ctx, events.Event{Type: events.EstablishmentUpdated, Siret: "12345678901234"}))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var got events.Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, "12345678901234", got.Siret)
}
