//go:build integration

package kafka_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"accessgate/internal/notify"
	"accessgate/internal/platform/config"
	"accessgate/internal/platform/kafka"
	"accessgate/pkg/testutil/containers"
)

func TestKafka_EnsureTopicAndPublish(t *testing.T) {
	broker := containers.GetManager().GetRedpanda(t).Broker
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	topic := "approval-events-it"
	producer, err := kafka.New(ctx, config.KafkaConfig{Brokers: []string{broker}, Topic: topic},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(producer.Close)

	// a second call sees the existing topic
	require.NoError(t, kafka.EnsureTopic(ctx, producer, topic, 3, 1))
	topics, err := kadm.NewClient(producer).ListTopics(ctx, topic)
	require.NoError(t, err)
	assert.True(t, topics.Has(topic))

	publisher := notify.NewKafkaPublisher(producer, topic)
	event := notify.Event{Type: notify.EventApproved, RequestID: "req-1", Status: "approved", ActorID: "admin-b", At: time.Now().UTC()}
	require.NoError(t, publisher.Send(ctx, event))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	t.Cleanup(consumer.Close)

	fetches := consumer.PollFetches(ctx)
	require.NoError(t, fetches.Err())
	records := fetches.Records()
	require.NotEmpty(t, records)

	var got notify.Event
	require.NoError(t, json.Unmarshal(records[0].Value, &got))
	assert.Equal(t, "req-1", got.RequestID)
	assert.Equal(t, []byte("req-1"), records[0].Key)
}
