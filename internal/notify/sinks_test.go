package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

func sampleEvent() Event {
	return Event{
		Type:      EventAccessed,
		RequestID: "0b9e1c2a-4d1f-4a55-9a8e-6f2d3c4b5a69",
		Status:    "approved",
		ActorID:   "requester",
		At:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Approvals: 2,
	}
}

func TestRedisPublisher_PublishesToChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	sub := client.Subscribe(ctx, DefaultRedisChannel)
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	publisher := NewRedisPublisher(client, "")
	require.NoError(t, publisher.Send(ctx, sampleEvent()))

	select {
	case msg := <-sub.Channel():
		var got Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, sampleEvent(), got)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestRedisPublisher_ReportsConnectionFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	err := NewRedisPublisher(client, "events").Send(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish to events")
}

type fakeProducer struct {
	records []*kgo.Record
	err     error
}

func (p *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	p.records = append(p.records, rs...)
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		results = append(results, kgo.ProduceResult{Record: r, Err: p.err})
	}
	return results
}

func TestKafkaPublisher(t *testing.T) {
	t.Run("keys records by request id", func(t *testing.T) {
		producer := &fakeProducer{}
		require.NoError(t, NewKafkaPublisher(producer, "approval-events").Send(context.Background(), sampleEvent()))

		require.Len(t, producer.records, 1)
		record := producer.records[0]
		assert.Equal(t, "approval-events", record.Topic)
		assert.Equal(t, sampleEvent().RequestID, string(record.Key))
		require.Len(t, record.Headers, 1)
		assert.Equal(t, string(EventAccessed), string(record.Headers[0].Value))
	})

	t.Run("wraps produce errors", func(t *testing.T) {
		producer := &fakeProducer{err: errors.New("not leader")}
		err := NewKafkaPublisher(producer, "approval-events").Send(context.Background(), sampleEvent())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "produce to approval-events")
	})
}

func TestHub_BroadcastsToConnectedClients(t *testing.T) {
	hub := NewHub(nil, nil)
	server := httptest.NewServer(hub)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Send(context.Background(), sampleEvent()))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, sampleEvent(), got)

	_ = conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
