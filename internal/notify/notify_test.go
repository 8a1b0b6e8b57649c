package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	commonredis "wisefido-doorlock/common/redis"
	"wisefido-doorlock/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var sampleEvent = models.StatusChangeEvent{
	EventID:  "5f0c6d4e-8a53-4c3b-9a43-1a0d8f1f0b11",
	Room:     12,
	Flag:     models.FlagSOS,
	NewValue: true,
	At:       time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC),
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestStreamSink_Handle(t *testing.T) {
	_, client := setupTestRedis(t)
	sink := NewStreamSink(client, "", 1000, zap.NewNop())

	require.NoError(t, sink.Handle(context.Background(), sampleEvent))

	msgs, err := commonredis.ReadRange(context.Background(), client, DefaultStream, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	v := msgs[0].Values
	assert.Equal(t, sampleEvent.EventID, v["event_id"])
	assert.Equal(t, "12", v["room"])
	assert.Equal(t, "sos", v["flag"])
	assert.Equal(t, "true", v["value"])
	assert.Equal(t, "room 12: sos on", v["description"])
}

func TestStreamSink_RedisDown(t *testing.T) {
	mr, client := setupTestRedis(t)
	mr.Close()

	err := NewStreamSink(client, "events", 0, zap.NewNop()).Handle(context.Background(), sampleEvent)
	assert.Error(t, err)
}

func TestStatusCache_WritesSnapshot(t *testing.T) {
	mr, client := setupTestRedis(t)
	snapshot := func(room int) (models.RoomStatus, bool) {
		return models.RoomStatus{Room: room, SOS: true, Occupied: true, UpdatedAt: sampleEvent.At}, true
	}
	cache := NewStatusCache(NewRedisKVStore(client), snapshot, time.Hour)
	ctx := context.Background()

	require.NoError(t, cache.Handle(ctx, sampleEvent))
	assert.True(t, mr.Exists("doorlock:room:12:status"))
	assert.Equal(t, time.Hour, mr.TTL("doorlock:room:12:status"))

	st, err := cache.Get(ctx, 12)
	require.NoError(t, err)
	assert.True(t, st.SOS)
	assert.True(t, st.Occupied)
	assert.False(t, st.StaffCall)

	_, err = cache.Get(ctx, 13)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestStatusCache_UnknownRoom(t *testing.T) {
	_, client := setupTestRedis(t)
	cache := NewStatusCache(NewRedisKVStore(client), func(int) (models.RoomStatus, bool) {
		return models.RoomStatus{}, false
	}, 0)
	assert.Error(t, cache.Handle(context.Background(), sampleEvent))
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePublisher struct {
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{topic, qos, retained, payload})
	return nil
}

func TestMQTTSink_Handle(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewMQTTSink(pub, "hotel/rooms/", 1)

	require.NoError(t, sink.Handle(context.Background(), sampleEvent))
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "hotel/rooms/12/status/sos", pub.msgs[0].topic)
	assert.Equal(t, byte(1), pub.msgs[0].qos)
	assert.True(t, pub.msgs[0].retained)

	var got models.StatusChangeEvent
	require.NoError(t, json.Unmarshal(pub.msgs[0].payload, &got))
	assert.Equal(t, sampleEvent, got)

	pub.err = errors.New("not connected")
	assert.Error(t, sink.Handle(context.Background(), sampleEvent))
}

func TestWebhookSink_Handle(t *testing.T) {
	var body webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL+"/hooks/doorlock", time.Second, 0, zap.NewNop())
	require.NoError(t, sink.Handle(context.Background(), sampleEvent))
	assert.Equal(t, sampleEvent.EventID, body.Event.EventID)
	assert.Equal(t, "room 12: sos on", body.Description)
}

func TestWebhookSink_ErrorStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewWebhookSink(srv.URL, time.Second, 0, zap.NewNop()).Handle(context.Background(), sampleEvent)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "returned 400")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestChannelSink(t *testing.T) {
	sink := NewChannelSink(1)
	ctx := context.Background()

	require.NoError(t, sink.Handle(ctx, sampleEvent))
	assert.ErrorIs(t, sink.Handle(ctx, sampleEvent), ErrSubscriberBehind)
	assert.Equal(t, sampleEvent, <-sink.Events())

	sink.Close()
	sink.Close()
	assert.ErrorIs(t, sink.Handle(ctx, sampleEvent), ErrSubscriberClosed)
	_, open := <-sink.Events()
	assert.False(t, open)
}
