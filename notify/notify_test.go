package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/notify"
)

func event(id string) leave.Event {
	return leave.Event{
		Type:       leave.EventApproved,
		Request:    leave.LeaveRequest{ID: leave.RequestID(id), RequesterID: "emp", Status: leave.StatusApproved},
		Actor:      leave.Actor{ID: "mgr", Role: leave.RoleManager},
		OccurredAt: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.msgs)
}

func TestKafka_PublishesKeyedJSON(t *testing.T) {
	w := &fakeWriter{}
	n := notify.NewKafka(w)

	require.NoError(t, n.Notify(context.Background(), event("req-1")))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "req-1", string(msg.Key))
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, string(leave.EventApproved), string(msg.Headers[0].Value))
	assert.Equal(t, "requester_id", msg.Headers[1].Key)
	assert.Equal(t, "emp", string(msg.Headers[1].Value))

	var decoded leave.Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, leave.EventApproved, decoded.Type)
	assert.Equal(t, leave.RequestID("req-1"), decoded.Request.ID)
	assert.Equal(t, leave.EmployeeID("mgr"), decoded.Actor.ID)
}

func TestKafka_WriterError(t *testing.T) {
	w := &fakeWriter{err: errors.New("no brokers")}
	err := notify.NewKafka(w).Notify(context.Background(), event("req-1"))
	assert.EqualError(t, err, "no brokers")
}

func TestNewKafkaWriter(t *testing.T) {
	w := notify.NewKafkaWriter([]string{"localhost:9092"}, "leave-events")
	assert.Equal(t, "leave-events", w.Topic)
	assert.Equal(t, kafka.RequireAll, w.RequiredAcks)
}

func TestLog(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	n := notify.NewLog(zap.New(core))

	require.NoError(t, n.Notify(context.Background(), event("req-1")))

	entries := logs.FilterLoggerName("notify").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "req-1", entries[0].ContextMap()["request_id"])
}

func TestMulti_JoinsErrors(t *testing.T) {
	w := &fakeWriter{}
	boom := errors.New("boom")
	m := notify.Multi{
		notify.NewKafka(w),
		leave.NotifierFunc(func(context.Context, leave.Event) error { return boom }),
	}

	err := m.Notify(context.Background(), event("req-1"))

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, w.count(), "a failing notifier does not stop the others")
}

func TestAsync_DeliversAndDrainsOnClose(t *testing.T) {
	w := &fakeWriter{}
	a := notify.NewAsync(notify.NewKafka(w), 16, time.Second, nil)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, a.Notify(context.Background(), event(id)))
	}
	require.NoError(t, a.Close(context.Background()))

	assert.Equal(t, 3, w.count())
}

func TestAsync_DropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	blocking := leave.NotifierFunc(func(context.Context, leave.Event) error {
		started <- struct{}{}
		<-release
		return nil
	})
	a := notify.NewAsync(blocking, 1, 0, nil)

	require.NoError(t, a.Notify(context.Background(), event("in-flight")))
	<-started
	require.NoError(t, a.Notify(context.Background(), event("queued")))

	err := a.Notify(context.Background(), event("dropped"))
	assert.ErrorIs(t, err, notify.ErrQueueFull)

	close(release)
	require.NoError(t, a.Close(context.Background()))
}
