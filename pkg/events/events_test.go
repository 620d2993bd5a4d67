package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(New(EventTaskClaimed, "task claimed",
		"task_uid", "t-1", "worker_uid", "w-1"))

	select {
	case event := <-sub:
		assert.Equal(t, EventTaskClaimed, event.Type)
		assert.Equal(t, "t-1", event.Metadata["task_uid"])
		assert.Equal(t, "w-1", event.Metadata["worker_uid"])
		assert.False(t, event.Timestamp.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestMultipleSubscribers(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub1 := broker.Subscribe()
	sub2 := broker.Subscribe()
	require.Equal(t, 2, broker.SubscriberCount())

	broker.Publish(New(EventGridActivated, "grid activated", "grid_uid", "g-1"))

	for _, sub := range []Subscriber{sub1, sub2} {
		select {
		case event := <-sub:
			assert.Equal(t, EventGridActivated, event.Type)
		case <-time.After(2 * time.Second):
			t.Fatal("event not delivered to all subscribers")
		}
	}

	broker.Unsubscribe(sub1)
	broker.Unsubscribe(sub2)
	assert.Equal(t, 0, broker.SubscriberCount())
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	// Never drained; its buffer fills and further events are dropped
	_ = broker.Subscribe()

	for i := 0; i < 200; i++ {
		broker.Publish(New(EventTaskCompleted, "done"))
	}
	// Reaching here without deadlock is the assertion
}

func TestNewOddMetadata(t *testing.T) {
	event := New(EventWorkerDown, "stale heartbeat", "worker_uid", "w-1", "dangling")
	assert.Equal(t, map[string]string{"worker_uid": "w-1"}, event.Metadata)
}
