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

	broker.Publish(&Event{
		Type:    EventVersionActivated,
		Domain:  "a.example.com/27",
		Version: 3,
	})

	select {
	case ev := <-sub:
		assert.Equal(t, EventVersionActivated, ev.Type)
		assert.Equal(t, "a.example.com/27", ev.Domain)
		assert.Equal(t, int64(3), ev.Version)
		assert.NotEmpty(t, ev.ID, "publish assigns an id")
		assert.False(t, ev.Timestamp.IsZero(), "publish assigns a timestamp")
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestMultipleSubscribers(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	a := broker.Subscribe()
	b := broker.Subscribe()
	require.Equal(t, 2, broker.SubscriberCount())

	broker.Publish(&Event{Type: EventReloadRequested})

	for _, sub := range []Subscriber{a, b} {
		select {
		case ev := <-sub:
			assert.Equal(t, EventReloadRequested, ev.Type)
		case <-time.After(2 * time.Second):
			t.Fatal("event not delivered to all subscribers")
		}
	}

	broker.Unsubscribe(a)
	broker.Unsubscribe(b)
	assert.Equal(t, 0, broker.SubscriberCount())
}

func TestFullSubscriberDoesNotBlockPublisher(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	// Never drained; its buffer fills and later events are dropped for it.
	_ = broker.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			broker.Publish(&Event{Type: EventVersionFinished, Version: int64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher blocked on a full subscriber")
	}
}
