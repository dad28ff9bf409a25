package recall

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent(eventType, key string, seq int) Event {
	return newEvent(eventType, key, time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC), map[string]any{
		"seq": seq,
	})
}

func TestNewEvent(t *testing.T) {
	at := time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)
	ev := newEvent(EventItemCached, "user:42", at, map[string]any{"size": 128})

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, EventItemCached, ev.Type)
	assert.Equal(t, "user:42", ev.Key)
	assert.True(t, ev.At.Equal(at))
	assert.Equal(t, 128, ev.Fields["size"])

	other := newEvent(EventItemCached, "user:42", at, nil)
	assert.NotEqual(t, ev.ID, other.ID, "event IDs must be unique")
}

func TestEventBusPublishSubscribe(t *testing.T) {
	bus := newEventBus()

	ch, cancel := bus.subscribe()
	defer cancel()

	bus.publish(testEvent(EventItemCached, "a", 1))

	select {
	case ev := <-ch:
		assert.Equal(t, EventItemCached, ev.Type)
		assert.Equal(t, "a", ev.Key)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEventBusTypeFilter(t *testing.T) {
	bus := newEventBus()

	ch, cancel := bus.subscribe(EventItemEvicted, EventEvictionCompleted)
	defer cancel()

	bus.publish(testEvent(EventItemCached, "a", 1))
	bus.publish(testEvent(EventItemEvicted, "b", 2))
	bus.publish(testEvent(EventSemanticMatch, "c", 3))
	bus.publish(testEvent(EventEvictionCompleted, "", 4))

	var got []string
	for len(got) < 2 {
		select {
		case ev := <-ch:
			got = append(got, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("timed out, received %v", got)
		}
	}

	assert.Equal(t, []string{EventItemEvicted, EventEvictionCompleted}, got)

	select {
	case ev := <-ch:
		t.Fatalf("unexpected extra event %s", ev.Type)
	default:
	}
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := newEventBus()

	ch1, cancel1 := bus.subscribe()
	defer cancel1()
	ch2, cancel2 := bus.subscribe(EventItemCached)
	defer cancel2()

	bus.publish(testEvent(EventItemCached, "a", 1))

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, "a", ev.Key, "subscriber %d", i)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestEventBusDropsOldestWhenFull(t *testing.T) {
	bus := newEventBus()

	ch, cancel := bus.subscribe()
	defer cancel()

	// Publish two more events than the buffer holds without draining. The
	// two oldest must be dropped, never the newest.
	total := subscriberBuffer + 2
	for i := 0; i < total; i++ {
		bus.publish(testEvent(EventItemCached, "k", i))
	}

	var seqs []int
	for {
		select {
		case ev := <-ch:
			seqs = append(seqs, ev.Fields["seq"].(int))
			continue
		default:
		}
		break
	}

	require.Len(t, seqs, subscriberBuffer)
	assert.Equal(t, 2, seqs[0], "oldest surviving event should be the third published")
	assert.Equal(t, total-1, seqs[len(seqs)-1], "newest event must survive")
}

func TestEventBusCancel(t *testing.T) {
	bus := newEventBus()

	ch, cancel := bus.subscribe()
	cancel()

	_, ok := <-ch
	assert.False(t, ok, "cancelled subscription channel should be closed")

	// Cancel must be idempotent and publishing afterwards must not panic.
	cancel()
	bus.publish(testEvent(EventItemCached, "a", 1))
}

func TestEventBusClose(t *testing.T) {
	bus := newEventBus()

	ch, cancel := bus.subscribe()
	defer cancel()

	bus.close()

	_, ok := <-ch
	assert.False(t, ok, "close should close subscriber channels")

	// Subscribing after close yields a closed channel.
	late, lateCancel := bus.subscribe()
	defer lateCancel()
	_, ok = <-late
	assert.False(t, ok, "subscription after close should be closed")

	// Publishing after close must not panic.
	bus.publish(testEvent(EventItemCached, "a", 1))
}
