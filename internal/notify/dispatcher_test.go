package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_PublishDelivers(t *testing.T) {
	d := NewDispatcher(nil)
	d.Start()
	defer d.Stop()

	received := make(chan Event, 1)
	d.Subscribe(NotifyOverrideActivated, func(event Event) {
		select {
		case received <- event:
		default:
		}
	})

	d.Publish(Event{
		Type:       NotifyOverrideActivated,
		Subject:    "alice",
		Actor:      "dr-smith",
		Recipients: []string{"family-admin"},
		Message:    "emergency override activated",
	})

	select {
	case event := <-received:
		assert.Equal(t, "alice", event.Subject)
		assert.False(t, event.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestDispatcher_PublishSyncDeliversBeforeReturn(t *testing.T) {
	d := NewDispatcher(nil)

	var mu sync.Mutex
	var got []string
	d.Subscribe(NotifyDelegationRevoked, func(event Event) {
		mu.Lock()
		got = append(got, event.Subject)
		mu.Unlock()
	})

	d.PublishSync(Event{Type: NotifyDelegationRevoked, Subject: "bob"})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "bob", got[0])
}

func TestDispatcher_FullQueueDropsWithoutBlocking(t *testing.T) {
	d := NewDispatcher(nil)
	// Not started: the queue only fills

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			d.Publish(Event{Type: NotifyDelegationCreated, Subject: "alice"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full queue")
	}
}

func TestDispatcher_StopDrainsQueue(t *testing.T) {
	d := NewDispatcher(nil)

	var mu sync.Mutex
	count := 0
	d.Subscribe(NotifyDelegationApproved, func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	for i := 0; i < 5; i++ {
		d.Publish(Event{Type: NotifyDelegationApproved, Subject: "alice"})
	}

	d.Start()
	d.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 5, count)
}

func TestDispatcher_LoggingSubscriberAlwaysPresent(t *testing.T) {
	d := NewDispatcher(nil)
	assert.Equal(t, 1, d.SubscriberCount(NotifyOverrideActivated))
}
