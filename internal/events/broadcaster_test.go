// ABOUTME: Tests for the Broadcaster fan-out pub/sub system
// ABOUTME: Covers subscribe, publish, unsubscribe, context cancellation, concurrency

package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroadcaster() *Broadcaster[string] {
	return NewBroadcaster[string](nil, "test")
}

func TestBroadcaster_SingleSubscriberReceivesEvent(t *testing.T) {
	b := newTestBroadcaster()
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), "user-1")

	assert.Equal(t, 1, b.Publish("user-1", "signed_in", ""))

	select {
	case received := <-ch:
		assert.Equal(t, "signed_in", received)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBroadcaster_MultipleSubscribersReceiveSameEvent(t *testing.T) {
	b := newTestBroadcaster()
	defer b.Close()

	ctx := t.Context()
	chans := []<-chan string{}
	for range 3 {
		ch, _ := b.Subscribe(ctx, "user-1")
		chans = append(chans, ch)
	}

	b.Publish("user-1", "evt", "")

	for i, ch := range chans {
		select {
		case got := <-ch:
			assert.Equal(t, "evt", got, "subscriber %d", i)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestBroadcaster_KeysAreIsolated(t *testing.T) {
	b := newTestBroadcaster()
	defer b.Close()

	ch1, _ := b.Subscribe(t.Context(), "user-1")
	ch2, _ := b.Subscribe(t.Context(), "user-2")

	b.Publish("user-1", "for-one", "")

	select {
	case got := <-ch1:
		assert.Equal(t, "for-one", got)
	case <-time.After(time.Second):
		t.Fatal("user-1 did not receive its event")
	}

	select {
	case got := <-ch2:
		t.Fatalf("user-2 received %q", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcaster_ExcludeSubIDSkipsOriginator(t *testing.T) {
	b := newTestBroadcaster()
	defer b.Close()

	origin, originID := b.Subscribe(t.Context(), "k")
	other, _ := b.Subscribe(t.Context(), "k")

	assert.Equal(t, 1, b.Publish("k", "evt", originID))

	select {
	case <-other:
	case <-time.After(time.Second):
		t.Fatal("other subscriber did not receive event")
	}
	select {
	case <-origin:
		t.Fatal("originator should have been skipped")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcaster_SlowConsumerDoesNotBlockPublisher(t *testing.T) {
	b := newTestBroadcaster()
	defer b.Close()

	_, _ = b.Subscribe(t.Context(), "k")
	fast, _ := b.Subscribe(t.Context(), "k")

	done := make(chan struct{})
	go func() {
		for range subscriberBufferSize * 2 {
			b.Publish("k", "x", "")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on slow consumer")
	}
	assert.Len(t, fast, subscriberBufferSize)
}

func TestBroadcaster_ContextCancellationCleansUp(t *testing.T) {
	b := newTestBroadcaster()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "k")
	require.Equal(t, 1, b.Count("k"))

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after context cancel")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancel")
	}
	assert.Equal(t, 0, b.Count("k"))
}

func TestBroadcaster_ManualUnsubscribeIsIdempotent(t *testing.T) {
	b := newTestBroadcaster()
	defer b.Close()

	ch, subID := b.Subscribe(t.Context(), "k")
	b.Unsubscribe("k", subID)
	b.Unsubscribe("k", subID)
	b.Unsubscribe("missing", subID)

	_, ok := <-ch
	assert.False(t, ok)
}

func TestBroadcaster_CloseClosesAllSubscriptions(t *testing.T) {
	b := newTestBroadcaster()

	ch1, _ := b.Subscribe(t.Context(), "a")
	ch2, _ := b.Subscribe(t.Context(), "b")
	b.Close()
	b.Close()

	_, ok1 := <-ch1
	_, ok2 := <-ch2
	assert.False(t, ok1)
	assert.False(t, ok2)

	late, _ := b.Subscribe(t.Context(), "a")
	_, ok := <-late
	assert.False(t, ok, "subscribe after close should return a closed channel")
	assert.Equal(t, 0, b.Publish("a", "x", ""))
}

func TestBroadcaster_ConcurrentPublishSubscribe(t *testing.T) {
	b := newTestBroadcaster()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			ch, _ := b.Subscribe(ctx, "k")
			for range ch {
			}
		}()
		go func() {
			defer wg.Done()
			for range 50 {
				b.Publish("k", "x", "")
			}
		}()
	}

	// Close races with in-flight publishers and subscriptions.
	time.Sleep(5 * time.Millisecond)
	b.Close()
	wg.Wait()
}

func TestEmit_StampsTime(t *testing.T) {
	changes := NewChanges()
	defer changes.Close()

	ch, _ := changes.Subscribe(t.Context(), TopicAll)
	Emit(changes, Change{Resource: ResourcePlans, Action: ActionCreated, ID: "p1"})
	Emit(nil, Change{Resource: ResourcePlans})

	select {
	case c := <-ch:
		assert.Equal(t, "p1", c.ID)
		assert.False(t, c.At.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no change received")
	}
}
