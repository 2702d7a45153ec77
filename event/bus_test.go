package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBus() *Bus {
	return NewBus(zap.NewNop().Sugar())
}

func TestBusPublishToSubscribers(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	ch1, unsub1 := bus.Subscribe()
	ch2, unsub2 := bus.Subscribe()
	defer unsub1()
	defer unsub2()

	evt := Event{
		Kind:          KindExecuted,
		TransactionID: 42,
		OwnerID:       "user-1",
		ToolName:      "smart_buy",
		Timestamp:     time.Now(),
	}
	bus.Publish(evt)

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case got := <-ch:
			assert.Equal(t, KindExecuted, got.Kind)
			assert.Equal(t, int64(42), got.TransactionID)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBusPublishNeverBlocks(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	_, unsub := bus.Subscribe()
	defer unsub()

	// Overfill the subscriber buffer; publishes past capacity drop
	// instead of stalling.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			bus.Publish(Event{Kind: KindScheduled, TransactionID: int64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	ch, unsub := bus.Subscribe()
	unsub()
	unsub() // second call is a no-op

	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	bus.Publish(Event{Kind: KindCancelled, TransactionID: 1})
}

func TestBusClose(t *testing.T) {
	bus := newTestBus()

	ch, _ := bus.Subscribe()
	bus.Close()

	_, open := <-ch
	require.False(t, open)

	// Subscribe after close yields a closed channel.
	late, _ := bus.Subscribe()
	_, open = <-late
	assert.False(t, open)

	bus.Publish(Event{Kind: KindExpired}) // no-op, no panic
	bus.Close()                           // idempotent
}
