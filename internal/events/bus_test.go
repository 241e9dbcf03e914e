package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriberReceivesOwnCategoryOnly(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(4, OrderFilled)
	defer sub.Close()

	bus.Publish(New(OrderRejected))
	bus.Publish(New(OrderFilled))

	select {
	case ev := <-sub.C:
		assert.Equal(t, OrderFilled, ev.Category)
	case <-time.After(time.Second):
		t.Fatal("expected an event")
	}
	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected extra event %s", ev.Category)
	default:
	}
}

func TestPublishNeverBlocksAndCountsDrops(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(1, BrokerDown)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(New(BrokerDown))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Equal(t, uint64(9), bus.Dropped())
}

func TestCloseDetachesSubscriber(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(4, OrderFilled)
	sub.Close()
	sub.Close() // idempotent

	bus.Publish(New(OrderFilled))
	assert.Equal(t, uint64(0), bus.Dropped())

	_, open := <-sub.C
	require.False(t, open)
}

// A subscriber closing while publishers are mid-flight must never panic with
// a send on a closed channel.
func TestConcurrentPublishAndClose(t *testing.T) {
	for i := 0; i < 100; i++ {
		bus := NewBus()
		sub := bus.Subscribe(1, OrderFilled)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				bus.Publish(New(OrderFilled))
			}
		}()
		go func() {
			defer wg.Done()
			sub.Close()
		}()
		wg.Wait()
	}
}
