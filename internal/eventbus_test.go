package internal

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusDeliversPublishedEventToSubscriber(t *testing.T) {
	b := NewEventBus()
	events, unsubscribe := b.Subscribe()
	defer unsubscribe()

	b.Publish(Event{Type: EventSearchStarting, QueryHash: "q1"})

	select {
	case e := <-events:
		assert.Equal(t, EventSearchStarting, e.Type)
		assert.Equal(t, "q1", e.QueryHash)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEventBusFansOutToMultipleSubscribers(t *testing.T) {
	b := NewEventBus()
	e1, unsub1 := b.Subscribe()
	e2, unsub2 := b.Subscribe()
	defer unsub1()
	defer unsub2()

	b.Publish(Event{Type: EventSearchComplete, QueryHash: "q1"})

	for _, ch := range []<-chan Event{e1, e2} {
		select {
		case e := <-ch:
			assert.Equal(t, EventSearchComplete, e.Type)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fan-out event")
		}
	}
}

func TestEventBusUnsubscribeClosesChannel(t *testing.T) {
	b := NewEventBus()
	events, unsubscribe := b.Subscribe()
	unsubscribe()

	_, ok := <-events
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestEventBusUnsubscribeIsIdempotent(t *testing.T) {
	b := NewEventBus()
	_, unsubscribe := b.Subscribe()
	unsubscribe()
	assert.NotPanics(t, func() { unsubscribe() })
}

func TestEventBusPublishAfterUnsubscribeDoesNotPanic(t *testing.T) {
	b := NewEventBus()
	_, unsubscribe := b.Subscribe()
	unsubscribe()
	assert.NotPanics(t, func() {
		b.Publish(Event{Type: EventSearchError, QueryHash: "q1"})
	})
}

func TestEventBusDropOldestDiscardsUnderBackpressureWithoutBlockingPublish(t *testing.T) {
	b := NewEventBus()
	events, unsubscribe := b.Subscribe()
	defer unsubscribe()

	// Flood far past the subscriber's buffer with drop-oldest events
	// and confirm Publish never blocks.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBufferSize*4; i++ {
			b.Publish(Event{Type: EventSearchingPrimary, QueryHash: "flood"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked under backpressure from a drop-oldest subscriber")
	}

	// Drain whatever made it through; none of this should panic or hang.
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-time.After(50 * time.Millisecond):
			return
		}
	}
}

func TestEventBusGuaranteedDeliveryEventualyDeliversUnderBackpressure(t *testing.T) {
	b := NewEventBus()
	events, unsubscribe := b.Subscribe()
	defer unsubscribe()

	// Saturate the subscriber's channel buffer first, forcing the
	// guaranteed-delivery publish onto the goroutine-retry path.
	for i := 0; i < subscriberBufferSize; i++ {
		b.Publish(Event{Type: EventSearchingPrimary, QueryHash: "filler"})
	}

	b.Publish(Event{Type: EventSearchResultsUpdated, QueryHash: "q1", Payload: SearchResultsDelta{QueryHash: "q1", CumulativeCount: 1}})

	var sawResultsUpdate bool
	deadline := time.After(2 * time.Second)
	for !sawResultsUpdate {
		select {
		case e := <-events:
			if e.Type == EventSearchResultsUpdated {
				sawResultsUpdate = true
			}
		case <-deadline:
			t.Fatal("guaranteed-delivery event was never delivered")
		}
	}
}

func TestEventBusUnsubscribeWaitsForInflightGuaranteedSendBeforeClosing(t *testing.T) {
	b := NewEventBus()
	events, unsubscribe := b.Subscribe()

	for i := 0; i < subscriberBufferSize; i++ {
		b.Publish(Event{Type: EventSearchingPrimary, QueryHash: "filler"})
	}
	b.Publish(Event{Type: EventBookCoverUpdated, QueryHash: "q1", Payload: "book-1"})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		unsubscribe()
	}()

	// Drain concurrently with unsubscribe; this must never panic with a
	// send on a closed channel.
	for range events {
	}
	wg.Wait()
}

func TestEventBusConcurrentPublishAndUnsubscribeIsRaceFree(t *testing.T) {
	b := NewEventBus()
	var subs []func()
	var chans []<-chan Event
	for i := 0; i < 8; i++ {
		ch, unsub := b.Subscribe()
		subs = append(subs, unsub)
		chans = append(chans, ch)
	}

	var wg sync.WaitGroup
	for _, ch := range chans {
		wg.Add(1)
		go func(ch <-chan Event) {
			defer wg.Done()
			for range ch {
			}
		}(ch)
	}

	for i := 0; i < 200; i++ {
		typ := EventSearchingPrimary
		if i%5 == 0 {
			typ = EventSearchResultsUpdated
		}
		b.Publish(Event{Type: typ, QueryHash: "q1"})
	}

	for _, unsub := range subs {
		unsub()
	}
	wg.Wait()
}

func TestSearchProgressAndDeltaPayloadsRoundTripThroughEvent(t *testing.T) {
	b := NewEventBus()
	events, unsubscribe := b.Subscribe()
	defer unsubscribe()

	b.Publish(Event{
		Type:      EventSearchRateLimited,
		QueryHash: "q1",
		Payload:   SearchProgress{QueryHash: "q1", Source: "primary", Message: "backing off"},
	})

	e := <-events
	progress, ok := e.Payload.(SearchProgress)
	require.True(t, ok)
	assert.Equal(t, "primary", progress.Source)
	assert.Equal(t, "backing off", progress.Message)
}
