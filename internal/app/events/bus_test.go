package events

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/R3E-Network/settlement_engine/internal/app/domain/market"
	"github.com/R3E-Network/settlement_engine/pkg/logger"
)

func testLogger() *logger.Logger {
	log := logger.NewDefault("events-test")
	log.SetOutput(io.Discard)
	return log
}

func TestPublishReachesSubscribers(t *testing.T) {
	bus := NewBus(4, testLogger())
	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(market.Event{Type: market.EventListingCreated, Collection: "0xc1", ListingID: 1})

	select {
	case e := <-ch:
		if e.Type != market.EventListingCreated || e.Collection != "0xc1" {
			t.Fatalf("event = %+v", e)
		}
		if e.At.IsZero() {
			t.Fatal("Publish must stamp the event time")
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSlowSubscriberDropsNotBlocks(t *testing.T) {
	bus := NewBus(1, testLogger())
	ch, cancel := bus.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		bus.Publish(market.Event{Type: market.EventListingCreated})
		bus.Publish(market.Event{Type: market.EventListingSold})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	// The buffered first event is still readable.
	e := <-ch
	if e.Type != market.EventListingCreated {
		t.Fatalf("got %s", e.Type)
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	bus := NewBus(4, testLogger())
	ch, cancel := bus.Subscribe()
	cancel()
	cancel() // second cancel is a no-op

	if _, open := <-ch; open {
		t.Fatal("channel should be closed after cancel")
	}
	bus.Publish(market.Event{Type: market.EventListingSold})
}

type recordingSink struct {
	events []market.Event
}

func (s *recordingSink) Deliver(e market.Event) error {
	s.events = append(s.events, e)
	return nil
}

func TestSinksReceiveEvents(t *testing.T) {
	bus := NewBus(4, testLogger())
	sink := &recordingSink{}
	bus.AddSink(sink)

	bus.Publish(market.Event{Type: market.EventBidSold, Bidder: "bob"})
	if len(sink.events) != 1 || sink.events[0].Bidder != "bob" {
		t.Fatalf("sink events = %+v", sink.events)
	}
}

func TestWSHandlerStreamsEvents(t *testing.T) {
	bus := NewBus(4, testLogger())
	srv := httptest.NewServer(NewWSHandler(bus, testLogger()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the server a moment to register the subscription.
	time.Sleep(50 * time.Millisecond)
	bus.Publish(market.Event{Type: market.EventListingSold, Collection: "0xc1", Buyer: "bob"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got market.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != market.EventListingSold || got.Buyer != "bob" {
		t.Fatalf("event = %+v", got)
	}
}
