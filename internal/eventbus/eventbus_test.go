package eventbus

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestPublishSubscribeDelivery(t *testing.T) {
	bus := New(0)
	sub := bus.Subscribe(Filter{}, 0, DropOldest)
	defer sub.Close()

	scanID := uuid.New()
	bus.Publish(Event{ScanID: scanID, Kind: KindScanStarted, Payload: "go"})

	select {
	case e := <-sub.Events():
		if e.ScanID != scanID || e.Kind != KindScanStarted {
			t.Fatalf("unexpected event: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribeFilterByScanID(t *testing.T) {
	bus := New(0)
	wanted := uuid.New()
	other := uuid.New()
	sub := bus.Subscribe(Filter{ScanID: wanted}, 4, DropOldest)
	defer sub.Close()

	bus.Publish(Event{ScanID: other, Kind: KindProgress})
	bus.Publish(Event{ScanID: wanted, Kind: KindProgress})

	select {
	case e := <-sub.Events():
		if e.ScanID != wanted {
			t.Fatalf("filtered subscriber received event for wrong scan: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for filtered event")
	}

	select {
	case e := <-sub.Events():
		t.Fatalf("unexpected second event delivered: %+v", e)
	default:
	}
}

func TestSubscribeFilterByKindSet(t *testing.T) {
	bus := New(0)
	sub := bus.Subscribe(Filter{Kinds: map[Kind]bool{KindPortStateChanged: true}}, 4, DropOldest)
	defer sub.Close()

	bus.Publish(Event{Kind: KindDiagnostic})
	bus.Publish(Event{Kind: KindPortStateChanged})

	select {
	case e := <-sub.Events():
		if e.Kind != KindPortStateChanged {
			t.Fatalf("unexpected kind delivered: %v", e.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestDropOldestOverflowKeepsQueueBounded(t *testing.T) {
	bus := New(0)
	sub := bus.Subscribe(Filter{}, 2, DropOldest)
	defer sub.Close()

	for i := 0; i < 10; i++ {
		bus.Publish(Event{Kind: KindProgress})
	}

	count := 0
	for {
		select {
		case <-sub.Events():
			count++
		default:
			if count > 3 {
				t.Fatalf("expected a bounded queue, drained %d events", count)
			}
			return
		}
	}
}

func TestHistoryRingBufferCapsAndOrders(t *testing.T) {
	bus := New(3)
	for i := 0; i < 5; i++ {
		bus.Publish(Event{Kind: KindProgress})
	}
	hist := bus.History(Filter{}, 0)
	if len(hist) != 3 {
		t.Fatalf("expected ring buffer capped at 3, got %d", len(hist))
	}
	for i := 1; i < len(hist); i++ {
		if hist[i].Timestamp.Before(hist[i-1].Timestamp) {
			t.Fatal("history must be in publish order")
		}
	}
}

func TestHistoryFilterByScanID(t *testing.T) {
	bus := New(0)
	scanA := uuid.New()
	scanB := uuid.New()
	bus.Publish(Event{ScanID: scanA, Kind: KindScanStarted})
	bus.Publish(Event{ScanID: scanB, Kind: KindScanStarted})

	hist := bus.History(Filter{ScanID: scanA}, 0)
	if len(hist) != 1 || hist[0].ScanID != scanA {
		t.Fatalf("expected one event for scanA, got %+v", hist)
	}
}

func TestReplayRespectsTimeWindowAndEarlyStop(t *testing.T) {
	bus := New(0)
	bus.Publish(Event{Kind: KindScanStarted})
	bus.Publish(Event{Kind: KindProgress})
	bus.Publish(Event{Kind: KindScanCompleted})

	var seen []Kind
	bus.Replay(time.Time{}, time.Now().Add(time.Hour), func(e Event) bool {
		seen = append(seen, e.Kind)
		return len(seen) < 2
	})
	if len(seen) != 2 {
		t.Fatalf("expected replay to stop early after 2 events, got %d", len(seen))
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New(0)
	sub := bus.Subscribe(Filter{}, 1, DropOldest)
	sub.Close()

	_, ok := <-sub.Events()
	if ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
}
