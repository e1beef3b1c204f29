package monitor

import (
	"encoding/json"
	"testing"
	"time"

	"opdeck/internal/logging"
)

func drain(t *testing.T, sub *Subscriber, n int) []StatusEvent {
	t.Helper()
	events := make([]StatusEvent, 0, n)
	for len(events) < n {
		select {
		case payload, ok := <-sub.Events():
			if !ok {
				t.Fatalf("queue closed after %d of %d events", len(events), n)
			}
			var event StatusEvent
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				t.Fatalf("bad payload %q: %v", payload, err)
			}
			events = append(events, event)
		default:
			t.Fatalf("queue empty after %d of %d events", len(events), n)
		}
	}
	return events
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := NewBroadcaster(logging.NewNop())
	first := b.Subscribe(nil)
	second := b.Subscribe(nil)
	t.Cleanup(func() {
		b.Unsubscribe(first)
		b.Unsubscribe(second)
	})

	b.Publish(StatusEvent{Type: EventTypeDeviceStatus, Device: "opz", Connected: true})

	for _, sub := range []*Subscriber{first, second} {
		events := drain(t, sub, 1)
		if events[0].Device != "opz" || !events[0].Connected {
			t.Fatalf("unexpected event %+v", events[0])
		}
	}
}

func TestSubscribeSnapshotPrecedesIncrementals(t *testing.T) {
	b := NewBroadcaster(logging.NewNop())
	sub := b.Subscribe(func() []StatusEvent {
		return []StatusEvent{
			{Type: EventTypeDeviceStatus, Device: "opz"},
			{Type: EventTypeDeviceStatus, Device: "op1"},
		}
	})
	t.Cleanup(func() { b.Unsubscribe(sub) })

	b.Publish(StatusEvent{Type: EventTypeDeviceStatus, Device: "opz", Connected: true})

	events := drain(t, sub, 3)
	if events[0].Device != "opz" || events[0].Connected {
		t.Fatalf("first event must be the opz snapshot, got %+v", events[0])
	}
	if events[1].Device != "op1" {
		t.Fatalf("second event must be the op1 snapshot, got %+v", events[1])
	}
	if !events[2].Connected {
		t.Fatalf("incremental must follow snapshots, got %+v", events[2])
	}
}

// A status change published while a subscription is being set up must reach
// the new subscriber: either inside the snapshot or as the first incremental,
// never dropped. The provider blocks mid-snapshot while another goroutine
// publishes, forcing the worst-case interleaving.
func TestSubscribeDoesNotLoseConcurrentPublish(t *testing.T) {
	b := NewBroadcaster(logging.NewNop())

	inSnapshot := make(chan struct{})
	release := make(chan struct{})
	published := make(chan struct{})

	go func() {
		<-inSnapshot
		go func() {
			b.Publish(StatusEvent{Type: EventTypeDeviceStatus, Device: "opz", Connected: true})
			close(published)
		}()
		// Let the publish reach the broadcaster lock before the snapshot
		// completes.
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	sub := b.Subscribe(func() []StatusEvent {
		close(inSnapshot)
		<-release
		return []StatusEvent{{Type: EventTypeDeviceStatus, Device: "opz"}}
	})
	t.Cleanup(func() { b.Unsubscribe(sub) })
	<-published

	events := drain(t, sub, 2)
	if events[0].Connected {
		t.Fatalf("snapshot must precede the racing publish, got %+v", events[0])
	}
	if !events[1].Connected {
		t.Fatalf("status change published during subscription was lost, got %+v", events[1])
	}
}

func TestUnsubscribeClosesQueueOnce(t *testing.T) {
	b := NewBroadcaster(logging.NewNop())
	sub := b.Subscribe(nil)

	b.Unsubscribe(sub)
	b.Unsubscribe(sub)
	b.Unsubscribe(nil)

	if _, ok := <-sub.Events(); ok {
		t.Fatal("queue must be closed after unsubscribe")
	}
	if b.SubscriberCount() != 0 {
		t.Fatal("subscriber must be removed")
	}
}

func TestPublishSurvivesFullQueue(t *testing.T) {
	b := NewBroadcaster(logging.NewNop())
	stalled := b.Subscribe(nil)
	healthy := b.Subscribe(nil)
	t.Cleanup(func() {
		b.Unsubscribe(stalled)
		b.Unsubscribe(healthy)
	})

	// Overfill both queues; publish must neither block nor panic, and each
	// subscriber keeps the events that fit.
	for i := 0; i < subscriberQueueSize+5; i++ {
		b.Publish(StatusEvent{Type: EventTypeDeviceStatus, Device: "opz"})
	}

	for _, sub := range []*Subscriber{stalled, healthy} {
		count := 0
		for {
			select {
			case <-sub.Events():
				count++
				continue
			default:
			}
			break
		}
		if count != subscriberQueueSize {
			t.Fatalf("subscriber got %d events, want %d", count, subscriberQueueSize)
		}
	}
}

func TestStatusEventWireShape(t *testing.T) {
	path := "/Volumes/OP-Z"
	mode := "storage"
	data, err := json.Marshal(StatusEvent{
		Type:        EventTypeDeviceStatus,
		Device:      "opz",
		DeviceName:  "OP-Z",
		Connected:   true,
		Path:        &path,
		USBDetected: true,
		Mode:        &mode,
	})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"type":"device_status","device":"opz","device_name":"OP-Z","connected":true,"path":"/Volumes/OP-Z","usb_detected":true,"mode":"storage"}`
	if string(data) != want {
		t.Fatalf("wire shape mismatch:\n got %s\nwant %s", data, want)
	}

	data, err = json.Marshal(StatusEvent{Type: EventTypeDeviceStatus, Device: "opz", DeviceName: "OP-Z"})
	if err != nil {
		t.Fatal(err)
	}
	want = `{"type":"device_status","device":"opz","device_name":"OP-Z","connected":false,"path":null,"usb_detected":false,"mode":null}`
	if string(data) != want {
		t.Fatalf("null fields mismatch:\n got %s\nwant %s", data, want)
	}
}
