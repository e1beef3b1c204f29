package monitor

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"opdeck/internal/logging"
)

// subscriberQueueSize bounds a subscriber's delivery queue. Two device kinds
// changing state cannot realistically outrun this; a consumer that does is
// dead and loses events rather than blocking publishers.
const subscriberQueueSize = 64

// StatusEvent is the wire shape pushed to streaming clients.
type StatusEvent struct {
	Type        string  `json:"type"`
	Device      string  `json:"device"`
	DeviceName  string  `json:"device_name"`
	Connected   bool    `json:"connected"`
	Path        *string `json:"path"`
	USBDetected bool    `json:"usb_detected"`
	Mode        *string `json:"mode"`
}

// EventTypeDeviceStatus tags status-change events.
const EventTypeDeviceStatus = "device_status"

// Subscriber is one streaming client's delivery queue.
type Subscriber struct {
	id string
	ch chan string
}

// Events returns the queue of pre-serialized JSON payloads. The channel is
// closed on unsubscribe.
func (s *Subscriber) Events() <-chan string {
	return s.ch
}

// Broadcaster fans status events out to subscribers. It holds its own mutex,
// never the registry's, so publish never blocks status reads.
type Broadcaster struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]*Subscriber
}

func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		logger: logging.NewComponentLogger(logger, "broadcaster"),
		subs:   make(map[string]*Subscriber),
	}
}

// Subscribe registers a new subscriber. The snapshot provider, if non-nil,
// is invoked under the broadcaster lock and its events are queued before the
// subscriber is registered, so a status change applied while the subscription
// is being set up lands either in the snapshot or in the queue, never in
// neither. The provider must not call back into the broadcaster.
func (b *Broadcaster) Subscribe(snapshot func() []StatusEvent) *Subscriber {
	sub := &Subscriber{
		id: uuid.NewString(),
		ch: make(chan string, subscriberQueueSize),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if snapshot != nil {
		for _, event := range snapshot() {
			if payload, ok := b.serialize(event); ok {
				sub.ch <- payload
			}
		}
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes the subscriber and closes its queue. Safe to call for
// an already-removed subscriber.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; !ok {
		return
	}
	delete(b.subs, sub.id)
	close(sub.ch)
}

// Publish serializes the event once and delivers it best-effort: a full
// queue drops the event for that subscriber only.
func (b *Broadcaster) Publish(event StatusEvent) {
	payload, ok := b.serialize(event)
	if !ok {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- payload:
		default:
			b.logger.Warn("subscriber queue full, dropping event",
				logging.String("subscriber", sub.id),
				logging.String(logging.FieldEventType, "subscriber_queue_full"),
				logging.String(logging.FieldImpact, "client missed a status event"))
		}
	}
}

// SubscriberCount reports the current number of subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcaster) serialize(event StatusEvent) (string, bool) {
	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("failed to serialize event",
			logging.Error(err),
			logging.String(logging.FieldDevice, event.Device))
		return "", false
	}
	return string(data), true
}
