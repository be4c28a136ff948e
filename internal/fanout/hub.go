package fanout

import (
	"fmt"
	"sync"

	"codeberg.org/mutker/flightctl/internal/logger"
	"github.com/google/uuid"
)

// Event names on the wire.
const (
	EventTelemetry     = "telemetry-update"
	EventFlight        = "flight-event"
	EventFlightStarted = "flight_started"
	EventFlightStopped = "flight_stopped"
	EventFlightDeleted = "flight_deleted"
	EventJoinedRoom    = "joined-flight-room"
	EventLeftRoom      = "left-flight-room"
	EventSubscribed    = "subscribed"
)

const defaultBuffer = 64

// Publisher delivers live updates. Publish is scoped to the room of one
// flight; Broadcast reaches every subscriber regardless of rooms.
type Publisher interface {
	Publish(flightID int64, event string, data any)
	Broadcast(event string, data any)
}

// Message is one delivered update.
type Message struct {
	Event string `json:"event"`
	Room  string `json:"room,omitempty"`
	Data  any    `json:"data"`
}

// RoomAck acknowledges a join or leave to the subscriber that asked.
type RoomAck struct {
	FlightID int64 `json:"flightId"`
}

// Subscribed tells a stream client the id it uses to join and leave rooms.
type Subscribed struct {
	SubscriberID uuid.UUID `json:"subscriberId"`
}

// Room returns the room name for a flight.
func Room(flightID int64) string {
	return fmt.Sprintf("flight-%d", flightID)
}

// Subscription receives messages on C until it is unsubscribed.
type Subscription struct {
	ID uuid.UUID
	C  <-chan Message

	ch      chan Message
	rooms   map[string]struct{}
	dropped int
}

// Hub is an in-process room-scoped publish/subscribe fan-out.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID]*Subscription
	buffer int
	logger logger.Logger
}

// NewHub creates a hub whose subscribers queue up to buffer messages.
// Messages for a full subscriber are dropped.
func NewHub(buffer int, log logger.Logger) *Hub {
	if buffer < 1 {
		buffer = defaultBuffer
	}

	return &Hub{
		subs:   make(map[uuid.UUID]*Subscription),
		buffer: buffer,
		logger: log,
	}
}

func (h *Hub) Subscribe() *Subscription {
	ch := make(chan Message, h.buffer)
	sub := &Subscription{
		ID:    uuid.New(),
		C:     ch,
		ch:    ch,
		rooms: make(map[string]struct{}),
	}

	h.mu.Lock()
	h.subs[sub.ID] = sub
	h.mu.Unlock()

	h.logger.Debug().Str("subscriber", sub.ID.String()).Msg("Subscriber connected")

	return sub
}

// Lookup returns the connected subscription with the given id.
func (h *Hub) Lookup(id uuid.UUID) (*Subscription, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sub, ok := h.subs[id]
	return sub, ok
}

// Unsubscribe removes the subscription and closes its channel. It is safe
// to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub.ID]; !ok {
		return
	}
	delete(h.subs, sub.ID)
	close(sub.ch)

	h.logger.Debug().
		Str("subscriber", sub.ID.String()).
		Int("dropped", sub.dropped).
		Msg("Subscriber disconnected")
}

// Join adds the subscriber to the room of flightID.
func (h *Hub) Join(sub *Subscription, flightID int64) {
	room := Room(flightID)

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub.ID]; !ok {
		return
	}
	sub.rooms[room] = struct{}{}
	h.deliver(sub, Message{Event: EventJoinedRoom, Room: room, Data: RoomAck{FlightID: flightID}})

	h.logger.Debug().Str("subscriber", sub.ID.String()).Str("room", room).Msg("Joined room")
}

// Leave removes the subscriber from the room of flightID.
func (h *Hub) Leave(sub *Subscription, flightID int64) {
	room := Room(flightID)

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub.ID]; !ok {
		return
	}
	delete(sub.rooms, room)
	h.deliver(sub, Message{Event: EventLeftRoom, Room: room, Data: RoomAck{FlightID: flightID}})

	h.logger.Debug().Str("subscriber", sub.ID.String()).Str("room", room).Msg("Left room")
}

func (h *Hub) Publish(flightID int64, event string, data any) {
	room := Room(flightID)
	msg := Message{Event: event, Room: room, Data: data}

	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for _, sub := range h.subs {
		if _, ok := sub.rooms[room]; ok {
			h.deliver(sub, msg)
			n++
		}
	}

	h.logger.Debug().Str("room", room).Str("event", event).Int("subscribers", n).Msg("Published")
}

func (h *Hub) Broadcast(event string, data any) {
	msg := Message{Event: event, Data: data}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs {
		h.deliver(sub, msg)
	}

	h.logger.Debug().Str("event", event).Int("subscribers", len(h.subs)).Msg("Broadcast")
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.subs)
}

// deliver must be called with h.mu held.
func (h *Hub) deliver(sub *Subscription, msg Message) {
	select {
	case sub.ch <- msg:
	default:
		sub.dropped++
		h.logger.Warn().
			Str("subscriber", sub.ID.String()).
			Str("event", msg.Event).
			Msg("Subscriber queue full, dropping message")
	}
}
