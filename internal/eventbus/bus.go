// Package eventbus publishes execution_event notifications (spec.md §6:
// execution_started, execution_completed, node_complete, ...) to in-process
// subscribers, keyed by execution id the way the teacher's
// internal/websocket.Hub keys its broadcast rooms by subscription string —
// adapted here to drop the transport (gorilla/websocket, the HTTP surface
// is out of core scope) and keep only the room-keyed, non-blocking-send,
// drop-and-log-if-full broadcast discipline.
package eventbus

import (
	"log/slog"
	"sync"
	"time"
)

// Event is one execution_event notification.
type Event struct {
	ExecutionID string
	Type        string
	Payload     map[string]any
	At          time.Time
}

// Bus fans out events published for an execution id to every subscriber
// currently listening on that id, satisfying internal/executor.Broadcaster
// via Publish once bound to an execution id with ForExecution.
type Bus struct {
	mu     sync.RWMutex
	rooms  map[string]map[int]chan Event
	nextID int
	logger *slog.Logger
}

func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{rooms: make(map[string]map[int]chan Event), logger: logger}
}

// Subscribe registers a buffered channel for executionID's events. Call the
// returned cancel func to unsubscribe and close the channel.
func (b *Bus) Subscribe(executionID string, buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.rooms[executionID] == nil {
		b.rooms[executionID] = make(map[int]chan Event)
	}
	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	b.rooms[executionID][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if room, ok := b.rooms[executionID]; ok {
			if c, ok := room[id]; ok {
				delete(room, id)
				close(c)
			}
			if len(room) == 0 {
				delete(b.rooms, executionID)
			}
		}
	}
	return ch, cancel
}

// Publish broadcasts an event to every subscriber of executionID,
// non-blocking: when a subscriber's buffer is full the event is dropped
// for that subscriber (which stays subscribed) and logged, rather than
// stalling the publisher (mirrors Hub.broadcastToRoom).
func (b *Bus) Publish(executionID, eventType string, payload map[string]any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	room, ok := b.rooms[executionID]
	if !ok {
		return
	}
	ev := Event{ExecutionID: executionID, Type: eventType, Payload: payload, At: time.Now()}
	for id, ch := range room {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("eventbus: subscriber buffer full, dropping event", "execution_id", executionID, "subscriber", id, "event_type", eventType)
		}
	}
}

// ExecutionBroadcaster adapts a Bus to internal/executor.Broadcaster for
// one fixed execution id — each Executor gets its own, bound at
// construction time by the Orchestrator.
type ExecutionBroadcaster struct {
	bus         *Bus
	executionID string
}

func (b *Bus) ForExecution(executionID string) *ExecutionBroadcaster {
	return &ExecutionBroadcaster{bus: b, executionID: executionID}
}

func (e *ExecutionBroadcaster) Publish(event string, payload map[string]any) {
	e.bus.Publish(e.executionID, event, payload)
}
