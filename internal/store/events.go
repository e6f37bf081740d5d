package store

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jonboulle/clockwork"

	"highwayhub/voice/internal/types"
)

const EventTruncated = "events_truncated"

// EventLog keeps the most recent events per room. Logs of rooms nobody
// touched for ttl, or beyond the rooms most recently written, are dropped.
type EventLog struct {
	mu     sync.Mutex
	max    int
	clock  clockwork.Clock
	events *expirable.LRU[string, []types.Event]
}

// NewEventLog keeps up to max events for each of up to rooms rooms. A zero
// ttl keeps logs until they are evicted by size.
func NewEventLog(max, rooms int, ttl time.Duration, clock clockwork.Clock) *EventLog {
	if max < 2 {
		max = 2
	}
	if rooms < 1 {
		rooms = 1
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &EventLog{
		max:    max,
		clock:  clock,
		events: expirable.NewLRU[string, []types.Event](rooms, nil, ttl),
	}
}

func (l *EventLog) Append(roomID, typ string, payload map[string]any) types.Event {
	evt := types.Event{Type: typ, Ts: l.clock.Now().UTC(), Payload: payload}
	l.mu.Lock()
	defer l.mu.Unlock()
	prev, _ := l.events.Get(roomID)
	list := append(append([]types.Event(nil), prev...), evt)
	if n := len(list); n > l.max {
		// One slot goes to the truncation marker so the total stays at max.
		keep := l.max - 1
		dropped := n - keep
		kept := append([]types.Event(nil), list[n-keep:]...)
		warn := types.Event{
			Type:    EventTruncated,
			Ts:      evt.Ts,
			Payload: map[string]any{"room_id": roomID, "dropped": dropped, "kept": keep},
		}
		list = append(kept, warn)
	}
	l.events.Add(roomID, list)
	return evt
}

func (l *EventLog) List(roomID string) []types.Event {
	src, _ := l.events.Peek(roomID)
	out := make([]types.Event, len(src))
	copy(out, src)
	return out
}

// Rooms reports how many room logs are held.
func (l *EventLog) Rooms() int {
	return l.events.Len()
}
