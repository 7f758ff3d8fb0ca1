// Package stream implements the in-process workflow progress bus and
// the token-streaming chat pipeline of spec §4.7 and §4.9.
package stream

import "sync"

// StatusEvent is the `status`-typed wire event of spec §6.
type StatusEvent struct {
	Type   string `json:"type"`
	RunID  string `json:"runId"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// StepEvent is the `step`-typed wire event of spec §6.
type StepEvent struct {
	Type       string `json:"type"`
	RunID      string `json:"runId"`
	Stage      string `json:"stage"` // start | complete | error
	NodeID     string `json:"nodeId"`
	NodeType   string `json:"nodeType"`
	DurationMs int64  `json:"durationMs,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Event is either a StatusEvent or a StepEvent; callers type-switch.
type Event struct {
	Status *StatusEvent
	Step   *StepEvent
}

// Subscriber receives events fanned out by the Bus.
type Subscriber func(Event)

// Bus is an in-process publish/subscribe channel keyed by runId, per
// spec §4.9. It caches the most recent status event per runId so late
// subscribers can read a baseline via Latest; step events are not
// cached.
type Bus struct {
	mu          sync.Mutex
	subscribers map[string][]Subscriber
	latestByRun map[string]StatusEvent
	nextID      int
	ids         map[string]map[int]struct{}
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string][]Subscriber),
		latestByRun: make(map[string]StatusEvent),
		ids:         make(map[string]map[int]struct{}),
	}
}

// Subscribe registers cb for events matching runID and returns an
// unsubscribe function.
func (b *Bus) Subscribe(runID string, cb Subscriber) func() {
	b.mu.Lock()
	b.subscribers[runID] = append(b.subscribers[runID], cb)
	idx := len(b.subscribers[runID]) - 1
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[runID]
		if idx < len(subs) {
			subs[idx] = nil
		}
	}
}

// Emit fans out event to all subscribers of its runId, copying the
// subscriber snapshot and sending without holding the mutex across
// sends (per the fan-out design note of spec §9). It also updates the
// cached latest status event.
func (b *Bus) Emit(event Event) {
	runID := runIDOf(event)
	if event.Status != nil {
		b.mu.Lock()
		b.latestByRun[runID] = *event.Status
		b.mu.Unlock()
	}

	b.mu.Lock()
	subs := make([]Subscriber, len(b.subscribers[runID]))
	copy(subs, b.subscribers[runID])
	b.mu.Unlock()

	for _, cb := range subs {
		if cb != nil {
			cb(event)
		}
	}
}

// Latest returns the most recent status event observed for runID, if
// any.
func (b *Bus) Latest(runID string) (StatusEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.latestByRun[runID]
	return e, ok
}

// Clear drops all subscribers and cached statuses. Test-only.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = make(map[string][]Subscriber)
	b.latestByRun = make(map[string]StatusEvent)
}

func runIDOf(e Event) string {
	if e.Status != nil {
		return e.Status.RunID
	}
	if e.Step != nil {
		return e.Step.RunID
	}
	return ""
}
