// Package events fans plotter notifications out to interested consumers.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/phoenix-pocx/phoenixd/pkg/plotter"
)

// Kind names an event type on the stream.
type Kind string

const (
	KindCompletion Kind = "completion"
	KindProgress   Kind = "progress"
	KindFinished   Kind = "finished"
	KindControl    Kind = "control"
)

// Control actions carried by KindControl events.
const (
	ActionStopSoft  = "stop.soft"
	ActionStopHard  = "stop.hard"
	ActionStopClear = "stop.clear"
	ActionPlanSet   = "plan.set"
	ActionPlanClear = "plan.clear"
)

// Event is a message delivered to subscribers.
type Event struct {
	Kind Kind      `json:"kind"`
	Time time.Time `json:"time"`

	Completion *plotter.Notification `json:"completion,omitempty"`
	State      *plotter.State        `json:"state,omitempty"`
	Finish     *FinishEvent          `json:"finish,omitempty"`

	// Action is set on control events, e.g. "stop.soft".
	Action string `json:"action,omitempty"`
}

// FinishEvent reports the end of an auto-advanced run.
type FinishEvent struct {
	Outcome string `json:"outcome"`
	Index   int    `json:"index"`
	Error   string `json:"error,omitempty"`
}

// Hub delivers notifications to sinks and streams events to subscribers.
//
// Sinks are called synchronously in registration order. Subscribers receive
// events on buffered channels; a subscriber that falls behind loses events
// rather than blocking the publisher.
type Hub struct {
	mu     sync.RWMutex
	sinks  []plotter.Sink
	subs   map[int]chan Event
	nextID int
	buffer int
	now    func() time.Time

	dropped atomic.Uint64
}

// NewHub creates a hub whose subscriber channels hold buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{subs: make(map[int]chan Event), buffer: buffer, now: time.Now}
}

// AddSink registers s to receive every notification.
func (h *Hub) AddSink(s plotter.Sink) {
	if s == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks = append(h.sinks, s)
}

// Notify implements plotter.Sink.
func (h *Hub) Notify(n plotter.Notification) {
	h.mu.RLock()
	sinks := append([]plotter.Sink(nil), h.sinks...)
	h.mu.RUnlock()

	// Stream first so subscribers see the completion before any follow-up
	// dispatch a sink may trigger.
	h.Publish(Event{Kind: KindCompletion, Completion: &n})
	for _, s := range sinks {
		s.Notify(n)
	}
}

// PublishFinish streams the end of a run.
func (h *Hub) PublishFinish(f plotter.Finish) {
	ev := &FinishEvent{Outcome: string(f.Outcome), Index: f.Index}
	if f.Err != nil {
		ev.Error = f.Err.Error()
	}
	h.Publish(Event{Kind: KindFinished, Finish: ev})
}

// PublishControl streams a control-plane action such as ActionStopSoft.
func (h *Hub) PublishControl(action string) {
	h.Publish(Event{Kind: KindControl, Action: action})
}

// Publish delivers ev to every subscriber without blocking.
func (h *Hub) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = h.now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel of events and a function that cancels the
// subscription and closes the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Event, h.buffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns the number of events lost to slow subscribers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
