// Package events fans out run events to the front-ends watching a run.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jamesainslie/meshgen/pkg/meshgen/types"
)

// Type is the kind of a run event.
type Type int

const (
	EventStarted Type = iota
	EventLine
	EventStage
	EventProgress
	EventArtifact
	EventFinished
)

func (t Type) String() string {
	switch t {
	case EventStarted:
		return "started"
	case EventLine:
		return "line"
	case EventStage:
		return "stage"
	case EventProgress:
		return "progress"
	case EventArtifact:
		return "artifact"
	case EventFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Event describes something that happened during a run. Which fields are
// set depends on Type.
type Event struct {
	Type  Type
	RunID string
	Time  time.Time

	// Index and Total locate the run within a batch (1-based).
	Index int
	Total int

	Input    string
	Line     string
	Stage    string
	Percent  float64
	Artifact string
	Size     int64

	Outcome  types.Outcome
	ExitCode int
	Duration time.Duration
	Err      string
	Hint     string
}

// Subscriber receives events on a buffered channel.
type Subscriber struct {
	ID     string
	Events chan *Event

	types map[Type]bool
}

// DefaultBufferSize is the channel capacity of a subscriber.
const DefaultBufferSize = 256

// Broadcaster distributes events to subscribers. When a subscriber's
// buffer is full, line and progress events are dropped and other events
// wait up to a second for room.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	closed      bool
	dropped     atomic.Int64
}

// New creates a Broadcaster.
func New() *Broadcaster {
	return &Broadcaster{subscribers: make(map[string]*Subscriber)}
}

// Subscribe registers a subscriber for the given event types, or for all
// types when none are given. It returns nil after Close.
func (b *Broadcaster) Subscribe(types ...Type) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	sub := &Subscriber{
		ID:     uuid.New().String(),
		Events: make(chan *Event, DefaultBufferSize),
	}
	if len(types) > 0 {
		sub.types = make(map[Type]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}
	b.subscribers[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		close(sub.Events)
		delete(b.subscribers, id)
	}
}

// Publish delivers e to every matching subscriber. A zero Time is set to now.
func (b *Broadcaster) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subscribers {
		if sub.types != nil && !sub.types[e.Type] {
			continue
		}
		ev := e
		if lossy(e.Type) {
			select {
			case sub.Events <- &ev:
			default:
				b.dropped.Add(1)
			}
			continue
		}
		select {
		case sub.Events <- &ev:
		case <-time.After(time.Second):
			// A stalled subscriber must not wedge the run.
			b.dropped.Add(1)
		}
	}
}

func lossy(t Type) bool {
	return t == EventLine || t == EventProgress
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}

// SubscriberCount returns the number of active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes every subscription. Later publishes are ignored.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subscribers {
		close(sub.Events)
	}
	b.subscribers = make(map[string]*Subscriber)
}
