package stream

import (
	"sync"
	"time"

	"github.com/vectorsuite/orchestrator/internal/model"
)

// EventKind is the closed set of broadcast event kinds.
type EventKind string

const (
	EventNewResult         EventKind = "new_result"
	EventProgressUpdate    EventKind = "progress_update"
	EventHighlightedResult EventKind = "highlighted_result"
	EventAttackCompleted   EventKind = "attack_completed"
	EventAttackError       EventKind = "attack_error"
)

// BroadcastCapacity bounds the lossy fan-out channel per subscriber.
const BroadcastCapacity = 10_000

// Event is one broadcast message. Exactly one of the payload fields is
// populated depending on Kind.
type Event struct {
	Kind     EventKind
	AttackID string
	Result   *model.Result
	Progress *model.AttackProgress
	Summary  *model.AttackProgress
	Err      error
	At       time.Time
}

// Broadcaster is a lossy fan-out: each subscriber has its own bounded
// channel; a subscriber that falls behind loses its oldest events and never
// blocks the producer.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[int]chan Event
	nextID      int
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber and returns its id and receive-only
// channel. Unsubscribe must be called when the subscriber is done.
func (b *Broadcaster) Subscribe() (int, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, BroadcastCapacity)
	b.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber's channel.
func (b *Broadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
	}
}

// Publish fans event out to every subscriber. A subscriber whose channel is
// full drops its oldest queued event to make room; the producer never
// blocks.
func (b *Broadcaster) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- event:
			default:
			}
		}
	}
}

// SubscriberCount reports the number of active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// RecomputeProgress folds counter deltas into prev and rederives the rate
// and completion estimate. Deltas are non-negative, which keeps Completed
// monotonic non-decreasing across successive calls for the same attack.
func RecomputeProgress(prev model.AttackProgress, completedDelta, successfulDelta, failedDelta, highlightedDelta int, elapsed time.Duration) model.AttackProgress {
	out := prev.Clone()
	out.Completed += completedDelta
	out.Successful += successfulDelta
	out.Failed += failedDelta
	out.Highlighted += highlightedDelta

	if elapsed > 0 {
		out.RequestsPerSecond = float64(out.Completed) / elapsed.Seconds()
	}
	if out.Total > out.Completed && out.RequestsPerSecond > 0 {
		remaining := float64(out.Total - out.Completed)
		eta := time.Now().Add(time.Duration(remaining/out.RequestsPerSecond) * time.Second)
		out.EstimatedEndAt = &eta
	}
	return out
}
