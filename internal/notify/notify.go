// Package notify fans out "route set changed" events to observers.
package notify

import (
	"sync"

	"github.com/google/uuid"

	"github.com/yeonjoon13/intended-route-monitor/internal/model"
)

// Event says that filtered routes changed. With All set every vessel should
// be re-read; otherwise only MMSI changed.
type Event struct {
	MMSI model.MMSI `json:"mmsi,omitempty"`
	All  bool       `json:"all,omitempty"`
}

// VesselChanged returns the event for a single vessel.
func VesselChanged(mmsi model.MMSI) Event { return Event{MMSI: mmsi} }

// AllChanged returns the event asking observers to re-read everything.
func AllChanged() Event { return Event{All: true} }

// Listener receives events. It is called without any engine lock held and
// must not block for long.
type Listener interface {
	RouteSetChanged(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) RouteSetChanged(e Event) { f(e) }

// Notifier delivers each published event once to every registered
// listener.
type Notifier struct {
	mu        sync.RWMutex
	listeners map[uuid.UUID]Listener
}

func NewNotifier() *Notifier {
	return &Notifier{listeners: make(map[uuid.UUID]Listener)}
}

// AddListener registers l and returns the handle used to remove it.
func (n *Notifier) AddListener(l Listener) uuid.UUID {
	id := uuid.New()
	n.mu.Lock()
	n.listeners[id] = l
	n.mu.Unlock()
	return id
}

// RemoveListener unregisters a listener; it reports whether it was known.
func (n *Notifier) RemoveListener(id uuid.UUID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.listeners[id]
	delete(n.listeners, id)
	return ok
}

// Len returns the number of registered listeners.
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.listeners)
}

// Publish calls every listener registered at the time of the call.
func (n *Notifier) Publish(e Event) {
	n.mu.RLock()
	ls := make([]Listener, 0, len(n.listeners))
	for _, l := range n.listeners {
		ls = append(ls, l)
	}
	n.mu.RUnlock()

	for _, l := range ls {
		l.RouteSetChanged(e)
	}
}

// Subscribe returns a channel carrying every event published from now on,
// and a function that cancels the subscription and closes the channel.
// Events queue up rather than being dropped when the reader falls behind.
func (n *Notifier) Subscribe() (<-chan Event, func()) {
	q := newQueue()
	id := n.AddListener(q)
	var once sync.Once
	return q.out, func() {
		once.Do(func() {
			n.RemoveListener(id)
			q.close()
		})
	}
}

// queue is an unbounded event buffer drained into out by its own goroutine.
type queue struct {
	mu      sync.Mutex
	pending []Event
	wake    chan struct{}
	done    chan struct{}
	out     chan Event
}

func newQueue() *queue {
	q := &queue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		out:  make(chan Event),
	}
	go q.run()
	return q
}

func (q *queue) RouteSetChanged(e Event) {
	q.mu.Lock()
	q.pending = append(q.pending, e)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// close must be called once.
func (q *queue) close() { close(q.done) }

func (q *queue) run() {
	defer close(q.out)
	for {
		select {
		case <-q.wake:
		case <-q.done:
			return
		}

		for {
			q.mu.Lock()
			if len(q.pending) == 0 {
				q.mu.Unlock()
				break
			}
			e := q.pending[0]
			q.pending = q.pending[1:]
			q.mu.Unlock()

			select {
			case q.out <- e:
			case <-q.done:
				return
			}
		}
	}
}
