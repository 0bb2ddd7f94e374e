// Package observe fans values out to subscribers. Value holds a current
// value and replays it to late subscribers; Stream carries one-off events
// and replays nothing. Both deliver every value, in order, to every
// subscriber.
package observe

import (
	"context"
	"sync"
)

// Value is safe for concurrent use. A subscriber registered late receives
// the current value immediately, then every value set after it.
type Value[T any] struct {
	hub hub[T]
	cur T
	set bool
}

func NewValue[T any]() *Value[T] {
	return &Value[T]{hub: newHub[T]()}
}

// Get returns the current value and whether one has been set.
func (v *Value[T]) Get() (T, bool) {
	v.hub.mu.Lock()
	defer v.hub.mu.Unlock()
	return v.cur, v.set
}

// Set stores val and queues it for every subscriber.
func (v *Value[T]) Set(val T) {
	v.hub.mu.Lock()
	defer v.hub.mu.Unlock()
	if v.hub.closed {
		return
	}
	v.cur = val
	v.set = true
	v.hub.publishLocked(val)
}

// Subscribe returns a channel that receives the current value (if any) and
// every later one. The channel is closed when ctx is done, or once the
// Value is closed and everything queued has been delivered.
func (v *Value[T]) Subscribe(ctx context.Context) <-chan T {
	v.hub.mu.Lock()
	defer v.hub.mu.Unlock()
	s := v.hub.subscribeLocked(ctx)
	if v.set && s != nil {
		s.push(v.cur)
	}
	return v.hub.out(s)
}

// Subscribers reports how many channels are attached.
func (v *Value[T]) Subscribers() int { return v.hub.count() }

// Close ends every subscription. Later Sets are ignored.
func (v *Value[T]) Close() { v.hub.close() }

// Stream is a fan-out of one-off events. Subscribers only see events
// published after they subscribed.
type Stream[T any] struct {
	hub hub[T]
}

func NewStream[T any]() *Stream[T] {
	return &Stream[T]{hub: newHub[T]()}
}

// Publish queues val for every current subscriber.
func (s *Stream[T]) Publish(val T) {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if s.hub.closed {
		return
	}
	s.hub.publishLocked(val)
}

// Subscribe returns a channel of every event published from now on.
func (s *Stream[T]) Subscribe(ctx context.Context) <-chan T {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.hub.out(s.hub.subscribeLocked(ctx))
}

func (s *Stream[T]) Subscribers() int { return s.hub.count() }

func (s *Stream[T]) Close() { s.hub.close() }

type hub[T any] struct {
	mu     *sync.Mutex
	subs   map[*subscriber[T]]struct{}
	closed bool
}

func newHub[T any]() hub[T] {
	return hub[T]{mu: &sync.Mutex{}, subs: make(map[*subscriber[T]]struct{})}
}

// subscribeLocked returns nil once the hub is closed.
func (h *hub[T]) subscribeLocked(ctx context.Context) *subscriber[T] {
	if h.closed {
		return nil
	}
	s := newSubscriber[T]()
	h.subs[s] = struct{}{}
	go func() {
		s.run(ctx)
		h.remove(s)
	}()
	return s
}

func (h *hub[T]) out(s *subscriber[T]) <-chan T {
	if s == nil {
		ch := make(chan T)
		close(ch)
		return ch
	}
	return s.out
}

func (h *hub[T]) publishLocked(val T) {
	for s := range h.subs {
		s.push(val)
	}
}

func (h *hub[T]) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *hub[T]) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		s.finish()
	}
}

func (h *hub[T]) remove(s *subscriber[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, s)
}

// subscriber owns an unbounded queue drained into out by its own goroutine,
// so a slow consumer delays only itself and never loses a value.
type subscriber[T any] struct {
	out  chan T
	wake chan struct{}

	mu       sync.Mutex
	queue    []T
	finished bool
}

func newSubscriber[T any]() *subscriber[T] {
	return &subscriber[T]{
		out:  make(chan T),
		wake: make(chan struct{}, 1),
	}
}

func (s *subscriber[T]) push(val T) {
	s.mu.Lock()
	s.queue = append(s.queue, val)
	s.mu.Unlock()
	s.signal()
}

// finish lets the subscriber drain what is queued, then close out.
func (s *subscriber[T]) finish() {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
	s.signal()
}

func (s *subscriber[T]) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber[T]) run(ctx context.Context) {
	defer close(s.out)
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		finished := s.finished
		s.mu.Unlock()

		for _, val := range batch {
			select {
			case s.out <- val:
			case <-ctx.Done():
				return
			}
		}
		if len(batch) > 0 {
			continue
		}
		if finished {
			return
		}

		select {
		case <-s.wake:
		case <-ctx.Done():
			return
		}
	}
}
