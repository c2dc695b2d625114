package broadcast

import (
	"sync"
)

// Stream is the consumer side of a broadcast channel.
type Stream[T any] interface {
	// Subscribe attaches a new, independent observer.
	Subscribe() *Subscription[T]
}

// Subject delivers each published value to every attached subscription.
// Values published while nobody is subscribed are dropped.
type Subject[T any] struct {
	mu     sync.Mutex
	subs   map[*Subscription[T]]struct{}
	closed bool
}

// NewSubject creates an empty fan-out channel.
func NewSubject[T any]() *Subject[T] {
	return &Subject[T]{
		subs: make(map[*Subscription[T]]struct{}),
	}
}

// Publish delivers v to all current subscribers. No-op after Close.
func (s *Subject[T]) Publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishLocked(v)
}

// Subscribe attaches an observer that sees values published from now on.
// After Close the returned subscription's channel is already closed.
func (s *Subject[T]) Subscribe() *Subscription[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attachLocked(nil)
}

// Len returns the number of attached subscriptions.
func (s *Subject[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Close detaches every subscription once its queued values are delivered.
func (s *Subject[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for sub := range s.subs {
		sub.queue.close()
		delete(s.subs, sub)
	}
}

func (s *Subject[T]) publishLocked(v T) {
	if s.closed {
		return
	}
	for sub := range s.subs {
		sub.queue.push(v)
	}
}

// attachLocked creates a subscription, optionally seeded with a first value.
func (s *Subject[T]) attachLocked(first *T) *Subscription[T] {
	sub := newSubscription[T](s.detach)
	if first != nil {
		sub.queue.push(*first)
	}
	if s.closed {
		sub.queue.close()
		return sub
	}
	s.subs[sub] = struct{}{}
	return sub
}

func (s *Subject[T]) detach(sub *Subscription[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sub)
}

// Replay is a Subject that remembers the last published value and delivers
// it to every new subscriber ahead of any later value.
type Replay[T any] struct {
	Subject[T]
	last T
}

// NewReplay creates a replay channel holding initial as its current value.
func NewReplay[T any](initial T) *Replay[T] {
	return &Replay[T]{
		Subject: Subject[T]{subs: make(map[*Subscription[T]]struct{})},
		last:    initial,
	}
}

// Publish records v as the current value and delivers it. No-op after Close.
func (r *Replay[T]) Publish(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.last = v
	r.publishLocked(v)
}

// Subscribe attaches an observer that first receives the current value.
func (r *Replay[T]) Subscribe() *Subscription[T] {
	r.mu.Lock()
	defer r.mu.Unlock()

	last := r.last
	return r.attachLocked(&last)
}

// Current returns the last published value.
func (r *Replay[T]) Current() T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Subscription is one observer's live view of a broadcast channel.
type Subscription[T any] struct {
	queue  *queue[T]
	ch     chan T
	done   chan struct{}
	once   sync.Once
	detach func(*Subscription[T])
}

func newSubscription[T any](detach func(*Subscription[T])) *Subscription[T] {
	sub := &Subscription[T]{
		queue:  newQueue[T](),
		ch:     make(chan T),
		done:   make(chan struct{}),
		detach: detach,
	}
	go sub.pump()
	return sub
}

// C returns the channel values are delivered on, in publish order.
// It is closed after Unsubscribe or after the channel itself is closed.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Pending returns the number of values queued but not yet received.
func (s *Subscription[T]) Pending() int {
	return s.queue.len()
}

// Drain detaches the observer but keeps C open until the values already
// queued for it have been received. Later publishes are not delivered.
func (s *Subscription[T]) Drain() {
	s.detach(s)
	s.queue.close()
}

// Unsubscribe detaches the observer and closes C. Safe to call more than once.
func (s *Subscription[T]) Unsubscribe() {
	s.once.Do(func() {
		s.detach(s)
		close(s.done)
		s.queue.close()
	})
}

// pump moves values from the queue to the consumer channel.
func (s *Subscription[T]) pump() {
	defer close(s.ch)

	for {
		v, ok := s.queue.pop()
		if !ok {
			return
		}
		select {
		case s.ch <- v:
		case <-s.done:
			return
		}
	}
}
