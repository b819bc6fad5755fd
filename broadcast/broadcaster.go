// Package broadcast implements the multi-subscriber update fan-out: a
// generic in-process broadcaster for cluster/pipeline update messages,
// and an upstream relay flavor that bridges a websocket connection to
// the same fan-out.
package broadcast

import (
	"sync"
)

// PipelineSentinel is the reserved stop marker for pipeline-update
// channels. Broadcaster does not inspect payloads: publishing it is
// delivered like any other message and neither stops the Broadcaster nor
// closes its subscriptions.
const PipelineSentinel = "STOP"

// RelaySentinel tags a Relay shutdown that this process initiated (via
// Close), as opposed to one discovered from an abnormal read error.
const RelaySentinel = "SHUTDOWN"

// Broadcaster is a generic multi-subscriber fan-out queue. Publish never
// blocks on a slow subscriber: each subscriber owns an unbounded,
// condition-variable-guarded outbox rather than a fixed-size channel, so
// a terminal sentinel published once is never silently dropped because a
// subscriber's buffer was full. Subscribers drain their outbox with
// Next, which blocks until a value is available.
type Broadcaster[T any] struct {
	mu          sync.Mutex
	subscribers map[*subscription[T]]struct{}
	closed      bool
}

type subscription[T any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []T
	closed  bool
}

// New creates an empty Broadcaster.
func New[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subscribers: make(map[*subscription[T]]struct{})}
}

// Subscription is the subscriber-side handle returned by Subscribe.
type Subscription[T any] struct {
	b   *Broadcaster[T]
	sub *subscription[T]
}

// Subscribe registers a new subscriber and optionally seeds its outbox
// with an initial replay value (the "immediate snapshot" a pipeline
// subscriber receives on connect), delivered before any subsequently
// published message.
func (b *Broadcaster[T]) Subscribe(initial ...T) *Subscription[T] {
	sub := &subscription[T]{}
	sub.cond = sync.NewCond(&sub.mu)
	sub.queue = append(sub.queue, initial...)

	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()

	return &Subscription[T]{b: b, sub: sub}
}

// Unsubscribe removes the subscriber from the broadcaster. Any values
// already queued for it remain readable via Next until drained.
func (s *Subscription[T]) Unsubscribe() {
	s.b.mu.Lock()
	delete(s.b.subscribers, s.sub)
	s.b.mu.Unlock()

	s.sub.mu.Lock()
	s.sub.closed = true
	s.sub.cond.Broadcast()
	s.sub.mu.Unlock()
}

// Next blocks until a value is available or the subscription has been
// closed and drained, returning ok=false in the latter case.
func (s *Subscription[T]) Next() (T, bool) {
	s.sub.mu.Lock()
	defer s.sub.mu.Unlock()
	for len(s.sub.queue) == 0 && !s.sub.closed {
		s.sub.cond.Wait()
	}
	if len(s.sub.queue) == 0 {
		var zero T
		return zero, false
	}
	v := s.sub.queue[0]
	s.sub.queue = s.sub.queue[1:]
	return v, true
}

// Publish enqueues msg for every currently subscribed subscriber.
func (b *Broadcaster[T]) Publish(msg T) {
	b.mu.Lock()
	subs := make([]*subscription[T], 0, len(b.subscribers))
	for sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.mu.Lock()
		sub.queue = append(sub.queue, msg)
		sub.cond.Broadcast()
		sub.mu.Unlock()
	}
}
