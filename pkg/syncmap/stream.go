package syncmap

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// StreamState is the lifecycle state of a Stream.
type StreamState int

// Stream states.
const (
	StreamLoading StreamState = iota
	StreamReady
	StreamFailed
	StreamEnded
)

func (s StreamState) String() string {
	switch s {
	case StreamLoading:
		return "loading"
	case StreamReady:
		return "ready"
	case StreamFailed:
		return "failed"
	case StreamEnded:
		return "ended"
	default:
		return fmt.Sprintf("StreamState(%d)", int(s))
	}
}

// Subscription is one consumer's attachment to a stream.
type Subscription struct {
	active      atomic.Bool
	unsubscribe func()
}

// Unsubscribe detaches the consumer. Detaching the last consumer ends the
// stream. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.unsubscribe == nil {
		return
	}
	s.unsubscribe()
}

// Active reports whether the subscription still receives values.
func (s *Subscription) Active() bool {
	return s != nil && s.active.Load()
}

type subscriber[T any] struct {
	sub *Subscription
	cb  func(T, error)
}

// Stream is a multicast channel that replays its last value or error to new
// subscribers. Deliveries happen in emission order; callbacks must not
// subscribe to the same stream synchronously.
type Stream[T any] struct {
	// deliver serializes deliveries, including replays to new subscribers.
	deliver sync.Mutex

	mu    sync.Mutex
	state StreamState
	value T
	err   error
	subs  []subscriber[T]
	onEnd []func()
}

func newStream[T any]() *Stream[T] {
	return &Stream[T]{}
}

// State returns the current state.
func (s *Stream[T]) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribers returns the number of attached consumers.
func (s *Stream[T]) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// subscribe attaches cb and replays the last value or error. Reports false
// if the stream has already ended.
func (s *Stream[T]) subscribe(cb func(T, error)) (*Subscription, bool) {
	s.deliver.Lock()
	defer s.deliver.Unlock()

	s.mu.Lock()
	if s.state == StreamEnded {
		s.mu.Unlock()
		return nil, false
	}
	sub := &Subscription{}
	sub.active.Store(true)
	sub.unsubscribe = func() { s.detach(sub) }
	s.subs = append(s.subs, subscriber[T]{sub: sub, cb: cb})
	state, value, err := s.state, s.value, s.err
	s.mu.Unlock()

	switch state {
	case StreamReady:
		cb(value, nil)
	case StreamFailed:
		var zero T
		cb(zero, err)
	}
	return sub, true
}

func (s *Stream[T]) detach(sub *Subscription) {
	s.mu.Lock()
	if !sub.active.CompareAndSwap(true, false) {
		s.mu.Unlock()
		return
	}
	for i, sb := range s.subs {
		if sb.sub == sub {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			break
		}
	}
	last := len(s.subs) == 0
	s.mu.Unlock()

	if last {
		s.End()
	}
}

// emit moves the stream to Ready and delivers v to every subscriber.
func (s *Stream[T]) emit(v T) {
	s.publish(StreamReady, v, nil)
}

// fail moves the stream to Failed and delivers err to every subscriber.
func (s *Stream[T]) fail(err error) {
	var zero T
	s.publish(StreamFailed, zero, err)
}

func (s *Stream[T]) publish(state StreamState, v T, err error) {
	s.deliver.Lock()
	defer s.deliver.Unlock()

	s.mu.Lock()
	if s.state == StreamEnded {
		s.mu.Unlock()
		return
	}
	s.state, s.value, s.err = state, v, err
	subs := make([]subscriber[T], len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	// End clears every active flag, so a delivery interrupted by End stops
	// at the next subscriber.
	for _, sb := range subs {
		if !sb.sub.active.Load() {
			continue
		}
		sb.cb(v, err)
	}
}

// whenEnded registers fn to run when the stream ends, or runs it now if it
// already has.
func (s *Stream[T]) whenEnded(fn func()) {
	s.mu.Lock()
	if s.state == StreamEnded {
		s.mu.Unlock()
		fn()
		return
	}
	s.onEnd = append(s.onEnd, fn)
	s.mu.Unlock()
}

// End detaches every subscriber and releases the stream's store listener.
// No callback starts after End returns; a callback already running when End
// is called, such as the one calling End, runs to completion. Safe to call
// more than once.
func (s *Stream[T]) End() {
	s.mu.Lock()
	if s.state == StreamEnded {
		s.mu.Unlock()
		return
	}
	s.state = StreamEnded
	for _, sb := range s.subs {
		sb.sub.active.Store(false)
	}
	s.subs = nil
	fns := s.onEnd
	s.onEnd = nil
	var zero T
	s.value, s.err = zero, nil
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (s *Stream[T]) ended() bool {
	return s.State() == StreamEnded
}
