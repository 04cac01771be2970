package store

import (
	"sync"

	"github.com/waa2l/queue2/internal/models"
)

// Cursor positions an event subscription. Events with Seq > Cursor are
// delivered; FromNow starts after the last appended event.
type Cursor int64

const FromNow Cursor = -1

func After(seq int64) Cursor {
	if seq < 0 {
		seq = 0
	}
	return Cursor(seq)
}

// Stream is a cancellable subscription. C is closed after Cancel or when the
// producer fails; Err reports the failure, if any.
type Stream[T any] struct {
	C <-chan T

	stop     func()
	stopOnce sync.Once

	mu  sync.Mutex
	err error
}

type (
	Subscription      = Stream[Change]
	EventSubscription = Stream[models.Event]
)

func NewStream[T any](c <-chan T, stop func()) *Stream[T] {
	return &Stream[T]{C: c, stop: stop}
}

func (s *Stream[T]) Cancel() {
	s.stopOnce.Do(func() {
		if s.stop != nil {
			s.stop()
		}
	})
}

// Fail records the error that ended the stream. Producers call it before
// closing C.
func (s *Stream[T]) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *Stream[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
