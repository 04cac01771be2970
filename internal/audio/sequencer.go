// Package audio plays announcement clips strictly one after another.
package audio

import (
	"context"
	"errors"
	"sync"

	"github.com/waa2l/queue2/internal/logging"
	"github.com/waa2l/queue2/internal/metrics"
)

var (
	ErrPreempted = errors.New("audio sequence preempted")
	ErrCanceled  = errors.New("audio sequence canceled")
)

// Player plays a single clip and returns once it has ended, failed, or ctx
// is done.
type Player interface {
	Play(ctx context.Context, clip string) error
}

// Sequencer runs one clip sequence at a time. A new Play pre-empts the
// sequence in flight.
type Sequencer struct {
	player  Player
	catalog *Catalog

	mu     sync.Mutex
	cancel context.CancelCauseFunc
	done   chan struct{}
}

func NewSequencer(player Player, catalog *Catalog) *Sequencer {
	return &Sequencer{player: player, catalog: catalog}
}

// Play blocks until every clip has played or been skipped. Clips missing
// from the catalog are skipped; a failing clip does not stop the sequence.
func (s *Sequencer) Play(ctx context.Context, clips []string) error {
	return <-s.Start(ctx, clips)
}

// Start pre-empts the sequence in flight and plays clips in the background.
// The returned channel receives the sequence result. Sequences started from
// one goroutine never overlap and play in call order.
func (s *Sequencer) Start(ctx context.Context, clips []string) <-chan error {
	ctx, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	prevCancel, prevDone := s.cancel, s.done
	s.cancel, s.done = cancel, done
	s.mu.Unlock()

	if prevCancel != nil {
		prevCancel(ErrPreempted)
	}

	result := make(chan error, 1)
	go func() {
		if prevDone != nil {
			<-prevDone
		}
		err := s.run(ctx, clips)
		cancel(nil)
		s.mu.Lock()
		if s.done == done {
			s.cancel, s.done = nil, nil
		}
		s.mu.Unlock()
		close(done)
		result <- err
	}()
	return result
}

func (s *Sequencer) run(ctx context.Context, clips []string) error {
	for _, clip := range clips {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		if !s.catalog.Has(clip) {
			metrics.AudioClipsTotal.WithLabelValues("skipped").Inc()
			continue
		}
		if err := s.player.Play(ctx, clip); err != nil {
			if ctx.Err() != nil {
				metrics.AudioClipsTotal.WithLabelValues("interrupted").Inc()
				return context.Cause(ctx)
			}
			metrics.AudioClipsTotal.WithLabelValues("failed").Inc()
			logging.Ctx(ctx).Warn().Err(err).Str("clip", clip).Msg("audio clip failed")
			continue
		}
		metrics.AudioClipsTotal.WithLabelValues("played").Inc()
	}
	return nil
}

// Cancel stops the sequence in flight, if any.
func (s *Sequencer) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel(ErrCanceled)
	}
}

// Busy reports whether a sequence is playing.
func (s *Sequencer) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil
}
