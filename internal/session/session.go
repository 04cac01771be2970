// Package session holds the per-connection state of display and control
// sessions. A session owns its subscriptions, router, timers and audio
// sequencer, and releases all of them when it is hidden or closed.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/waa2l/queue2/internal/logging"
	"github.com/waa2l/queue2/internal/models"
	"github.com/waa2l/queue2/internal/notify"
	"github.com/waa2l/queue2/internal/schedule"
	"github.com/waa2l/queue2/internal/store"
)

const defaultRetryDelay = 2 * time.Second

var ErrClosed = errors.New("session closed")

// ClinicCard is the rendered state of one clinic.
type ClinicCard struct {
	ClinicID      string     `json:"clinic_id"`
	Name          string     `json:"name"`
	Number        int        `json:"number"`
	CurrentNumber int        `json:"current_number"`
	CurrentText   string     `json:"current_text"`
	Active        bool       `json:"active"`
	LastCall      *time.Time `json:"last_call,omitempty"`
}

func cardOf(c models.Clinic) ClinicCard {
	return ClinicCard{
		ClinicID:      c.ClinicID,
		Name:          c.Name,
		Number:        c.Number,
		CurrentNumber: c.CurrentNumber,
		CurrentText:   notify.ArabicDigits(c.CurrentNumber),
		Active:        c.Active,
		LastCall:      c.LastCall,
	}
}

// clinicSnapshot is the session's local copy of clinic state, kept current
// from the entity store subscription.
type clinicSnapshot struct {
	mu      sync.RWMutex
	clinics map[string]models.Clinic
}

func newClinicSnapshot() *clinicSnapshot {
	return &clinicSnapshot{clinics: make(map[string]models.Clinic)}
}

func (s *clinicSnapshot) Clinic(clinicID string) (models.Clinic, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clinics[clinicID]
	return c, ok
}

func (s *clinicSnapshot) apply(change store.Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if change.Deleted || change.Clinic == nil {
		delete(s.clinics, change.ID)
		return
	}
	s.clinics[change.ID] = *change.Clinic
}

// onScreen returns the clinics bound to screenID sorted by number. An empty
// screenID selects every clinic.
func (s *clinicSnapshot) onScreen(screenID string) []models.Clinic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Clinic, 0, len(s.clinics))
	for _, c := range s.clinics {
		if screenID == "" || c.ScreenID == screenID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Number != out[j].Number {
			return out[i].Number < out[j].Number
		}
		return out[i].ClinicID < out[j].ClinicID
	})
	return out
}

// feeds are the streams of one subscription epoch. Nil streams are never
// selected.
type feeds struct {
	clinics *store.Subscription
	doctors *store.Subscription
	events  *store.EventSubscription
}

func (f *feeds) cancel() {
	for _, sub := range []*store.Subscription{f.clinics, f.doctors} {
		if sub != nil {
			sub.Cancel()
		}
	}
	if f.events != nil {
		f.events.Cancel()
	}
}

func changesOf(sub *store.Subscription) <-chan store.Change {
	if sub == nil {
		return nil
	}
	return sub.C
}

type handler interface {
	subscribe(ctx context.Context, cursor store.Cursor) (*feeds, error)
	onChange(ctx context.Context, change store.Change)
	onEvent(ctx context.Context, event models.Event)
}

type epoch struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// base carries the lifecycle shared by display and control sessions: one
// subscription epoch at a time, released on hide and resubscribed on show.
type base struct {
	id        string
	kind      notify.SessionKind
	clock     schedule.Clock
	retry     time.Duration
	presenter *notify.Presenter
	router    *notify.Router
	handler   handler

	mu      sync.Mutex
	ctx     context.Context
	stop    context.CancelFunc
	current *epoch
	visible bool
	closed  bool
}

func newBase(kind notify.SessionKind, clock schedule.Clock, retry time.Duration) base {
	if clock == nil {
		clock = schedule.RealClock{}
	}
	if retry <= 0 {
		retry = defaultRetryDelay
	}
	return base{id: uuid.NewString(), kind: kind, clock: clock, retry: retry}
}

func (b *base) ID() string { return b.id }

// Seen returns the highest event sequence the session has consumed.
func (b *base) Seen() int64 { return b.router.Seen() }

func (b *base) start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.ctx != nil {
		return nil
	}
	b.ctx, b.stop = context.WithCancel(logging.ContextWithSessionID(context.WithoutCancel(ctx), b.id))
	b.visible = true
	return b.subscribeLocked(store.FromNow)
}

// restart releases the current epoch and subscribes again from now when the
// session is visible.
func (b *base) restart() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.ctx == nil {
		return nil
	}
	b.releaseLocked()
	if !b.visible {
		return nil
	}
	return b.subscribeLocked(store.FromNow)
}

func (b *base) setVisible(visible bool) (changed bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false, ErrClosed
	}
	if b.visible == visible {
		return false, nil
	}
	b.visible = visible
	if b.ctx == nil {
		return true, nil
	}
	if !visible {
		b.releaseLocked()
		return true, nil
	}
	return true, b.subscribeLocked(store.FromNow)
}

func (b *base) close() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.closed = true
	b.releaseLocked()
	if b.stop != nil {
		b.stop()
	}
	b.presenter.Stop()
	return true
}

func (b *base) subscribeLocked(cursor store.Cursor) error {
	ctx, cancel := context.WithCancel(b.ctx)
	f, err := b.handler.subscribe(ctx, cursor)
	if err != nil {
		cancel()
		return err
	}
	e := &epoch{cancel: cancel, done: make(chan struct{})}
	b.current = e
	go b.run(ctx, f, e.done)
	return nil
}

func (b *base) releaseLocked() {
	if b.current == nil {
		return
	}
	b.current.cancel()
	<-b.current.done
	b.current = nil
}

// run pumps one epoch. When a stream fails it resubscribes after the retry
// delay, resuming after the last event it consumed.
func (b *base) run(ctx context.Context, f *feeds, done chan struct{}) {
	defer close(done)
	log := logging.Ctx(ctx)
	for {
		err := b.pump(ctx, f)
		f.cancel()
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Str("session", string(b.kind)).Msg("session stream ended, resubscribing")
		for {
			if schedule.Sleep(ctx, b.clock, b.retry) != nil {
				return
			}
			f, err = b.handler.subscribe(ctx, resumeCursor(b.router.Seen()))
			if err == nil {
				break
			}
			log.Warn().Err(err).Str("session", string(b.kind)).Msg("resubscribe failed")
		}
	}
}

func (b *base) pump(ctx context.Context, f *feeds) error {
	clinics, doctors := changesOf(f.clinics), changesOf(f.doctors)
	for {
		select {
		case <-ctx.Done():
			return nil
		case change, ok := <-clinics:
			if !ok {
				return streamErr(f.clinics.Err())
			}
			b.handler.onChange(ctx, change)
		case change, ok := <-doctors:
			if !ok {
				return streamErr(f.doctors.Err())
			}
			b.handler.onChange(ctx, change)
		case event, ok := <-f.events.C:
			if !ok {
				return streamErr(f.events.Err())
			}
			b.handler.onEvent(ctx, event)
		}
	}
}

func streamErr(err error) error {
	if err == nil {
		return store.ErrStoreUnavailable
	}
	return err
}

func resumeCursor(seen int64) store.Cursor {
	if seen <= 0 {
		return store.FromNow
	}
	return store.After(seen)
}

// Notify shows a session-wide banner such as a connectivity change.
func (b *base) Notify(banner notify.Banner) {
	b.presenter.ShowBanner(banner)
}
