package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/waa2l/queue2/internal/logging"
	"github.com/waa2l/queue2/internal/metrics"
	"github.com/waa2l/queue2/internal/models"
)

type GuardOptions struct {
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// OnConnectivity is called with false when the breaker opens and true
	// when it closes again.
	OnConnectivity func(connected bool)
}

// Guard wraps a Backend with a circuit breaker. While the breaker is open
// every call fails fast with ErrStoreUnavailable. Domain errors such as
// ErrNotFound do not count as failures.
type Guard struct {
	next Backend
	cb   *gobreaker.CircuitBreaker[any]
}

var _ Backend = (*Guard)(nil)

func NewGuard(next Backend, opts GuardOptions) *Guard {
	if opts.ConsecutiveFailures == 0 {
		opts.ConsecutiveFailures = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 10 * time.Second
	}
	threshold := opts.ConsecutiveFailures
	notify := opts.OnConnectivity

	settings := gobreaker.Settings{
		Name:        "store",
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsDomainError(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("store breaker state changed")
			switch to {
			case gobreaker.StateOpen:
				metrics.SetBreakerOpen(true)
				if notify != nil && from == gobreaker.StateClosed {
					notify(false)
				}
			case gobreaker.StateClosed:
				metrics.SetBreakerOpen(false)
				if notify != nil {
					notify(true)
				}
			}
		},
	}
	return &Guard{next: next, cb: gobreaker.NewCircuitBreaker[any](settings)}
}

func guarded[T any](g *Guard, fn func() (T, error)) (T, error) {
	out, err := g.cb.Execute(func() (any, error) {
		return fn()
	})
	var zero T
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if !IsDomainError(err) && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrStoreUnavailable) {
			return zero, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return zero, err
	}
	value, ok := out.(T)
	if !ok {
		return zero, nil
	}
	return value, nil
}

func guardedErr(g *Guard, fn func() error) error {
	_, err := guarded(g, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func (g *Guard) State() gobreaker.State {
	return g.cb.State()
}

func (g *Guard) Ping(ctx context.Context) error {
	return guardedErr(g, func() error { return g.next.Ping(ctx) })
}

func (g *Guard) Close() {
	g.next.Close()
}

func (g *Guard) GetClinic(ctx context.Context, clinicID string) (models.Clinic, error) {
	return guarded(g, func() (models.Clinic, error) { return g.next.GetClinic(ctx, clinicID) })
}

func (g *Guard) ListClinics(ctx context.Context) ([]models.Clinic, error) {
	return guarded(g, func() ([]models.Clinic, error) { return g.next.ListClinics(ctx) })
}

func (g *Guard) PutClinic(ctx context.Context, clinic models.Clinic) (models.Clinic, error) {
	return guarded(g, func() (models.Clinic, error) { return g.next.PutClinic(ctx, clinic) })
}

func (g *Guard) PatchClinic(ctx context.Context, clinicID string, patch ClinicPatch) (models.Clinic, error) {
	return guarded(g, func() (models.Clinic, error) { return g.next.PatchClinic(ctx, clinicID, patch) })
}

func (g *Guard) CompareAndSwapClinic(ctx context.Context, clinicID string, version int64, patch ClinicPatch) (models.Clinic, error) {
	return guarded(g, func() (models.Clinic, error) {
		return g.next.CompareAndSwapClinic(ctx, clinicID, version, patch)
	})
}

func (g *Guard) DeleteClinic(ctx context.Context, clinicID string) error {
	return guardedErr(g, func() error { return g.next.DeleteClinic(ctx, clinicID) })
}

func (g *Guard) GetScreen(ctx context.Context, screenID string) (models.Screen, error) {
	return guarded(g, func() (models.Screen, error) { return g.next.GetScreen(ctx, screenID) })
}

func (g *Guard) ListScreens(ctx context.Context) ([]models.Screen, error) {
	return guarded(g, func() ([]models.Screen, error) { return g.next.ListScreens(ctx) })
}

func (g *Guard) PutScreen(ctx context.Context, screen models.Screen) (models.Screen, error) {
	return guarded(g, func() (models.Screen, error) { return g.next.PutScreen(ctx, screen) })
}

func (g *Guard) PatchScreen(ctx context.Context, screenID string, patch ScreenPatch) (models.Screen, error) {
	return guarded(g, func() (models.Screen, error) { return g.next.PatchScreen(ctx, screenID, patch) })
}

func (g *Guard) DeleteScreen(ctx context.Context, screenID string) error {
	return guardedErr(g, func() error { return g.next.DeleteScreen(ctx, screenID) })
}

func (g *Guard) GetDoctor(ctx context.Context, doctorID string) (models.Doctor, error) {
	return guarded(g, func() (models.Doctor, error) { return g.next.GetDoctor(ctx, doctorID) })
}

func (g *Guard) ListDoctors(ctx context.Context) ([]models.Doctor, error) {
	return guarded(g, func() ([]models.Doctor, error) { return g.next.ListDoctors(ctx) })
}

func (g *Guard) PutDoctor(ctx context.Context, doctor models.Doctor) (models.Doctor, error) {
	return guarded(g, func() (models.Doctor, error) { return g.next.PutDoctor(ctx, doctor) })
}

func (g *Guard) PatchDoctor(ctx context.Context, doctorID string, patch DoctorPatch) (models.Doctor, error) {
	return guarded(g, func() (models.Doctor, error) { return g.next.PatchDoctor(ctx, doctorID, patch) })
}

func (g *Guard) DeleteDoctor(ctx context.Context, doctorID string) error {
	return guardedErr(g, func() error { return g.next.DeleteDoctor(ctx, doctorID) })
}

func (g *Guard) Subscribe(ctx context.Context, kind Kind, id string) (*Subscription, error) {
	return guarded(g, func() (*Subscription, error) { return g.next.Subscribe(ctx, kind, id) })
}

func (g *Guard) Append(ctx context.Context, event models.Event) (int64, error) {
	return guarded(g, func() (int64, error) { return g.next.Append(ctx, event) })
}

func (g *Guard) CommitCall(ctx context.Context, clinicID string, version int64, patch ClinicPatch, event models.Event) (models.Clinic, int64, error) {
	type committed struct {
		clinic models.Clinic
		seq    int64
	}
	out, err := guarded(g, func() (committed, error) {
		clinic, seq, err := g.next.CommitCall(ctx, clinicID, version, patch, event)
		return committed{clinic, seq}, err
	})
	return out.clinic, out.seq, err
}

func (g *Guard) SubscribeFrom(ctx context.Context, cursor Cursor) (*EventSubscription, error) {
	return guarded(g, func() (*EventSubscription, error) { return g.next.SubscribeFrom(ctx, cursor) })
}

func (g *Guard) ReadLastN(ctx context.Context, n int) ([]models.Event, error) {
	return guarded(g, func() ([]models.Event, error) { return g.next.ReadLastN(ctx, n) })
}

func (g *Guard) ReadAfter(ctx context.Context, seq int64, limit int) ([]models.Event, error) {
	return guarded(g, func() ([]models.Event, error) { return g.next.ReadAfter(ctx, seq, limit) })
}

func (g *Guard) AppendAction(ctx context.Context, entry models.ActionLogEntry) error {
	return guardedErr(g, func() error { return g.next.AppendAction(ctx, entry) })
}

func (g *Guard) RecentActions(ctx context.Context, clinicID string, n int) ([]models.ActionLogEntry, error) {
	return guarded(g, func() ([]models.ActionLogEntry, error) { return g.next.RecentActions(ctx, clinicID, n) })
}
