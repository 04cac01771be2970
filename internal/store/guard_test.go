package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/waa2l/queue2/internal/models"
)

type fakeBackend struct {
	Backend
	pingErr   error
	pings     int
	getClinic func(id string) (models.Clinic, error)
	commit    func(version int64) (models.Clinic, int64, error)
}

func (f *fakeBackend) CommitCall(_ context.Context, _ string, version int64, _ ClinicPatch, _ models.Event) (models.Clinic, int64, error) {
	return f.commit(version)
}

func (f *fakeBackend) Ping(context.Context) error {
	f.pings++
	return f.pingErr
}

func (f *fakeBackend) GetClinic(_ context.Context, id string) (models.Clinic, error) {
	return f.getClinic(id)
}

func TestGuardOpensAfterFailures(t *testing.T) {
	backend := &fakeBackend{pingErr: errors.New("dial tcp: connection refused")}
	var transitions []bool
	guard := NewGuard(backend, GuardOptions{
		ConsecutiveFailures: 2,
		OpenTimeout:         time.Hour,
		OnConnectivity:      func(connected bool) { transitions = append(transitions, connected) },
	})

	for i := 0; i < 2; i++ {
		if err := guard.Ping(context.Background()); !errors.Is(err, ErrStoreUnavailable) {
			t.Fatalf("ping %d: expected ErrStoreUnavailable, got %v", i, err)
		}
	}
	if guard.State() != gobreaker.StateOpen {
		t.Fatalf("expected breaker open, got %s", guard.State())
	}
	if err := guard.Ping(context.Background()); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected fast failure, got %v", err)
	}
	if backend.pings != 2 {
		t.Fatalf("backend called %d times, want 2", backend.pings)
	}
	if len(transitions) != 1 || transitions[0] {
		t.Fatalf("expected a single disconnect notification, got %v", transitions)
	}
}

func TestGuardIgnoresDomainErrors(t *testing.T) {
	backend := &fakeBackend{getClinic: func(string) (models.Clinic, error) {
		return models.Clinic{}, ErrClinicNotFound
	}}
	guard := NewGuard(backend, GuardOptions{ConsecutiveFailures: 1})

	for i := 0; i < 3; i++ {
		_, err := guard.GetClinic(context.Background(), "missing")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	}
	if guard.State() != gobreaker.StateClosed {
		t.Fatalf("domain errors must not trip the breaker")
	}
}

func TestGuardPassesValues(t *testing.T) {
	backend := &fakeBackend{getClinic: func(id string) (models.Clinic, error) {
		return models.Clinic{ClinicID: id, CurrentNumber: 4}, nil
	}}
	guard := NewGuard(backend, GuardOptions{})
	clinic, err := guard.GetClinic(context.Background(), "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clinic.ClinicID != "c1" || clinic.CurrentNumber != 4 {
		t.Fatalf("unexpected clinic %+v", clinic)
	}
}

func TestGuardCommitCall(t *testing.T) {
	backend := &fakeBackend{commit: func(version int64) (models.Clinic, int64, error) {
		switch version {
		case 1:
			return models.Clinic{ClinicID: "c1", CurrentNumber: 4, Version: 2}, 7, nil
		case 2:
			return models.Clinic{}, 0, ErrVersionChanged
		}
		return models.Clinic{}, 0, errors.New("write tcp: broken pipe")
	}}
	guard := NewGuard(backend, GuardOptions{ConsecutiveFailures: 5})

	clinic, seq, err := guard.CommitCall(context.Background(), "c1", 1, ClinicPatch{}, models.Event{})
	if err != nil || clinic.CurrentNumber != 4 || seq != 7 {
		t.Fatalf("commit = %+v, %d, %v", clinic, seq, err)
	}
	if _, _, err := guard.CommitCall(context.Background(), "c1", 2, ClinicPatch{}, models.Event{}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict to pass through, got %v", err)
	}
	if _, _, err := guard.CommitCall(context.Background(), "c1", 3, ClinicPatch{}, models.Event{}); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
