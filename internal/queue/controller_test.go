package queue

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/waa2l/queue2/internal/auth"
	"github.com/waa2l/queue2/internal/models"
	"github.com/waa2l/queue2/internal/schedule"
	"github.com/waa2l/queue2/internal/store"
	"github.com/waa2l/queue2/internal/store/memory"
)

var (
	adminSession  = auth.Session{Role: auth.RoleAdmin, Actor: "admin"}
	clinicSession = auth.Session{Role: auth.RoleClinic, ClinicID: "c1", Actor: "Dental"}
)

type fixture struct {
	ctrl    *Controller
	backend *memory.Store
	clock   *schedule.FakeClock
}

func newFixture(t *testing.T, clinics ...models.Clinic) fixture {
	t.Helper()
	clock := schedule.NewFakeClock(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))
	backend := memory.New(memory.WithClock(clock.Now))
	for _, clinic := range clinics {
		if _, err := backend.PutClinic(context.Background(), clinic); err != nil {
			t.Fatalf("seed clinic: %v", err)
		}
	}
	ctrl := NewController(backend, backend, backend, Options{Clock: clock, CASRetries: 200})
	return fixture{ctrl: ctrl, backend: backend, clock: clock}
}

func clinicAt(id string, number, current int) models.Clinic {
	return models.Clinic{ClinicID: id, Name: "Clinic " + id, Number: number, CurrentNumber: current, Active: true}
}

func (f fixture) current(t *testing.T, id string) int {
	t.Helper()
	clinic, err := f.backend.GetClinic(context.Background(), id)
	if err != nil {
		t.Fatalf("get clinic: %v", err)
	}
	return clinic.CurrentNumber
}

func (f fixture) events(t *testing.T) []models.Event {
	t.Helper()
	events, err := f.backend.ReadLastN(context.Background(), 1000)
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	return events
}

func TestAdvanceAppendsCall(t *testing.T) {
	f := newFixture(t, clinicAt("c1", 2, 3))
	n, err := f.ctrl.Advance(context.Background(), clinicSession, "c1")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if n != 4 || f.current(t, "c1") != 4 {
		t.Fatalf("advance returned %d, stored %d; want 4", n, f.current(t, "c1"))
	}
	clinic, _ := f.backend.GetClinic(context.Background(), "c1")
	if clinic.LastCall == nil || !clinic.LastCall.Equal(f.clock.Now()) {
		t.Fatalf("last call not stamped: %v", clinic.LastCall)
	}
	events := f.events(t)
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	if call, ok := events[0].Payload.(models.CallSpecific); !ok || call.ClientNumber != 4 || call.ClinicID != "c1" {
		t.Fatalf("unexpected event %+v", events[0].Payload)
	}
	actions, _ := f.backend.RecentActions(context.Background(), "c1", 5)
	if len(actions) != 1 || actions[0].Action != models.ActionAdvance || actions[0].Actor != "Dental" {
		t.Fatalf("unexpected action log %+v", actions)
	}
}

func TestRetreatAtZeroIsNoop(t *testing.T) {
	f := newFixture(t, clinicAt("c1", 1, 0))
	n, err := f.ctrl.Retreat(context.Background(), clinicSession, "c1")
	if err != nil {
		t.Fatalf("retreat: %v", err)
	}
	if n != 0 || f.current(t, "c1") != 0 {
		t.Fatalf("retreat at zero moved counter to %d", n)
	}
	if len(f.events(t)) != 0 {
		t.Fatalf("retreat must not emit events")
	}
}

func TestAdvanceRetreatPairsRestoreState(t *testing.T) {
	f := newFixture(t, clinicAt("c1", 1, 5))
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if _, err := f.ctrl.Advance(ctx, clinicSession, "c1"); err != nil {
			t.Fatalf("advance: %v", err)
		}
		if _, err := f.ctrl.Retreat(ctx, clinicSession, "c1"); err != nil {
			t.Fatalf("retreat: %v", err)
		}
	}
	if got := f.current(t, "c1"); got != 5 {
		t.Fatalf("counter = %d after paired ops, want 5", got)
	}
}

func TestJumpToRejectsNonPositive(t *testing.T) {
	f := newFixture(t, clinicAt("c1", 1, 3))
	for _, target := range []int{0, -5} {
		_, err := f.ctrl.JumpTo(context.Background(), clinicSession, "c1", target)
		if !errors.Is(err, store.ErrInvalidArgument) {
			t.Fatalf("JumpTo(%d): expected ErrInvalidArgument, got %v", target, err)
		}
	}
	if f.current(t, "c1") != 3 || len(f.events(t)) != 0 {
		t.Fatalf("state changed after rejected jumps")
	}

	n, err := f.ctrl.JumpTo(context.Background(), clinicSession, "c1", 42)
	if err != nil || n != 42 {
		t.Fatalf("JumpTo(42)=%d, %v", n, err)
	}
	if call := f.events(t)[0].Payload.(models.CallSpecific); call.ClientNumber != 42 {
		t.Fatalf("unexpected call %+v", call)
	}
}

func TestRepeat(t *testing.T) {
	f := newFixture(t, clinicAt("c1", 1, 0), clinicAt("c2", 2, 9))
	if _, err := f.ctrl.Repeat(context.Background(), clinicSession, "c1"); err != nil {
		t.Fatalf("repeat: %v", err)
	}
	if len(f.events(t)) != 0 {
		t.Fatalf("repeat at zero must not announce")
	}

	before, _ := f.backend.GetClinic(context.Background(), "c2")
	n, err := f.ctrl.Repeat(context.Background(), adminSession, "c2")
	if err != nil || n != 9 {
		t.Fatalf("repeat = %d, %v", n, err)
	}
	after, _ := f.backend.GetClinic(context.Background(), "c2")
	if after.Version != before.Version {
		t.Fatalf("repeat mutated clinic state")
	}
	if call := f.events(t)[0].Payload.(models.CallSpecific); call.ClientNumber != 9 {
		t.Fatalf("unexpected repeat call %+v", call)
	}
}

func TestResetLogsWithoutAnnouncing(t *testing.T) {
	f := newFixture(t, clinicAt("c1", 1, 12))
	if err := f.ctrl.Reset(context.Background(), clinicSession, "c1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if f.current(t, "c1") != 0 {
		t.Fatalf("reset did not zero counter")
	}
	if len(f.events(t)) != 0 {
		t.Fatalf("reset must not announce")
	}
	actions, _ := f.backend.RecentActions(context.Background(), "c1", 5)
	if len(actions) != 1 || actions[0].Action != models.ActionReset {
		t.Fatalf("reset not logged: %+v", actions)
	}
}

func TestSetActiveLeavesCounter(t *testing.T) {
	f := newFixture(t, clinicAt("c1", 1, 7))
	if err := f.ctrl.SetActive(context.Background(), clinicSession, "c1", false); err != nil {
		t.Fatalf("set active: %v", err)
	}
	clinic, _ := f.backend.GetClinic(context.Background(), "c1")
	if clinic.Active || clinic.CurrentNumber != 7 {
		t.Fatalf("unexpected clinic %+v", clinic)
	}
	if len(f.events(t)) != 0 {
		t.Fatalf("status toggle must not announce")
	}
	// inactive clinics can still be advanced
	if n, err := f.ctrl.Advance(context.Background(), clinicSession, "c1"); err != nil || n != 8 {
		t.Fatalf("advance inactive clinic = %d, %v", n, err)
	}
}

func TestCallByName(t *testing.T) {
	f := newFixture(t, clinicAt("c1", 1, 2))
	if err := f.ctrl.CallByName(context.Background(), clinicSession, "c1", "   "); !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if err := f.ctrl.CallByName(context.Background(), clinicSession, "c1", " Ahmed "); err != nil {
		t.Fatalf("call by name: %v", err)
	}
	call, ok := f.events(t)[0].Payload.(models.CallByName)
	if !ok || call.ClientName != "Ahmed" {
		t.Fatalf("unexpected event %+v", f.events(t)[0].Payload)
	}
	if f.current(t, "c1") != 2 {
		t.Fatalf("call by name must not touch the counter")
	}
}

func TestTransferIsLogOnly(t *testing.T) {
	f := newFixture(t, clinicAt("c1", 1, 3), clinicAt("c2", 2, 10))
	ctx := context.Background()

	if err := f.ctrl.Transfer(ctx, clinicSession, "c1", "missing", 7); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := f.ctrl.Transfer(ctx, clinicSession, "c1", "c2", 7); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if f.current(t, "c1") != 3 || f.current(t, "c2") != 10 {
		t.Fatalf("transfer changed counters")
	}
	events := f.events(t)
	if len(events) != 2 {
		t.Fatalf("expected transfer record and alert, got %d events", len(events))
	}
	record, ok := events[0].Payload.(models.TransferIssued)
	if !ok || record.ClientNumber != 7 || record.FromClinicID != "c1" || record.ToClinicID != "c2" {
		t.Fatalf("unexpected transfer record %+v", events[0].Payload)
	}
	alert, ok := events[1].Payload.(models.Alert)
	if !ok || alert.AlertType != models.AlertTransfer || alert.ToClinicID != "c2" || alert.Message == "" {
		t.Fatalf("unexpected transfer alert %+v", events[1].Payload)
	}
}

func TestEmergencyAndDoctorAlert(t *testing.T) {
	f := newFixture(t, clinicAt("c1", 1, 3))
	ctx := context.Background()
	if err := f.ctrl.Emergency(ctx, clinicSession, "c1"); err != nil {
		t.Fatalf("emergency: %v", err)
	}
	if err := f.ctrl.DoctorAlert(ctx, clinicSession, "c1"); err != nil {
		t.Fatalf("doctor alert: %v", err)
	}
	events := f.events(t)
	if _, ok := events[0].Payload.(models.CallEmergency); !ok {
		t.Fatalf("expected emergency call, got %+v", events[0].Payload)
	}
	if alert, ok := events[1].Payload.(models.Alert); !ok || alert.AlertType != models.AlertDoctor || alert.FromClinicID != "c1" {
		t.Fatalf("expected doctor alert, got %+v", events[1].Payload)
	}
	if f.current(t, "c1") != 3 {
		t.Fatalf("alerts must not touch the counter")
	}
}

func TestUnauthorizedSessionsCannotMutate(t *testing.T) {
	f := newFixture(t, clinicAt("c1", 1, 3), clinicAt("c2", 2, 0))
	ctx := context.Background()
	other := auth.Session{Role: auth.RoleClinic, ClinicID: "c2"}
	screen := auth.Session{Role: auth.RoleScreen, ScreenID: "s1"}

	for _, s := range []auth.Session{other, screen, {}} {
		if _, err := f.ctrl.Advance(ctx, s, "c1"); !errors.Is(err, store.ErrUnauthorized) {
			t.Fatalf("session %+v: expected ErrUnauthorized, got %v", s, err)
		}
	}
	if _, err := f.ctrl.ResetAll(ctx, clinicSession); !errors.Is(err, store.ErrUnauthorized) {
		t.Fatalf("clinic session reset all: expected ErrUnauthorized, got %v", err)
	}
	if err := f.ctrl.AdminAlert(ctx, clinicSession, "hi"); !errors.Is(err, store.ErrUnauthorized) {
		t.Fatalf("clinic session admin alert: expected ErrUnauthorized, got %v", err)
	}
	if f.current(t, "c1") != 3 || len(f.events(t)) != 0 {
		t.Fatalf("unauthorized commands mutated state")
	}
}

func TestCounterNeverNegative(t *testing.T) {
	f := newFixture(t, clinicAt("c1", 1, 0))
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 300; i++ {
		var err error
		switch rng.Intn(4) {
		case 0:
			_, err = f.ctrl.Advance(ctx, clinicSession, "c1")
		case 1:
			_, err = f.ctrl.Retreat(ctx, clinicSession, "c1")
		case 2:
			err = f.ctrl.Reset(ctx, clinicSession, "c1")
		case 3:
			_, err = f.ctrl.JumpTo(ctx, clinicSession, "c1", rng.Intn(10)-3)
			if errors.Is(err, store.ErrInvalidArgument) {
				err = nil
			}
		}
		if err != nil {
			t.Fatalf("op %d: %v", i, err)
		}
		if got := f.current(t, "c1"); got < 0 {
			t.Fatalf("counter went negative (%d) after op %d", got, i)
		}
	}
}

func TestConcurrentAdvancesAreNotLost(t *testing.T) {
	f := newFixture(t, clinicAt("c1", 1, 0))
	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.ctrl.Advance(context.Background(), clinicSession, "c1"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("advance failed: %v", err)
	}
	if got := f.current(t, "c1"); got != workers {
		t.Fatalf("counter = %d, want %d", got, workers)
	}
	seen := make(map[int]bool)
	for _, event := range f.events(t) {
		n := event.Payload.(models.CallSpecific).ClientNumber
		if seen[n] {
			t.Fatalf("number %d announced twice", n)
		}
		seen[n] = true
	}
}

type conflictingStore struct {
	store.EntityStore
	clinic models.Clinic
	cas    int
}

func (s *conflictingStore) GetClinic(context.Context, string) (models.Clinic, error) {
	return s.clinic, nil
}

func (s *conflictingStore) CompareAndSwapClinic(context.Context, string, int64, store.ClinicPatch) (models.Clinic, error) {
	s.cas++
	return models.Clinic{}, store.ErrVersionChanged
}

func TestAdvanceGivesUpWithConflict(t *testing.T) {
	entities := &conflictingStore{clinic: clinicAt("c1", 1, 1)}
	backend := memory.New()
	ctrl := NewController(entities, backend, backend, Options{CASRetries: 3})

	_, err := ctrl.Advance(context.Background(), clinicSession, "c1")
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if entities.cas != 3 {
		t.Fatalf("cas attempts = %d, want 3", entities.cas)
	}
	if events, _ := backend.ReadLastN(context.Background(), 10); len(events) != 0 {
		t.Fatalf("no event may be appended when the write fails")
	}
}

type failingLog struct {
	store.EventLog
	err error
}

func (l failingLog) Append(context.Context, models.Event) (int64, error) {
	return 0, l.err
}

func TestFailedAppendLeavesCounterUnchanged(t *testing.T) {
	tests := []struct {
		name string
		run  func(*Controller) (int, error)
	}{
		{"advance", func(c *Controller) (int, error) {
			return c.Advance(context.Background(), clinicSession, "c1")
		}},
		{"jump", func(c *Controller) (int, error) {
			return c.JumpTo(context.Background(), clinicSession, "c1", 9)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, clinicAt("c1", 1, 3))
			broken := NewController(f.backend, failingLog{EventLog: f.backend, err: store.ErrStoreUnavailable}, f.backend, Options{Clock: f.clock})

			if _, err := tt.run(broken); !errors.Is(err, store.ErrStoreUnavailable) {
				t.Fatalf("expected ErrStoreUnavailable, got %v", err)
			}
			if got := f.current(t, "c1"); got != 3 {
				t.Fatalf("counter = %d after failed announce, want 3", got)
			}
			if events := f.events(t); len(events) != 0 {
				t.Fatalf("expected no events, got %d", len(events))
			}

			n, err := tt.run(f.ctrl)
			if err != nil {
				t.Fatalf("retry: %v", err)
			}
			events := f.events(t)
			if len(events) != 1 || events[0].Payload.(models.CallSpecific).ClientNumber != n {
				t.Fatalf("retry announced %+v, want %d", events, n)
			}
		})
	}
}

func TestCallsCommitAtomicallyOnlyOnOneStore(t *testing.T) {
	backend := memory.New()
	if NewController(backend, backend, backend, Options{}).committer == nil {
		t.Fatalf("expected atomic commits when counter and log share a store")
	}
	split := NewController(&conflictingStore{}, backend, backend, Options{})
	if split.committer != nil {
		t.Fatalf("atomic commits must not be used across separate stores")
	}
}

func TestResetAll(t *testing.T) {
	f := newFixture(t, clinicAt("c1", 1, 3), clinicAt("c2", 2, 8))
	n, err := f.ctrl.ResetAll(context.Background(), auth.SystemSession("daily-reset"))
	if err != nil || n != 2 {
		t.Fatalf("reset all = %d, %v", n, err)
	}
	if f.current(t, "c1") != 0 || f.current(t, "c2") != 0 {
		t.Fatalf("counters not reset")
	}
	if len(f.events(t)) != 0 {
		t.Fatalf("bulk reset must not announce")
	}
}

// vanishingStore reports a listed clinic as gone, as if it was deleted
// between the list and the reset.
type vanishingStore struct {
	*memory.Store
	gone   string
	broken string
}

func (s *vanishingStore) GetClinic(ctx context.Context, clinicID string) (models.Clinic, error) {
	switch clinicID {
	case s.gone:
		return models.Clinic{}, store.ErrClinicNotFound
	case s.broken:
		return models.Clinic{}, store.ErrStoreUnavailable
	}
	return s.Store.GetClinic(ctx, clinicID)
}

func TestResetAllSkipsDeletedClinics(t *testing.T) {
	f := newFixture(t, clinicAt("c1", 1, 3), clinicAt("c2", 2, 8), clinicAt("c3", 3, 5))
	ctx := context.Background()

	entities := &vanishingStore{Store: f.backend, gone: "c2"}
	ctrl := NewController(entities, f.backend, f.backend, Options{Clock: f.clock})
	n, err := ctrl.ResetAll(ctx, auth.SystemSession("daily-reset"))
	if err != nil || n != 2 {
		t.Fatalf("reset all = %d, %v; want 2, nil", n, err)
	}
	if f.current(t, "c1") != 0 || f.current(t, "c3") != 0 {
		t.Fatalf("remaining clinics not reset")
	}

	entities.gone, entities.broken = "", "c3"
	if _, err := ctrl.ResetAll(ctx, auth.SystemSession("daily-reset")); !errors.Is(err, store.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable for a store failure, got %v", err)
	}
}

func TestAdminAlerts(t *testing.T) {
	f := newFixture(t, clinicAt("c1", 1, 3))
	ctx := context.Background()
	if err := f.ctrl.TextAlert(ctx, adminSession, "  ", ""); !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if err := f.ctrl.TextAlert(ctx, adminSession, "hello", "admin"); !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("expected unsupported type to fail, got %v", err)
	}
	if err := f.ctrl.TextAlert(ctx, adminSession, "hello", ""); err != nil {
		t.Fatalf("text alert: %v", err)
	}
	if err := f.ctrl.AdminAlert(ctx, adminSession, "staff meeting"); err != nil {
		t.Fatalf("admin alert: %v", err)
	}
	if err := f.ctrl.AdminCall(ctx, adminSession, "c1", 15); err != nil {
		t.Fatalf("admin call: %v", err)
	}
	events := f.events(t)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if a := events[0].Payload.(models.Alert); a.AlertType != models.AlertText {
		t.Fatalf("unexpected alert type %q", a.AlertType)
	}
	if a := events[1].Payload.(models.Alert); a.AlertType != models.AlertAdmin {
		t.Fatalf("unexpected alert type %q", a.AlertType)
	}
	if f.current(t, "c1") != 3 {
		t.Fatalf("admin call must not move the counter")
	}
}

func TestRecentActionsCapped(t *testing.T) {
	f := newFixture(t, clinicAt("c1", 1, 0))
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		if _, err := f.ctrl.Advance(ctx, clinicSession, "c1"); err != nil {
			t.Fatalf("advance: %v", err)
		}
	}
	actions, err := f.ctrl.RecentActions(ctx, clinicSession, "c1")
	if err != nil {
		t.Fatalf("recent actions: %v", err)
	}
	if len(actions) != RecentActionLimit || actions[0].Details != "8" {
		t.Fatalf("unexpected recent actions %+v", actions)
	}
	if _, err := f.ctrl.RecentActions(ctx, auth.Session{Role: auth.RoleClinic, ClinicID: "c9"}, "c1"); !errors.Is(err, store.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestStatsCountsTodaysCalls(t *testing.T) {
	f := newFixture(t, clinicAt("c1", 1, 0), clinicAt("c2", 2, 0))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := f.ctrl.Advance(ctx, clinicSession, "c1"); err != nil {
			t.Fatalf("advance: %v", err)
		}
	}
	if _, err := f.ctrl.Advance(ctx, adminSession, "c2"); err != nil {
		t.Fatalf("advance c2: %v", err)
	}
	stats, err := f.ctrl.Stats(ctx, "c1", time.UTC)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.CallsToday != 3 || stats.CurrentNumber != 3 || stats.Date != "2026-06-01" {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestStatsCountsBusyDays(t *testing.T) {
	f := newFixture(t, clinicAt("c1", 1, 0), clinicAt("c2", 2, 0))
	ctx := context.Background()
	midnight := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	appendCall := func(clinicID string, n int, at time.Time) {
		t.Helper()
		event := models.Event{Timestamp: at, Payload: models.CallSpecific{ClinicID: clinicID, ClientNumber: n}}
		if _, err := f.backend.Append(ctx, event); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	for i := 1; i <= 700; i++ {
		appendCall("c1", i, midnight.Add(-time.Duration(701-i)*time.Second))
	}
	const today = 6200
	for i := 1; i <= today; i++ {
		appendCall("c1", i, midnight.Add(time.Duration(i)*time.Second))
		if i%10 == 0 {
			appendCall("c2", i/10, midnight.Add(time.Duration(i)*time.Second))
		}
	}

	stats, err := f.ctrl.Stats(ctx, "c1", time.UTC)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.CallsToday != today {
		t.Fatalf("calls today = %d, want %d", stats.CallsToday, today)
	}
}

func TestFirstSeqSince(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	if seq, err := f.ctrl.firstSeqSince(ctx, base); err != nil || seq != 1 {
		t.Fatalf("empty log = %d, %v; want 1", seq, err)
	}
	for i := 0; i < 10; i++ {
		event := models.Event{Timestamp: base.Add(time.Duration(i) * time.Hour), Payload: models.CallEmergency{ClinicID: "c1"}}
		if _, err := f.backend.Append(ctx, event); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	tests := []struct {
		since time.Time
		want  int64
	}{
		{base.Add(-time.Hour), 1},
		{base, 1},
		{base.Add(90 * time.Minute), 3},
		{base.Add(9 * time.Hour), 10},
		{base.Add(24 * time.Hour), 11},
	}
	for _, tt := range tests {
		if got, err := f.ctrl.firstSeqSince(ctx, tt.since); err != nil || got != tt.want {
			t.Fatalf("firstSeqSince(%s) = %d, %v; want %d", tt.since, got, err, tt.want)
		}
	}
}
