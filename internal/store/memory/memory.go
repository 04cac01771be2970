// Package memory is an in-process Backend. It keeps every entity, event and
// action in maps guarded by one lock and wakes subscribers by closing a
// broadcast channel on each write.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/waa2l/queue2/internal/models"
	"github.com/waa2l/queue2/internal/store"
)

type entityKey struct {
	kind store.Kind
	id   string
}

type Store struct {
	mu        sync.RWMutex
	clinics   map[string]models.Clinic
	screens   map[string]models.Screen
	doctors   map[string]models.Doctor
	revisions map[entityKey]uint64
	revision  uint64
	events    []models.Event
	actions   map[string][]models.ActionLogEntry
	changed   chan struct{}
	closed    bool
	now       func() time.Time
}

var _ store.Backend = (*Store)(nil)

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		clinics:   make(map[string]models.Clinic),
		screens:   make(map[string]models.Screen),
		doctors:   make(map[string]models.Doctor),
		revisions: make(map[entityKey]uint64),
		actions:   make(map[string][]models.ActionLogEntry),
		changed:   make(chan struct{}),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.ErrStoreUnavailable
	}
	return nil
}

func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.signalLocked()
}

// touchLocked records a write to key and wakes every subscriber.
func (s *Store) touchLocked(kind store.Kind, id string) {
	s.revision++
	s.revisions[entityKey{kind, id}] = s.revision
	s.signalLocked()
}

func (s *Store) forgetLocked(kind store.Kind, id string) {
	s.revision++
	delete(s.revisions, entityKey{kind, id})
	s.signalLocked()
}

func (s *Store) signalLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Store) checkOpenLocked() error {
	if s.closed {
		return store.ErrStoreUnavailable
	}
	return nil
}

func (s *Store) GetClinic(_ context.Context, clinicID string) (models.Clinic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpenLocked(); err != nil {
		return models.Clinic{}, err
	}
	clinic, ok := s.clinics[clinicID]
	if !ok {
		return models.Clinic{}, store.ErrClinicNotFound
	}
	return clinic, nil
}

func (s *Store) ListClinics(_ context.Context) ([]models.Clinic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpenLocked(); err != nil {
		return nil, err
	}
	out := make([]models.Clinic, 0, len(s.clinics))
	for _, clinic := range s.clinics {
		out = append(out, clinic)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Number != out[j].Number {
			return out[i].Number < out[j].Number
		}
		return out[i].ClinicID < out[j].ClinicID
	})
	return out, nil
}

func (s *Store) PutClinic(_ context.Context, clinic models.Clinic) (models.Clinic, error) {
	if err := store.ValidateClinic(clinic); err != nil {
		return models.Clinic{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return models.Clinic{}, err
	}
	if strings.TrimSpace(clinic.ClinicID) == "" {
		clinic.ClinicID = uuid.NewString()
	}
	if existing, ok := s.clinics[clinic.ClinicID]; ok {
		clinic.Version = existing.Version + 1
	} else {
		clinic.Version = 1
	}
	clinic.UpdatedAt = s.now().UTC()
	s.clinics[clinic.ClinicID] = clinic
	s.touchLocked(store.KindClinic, clinic.ClinicID)
	return clinic, nil
}

func (s *Store) PatchClinic(_ context.Context, clinicID string, patch store.ClinicPatch) (models.Clinic, error) {
	return s.patchClinic(clinicID, -1, patch)
}

func (s *Store) CompareAndSwapClinic(_ context.Context, clinicID string, version int64, patch store.ClinicPatch) (models.Clinic, error) {
	return s.patchClinic(clinicID, version, patch)
}

func (s *Store) patchClinic(clinicID string, version int64, patch store.ClinicPatch) (models.Clinic, error) {
	if err := patch.Validate(); err != nil {
		return models.Clinic{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return models.Clinic{}, err
	}
	clinic, err := s.checkVersionLocked(clinicID, version)
	if err != nil {
		return models.Clinic{}, err
	}
	return s.applyClinicLocked(clinic, patch), nil
}

// CommitCall swaps the clinic and appends event under one lock, so either
// both land or neither does.
func (s *Store) CommitCall(_ context.Context, clinicID string, version int64, patch store.ClinicPatch, event models.Event) (models.Clinic, int64, error) {
	if err := patch.Validate(); err != nil {
		return models.Clinic{}, 0, err
	}
	if event.Payload == nil {
		return models.Clinic{}, 0, errors.New("event payload is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return models.Clinic{}, 0, err
	}
	clinic, err := s.checkVersionLocked(clinicID, version)
	if err != nil {
		return models.Clinic{}, 0, err
	}
	clinic = s.applyClinicLocked(clinic, patch)
	return clinic, s.appendLocked(event), nil
}

func (s *Store) checkVersionLocked(clinicID string, version int64) (models.Clinic, error) {
	clinic, ok := s.clinics[clinicID]
	if !ok {
		return models.Clinic{}, store.ErrClinicNotFound
	}
	if version >= 0 && clinic.Version != version {
		return models.Clinic{}, store.ErrVersionChanged
	}
	return clinic, nil
}

func (s *Store) applyClinicLocked(clinic models.Clinic, patch store.ClinicPatch) models.Clinic {
	patch.Apply(&clinic)
	clinic.Version++
	clinic.UpdatedAt = s.now().UTC()
	s.clinics[clinic.ClinicID] = clinic
	s.touchLocked(store.KindClinic, clinic.ClinicID)
	return clinic
}

func (s *Store) DeleteClinic(_ context.Context, clinicID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return err
	}
	if _, ok := s.clinics[clinicID]; !ok {
		return store.ErrClinicNotFound
	}
	delete(s.clinics, clinicID)
	s.forgetLocked(store.KindClinic, clinicID)
	return nil
}

func (s *Store) GetScreen(_ context.Context, screenID string) (models.Screen, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpenLocked(); err != nil {
		return models.Screen{}, err
	}
	screen, ok := s.screens[screenID]
	if !ok {
		return models.Screen{}, store.ErrScreenNotFound
	}
	return screen, nil
}

func (s *Store) ListScreens(_ context.Context) ([]models.Screen, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpenLocked(); err != nil {
		return nil, err
	}
	out := make([]models.Screen, 0, len(s.screens))
	for _, screen := range s.screens {
		out = append(out, screen)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Number != out[j].Number {
			return out[i].Number < out[j].Number
		}
		return out[i].ScreenID < out[j].ScreenID
	})
	return out, nil
}

func (s *Store) PutScreen(_ context.Context, screen models.Screen) (models.Screen, error) {
	if err := store.ValidateScreen(screen); err != nil {
		return models.Screen{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return models.Screen{}, err
	}
	if strings.TrimSpace(screen.ScreenID) == "" {
		screen.ScreenID = uuid.NewString()
	}
	screen.UpdatedAt = s.now().UTC()
	s.screens[screen.ScreenID] = screen
	s.touchLocked(store.KindScreen, screen.ScreenID)
	return screen, nil
}

func (s *Store) PatchScreen(_ context.Context, screenID string, patch store.ScreenPatch) (models.Screen, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return models.Screen{}, err
	}
	screen, ok := s.screens[screenID]
	if !ok {
		return models.Screen{}, store.ErrScreenNotFound
	}
	patch.Apply(&screen)
	if err := store.ValidateScreen(screen); err != nil {
		return models.Screen{}, err
	}
	screen.UpdatedAt = s.now().UTC()
	s.screens[screenID] = screen
	s.touchLocked(store.KindScreen, screenID)
	return screen, nil
}

func (s *Store) DeleteScreen(_ context.Context, screenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return err
	}
	if _, ok := s.screens[screenID]; !ok {
		return store.ErrScreenNotFound
	}
	delete(s.screens, screenID)
	s.forgetLocked(store.KindScreen, screenID)
	return nil
}

func (s *Store) GetDoctor(_ context.Context, doctorID string) (models.Doctor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpenLocked(); err != nil {
		return models.Doctor{}, err
	}
	doctor, ok := s.doctors[doctorID]
	if !ok {
		return models.Doctor{}, store.ErrDoctorNotFound
	}
	return doctor, nil
}

func (s *Store) ListDoctors(_ context.Context) ([]models.Doctor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpenLocked(); err != nil {
		return nil, err
	}
	out := make([]models.Doctor, 0, len(s.doctors))
	for _, doctor := range s.doctors {
		out = append(out, doctor)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].DoctorID < out[j].DoctorID
	})
	return out, nil
}

func (s *Store) PutDoctor(_ context.Context, doctor models.Doctor) (models.Doctor, error) {
	if err := store.ValidateDoctor(doctor); err != nil {
		return models.Doctor{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return models.Doctor{}, err
	}
	if strings.TrimSpace(doctor.DoctorID) == "" {
		doctor.DoctorID = uuid.NewString()
	}
	doctor.UpdatedAt = s.now().UTC()
	s.doctors[doctor.DoctorID] = doctor
	s.touchLocked(store.KindDoctor, doctor.DoctorID)
	return doctor, nil
}

func (s *Store) PatchDoctor(_ context.Context, doctorID string, patch store.DoctorPatch) (models.Doctor, error) {
	if err := patch.Validate(); err != nil {
		return models.Doctor{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return models.Doctor{}, err
	}
	doctor, ok := s.doctors[doctorID]
	if !ok {
		return models.Doctor{}, store.ErrDoctorNotFound
	}
	patch.Apply(&doctor)
	doctor.UpdatedAt = s.now().UTC()
	s.doctors[doctorID] = doctor
	s.touchLocked(store.KindDoctor, doctorID)
	return doctor, nil
}

func (s *Store) DeleteDoctor(_ context.Context, doctorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return err
	}
	if _, ok := s.doctors[doctorID]; !ok {
		return store.ErrDoctorNotFound
	}
	delete(s.doctors, doctorID)
	s.forgetLocked(store.KindDoctor, doctorID)
	return nil
}

func (s *Store) AppendAction(_ context.Context, entry models.ActionLogEntry) error {
	if strings.TrimSpace(entry.ClinicID) == "" {
		return fmt.Errorf("%w: clinic id is required", store.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return err
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now().UTC()
	}
	s.actions[entry.ClinicID] = append(s.actions[entry.ClinicID], entry)
	return nil
}

// RecentActions returns up to n entries, newest first.
func (s *Store) RecentActions(_ context.Context, clinicID string, n int) ([]models.ActionLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpenLocked(); err != nil {
		return nil, err
	}
	entries := s.actions[clinicID]
	if n <= 0 || n > len(entries) {
		n = len(entries)
	}
	out := make([]models.ActionLogEntry, 0, n)
	for i := len(entries) - 1; i >= len(entries)-n; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}
