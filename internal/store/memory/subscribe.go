package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/waa2l/queue2/internal/models"
	"github.com/waa2l/queue2/internal/store"
)

const streamBuffer = 16

func (s *Store) Subscribe(ctx context.Context, kind store.Kind, id string) (*store.Subscription, error) {
	if !store.ValidKind(kind) {
		return nil, fmt.Errorf("%w: unknown kind %q", store.ErrInvalidArgument, kind)
	}
	s.mu.RLock()
	if err := s.checkOpenLocked(); err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	if id != "" && !s.existsLocked(kind, id) {
		s.mu.RUnlock()
		return nil, notFound(kind)
	}
	s.mu.RUnlock()

	out := make(chan store.Change, streamBuffer)
	done := make(chan struct{})
	sub := store.NewStream[store.Change](out, func() { close(done) })

	go func() {
		defer close(out)
		sent := make(map[string]uint64)
		for {
			changes, wake, closed := s.pendingChanges(kind, id, sent)
			for _, change := range changes {
				select {
				case out <- change:
				case <-done:
					return
				case <-ctx.Done():
					return
				}
			}
			if closed {
				sub.Fail(store.ErrStoreUnavailable)
				return
			}
			select {
			case <-wake:
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return sub, nil
}

// pendingChanges diffs the current state against what a subscriber has
// already seen. sent is updated in place.
func (s *Store) pendingChanges(kind store.Kind, id string, sent map[string]uint64) ([]store.Change, <-chan struct{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var changes []store.Change
	present := make(map[string]struct{})
	for _, entityID := range s.idsLocked(kind, id) {
		present[entityID] = struct{}{}
		rev := s.revisions[entityKey{kind, entityID}]
		if seen, ok := sent[entityID]; ok && seen >= rev {
			continue
		}
		sent[entityID] = rev
		changes = append(changes, s.changeLocked(kind, entityID))
	}
	var gone []string
	for entityID := range sent {
		if _, ok := present[entityID]; !ok {
			gone = append(gone, entityID)
		}
	}
	sort.Strings(gone)
	for _, entityID := range gone {
		delete(sent, entityID)
		changes = append(changes, store.Change{Kind: kind, ID: entityID, Deleted: true})
	}
	return changes, s.changed, s.closed
}

func (s *Store) idsLocked(kind store.Kind, id string) []string {
	if id != "" {
		if s.existsLocked(kind, id) {
			return []string{id}
		}
		return nil
	}
	var ids []string
	switch kind {
	case store.KindClinic:
		for key := range s.clinics {
			ids = append(ids, key)
		}
	case store.KindScreen:
		for key := range s.screens {
			ids = append(ids, key)
		}
	case store.KindDoctor:
		for key := range s.doctors {
			ids = append(ids, key)
		}
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) existsLocked(kind store.Kind, id string) bool {
	switch kind {
	case store.KindClinic:
		_, ok := s.clinics[id]
		return ok
	case store.KindScreen:
		_, ok := s.screens[id]
		return ok
	case store.KindDoctor:
		_, ok := s.doctors[id]
		return ok
	}
	return false
}

func (s *Store) changeLocked(kind store.Kind, id string) store.Change {
	change := store.Change{Kind: kind, ID: id}
	switch kind {
	case store.KindClinic:
		clinic := s.clinics[id]
		change.Clinic = &clinic
	case store.KindScreen:
		screen := s.screens[id]
		change.Screen = &screen
	case store.KindDoctor:
		doctor := s.doctors[id]
		change.Doctor = &doctor
	}
	return change
}

func notFound(kind store.Kind) error {
	switch kind {
	case store.KindClinic:
		return store.ErrClinicNotFound
	case store.KindScreen:
		return store.ErrScreenNotFound
	case store.KindDoctor:
		return store.ErrDoctorNotFound
	}
	return store.ErrNotFound
}

func (s *Store) Append(_ context.Context, event models.Event) (int64, error) {
	if event.Payload == nil {
		return 0, errors.New("event payload is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return 0, err
	}
	return s.appendLocked(event), nil
}

func (s *Store) appendLocked(event models.Event) int64 {
	if strings.TrimSpace(event.EventID) == "" {
		event.EventID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}
	event.Seq = int64(len(s.events)) + 1
	s.events = append(s.events, event)
	s.signalLocked()
	return event.Seq
}

func (s *Store) SubscribeFrom(ctx context.Context, cursor store.Cursor) (*store.EventSubscription, error) {
	s.mu.RLock()
	if err := s.checkOpenLocked(); err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	pos := int64(cursor)
	if cursor == store.FromNow {
		pos = int64(len(s.events))
	}
	s.mu.RUnlock()

	out := make(chan models.Event, streamBuffer)
	done := make(chan struct{})
	sub := store.NewStream[models.Event](out, func() { close(done) })

	go func() {
		defer close(out)
		for {
			batch, wake, closed := s.eventsAfter(pos)
			for _, event := range batch {
				select {
				case out <- event:
					pos = event.Seq
				case <-done:
					return
				case <-ctx.Done():
					return
				}
			}
			if closed {
				sub.Fail(store.ErrStoreUnavailable)
				return
			}
			if len(batch) > 0 {
				continue
			}
			select {
			case <-wake:
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return sub, nil
}

func (s *Store) eventsAfter(seq int64) ([]models.Event, <-chan struct{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if seq < 0 {
		seq = 0
	}
	if seq >= int64(len(s.events)) {
		return nil, s.changed, s.closed
	}
	batch := make([]models.Event, len(s.events)-int(seq))
	copy(batch, s.events[seq:])
	return batch, s.changed, s.closed
}

func (s *Store) ReadLastN(_ context.Context, n int) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpenLocked(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	start := len(s.events) - n
	if start < 0 {
		start = 0
	}
	out := make([]models.Event, len(s.events)-start)
	copy(out, s.events[start:])
	return out, nil
}

func (s *Store) ReadAfter(_ context.Context, seq int64, limit int) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpenLocked(); err != nil {
		return nil, err
	}
	if seq < 0 {
		seq = 0
	}
	if seq >= int64(len(s.events)) {
		return nil, nil
	}
	end := len(s.events)
	if limit > 0 && int(seq)+limit < end {
		end = int(seq) + limit
	}
	out := make([]models.Event, end-int(seq))
	copy(out, s.events[seq:end])
	return out, nil
}
