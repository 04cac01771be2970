package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/waa2l/queue2/internal/logging"
	"github.com/waa2l/queue2/internal/models"
	"github.com/waa2l/queue2/internal/schedule"
	"github.com/waa2l/queue2/internal/store"
)

const (
	streamBuffer = 16
	pollBatch    = 200
)

type versioned struct {
	revision int64
	change   store.Change
}

// Subscribe replays the matching entities and then polls for rows whose
// revision moved or that disappeared.
func (s *Store) Subscribe(ctx context.Context, kind store.Kind, id string) (*store.Subscription, error) {
	if !store.ValidKind(kind) {
		return nil, fmt.Errorf("%w: unknown kind %q", store.ErrInvalidArgument, kind)
	}
	first, err := s.snapshot(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if id != "" && len(first) == 0 {
		return nil, notFound(kind)
	}

	out := make(chan store.Change, streamBuffer)
	subCtx, cancel := context.WithCancel(ctx)
	sub := store.NewStream[store.Change](out, cancel)

	go func() {
		defer close(out)
		sent := make(map[string]int64)
		current := first
		for {
			for _, change := range diff(kind, current, sent) {
				select {
				case out <- change:
				case <-subCtx.Done():
					return
				}
			}
			if err := schedule.Sleep(subCtx, s.clock, s.poll); err != nil {
				return
			}
			next, err := s.snapshot(subCtx, kind, id)
			if err != nil {
				if subCtx.Err() != nil {
					return
				}
				logging.Warn().Err(err).Str("kind", string(kind)).Msg("entity poll failed")
				sub.Fail(fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err))
				return
			}
			current = next
		}
	}()
	return sub, nil
}

// diff returns the changes a subscriber has not seen yet and records them in
// sent. Entities missing from current are reported as deleted.
func diff(kind store.Kind, current map[string]versioned, sent map[string]int64) []store.Change {
	ids := make([]string, 0, len(current))
	for entityID := range current {
		ids = append(ids, entityID)
	}
	sort.Strings(ids)

	var changes []store.Change
	for _, entityID := range ids {
		v := current[entityID]
		if seen, ok := sent[entityID]; ok && seen >= v.revision {
			continue
		}
		sent[entityID] = v.revision
		changes = append(changes, v.change)
	}
	var gone []string
	for entityID := range sent {
		if _, ok := current[entityID]; !ok {
			gone = append(gone, entityID)
		}
	}
	sort.Strings(gone)
	for _, entityID := range gone {
		delete(sent, entityID)
		changes = append(changes, store.Change{Kind: kind, ID: entityID, Deleted: true})
	}
	return changes
}

func (s *Store) snapshot(ctx context.Context, kind store.Kind, id string) (map[string]versioned, error) {
	var (
		table, key, columns string
	)
	switch kind {
	case store.KindClinic:
		table, key, columns = "clinics", "clinic_id", clinicColumns
	case store.KindScreen:
		table, key, columns = "screens", "screen_id", screenColumns
	case store.KindDoctor:
		table, key, columns = "doctors", "doctor_id", doctorColumns
	}
	query := `SELECT ` + columns + ` FROM ` + table
	var args []any
	if id != "" {
		query += ` WHERE ` + key + ` = $1`
		args = append(args, id)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]versioned)
	for rows.Next() {
		v, err := scanVersioned(kind, rows)
		if err != nil {
			return nil, err
		}
		out[v.change.ID] = v
	}
	return out, rows.Err()
}

func scanVersioned(kind store.Kind, row pgx.Row) (versioned, error) {
	change := store.Change{Kind: kind}
	var revision int64
	switch kind {
	case store.KindClinic:
		clinic, rev, err := scanClinic(row)
		if err != nil {
			return versioned{}, err
		}
		change.ID, change.Clinic, revision = clinic.ClinicID, &clinic, rev
	case store.KindScreen:
		screen, rev, err := scanScreen(row)
		if err != nil {
			return versioned{}, err
		}
		change.ID, change.Screen, revision = screen.ScreenID, &screen, rev
	case store.KindDoctor:
		doctor, rev, err := scanDoctor(row)
		if err != nil {
			return versioned{}, err
		}
		change.ID, change.Doctor, revision = doctor.DoctorID, &doctor, rev
	}
	return versioned{revision: revision, change: change}, nil
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

// SubscribeFrom polls the event log for rows after the cursor.
func (s *Store) SubscribeFrom(ctx context.Context, cursor store.Cursor) (*store.EventSubscription, error) {
	pos := int64(cursor)
	if cursor == store.FromNow {
		last, err := s.lastSeq(ctx)
		if err != nil {
			return nil, err
		}
		pos = last
	}

	out := make(chan models.Event, streamBuffer)
	subCtx, cancel := context.WithCancel(ctx)
	sub := store.NewStream[models.Event](out, cancel)

	go func() {
		defer close(out)
		for {
			batch, err := s.ReadAfter(subCtx, pos, pollBatch)
			if err != nil {
				if subCtx.Err() != nil || errors.Is(err, context.Canceled) {
					return
				}
				logging.Warn().Err(err).Int64("after", pos).Msg("event poll failed")
				sub.Fail(fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err))
				return
			}
			for _, event := range batch {
				select {
				case out <- event:
					pos = event.Seq
				case <-subCtx.Done():
					return
				}
			}
			if len(batch) == pollBatch {
				continue
			}
			if err := schedule.Sleep(subCtx, s.clock, s.poll); err != nil {
				return
			}
		}
	}()
	return sub, nil
}
