package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/waa2l/queue2/internal/models"
	"github.com/waa2l/queue2/internal/store"
)

const eventLockKey = "queue_events"

// Append writes event as the next link of the hash chain. Appends are
// serialised with a transaction-scoped advisory lock.
func (s *Store) Append(ctx context.Context, event models.Event) (int64, error) {
	var seq int64
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		seq, err = s.appendTx(ctx, tx, event)
		return err
	})
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// CommitCall runs the clinic compare-and-set and the event append in one
// transaction.
func (s *Store) CommitCall(ctx context.Context, clinicID string, version int64, patch store.ClinicPatch, event models.Event) (models.Clinic, int64, error) {
	if err := patch.Validate(); err != nil {
		return models.Clinic{}, 0, err
	}
	var (
		saved models.Clinic
		seq   int64
	)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		if saved, err = s.patchClinicTx(ctx, tx, clinicID, version, patch); err != nil {
			return err
		}
		seq, err = s.appendTx(ctx, tx, event)
		return err
	})
	if err != nil {
		return models.Clinic{}, 0, err
	}
	return saved, seq, nil
}

func (s *Store) appendTx(ctx context.Context, tx pgx.Tx, event models.Event) (int64, error) {
	if event.Payload == nil {
		return 0, errors.New("event payload is required")
	}
	eventType, payload, err := models.EncodePayload(event.Payload)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrInvalidArgument, err)
	}
	if strings.TrimSpace(event.EventID) == "" {
		event.EventID = uuid.NewString()
	}
	createdAt := event.Timestamp.UTC().Truncate(time.Microsecond)
	if event.Timestamp.IsZero() {
		createdAt = s.now()
	}

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, eventLockKey); err != nil {
		return 0, err
	}
	var (
		seq      int64
		prevHash string
	)
	err = tx.QueryRow(ctx, `SELECT seq, hash FROM queue_events ORDER BY seq DESC LIMIT 1`).Scan(&seq, &prevHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}
	seq++
	hash := store.ComputeEventHash(prevHash, event.EventID, string(eventType), payload, createdAt, seq)
	_, err = tx.Exec(ctx, `
		INSERT INTO queue_events (seq, event_id, type, clinic_id, payload, created_at, prev_hash, hash)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, seq, event.EventID, string(eventType), event.Payload.ClinicRef(), string(payload), createdAt, prevHash, hash)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

const eventColumns = `seq, event_id, type, payload, created_at, prev_hash, hash`

func scanRecord(row pgx.Row) (store.ChainRecord, error) {
	var rec store.ChainRecord
	var payload string
	if err := row.Scan(&rec.Seq, &rec.EventID, &rec.Type, &payload, &rec.CreatedAt, &rec.PrevHash, &rec.Hash); err != nil {
		return store.ChainRecord{}, err
	}
	rec.Payload = json.RawMessage(payload)
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}

func toEvent(rec store.ChainRecord) (models.Event, error) {
	payload, err := models.DecodePayload(models.EventType(rec.Type), rec.Payload)
	if err != nil {
		return models.Event{}, fmt.Errorf("decode event %d: %w", rec.Seq, err)
	}
	return models.Event{Seq: rec.Seq, EventID: rec.EventID, Timestamp: rec.CreatedAt, Payload: payload}, nil
}

func (s *Store) queryRecords(ctx context.Context, sql string, args ...any) ([]store.ChainRecord, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []store.ChainRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Store) queryEvents(ctx context.Context, sql string, args ...any) ([]models.Event, error) {
	records, err := s.queryRecords(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	events := make([]models.Event, 0, len(records))
	for _, rec := range records {
		event, err := toEvent(rec)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

// ReadLastN returns the newest n events, oldest first.
func (s *Store) ReadLastN(ctx context.Context, n int) ([]models.Event, error) {
	if n <= 0 {
		return nil, nil
	}
	return s.queryEvents(ctx, `
		SELECT `+eventColumns+` FROM (
			SELECT `+eventColumns+` FROM queue_events ORDER BY seq DESC LIMIT $1
		) newest ORDER BY seq ASC
	`, n)
}

func (s *Store) ReadAfter(ctx context.Context, seq int64, limit int) ([]models.Event, error) {
	if seq < 0 {
		seq = 0
	}
	if limit <= 0 {
		return s.queryEvents(ctx, `SELECT `+eventColumns+` FROM queue_events WHERE seq > $1 ORDER BY seq`, seq)
	}
	return s.queryEvents(ctx, `SELECT `+eventColumns+` FROM queue_events WHERE seq > $1 ORDER BY seq LIMIT $2`, seq, limit)
}

func (s *Store) lastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM queue_events`).Scan(&seq)
	return seq, err
}

// VerifyEvents walks the whole log and reports the first broken link.
func (s *Store) VerifyEvents(ctx context.Context) (int64, error) {
	const page = 1000
	var (
		after    int64
		prevHash string
	)
	for {
		records, err := s.queryRecords(ctx, `SELECT `+eventColumns+` FROM queue_events WHERE seq > $1 ORDER BY seq LIMIT $2`, after, page)
		if err != nil {
			return 0, err
		}
		if len(records) == 0 {
			return 0, nil
		}
		if records[0].PrevHash != prevHash {
			return records[0].Seq, fmt.Errorf("sequence %d: prev hash mismatch", records[0].Seq)
		}
		for i, rec := range records {
			want := store.ComputeEventHash(rec.PrevHash, rec.EventID, rec.Type, rec.Payload, rec.CreatedAt, rec.Seq)
			if rec.Hash != want {
				return rec.Seq, fmt.Errorf("sequence %d: hash mismatch", rec.Seq)
			}
			if i > 0 && rec.PrevHash != records[i-1].Hash {
				return rec.Seq, fmt.Errorf("sequence %d: prev hash mismatch", rec.Seq)
			}
		}
		last := records[len(records)-1]
		after, prevHash = last.Seq, last.Hash
		if len(records) < page {
			return 0, nil
		}
	}
}

func (s *Store) AppendAction(ctx context.Context, entry models.ActionLogEntry) error {
	if strings.TrimSpace(entry.ClinicID) == "" {
		return fmt.Errorf("%w: clinic id is required", store.ErrInvalidArgument)
	}
	createdAt := entry.Timestamp.UTC()
	if entry.Timestamp.IsZero() {
		createdAt = s.now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO clinic_actions (clinic_id, action, details, actor, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, entry.ClinicID, entry.Action, entry.Details, entry.Actor, createdAt)
	return err
}

// RecentActions returns up to n entries, newest first.
func (s *Store) RecentActions(ctx context.Context, clinicID string, n int) ([]models.ActionLogEntry, error) {
	query := `SELECT clinic_id, action, details, actor, created_at FROM clinic_actions WHERE clinic_id = $1 ORDER BY id DESC`
	args := []any{clinicID}
	if n > 0 {
		query += ` LIMIT $2`
		args = append(args, n)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []models.ActionLogEntry
	for rows.Next() {
		var entry models.ActionLogEntry
		if err := rows.Scan(&entry.ClinicID, &entry.Action, &entry.Details, &entry.Actor, &entry.Timestamp); err != nil {
			return nil, err
		}
		entry.Timestamp = entry.Timestamp.UTC()
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
