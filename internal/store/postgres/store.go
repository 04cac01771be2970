// Package postgres is the durable Backend. Entities, the hash-chained event
// log and the per-clinic action log live in PostgreSQL; subscriptions are
// served by polling.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/waa2l/queue2/internal/models"
	"github.com/waa2l/queue2/internal/schedule"
	"github.com/waa2l/queue2/internal/store"
)

type Store struct {
	pool  *pgxpool.Pool
	clock schedule.Clock
	poll  time.Duration
}

var _ store.Backend = (*Store)(nil)

type Options struct {
	// PollInterval is how often subscriptions look for new rows.
	PollInterval time.Duration
	Clock        schedule.Clock
}

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	if options.PollInterval <= 0 {
		options.PollInterval = 500 * time.Millisecond
	}
	if options.Clock == nil {
		options.Clock = schedule.RealClock{}
	}
	return &Store{pool: pool, clock: options.Clock, poll: options.PollInterval}
}

// Connect opens a pool and verifies it can reach the database.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}

// inTx runs fn in a transaction, committing only when fn succeeds.
func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const clinicColumns = `clinic_id, name, number, screen_id, current_number, active, last_call, password_hash, version, revision, updated_at`

func scanClinic(row pgx.Row) (models.Clinic, int64, error) {
	var clinic models.Clinic
	var revision int64
	err := row.Scan(&clinic.ClinicID, &clinic.Name, &clinic.Number, &clinic.ScreenID, &clinic.CurrentNumber,
		&clinic.Active, &clinic.LastCall, &clinic.PasswordHash, &clinic.Version, &revision, &clinic.UpdatedAt)
	if err != nil {
		return models.Clinic{}, 0, err
	}
	if clinic.LastCall != nil {
		lastCall := clinic.LastCall.UTC()
		clinic.LastCall = &lastCall
	}
	clinic.UpdatedAt = clinic.UpdatedAt.UTC()
	return clinic, revision, nil
}

func (s *Store) GetClinic(ctx context.Context, clinicID string) (models.Clinic, error) {
	clinic, _, err := scanClinic(s.pool.QueryRow(ctx, `SELECT `+clinicColumns+` FROM clinics WHERE clinic_id = $1`, clinicID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Clinic{}, store.ErrClinicNotFound
		}
		return models.Clinic{}, err
	}
	return clinic, nil
}

func (s *Store) ListClinics(ctx context.Context) ([]models.Clinic, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+clinicColumns+` FROM clinics ORDER BY number, clinic_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	clinics := make([]models.Clinic, 0)
	for rows.Next() {
		clinic, _, err := scanClinic(rows)
		if err != nil {
			return nil, err
		}
		clinics = append(clinics, clinic)
	}
	return clinics, rows.Err()
}

// PutClinic inserts or replaces a clinic. Replacing bumps the version.
func (s *Store) PutClinic(ctx context.Context, clinic models.Clinic) (models.Clinic, error) {
	if err := store.ValidateClinic(clinic); err != nil {
		return models.Clinic{}, err
	}
	if strings.TrimSpace(clinic.ClinicID) == "" {
		clinic.ClinicID = uuid.NewString()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO clinics (clinic_id, name, number, screen_id, current_number, active, last_call, password_hash, version, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,1,$9)
		ON CONFLICT (clinic_id) DO UPDATE SET
			name = EXCLUDED.name,
			number = EXCLUDED.number,
			screen_id = EXCLUDED.screen_id,
			current_number = EXCLUDED.current_number,
			active = EXCLUDED.active,
			last_call = EXCLUDED.last_call,
			password_hash = EXCLUDED.password_hash,
			version = clinics.version + 1,
			revision = nextval('entity_revision_seq'),
			updated_at = EXCLUDED.updated_at
		RETURNING `+clinicColumns,
		clinic.ClinicID, clinic.Name, clinic.Number, clinic.ScreenID, clinic.CurrentNumber,
		clinic.Active, clinic.LastCall, clinic.PasswordHash, s.now())
	saved, _, err := scanClinic(row)
	return saved, err
}

func (s *Store) PatchClinic(ctx context.Context, clinicID string, patch store.ClinicPatch) (models.Clinic, error) {
	return s.patchClinic(ctx, clinicID, -1, patch)
}

func (s *Store) CompareAndSwapClinic(ctx context.Context, clinicID string, version int64, patch store.ClinicPatch) (models.Clinic, error) {
	return s.patchClinic(ctx, clinicID, version, patch)
}

// patchClinic locks the row, applies patch and writes it back. A
// non-negative version must match the stored one.
func (s *Store) patchClinic(ctx context.Context, clinicID string, version int64, patch store.ClinicPatch) (models.Clinic, error) {
	if err := patch.Validate(); err != nil {
		return models.Clinic{}, err
	}
	var saved models.Clinic
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		saved, err = s.patchClinicTx(ctx, tx, clinicID, version, patch)
		return err
	})
	if err != nil {
		return models.Clinic{}, err
	}
	return saved, nil
}

func (s *Store) patchClinicTx(ctx context.Context, tx pgx.Tx, clinicID string, version int64, patch store.ClinicPatch) (models.Clinic, error) {
	clinic, _, err := scanClinic(tx.QueryRow(ctx, `SELECT `+clinicColumns+` FROM clinics WHERE clinic_id = $1 FOR UPDATE`, clinicID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Clinic{}, store.ErrClinicNotFound
		}
		return models.Clinic{}, err
	}
	if version >= 0 && clinic.Version != version {
		return models.Clinic{}, store.ErrVersionChanged
	}
	patch.Apply(&clinic)
	row := tx.QueryRow(ctx, `
		UPDATE clinics SET
			name = $2, number = $3, screen_id = $4, current_number = $5, active = $6,
			last_call = $7, password_hash = $8, version = version + 1,
			revision = nextval('entity_revision_seq'), updated_at = $9
		WHERE clinic_id = $1
		RETURNING `+clinicColumns,
		clinicID, clinic.Name, clinic.Number, clinic.ScreenID, clinic.CurrentNumber,
		clinic.Active, clinic.LastCall, clinic.PasswordHash, s.now())
	saved, _, err := scanClinic(row)
	return saved, err
}

func (s *Store) DeleteClinic(ctx context.Context, clinicID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM clinics WHERE clinic_id = $1`, clinicID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrClinicNotFound
	}
	return nil
}

const screenColumns = `screen_id, name, number, password_hash, active, revision, updated_at`

func scanScreen(row pgx.Row) (models.Screen, int64, error) {
	var screen models.Screen
	var revision int64
	if err := row.Scan(&screen.ScreenID, &screen.Name, &screen.Number, &screen.PasswordHash, &screen.Active, &revision, &screen.UpdatedAt); err != nil {
		return models.Screen{}, 0, err
	}
	screen.UpdatedAt = screen.UpdatedAt.UTC()
	return screen, revision, nil
}

func (s *Store) GetScreen(ctx context.Context, screenID string) (models.Screen, error) {
	screen, _, err := scanScreen(s.pool.QueryRow(ctx, `SELECT `+screenColumns+` FROM screens WHERE screen_id = $1`, screenID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Screen{}, store.ErrScreenNotFound
		}
		return models.Screen{}, err
	}
	return screen, nil
}

func (s *Store) ListScreens(ctx context.Context) ([]models.Screen, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+screenColumns+` FROM screens ORDER BY number, screen_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	screens := make([]models.Screen, 0)
	for rows.Next() {
		screen, _, err := scanScreen(rows)
		if err != nil {
			return nil, err
		}
		screens = append(screens, screen)
	}
	return screens, rows.Err()
}

func (s *Store) PutScreen(ctx context.Context, screen models.Screen) (models.Screen, error) {
	if err := store.ValidateScreen(screen); err != nil {
		return models.Screen{}, err
	}
	if strings.TrimSpace(screen.ScreenID) == "" {
		screen.ScreenID = uuid.NewString()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO screens (screen_id, name, number, password_hash, active, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (screen_id) DO UPDATE SET
			name = EXCLUDED.name,
			number = EXCLUDED.number,
			password_hash = EXCLUDED.password_hash,
			active = EXCLUDED.active,
			revision = nextval('entity_revision_seq'),
			updated_at = EXCLUDED.updated_at
		RETURNING `+screenColumns,
		screen.ScreenID, screen.Name, screen.Number, screen.PasswordHash, screen.Active, s.now())
	saved, _, err := scanScreen(row)
	return saved, err
}

func (s *Store) PatchScreen(ctx context.Context, screenID string, patch store.ScreenPatch) (models.Screen, error) {
	var saved models.Screen
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		screen, _, err := scanScreen(tx.QueryRow(ctx, `SELECT `+screenColumns+` FROM screens WHERE screen_id = $1 FOR UPDATE`, screenID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrScreenNotFound
			}
			return err
		}
		patch.Apply(&screen)
		if err := store.ValidateScreen(screen); err != nil {
			return err
		}
		row := tx.QueryRow(ctx, `
			UPDATE screens SET
				name = $2, number = $3, password_hash = $4, active = $5,
				revision = nextval('entity_revision_seq'), updated_at = $6
			WHERE screen_id = $1
			RETURNING `+screenColumns,
			screenID, screen.Name, screen.Number, screen.PasswordHash, screen.Active, s.now())
		saved, _, err = scanScreen(row)
		return err
	})
	if err != nil {
		return models.Screen{}, err
	}
	return saved, nil
}

func (s *Store) DeleteScreen(ctx context.Context, screenID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM screens WHERE screen_id = $1`, screenID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrScreenNotFound
	}
	return nil
}

const doctorColumns = `doctor_id, name, phone, specialty, image, working_days, shift, active, revision, updated_at`

func scanDoctor(row pgx.Row) (models.Doctor, int64, error) {
	var doctor models.Doctor
	var days []int16
	var revision int64
	err := row.Scan(&doctor.DoctorID, &doctor.Name, &doctor.Phone, &doctor.Specialty, &doctor.Image,
		&days, &doctor.Shift, &doctor.Active, &revision, &doctor.UpdatedAt)
	if err != nil {
		return models.Doctor{}, 0, err
	}
	doctor.WorkingDays = weekdays(days)
	doctor.UpdatedAt = doctor.UpdatedAt.UTC()
	return doctor, revision, nil
}

func weekdays(days []int16) []time.Weekday {
	if len(days) == 0 {
		return nil
	}
	out := make([]time.Weekday, 0, len(days))
	for _, d := range days {
		out = append(out, time.Weekday(d))
	}
	return out
}

func dayNumbers(days []time.Weekday) []int16 {
	out := make([]int16, 0, len(days))
	for _, d := range days {
		out = append(out, int16(d))
	}
	return out
}

func (s *Store) GetDoctor(ctx context.Context, doctorID string) (models.Doctor, error) {
	doctor, _, err := scanDoctor(s.pool.QueryRow(ctx, `SELECT `+doctorColumns+` FROM doctors WHERE doctor_id = $1`, doctorID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Doctor{}, store.ErrDoctorNotFound
		}
		return models.Doctor{}, err
	}
	return doctor, nil
}

func (s *Store) ListDoctors(ctx context.Context) ([]models.Doctor, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+doctorColumns+` FROM doctors ORDER BY name, doctor_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	doctors := make([]models.Doctor, 0)
	for rows.Next() {
		doctor, _, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		doctors = append(doctors, doctor)
	}
	return doctors, rows.Err()
}

func (s *Store) PutDoctor(ctx context.Context, doctor models.Doctor) (models.Doctor, error) {
	if err := store.ValidateDoctor(doctor); err != nil {
		return models.Doctor{}, err
	}
	if strings.TrimSpace(doctor.DoctorID) == "" {
		doctor.DoctorID = uuid.NewString()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO doctors (doctor_id, name, phone, specialty, image, working_days, shift, active, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (doctor_id) DO UPDATE SET
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			specialty = EXCLUDED.specialty,
			image = EXCLUDED.image,
			working_days = EXCLUDED.working_days,
			shift = EXCLUDED.shift,
			active = EXCLUDED.active,
			revision = nextval('entity_revision_seq'),
			updated_at = EXCLUDED.updated_at
		RETURNING `+doctorColumns,
		doctor.DoctorID, doctor.Name, doctor.Phone, doctor.Specialty, doctor.Image,
		dayNumbers(doctor.WorkingDays), doctor.Shift, doctor.Active, s.now())
	saved, _, err := scanDoctor(row)
	return saved, err
}

func (s *Store) PatchDoctor(ctx context.Context, doctorID string, patch store.DoctorPatch) (models.Doctor, error) {
	if err := patch.Validate(); err != nil {
		return models.Doctor{}, err
	}
	var saved models.Doctor
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		doctor, _, err := scanDoctor(tx.QueryRow(ctx, `SELECT `+doctorColumns+` FROM doctors WHERE doctor_id = $1 FOR UPDATE`, doctorID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrDoctorNotFound
			}
			return err
		}
		patch.Apply(&doctor)
		row := tx.QueryRow(ctx, `
			UPDATE doctors SET
				name = $2, phone = $3, specialty = $4, image = $5, working_days = $6,
				shift = $7, active = $8, revision = nextval('entity_revision_seq'), updated_at = $9
			WHERE doctor_id = $1
			RETURNING `+doctorColumns,
			doctorID, doctor.Name, doctor.Phone, doctor.Specialty, doctor.Image,
			dayNumbers(doctor.WorkingDays), doctor.Shift, doctor.Active, s.now())
		saved, _, err = scanDoctor(row)
		return err
	})
	if err != nil {
		return models.Doctor{}, err
	}
	return saved, nil
}

func (s *Store) DeleteDoctor(ctx context.Context, doctorID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM doctors WHERE doctor_id = $1`, doctorID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrDoctorNotFound
	}
	return nil
}
