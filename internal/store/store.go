package store

import (
	"context"
	"time"

	"github.com/waa2l/queue2/internal/models"
)

type Kind string

const (
	KindClinic Kind = "clinic"
	KindScreen Kind = "screen"
	KindDoctor Kind = "doctor"
)

func ValidKind(kind Kind) bool {
	switch kind {
	case KindClinic, KindScreen, KindDoctor:
		return true
	}
	return false
}

// Change carries the current value of one entity. Exactly one of Clinic,
// Screen or Doctor is set unless Deleted is true.
type Change struct {
	Kind    Kind
	ID      string
	Deleted bool
	Clinic  *models.Clinic
	Screen  *models.Screen
	Doctor  *models.Doctor
}

type ClinicPatch struct {
	Name          *string
	Number        *int
	ScreenID      *string
	CurrentNumber *int
	Active        *bool
	LastCall      *time.Time
	PasswordHash  *string
}

type ScreenPatch struct {
	Name         *string
	Number       *int
	Active       *bool
	PasswordHash *string
}

type DoctorPatch struct {
	Name        *string
	Phone       *string
	Specialty   *string
	Image       *string
	WorkingDays *[]time.Weekday
	Shift       *string
	Active      *bool
}

type EntityStore interface {
	GetClinic(ctx context.Context, clinicID string) (models.Clinic, error)
	ListClinics(ctx context.Context) ([]models.Clinic, error)
	PutClinic(ctx context.Context, clinic models.Clinic) (models.Clinic, error)
	PatchClinic(ctx context.Context, clinicID string, patch ClinicPatch) (models.Clinic, error)
	// CompareAndSwapClinic applies patch only while the stored version equals
	// version, otherwise it fails with ErrVersionChanged.
	CompareAndSwapClinic(ctx context.Context, clinicID string, version int64, patch ClinicPatch) (models.Clinic, error)
	DeleteClinic(ctx context.Context, clinicID string) error

	GetScreen(ctx context.Context, screenID string) (models.Screen, error)
	ListScreens(ctx context.Context) ([]models.Screen, error)
	PutScreen(ctx context.Context, screen models.Screen) (models.Screen, error)
	PatchScreen(ctx context.Context, screenID string, patch ScreenPatch) (models.Screen, error)
	DeleteScreen(ctx context.Context, screenID string) error

	GetDoctor(ctx context.Context, doctorID string) (models.Doctor, error)
	ListDoctors(ctx context.Context) ([]models.Doctor, error)
	PutDoctor(ctx context.Context, doctor models.Doctor) (models.Doctor, error)
	PatchDoctor(ctx context.Context, doctorID string, patch DoctorPatch) (models.Doctor, error)
	DeleteDoctor(ctx context.Context, doctorID string) error

	// Subscribe streams the current value of every entity of kind (or only
	// id when it is non-empty), first as a replay and then on each change.
	Subscribe(ctx context.Context, kind Kind, id string) (*Subscription, error)
}

type EventLog interface {
	Append(ctx context.Context, event models.Event) (int64, error)
	SubscribeFrom(ctx context.Context, cursor Cursor) (*EventSubscription, error)
	ReadLastN(ctx context.Context, n int) ([]models.Event, error)
	ReadAfter(ctx context.Context, seq int64, limit int) ([]models.Event, error)
}

type ActionLog interface {
	AppendAction(ctx context.Context, entry models.ActionLogEntry) error
	RecentActions(ctx context.Context, clinicID string, n int) ([]models.ActionLogEntry, error)
}

// CallCommitter is implemented by event logs that can move a clinic and
// append its call event as one write. A version conflict leaves both
// untouched.
type CallCommitter interface {
	CommitCall(ctx context.Context, clinicID string, version int64, patch ClinicPatch, event models.Event) (models.Clinic, int64, error)
}

// Backend is a complete storage implementation.
type Backend interface {
	EntityStore
	EventLog
	ActionLog
	CallCommitter
	Ping(ctx context.Context) error
	Close()
}
