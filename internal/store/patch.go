package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/waa2l/queue2/internal/models"
)

func (p ClinicPatch) Validate() error {
	if p.CurrentNumber != nil && *p.CurrentNumber < 0 {
		return fmt.Errorf("%w: current number must not be negative", ErrInvalidArgument)
	}
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return fmt.Errorf("%w: clinic name is required", ErrInvalidArgument)
	}
	if p.Number != nil && *p.Number <= 0 {
		return fmt.Errorf("%w: clinic number must be positive", ErrInvalidArgument)
	}
	return nil
}

func (p ClinicPatch) Apply(c *models.Clinic) {
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Number != nil {
		c.Number = *p.Number
	}
	if p.ScreenID != nil {
		c.ScreenID = *p.ScreenID
	}
	if p.CurrentNumber != nil {
		c.CurrentNumber = *p.CurrentNumber
	}
	if p.Active != nil {
		c.Active = *p.Active
	}
	if p.LastCall != nil {
		lastCall := *p.LastCall
		c.LastCall = &lastCall
	}
	if p.PasswordHash != nil {
		c.PasswordHash = *p.PasswordHash
	}
}

func (p ScreenPatch) Apply(s *models.Screen) {
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.Number != nil {
		s.Number = *p.Number
	}
	if p.Active != nil {
		s.Active = *p.Active
	}
	if p.PasswordHash != nil {
		s.PasswordHash = *p.PasswordHash
	}
}

func (p DoctorPatch) Validate() error {
	if p.Shift != nil && !models.ValidShift(*p.Shift) {
		return fmt.Errorf("%w: unknown shift %q", ErrInvalidArgument, *p.Shift)
	}
	return nil
}

func (p DoctorPatch) Apply(d *models.Doctor) {
	if p.Name != nil {
		d.Name = *p.Name
	}
	if p.Phone != nil {
		d.Phone = *p.Phone
	}
	if p.Specialty != nil {
		d.Specialty = *p.Specialty
	}
	if p.Image != nil {
		d.Image = *p.Image
	}
	if p.WorkingDays != nil {
		d.WorkingDays = append([]time.Weekday(nil), (*p.WorkingDays)...)
	}
	if p.Shift != nil {
		d.Shift = *p.Shift
	}
	if p.Active != nil {
		d.Active = *p.Active
	}
}

func ValidateClinic(c models.Clinic) error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: clinic name is required", ErrInvalidArgument)
	}
	if c.Number <= 0 {
		return fmt.Errorf("%w: clinic number must be positive", ErrInvalidArgument)
	}
	if c.CurrentNumber < 0 {
		return fmt.Errorf("%w: current number must not be negative", ErrInvalidArgument)
	}
	return nil
}

func ValidateScreen(s models.Screen) error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: screen name is required", ErrInvalidArgument)
	}
	return nil
}

func ValidateDoctor(d models.Doctor) error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: doctor name is required", ErrInvalidArgument)
	}
	if !models.ValidShift(d.Shift) {
		return fmt.Errorf("%w: unknown shift %q", ErrInvalidArgument, d.Shift)
	}
	return nil
}

// Ptr is a helper for building patches.
func Ptr[T any](v T) *T {
	return &v
}
