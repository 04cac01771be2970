package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/waa2l/queue2/internal/auth"
	"github.com/waa2l/queue2/internal/logging"
	"github.com/waa2l/queue2/internal/models"
	"github.com/waa2l/queue2/internal/store"
)

// ResetAll zeroes every clinic counter. It is what the daily job runs, and a
// concurrent manual reset is harmless.
func (c *Controller) ResetAll(ctx context.Context, s auth.Session) (count int, err error) {
	ctx, finish := c.begin(ctx, cmdResetAll, "")
	defer func() { finish(err) }()

	if err = c.authorize(s, cmdResetAll, ""); err != nil {
		return 0, err
	}
	clinics, err := c.entities.ListClinics(ctx)
	if err != nil {
		return 0, err
	}
	now := c.now()
	var (
		failed   []string
		firstErr error
	)
	for _, clinic := range clinics {
		if err := c.resetClinic(ctx, clinic.ClinicID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				logging.Ctx(ctx).Info().Str("clinic_id", clinic.ClinicID).Msg("clinic deleted before reset, skipping")
				continue
			}
			logging.Ctx(ctx).Error().Err(err).Str("clinic_id", clinic.ClinicID).Msg("reset clinic failed")
			failed = append(failed, clinic.ClinicID)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		count++
		c.record(ctx, s, clinic.ClinicID, models.ActionReset, "reset all", now)
	}
	if len(failed) > 0 {
		return count, fmt.Errorf("reset failed for clinics %s: %w", strings.Join(failed, ","), firstErr)
	}
	return count, nil
}

// AdminCall announces a number at a clinic without moving its counter.
func (c *Controller) AdminCall(ctx context.Context, s auth.Session, clinicID string, clientNumber int) (err error) {
	ctx, finish := c.begin(ctx, cmdAdminCall, clinicID)
	defer func() { finish(err) }()

	if err = c.authorize(s, cmdAdminCall, clinicID); err != nil {
		return err
	}
	if clientNumber <= 0 {
		return fmt.Errorf("%w: client number must be positive", store.ErrInvalidArgument)
	}
	if _, err = c.entities.GetClinic(ctx, clinicID); err != nil {
		return err
	}
	now := c.now()
	if err = c.announce(ctx, models.CallSpecific{ClinicID: clinicID, ClientNumber: clientNumber}, now); err != nil {
		return err
	}
	c.record(ctx, s, clinicID, models.ActionJump, "admin call "+strconv.Itoa(clientNumber), now)
	return nil
}

func (c *Controller) AdminEmergency(ctx context.Context, s auth.Session, clinicID string) (err error) {
	ctx, finish := c.begin(ctx, cmdAdminEmergency, clinicID)
	defer func() { finish(err) }()

	if err = c.authorize(s, cmdAdminEmergency, clinicID); err != nil {
		return err
	}
	if _, err = c.entities.GetClinic(ctx, clinicID); err != nil {
		return err
	}
	now := c.now()
	if err = c.announce(ctx, models.CallEmergency{ClinicID: clinicID}, now); err != nil {
		return err
	}
	c.record(ctx, s, clinicID, models.ActionEmergency, "admin", now)
	return nil
}

// TextAlert broadcasts a free-text alert to displays. alertType may be text
// or emergency.
func (c *Controller) TextAlert(ctx context.Context, s auth.Session, message, alertType string) (err error) {
	ctx, finish := c.begin(ctx, cmdTextAlert, "")
	defer func() { finish(err) }()

	if err = c.authorize(s, cmdTextAlert, ""); err != nil {
		return err
	}
	if alertType == "" {
		alertType = models.AlertText
	}
	if alertType != models.AlertText && alertType != models.AlertEmergency {
		return fmt.Errorf("%w: unsupported alert type %q", store.ErrInvalidArgument, alertType)
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return fmt.Errorf("%w: message is required", store.ErrInvalidArgument)
	}
	return c.announce(ctx, models.Alert{Message: message, AlertType: alertType}, c.now())
}

// AdminAlert sends a message to every control panel.
func (c *Controller) AdminAlert(ctx context.Context, s auth.Session, message string) (err error) {
	ctx, finish := c.begin(ctx, cmdAdminAlert, "")
	defer func() { finish(err) }()

	if err = c.authorize(s, cmdAdminAlert, ""); err != nil {
		return err
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return fmt.Errorf("%w: message is required", store.ErrInvalidArgument)
	}
	return c.announce(ctx, models.Alert{Message: message, AlertType: models.AlertAdmin}, c.now())
}
