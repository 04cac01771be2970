// Package queue implements the clinic queue controller: the only writer of a
// clinic's serving counter and status, and the only producer of call, alert
// and transfer events.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/waa2l/queue2/internal/auth"
	"github.com/waa2l/queue2/internal/logging"
	"github.com/waa2l/queue2/internal/metrics"
	"github.com/waa2l/queue2/internal/models"
	"github.com/waa2l/queue2/internal/notify"
	"github.com/waa2l/queue2/internal/schedule"
	"github.com/waa2l/queue2/internal/store"
	"github.com/waa2l/queue2/internal/telemetry"
)

type Options struct {
	// CASRetries bounds optimistic retries on a clinic version conflict.
	CASRetries int
	Clock      schedule.Clock
}

type Controller struct {
	entities store.EntityStore
	events   store.EventLog
	actions  store.ActionLog
	clock    schedule.Clock
	retries  int

	// committer is set when entities and events are one store that can
	// write a counter move and its call event together.
	committer store.CallCommitter
}

func NewController(entities store.EntityStore, events store.EventLog, actions store.ActionLog, opts Options) *Controller {
	if opts.CASRetries <= 0 {
		opts.CASRetries = 5
	}
	if opts.Clock == nil {
		opts.Clock = schedule.RealClock{}
	}
	c := &Controller{
		entities: entities,
		events:   events,
		actions:  actions,
		clock:    opts.Clock,
		retries:  opts.CASRetries,
	}
	if committer, ok := events.(store.CallCommitter); ok && any(entities) == any(events) {
		c.committer = committer
	}
	return c
}

func (c *Controller) Advance(ctx context.Context, s auth.Session, clinicID string) (number int, err error) {
	ctx, finish := c.begin(ctx, cmdAdvance, clinicID)
	defer func() { finish(err) }()

	if err = c.authorize(s, cmdAdvance, clinicID); err != nil {
		return 0, err
	}
	now := c.now()
	clinic, err := c.commitCall(ctx, clinicID, now, func(current models.Clinic) int {
		return current.CurrentNumber + 1
	})
	if err != nil {
		return 0, err
	}
	c.record(ctx, s, clinicID, models.ActionAdvance, strconv.Itoa(clinic.CurrentNumber), now)
	return clinic.CurrentNumber, nil
}

// Retreat steps the counter back by one. At zero it is a no-op.
func (c *Controller) Retreat(ctx context.Context, s auth.Session, clinicID string) (number int, err error) {
	ctx, finish := c.begin(ctx, cmdRetreat, clinicID)
	defer func() { finish(err) }()

	if err = c.authorize(s, cmdRetreat, clinicID); err != nil {
		return 0, err
	}
	clinic, changed, err := c.mutate(ctx, clinicID, func(current models.Clinic) (store.ClinicPatch, bool) {
		if current.CurrentNumber <= 0 {
			return store.ClinicPatch{}, false
		}
		previous := current.CurrentNumber - 1
		return store.ClinicPatch{CurrentNumber: &previous}, true
	})
	if err != nil {
		return 0, err
	}
	if changed {
		c.record(ctx, s, clinicID, models.ActionRetreat, strconv.Itoa(clinic.CurrentNumber), c.now())
	}
	return clinic.CurrentNumber, nil
}

func (c *Controller) JumpTo(ctx context.Context, s auth.Session, clinicID string, n int) (number int, err error) {
	ctx, finish := c.begin(ctx, cmdJump, clinicID)
	defer func() { finish(err) }()

	if err = c.authorize(s, cmdJump, clinicID); err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: jump target must be positive", store.ErrInvalidArgument)
	}
	now := c.now()
	clinic, err := c.commitCall(ctx, clinicID, now, func(models.Clinic) int {
		return n
	})
	if err != nil {
		return 0, err
	}
	c.record(ctx, s, clinicID, models.ActionJump, strconv.Itoa(n), now)
	return clinic.CurrentNumber, nil
}

// Repeat re-announces the current number without touching state.
func (c *Controller) Repeat(ctx context.Context, s auth.Session, clinicID string) (number int, err error) {
	ctx, finish := c.begin(ctx, cmdRepeat, clinicID)
	defer func() { finish(err) }()

	if err = c.authorize(s, cmdRepeat, clinicID); err != nil {
		return 0, err
	}
	clinic, err := c.entities.GetClinic(ctx, clinicID)
	if err != nil {
		return 0, err
	}
	if clinic.CurrentNumber <= 0 {
		return 0, nil
	}
	now := c.now()
	if err = c.announce(ctx, models.CallSpecific{ClinicID: clinicID, ClientNumber: clinic.CurrentNumber}, now); err != nil {
		return clinic.CurrentNumber, err
	}
	c.record(ctx, s, clinicID, models.ActionRepeat, strconv.Itoa(clinic.CurrentNumber), now)
	return clinic.CurrentNumber, nil
}

// Reset zeroes the counter. It is recorded in the action log only and never
// announced.
func (c *Controller) Reset(ctx context.Context, s auth.Session, clinicID string) (err error) {
	ctx, finish := c.begin(ctx, cmdReset, clinicID)
	defer func() { finish(err) }()

	if err = c.authorize(s, cmdReset, clinicID); err != nil {
		return err
	}
	if err = c.resetClinic(ctx, clinicID); err != nil {
		return err
	}
	c.record(ctx, s, clinicID, models.ActionReset, "", c.now())
	return nil
}

func (c *Controller) resetClinic(ctx context.Context, clinicID string) error {
	zero := 0
	_, _, err := c.mutate(ctx, clinicID, func(models.Clinic) (store.ClinicPatch, bool) {
		return store.ClinicPatch{CurrentNumber: &zero}, true
	})
	return err
}

func (c *Controller) SetActive(ctx context.Context, s auth.Session, clinicID string, active bool) (err error) {
	ctx, finish := c.begin(ctx, cmdSetActive, clinicID)
	defer func() { finish(err) }()

	if err = c.authorize(s, cmdSetActive, clinicID); err != nil {
		return err
	}
	_, changed, err := c.mutate(ctx, clinicID, func(current models.Clinic) (store.ClinicPatch, bool) {
		if current.Active == active {
			return store.ClinicPatch{}, false
		}
		return store.ClinicPatch{Active: &active}, true
	})
	if err != nil {
		return err
	}
	if changed {
		c.record(ctx, s, clinicID, models.ActionSetActive, strconv.FormatBool(active), c.now())
	}
	return nil
}

func (c *Controller) CallByName(ctx context.Context, s auth.Session, clinicID, name string) (err error) {
	ctx, finish := c.begin(ctx, cmdCallByName, clinicID)
	defer func() { finish(err) }()

	if err = c.authorize(s, cmdCallByName, clinicID); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: client name is required", store.ErrInvalidArgument)
	}
	if _, err = c.entities.GetClinic(ctx, clinicID); err != nil {
		return err
	}
	now := c.now()
	if err = c.announce(ctx, models.CallByName{ClinicID: clinicID, ClientName: name}, now); err != nil {
		return err
	}
	c.record(ctx, s, clinicID, models.ActionCallByName, name, now)
	return nil
}

// Transfer records a hand-off between clinics and alerts the receiving
// clinic. Neither counter changes.
func (c *Controller) Transfer(ctx context.Context, s auth.Session, fromClinicID, toClinicID string, clientNumber int) (err error) {
	ctx, finish := c.begin(ctx, cmdTransfer, fromClinicID)
	defer func() { finish(err) }()

	if err = c.authorize(s, cmdTransfer, fromClinicID); err != nil {
		return err
	}
	if clientNumber <= 0 {
		return fmt.Errorf("%w: client number must be positive", store.ErrInvalidArgument)
	}
	if fromClinicID == toClinicID {
		return fmt.Errorf("%w: cannot transfer to the same clinic", store.ErrInvalidArgument)
	}
	from, err := c.entities.GetClinic(ctx, fromClinicID)
	if err != nil {
		return err
	}
	to, err := c.entities.GetClinic(ctx, toClinicID)
	if err != nil {
		return err
	}
	now := c.now()
	record := models.TransferIssued{ClientNumber: clientNumber, FromClinicID: from.ClinicID, ToClinicID: to.ClinicID}
	if err = c.announce(ctx, record, now); err != nil {
		return err
	}
	alert := models.Alert{
		Message:      notify.TransferMessage(clientNumber, from.Name),
		AlertType:    models.AlertTransfer,
		FromClinicID: from.ClinicID,
		ToClinicID:   to.ClinicID,
	}
	if err = c.announce(ctx, alert, now); err != nil {
		return err
	}
	c.record(ctx, s, fromClinicID, models.ActionTransfer, fmt.Sprintf("%d -> %s", clientNumber, to.Name), now)
	return nil
}

func (c *Controller) Emergency(ctx context.Context, s auth.Session, clinicID string) (err error) {
	ctx, finish := c.begin(ctx, cmdEmergency, clinicID)
	defer func() { finish(err) }()

	if err = c.authorize(s, cmdEmergency, clinicID); err != nil {
		return err
	}
	if _, err = c.entities.GetClinic(ctx, clinicID); err != nil {
		return err
	}
	now := c.now()
	if err = c.announce(ctx, models.CallEmergency{ClinicID: clinicID}, now); err != nil {
		return err
	}
	c.record(ctx, s, clinicID, models.ActionEmergency, "", now)
	return nil
}

func (c *Controller) DoctorAlert(ctx context.Context, s auth.Session, clinicID string) (err error) {
	ctx, finish := c.begin(ctx, cmdDoctorAlert, clinicID)
	defer func() { finish(err) }()

	if err = c.authorize(s, cmdDoctorAlert, clinicID); err != nil {
		return err
	}
	clinic, err := c.entities.GetClinic(ctx, clinicID)
	if err != nil {
		return err
	}
	now := c.now()
	alert := models.Alert{
		Message:      notify.DoctorAlertMessage(clinic.Name),
		AlertType:    models.AlertDoctor,
		FromClinicID: clinicID,
	}
	if err = c.announce(ctx, alert, now); err != nil {
		return err
	}
	c.record(ctx, s, clinicID, models.ActionDoctorAlert, "", now)
	return nil
}

func (c *Controller) begin(ctx context.Context, command, clinicID string) (context.Context, func(error)) {
	ctx, span := telemetry.StartSpan(ctx, "queue."+command, clinicID)
	return ctx, func(err error) {
		telemetry.EndSpan(span, err)
		metrics.RecordCommand(command, err)
		if err != nil && !store.IsDomainError(err) {
			logging.Ctx(ctx).Error().Err(err).Str("command", command).Str("clinic_id", clinicID).Msg("queue command failed")
		}
	}
}

func (c *Controller) authorize(s auth.Session, command, clinicID string) error {
	if !Allowed(command, s.Role) {
		return fmt.Errorf("%w: %s not permitted for role %q", store.ErrUnauthorized, command, s.Role)
	}
	if clinicID != "" && !s.CanControl(clinicID) {
		return fmt.Errorf("%w: session cannot control clinic %s", store.ErrUnauthorized, clinicID)
	}
	return nil
}

// mutate applies a patch computed from the current clinic state using
// compare-and-set, reloading and recomputing on version conflicts. build
// returning false means nothing needs writing.
func (c *Controller) mutate(ctx context.Context, clinicID string, build func(models.Clinic) (store.ClinicPatch, bool)) (models.Clinic, bool, error) {
	for attempt := 0; ; attempt++ {
		current, err := c.entities.GetClinic(ctx, clinicID)
		if err != nil {
			return models.Clinic{}, false, err
		}
		patch, write := build(current)
		if !write {
			return current, false, nil
		}
		updated, err := c.entities.CompareAndSwapClinic(ctx, clinicID, current.Version, patch)
		if err == nil {
			return updated, true, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return models.Clinic{}, false, err
		}
		if attempt+1 >= c.retries {
			return models.Clinic{}, false, err
		}
		metrics.QueueCASRetries.Inc()
	}
}

// commitCall moves the counter to the number next picks and announces it.
// With a committer both land in one write. Otherwise a failed append swaps
// the previous counter back.
func (c *Controller) commitCall(ctx context.Context, clinicID string, at time.Time, next func(models.Clinic) int) (models.Clinic, error) {
	for attempt := 0; ; attempt++ {
		current, err := c.entities.GetClinic(ctx, clinicID)
		if err != nil {
			return models.Clinic{}, err
		}
		number := next(current)
		patch := store.ClinicPatch{CurrentNumber: &number, LastCall: &at}
		call := models.CallSpecific{ClinicID: clinicID, ClientNumber: number}

		var updated models.Clinic
		if c.committer != nil {
			var seq int64
			updated, seq, err = c.committer.CommitCall(ctx, clinicID, current.Version, patch, models.Event{Timestamp: at, Payload: call})
			if err == nil {
				c.appended(ctx, call, seq)
				return updated, nil
			}
			if !store.IsDomainError(err) {
				err = fmt.Errorf("commit %s event: %w", call.Type(), err)
			}
		} else {
			updated, err = c.entities.CompareAndSwapClinic(ctx, clinicID, current.Version, patch)
			if err == nil {
				if err = c.announce(ctx, call, at); err != nil {
					c.restore(ctx, current, updated)
					return models.Clinic{}, err
				}
				return updated, nil
			}
		}
		if !errors.Is(err, store.ErrConflict) || attempt+1 >= c.retries {
			return models.Clinic{}, err
		}
		metrics.QueueCASRetries.Inc()
	}
}

// restore puts back the counter and last call of before over the unannounced
// write that produced after.
func (c *Controller) restore(ctx context.Context, before, after models.Clinic) {
	patch := store.ClinicPatch{CurrentNumber: &before.CurrentNumber, LastCall: before.LastCall}
	if _, err := c.entities.CompareAndSwapClinic(ctx, before.ClinicID, after.Version, patch); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("clinic_id", before.ClinicID).
			Int("current_number", after.CurrentNumber).Msg("unannounced counter could not be restored")
	}
}

func (c *Controller) announce(ctx context.Context, payload models.Payload, at time.Time) error {
	seq, err := c.events.Append(ctx, models.Event{Timestamp: at, Payload: payload})
	if err != nil {
		return fmt.Errorf("append %s event: %w", payload.Type(), err)
	}
	c.appended(ctx, payload, seq)
	return nil
}

func (c *Controller) appended(ctx context.Context, payload models.Payload, seq int64) {
	metrics.EventsAppendedTotal.WithLabelValues(string(payload.Type())).Inc()
	logging.Ctx(ctx).Debug().Int64("seq", seq).Str("type", string(payload.Type())).Str("clinic_id", payload.ClinicRef()).Msg("event appended")
}

// record writes the audit entry. The command has already taken effect, so a
// failure is logged and not returned.
func (c *Controller) record(ctx context.Context, s auth.Session, clinicID, action, details string, at time.Time) {
	entry := models.ActionLogEntry{
		ClinicID:  clinicID,
		Action:    action,
		Details:   details,
		Actor:     actorOf(s),
		Timestamp: at,
	}
	if err := c.actions.AppendAction(ctx, entry); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("clinic_id", clinicID).Str("action", action).Msg("action log write failed")
	}
}

func (c *Controller) now() time.Time {
	return c.clock.Now().UTC()
}

func actorOf(s auth.Session) string {
	if s.Actor != "" {
		return s.Actor
	}
	return string(s.Role)
}
