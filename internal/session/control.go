package session

import (
	"context"
	"sync"
	"time"

	"github.com/waa2l/queue2/internal/auth"
	"github.com/waa2l/queue2/internal/logging"
	"github.com/waa2l/queue2/internal/models"
	"github.com/waa2l/queue2/internal/notify"
	"github.com/waa2l/queue2/internal/schedule"
	"github.com/waa2l/queue2/internal/store"
)

// ClinicState is what a control panel renders for its clinic.
type ClinicState struct {
	Clinic  ClinicCard              `json:"clinic"`
	Recent  []models.ActionLogEntry `json:"recent_actions"`
	Removed bool                    `json:"removed,omitempty"`
}

type ControlOutput interface {
	notify.Surface
	ShowClinic(ClinicState)
}

type ControlConfig struct {
	Clock       schedule.Clock
	RetryDelay  time.Duration
	RecentLimit int
}

// actionRefreshDelay gives the controller time to write the action log entry
// that follows each state change or event.
const actionRefreshDelay = 300 * time.Millisecond

// Control is a clinic control panel session. It follows its own clinic and
// shows admin alerts and transfers addressed to it.
type Control struct {
	base

	session  auth.Session
	entities store.EntityStore
	events   store.EventLog
	actions  store.ActionLog
	out      ControlOutput
	clinics  *clinicSnapshot
	recent   int

	refreshMu sync.Mutex
	refresh   schedule.Timer
	lastLog   []models.ActionLogEntry
}

func NewControl(s auth.Session, entities store.EntityStore, events store.EventLog, actions store.ActionLog, out ControlOutput, cfg ControlConfig) *Control {
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = 5
	}
	c := &Control{
		base:     newBase(notify.SessionControl, cfg.Clock, cfg.RetryDelay),
		session:  s,
		entities: entities,
		events:   events,
		actions:  actions,
		out:      out,
		clinics:  newClinicSnapshot(),
		recent:   cfg.RecentLimit,
	}
	c.presenter = notify.NewPresenter(c.clock, out)
	c.router = notify.NewRouter(notify.Audience{Kind: notify.SessionControl, ClinicID: s.ClinicID}, c.clinics)
	c.handler = c
	return c
}

func (c *Control) Start(ctx context.Context) error {
	if c.session.ClinicID == "" || !c.session.CanControl(c.session.ClinicID) {
		return store.ErrUnauthorized
	}
	if _, err := c.entities.GetClinic(ctx, c.session.ClinicID); err != nil {
		return err
	}
	return c.start(ctx)
}

func (c *Control) Session() auth.Session { return c.session }

func (c *Control) SetVisible(visible bool) error {
	_, err := c.setVisible(visible)
	return err
}

func (c *Control) Close() {
	c.close()
}

func (c *Control) subscribe(ctx context.Context, cursor store.Cursor) (*feeds, error) {
	f := &feeds{}
	var err error
	if f.clinics, err = c.entities.Subscribe(ctx, store.KindClinic, c.session.ClinicID); err != nil {
		return nil, err
	}
	if f.events, err = c.events.SubscribeFrom(ctx, cursor); err != nil {
		f.cancel()
		return nil, err
	}
	return f, nil
}

func (c *Control) onChange(ctx context.Context, change store.Change) {
	if change.Kind != store.KindClinic || change.ID != c.session.ClinicID {
		return
	}
	c.clinics.apply(change)
	if change.Deleted || change.Clinic == nil {
		c.out.ShowClinic(ClinicState{Clinic: ClinicCard{ClinicID: change.ID}, Removed: true})
		return
	}
	c.refreshMu.Lock()
	recent := c.lastLog
	c.refreshMu.Unlock()
	c.out.ShowClinic(ClinicState{Clinic: cardOf(*change.Clinic), Recent: recent})
	c.scheduleRefresh(ctx)
}

func (c *Control) onEvent(ctx context.Context, event models.Event) {
	if event.ClinicRef() == c.session.ClinicID || fromClinic(event.Payload) == c.session.ClinicID {
		c.scheduleRefresh(ctx)
	}
	effect, ok := c.router.Route(event)
	if !ok {
		return
	}
	c.presenter.Apply(effect)
}

func fromClinic(p models.Payload) string {
	switch v := p.(type) {
	case models.TransferIssued:
		return v.FromClinicID
	case models.Alert:
		return v.FromClinicID
	}
	return ""
}

// scheduleRefresh reloads the recent actions once the pending writes have
// landed. Bursts of changes share one reload.
func (c *Control) scheduleRefresh(ctx context.Context) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	if c.refresh != nil {
		return
	}
	c.refresh = c.clock.AfterFunc(actionRefreshDelay, func() {
		c.refreshMu.Lock()
		c.refresh = nil
		c.refreshMu.Unlock()
		if ctx.Err() != nil {
			return
		}
		c.reloadActions(ctx)
	})
}

func (c *Control) reloadActions(ctx context.Context) {
	clinic, ok := c.clinics.Clinic(c.session.ClinicID)
	if !ok {
		return
	}
	recent, err := c.actions.RecentActions(ctx, clinic.ClinicID, c.recent)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("clinic_id", clinic.ClinicID).Msg("load recent actions failed")
		return
	}
	c.refreshMu.Lock()
	c.lastLog = recent
	c.refreshMu.Unlock()
	c.out.ShowClinic(ClinicState{Clinic: cardOf(clinic), Recent: recent})
}
