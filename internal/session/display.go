package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/waa2l/queue2/internal/audio"
	"github.com/waa2l/queue2/internal/logging"
	"github.com/waa2l/queue2/internal/models"
	"github.com/waa2l/queue2/internal/notify"
	"github.com/waa2l/queue2/internal/schedule"
	"github.com/waa2l/queue2/internal/store"
)

// ScreenView is what a display renders in its clinic grid.
type ScreenView struct {
	ScreenID     string       `json:"screen_id,omitempty"`
	ScreenName   string       `json:"screen_name,omitempty"`
	Clinics      []ClinicCard `json:"clinics"`
	EmptyMessage string       `json:"empty_message,omitempty"`
}

type DisplayOutput interface {
	notify.Surface
	notify.DoctorSurface
	ShowScreen(ScreenView)
}

type DisplayConfig struct {
	ScreenID   string
	Clock      schedule.Clock
	RetryDelay time.Duration
}

// Display is a public screen session.
type Display struct {
	base

	entities  store.EntityStore
	events    store.EventLog
	out       DisplayOutput
	sequencer *audio.Sequencer
	rotation  *notify.Rotation
	clinics   *clinicSnapshot

	stateMu    sync.Mutex
	screenID   string
	screenName string
	doctors    map[string]models.Doctor
}

func NewDisplay(entities store.EntityStore, events store.EventLog, out DisplayOutput, sequencer *audio.Sequencer, cfg DisplayConfig) *Display {
	d := &Display{
		base:      newBase(notify.SessionDisplay, cfg.Clock, cfg.RetryDelay),
		entities:  entities,
		events:    events,
		out:       out,
		sequencer: sequencer,
		clinics:   newClinicSnapshot(),
		screenID:  cfg.ScreenID,
		doctors:   make(map[string]models.Doctor),
	}
	d.presenter = notify.NewPresenter(d.clock, out)
	d.rotation = notify.NewRotation(d.clock, out)
	d.router = notify.NewRouter(notify.Audience{Kind: notify.SessionDisplay, ScreenID: cfg.ScreenID}, d.clinics)
	d.handler = d
	return d
}

// Start checks the screen exists and subscribes from now.
func (d *Display) Start(ctx context.Context) error {
	if err := d.loadScreen(ctx, d.ScreenID()); err != nil {
		return err
	}
	return d.start(ctx)
}

func (d *Display) ScreenID() string {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.screenID
}

// SetScreen switches the display to another screen, releasing the current
// subscriptions first.
func (d *Display) SetScreen(ctx context.Context, screenID string) error {
	if err := d.loadScreen(ctx, screenID); err != nil {
		return err
	}
	d.stateMu.Lock()
	d.screenID = screenID
	d.stateMu.Unlock()
	d.router.SetAudience(notify.Audience{Kind: notify.SessionDisplay, ScreenID: screenID})
	d.sequencer.Cancel()
	return d.restart()
}

func (d *Display) loadScreen(ctx context.Context, screenID string) error {
	name := ""
	if screenID != "" {
		screen, err := d.entities.GetScreen(ctx, screenID)
		if err != nil {
			return err
		}
		name = screen.Name
	}
	d.stateMu.Lock()
	d.screenName = name
	d.stateMu.Unlock()
	return nil
}

// SetVisible pauses or resumes the display. Hiding releases every
// subscription, stops audio and freezes the doctor rotation.
func (d *Display) SetVisible(visible bool) error {
	changed, err := d.setVisible(visible)
	if !changed {
		return err
	}
	if visible {
		d.rotation.Resume()
	} else {
		d.sequencer.Cancel()
		d.rotation.Pause()
	}
	return err
}

func (d *Display) Close() {
	if !d.close() {
		return
	}
	d.sequencer.Cancel()
	d.rotation.Stop()
}

// View renders the current clinic grid.
func (d *Display) View() ScreenView {
	d.stateMu.Lock()
	view := ScreenView{ScreenID: d.screenID, ScreenName: d.screenName}
	d.stateMu.Unlock()
	for _, c := range d.clinics.onScreen(view.ScreenID) {
		view.Clinics = append(view.Clinics, cardOf(c))
	}
	if len(view.Clinics) == 0 {
		view.Clinics = []ClinicCard{}
		view.EmptyMessage = notify.EmptyScreenMessage()
	}
	return view
}

func (d *Display) subscribe(ctx context.Context, cursor store.Cursor) (*feeds, error) {
	f := &feeds{}
	var err error
	if f.clinics, err = d.entities.Subscribe(ctx, store.KindClinic, ""); err != nil {
		return nil, err
	}
	if f.doctors, err = d.entities.Subscribe(ctx, store.KindDoctor, ""); err != nil {
		f.cancel()
		return nil, err
	}
	if f.events, err = d.events.SubscribeFrom(ctx, cursor); err != nil {
		f.cancel()
		return nil, err
	}
	return f, nil
}

func (d *Display) onChange(_ context.Context, change store.Change) {
	switch change.Kind {
	case store.KindClinic:
		d.clinics.apply(change)
		d.out.ShowScreen(d.View())
	case store.KindDoctor:
		d.stateMu.Lock()
		defer d.stateMu.Unlock()
		if change.Deleted || change.Doctor == nil {
			delete(d.doctors, change.ID)
		} else {
			d.doctors[change.ID] = *change.Doctor
		}
		doctors := make([]models.Doctor, 0, len(d.doctors))
		for _, doc := range d.doctors {
			doctors = append(doctors, doc)
		}
		sort.Slice(doctors, func(i, j int) bool {
			if doctors[i].Name != doctors[j].Name {
				return doctors[i].Name < doctors[j].Name
			}
			return doctors[i].DoctorID < doctors[j].DoctorID
		})
		d.rotation.SetDoctors(doctors)
	}
}

func (d *Display) onEvent(ctx context.Context, event models.Event) {
	effect, ok := d.router.Route(event)
	if !ok {
		return
	}
	d.presenter.Apply(effect)
	if len(effect.Audio) > 0 {
		d.sequencer.Start(ctx, effect.Audio)
	}
	logging.Ctx(ctx).Debug().Int64("seq", event.Seq).Str("type", string(event.Type())).Msg("display effect")
}
