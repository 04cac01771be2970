// Package notify turns event log entries into the local effects a display or
// control session renders: banners, highlight pulses and audio sequences.
package notify

import (
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/waa2l/queue2/internal/metrics"
	"github.com/waa2l/queue2/internal/models"
)

const (
	BannerDuration    = 5 * time.Second
	HighlightDuration = 5 * time.Second
)

const (
	ClassCall      = "call"
	ClassEmergency = "emergency"
	ClassAlert     = "alert"
	ClassInfo      = "info"
)

type SessionKind string

const (
	SessionDisplay SessionKind = "display"
	SessionControl SessionKind = "control"
)

// Audience selects which events a session reacts to. A display with an empty
// ScreenID shows every clinic.
type Audience struct {
	Kind     SessionKind
	ScreenID string
	ClinicID string
}

// Banner is a notification bar message. A zero Duration keeps it up until it
// is replaced.
type Banner struct {
	Text     string
	Class    string
	Duration time.Duration

	// Connectivity marks store connectivity banners. A persistent one comes
	// back after any transient banner expires.
	Connectivity bool
}

func (b Banner) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Text       string `json:"text"`
		Class      string `json:"class"`
		DurationMS int64  `json:"duration_ms"`
	}{b.Text, b.Class, b.Duration.Milliseconds()})
}

type Effect struct {
	Seq       int64            `json:"seq"`
	EventType models.EventType `json:"event_type"`
	Banner    *Banner          `json:"banner,omitempty"`
	Highlight string           `json:"highlight,omitempty"`
	Audio     []string         `json:"audio,omitempty"`
}

// ClinicResolver looks up a clinic in the session's current snapshot.
type ClinicResolver interface {
	Clinic(clinicID string) (models.Clinic, bool)
}

// Router is owned by exactly one session. It renders each event at most once,
// in the order Route is called.
type Router struct {
	clinics ClinicResolver

	mu       sync.Mutex
	audience Audience
	last     int64
}

func NewRouter(audience Audience, clinics ClinicResolver) *Router {
	return &Router{audience: audience, clinics: clinics}
}

// SetAudience changes which events are rendered from now on. Already seen
// sequence ids stay seen.
func (r *Router) SetAudience(audience Audience) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audience = audience
}

// Seen returns the highest sequence id this router has consumed.
func (r *Router) Seen() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Route returns the effect for event and whether the session should render
// it. Redelivered events, events for deleted clinics and events outside the
// audience yield false.
func (r *Router) Route(event models.Event) (Effect, bool) {
	r.mu.Lock()
	if event.Seq <= r.last {
		r.mu.Unlock()
		metrics.RouterDroppedTotal.WithLabelValues("duplicate").Inc()
		return Effect{}, false
	}
	r.last = event.Seq
	audience := r.audience
	r.mu.Unlock()

	var clinic models.Clinic
	if ref := event.ClinicRef(); ref != "" {
		found, ok := r.clinics.Clinic(ref)
		if !ok {
			metrics.RouterDroppedTotal.WithLabelValues("missing_clinic").Inc()
			return Effect{}, false
		}
		clinic = found
	}
	if !wants(audience, event.Payload, clinic) {
		metrics.RouterDroppedTotal.WithLabelValues("audience").Inc()
		return Effect{}, false
	}

	effect := render(event, clinic)
	class := "none"
	if effect.Banner != nil {
		class = effect.Banner.Class
	}
	metrics.RouterEffectsTotal.WithLabelValues(string(audience.Kind), class).Inc()
	return effect, true
}

func wants(audience Audience, payload models.Payload, clinic models.Clinic) bool {
	switch audience.Kind {
	case SessionDisplay:
		switch p := payload.(type) {
		case models.CallSpecific, models.CallEmergency, models.CallByName:
			return onScreen(audience, clinic)
		case models.Alert:
			switch p.AlertType {
			case models.AlertText, models.AlertEmergency:
				return true
			case models.AlertDoctor:
				return onScreen(audience, clinic)
			}
		}
	case SessionControl:
		if p, ok := payload.(models.Alert); ok {
			switch p.AlertType {
			case models.AlertAdmin:
				return true
			case models.AlertTransfer:
				return p.ToClinicID == audience.ClinicID
			}
		}
	}
	return false
}

func onScreen(audience Audience, clinic models.Clinic) bool {
	return audience.ScreenID == "" || clinic.ScreenID == audience.ScreenID
}

func render(event models.Event, clinic models.Clinic) Effect {
	effect := Effect{Seq: event.Seq, EventType: event.Type()}
	switch p := event.Payload.(type) {
	case models.CallSpecific:
		effect.Banner = &Banner{Text: CallMessage(p.ClientNumber, clinic.Name), Class: ClassCall, Duration: BannerDuration}
		effect.Highlight = clinic.ClinicID
		effect.Audio = CallClips(p.ClientNumber, clinic.Number)
	case models.CallEmergency:
		effect.Banner = &Banner{Text: EmergencyMessage(clinic.Name), Class: ClassEmergency, Duration: BannerDuration}
		effect.Highlight = clinic.ClinicID
	case models.CallByName:
		effect.Banner = &Banner{Text: NameCallMessage(p.ClientName, clinic.Name), Class: ClassCall, Duration: BannerDuration}
		effect.Highlight = clinic.ClinicID
		effect.Audio = []string{DingClip, clinicClip(clinic.Number)}
	case models.Alert:
		class := ClassAlert
		if p.AlertType == models.AlertEmergency {
			class = ClassEmergency
		}
		effect.Banner = &Banner{Text: p.Message, Class: class, Duration: BannerDuration}
	}
	return effect
}

const DingClip = "ding.mp3"

// CallClips is the announcement for a numbered call.
func CallClips(clientNumber, clinicNumber int) []string {
	return []string{DingClip, strconv.Itoa(clientNumber) + ".mp3", clinicClip(clinicNumber)}
}

func clinicClip(number int) string {
	return "clinic" + strconv.Itoa(number) + ".mp3"
}

// ConnectionBanner is pushed to every session when store connectivity
// changes. The lost banner stays up until connectivity returns.
func ConnectionBanner(connected bool) Banner {
	if connected {
		return Banner{Text: ConnectionMessage(true), Class: ClassInfo, Duration: BannerDuration, Connectivity: true}
	}
	return Banner{Text: ConnectionMessage(false), Class: ClassEmergency, Connectivity: true}
}
