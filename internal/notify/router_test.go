package notify

import (
	"reflect"
	"testing"

	"github.com/waa2l/queue2/internal/models"
)

type staticClinics map[string]models.Clinic

func (s staticClinics) Clinic(id string) (models.Clinic, bool) {
	c, ok := s[id]
	return c, ok
}

var testClinics = staticClinics{
	"c1": {ClinicID: "c1", Name: "الأسنان", Number: 2, ScreenID: "s1"},
	"c2": {ClinicID: "c2", Name: "الباطنة", Number: 5, ScreenID: "s2"},
}

func call(seq int64, clinicID string, number int) models.Event {
	return models.Event{Seq: seq, Payload: models.CallSpecific{ClinicID: clinicID, ClientNumber: number}}
}

func TestRouteCallEffect(t *testing.T) {
	r := NewRouter(Audience{Kind: SessionDisplay}, testClinics)
	effect, ok := r.Route(call(1, "c1", 4))
	if !ok {
		t.Fatalf("expected call to be routed")
	}
	if want := []string{"ding.mp3", "4.mp3", "clinic2.mp3"}; !reflect.DeepEqual(effect.Audio, want) {
		t.Fatalf("audio = %v, want %v", effect.Audio, want)
	}
	if effect.Banner == nil || effect.Banner.Class != ClassCall || effect.Banner.Duration != BannerDuration {
		t.Fatalf("unexpected banner %+v", effect.Banner)
	}
	if effect.Banner.Text != "على العميل رقم ٤ التوجه إلى الأسنان" {
		t.Fatalf("unexpected banner text %q", effect.Banner.Text)
	}
	if effect.Highlight != "c1" {
		t.Fatalf("highlight = %q", effect.Highlight)
	}
}

func TestRouteDeduplicatesBySequence(t *testing.T) {
	r := NewRouter(Audience{Kind: SessionDisplay}, testClinics)
	delivered := 0
	for _, seq := range []int64{1, 1, 2, 1, 2, 3, 3} {
		if _, ok := r.Route(call(seq, "c1", int(seq))); ok {
			delivered++
		}
	}
	if delivered != 3 {
		t.Fatalf("delivered %d effects, want 3", delivered)
	}
	if r.Seen() != 3 {
		t.Fatalf("seen = %d", r.Seen())
	}
}

func TestRouteDropsMissingClinic(t *testing.T) {
	r := NewRouter(Audience{Kind: SessionDisplay}, testClinics)
	if _, ok := r.Route(call(1, "gone", 4)); ok {
		t.Fatalf("event for a deleted clinic must be dropped")
	}
	if _, ok := r.Route(call(2, "c1", 5)); !ok {
		t.Fatalf("router must keep working after a drop")
	}
}

func TestRouteAudience(t *testing.T) {
	tests := []struct {
		name     string
		audience Audience
		payload  models.Payload
		want     bool
	}{
		{"display other screen", Audience{Kind: SessionDisplay, ScreenID: "s2"}, models.CallSpecific{ClinicID: "c1", ClientNumber: 1}, false},
		{"display own screen", Audience{Kind: SessionDisplay, ScreenID: "s1"}, models.CallEmergency{ClinicID: "c1"}, true},
		{"display by name", Audience{Kind: SessionDisplay, ScreenID: "s1"}, models.CallByName{ClinicID: "c1", ClientName: "Ali"}, true},
		{"display text alert", Audience{Kind: SessionDisplay, ScreenID: "s2"}, models.Alert{Message: "hi", AlertType: models.AlertText}, true},
		{"display doctor alert other screen", Audience{Kind: SessionDisplay, ScreenID: "s2"}, models.Alert{Message: "dr", AlertType: models.AlertDoctor, FromClinicID: "c1"}, false},
		{"display admin alert", Audience{Kind: SessionDisplay}, models.Alert{Message: "x", AlertType: models.AlertAdmin}, false},
		{"display transfer record", Audience{Kind: SessionDisplay}, models.TransferIssued{ClientNumber: 7, FromClinicID: "c1", ToClinicID: "c2"}, false},
		{"control call", Audience{Kind: SessionControl, ClinicID: "c1"}, models.CallSpecific{ClinicID: "c1", ClientNumber: 1}, false},
		{"control admin alert", Audience{Kind: SessionControl, ClinicID: "c1"}, models.Alert{Message: "x", AlertType: models.AlertAdmin}, true},
		{"control transfer to me", Audience{Kind: SessionControl, ClinicID: "c2"}, models.Alert{Message: "t", AlertType: models.AlertTransfer, FromClinicID: "c1", ToClinicID: "c2"}, true},
		{"control transfer elsewhere", Audience{Kind: SessionControl, ClinicID: "c1"}, models.Alert{Message: "t", AlertType: models.AlertTransfer, FromClinicID: "c2", ToClinicID: "c1"}, true},
		{"control transfer not mine", Audience{Kind: SessionControl, ClinicID: "c3"}, models.Alert{Message: "t", AlertType: models.AlertTransfer, FromClinicID: "c1", ToClinicID: "c2"}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRouter(tc.audience, testClinics)
			_, ok := r.Route(models.Event{Seq: 1, Payload: tc.payload})
			if ok != tc.want {
				t.Fatalf("routed = %v, want %v", ok, tc.want)
			}
		})
	}
}

func TestRouteByNameAndAlerts(t *testing.T) {
	r := NewRouter(Audience{Kind: SessionDisplay}, testClinics)
	effect, ok := r.Route(models.Event{Seq: 1, Payload: models.CallByName{ClinicID: "c2", ClientName: "سارة"}})
	if !ok {
		t.Fatalf("by-name call not routed")
	}
	if effect.Banner.Text != "على سارة التوجه إلى الباطنة" {
		t.Fatalf("unexpected banner %q", effect.Banner.Text)
	}
	if want := []string{"ding.mp3", "clinic5.mp3"}; !reflect.DeepEqual(effect.Audio, want) {
		t.Fatalf("audio = %v", effect.Audio)
	}

	effect, ok = r.Route(models.Event{Seq: 2, Payload: models.Alert{Message: "إخلاء", AlertType: models.AlertEmergency}})
	if !ok || effect.Banner.Class != ClassEmergency || effect.Audio != nil || effect.Highlight != "" {
		t.Fatalf("unexpected emergency alert effect %+v", effect)
	}
}

func TestConnectionBanner(t *testing.T) {
	lost := ConnectionBanner(false)
	if lost.Duration != 0 || !lost.Connectivity {
		t.Fatalf("connection lost banner must persist in the connectivity slot")
	}
	if restored := ConnectionBanner(true); restored.Duration != BannerDuration || restored.Text == lost.Text {
		t.Fatalf("unexpected restored banner %+v", restored)
	}
}
