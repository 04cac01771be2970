package realtime

import (
	"github.com/waa2l/queue2/internal/models"
	"github.com/waa2l/queue2/internal/notify"
	"github.com/waa2l/queue2/internal/session"
)

type highlightFrame struct {
	ClinicID string `json:"clinic_id"`
	On       bool   `json:"on"`
}

type doctorFrame struct {
	DoctorID  string `json:"doctor_id"`
	Name      string `json:"name"`
	Specialty string `json:"specialty,omitempty"`
	Image     string `json:"image,omitempty"`
	Shift     string `json:"shift,omitempty"`

	// WorkingDays lists weekday names. Empty means every day.
	WorkingDays []string `json:"working_days,omitempty"`
}

// output renders session effects as frames. It satisfies both
// session.DisplayOutput and session.ControlOutput.
type output struct {
	sender
}

func (o output) ShowBanner(b notify.Banner) { o.send(frameBanner, b) }

func (o output) ClearBanner() { o.send(frameBannerClear, nil) }

func (o output) SetHighlight(clinicID string, on bool) {
	o.send(frameHighlight, highlightFrame{ClinicID: clinicID, On: on})
}

func (o output) ShowDoctor(d models.Doctor) {
	o.send(frameDoctor, newDoctorFrame(d))
}

func newDoctorFrame(d models.Doctor) doctorFrame {
	frame := doctorFrame{DoctorID: d.DoctorID, Name: d.Name, Specialty: d.Specialty, Image: d.Image, Shift: d.Shift}
	for _, day := range d.WorkingDays {
		frame.WorkingDays = append(frame.WorkingDays, day.String())
	}
	return frame
}

func (o output) HideDoctor() { o.send(frameDoctorHide, nil) }

func (o output) ShowScreen(v session.ScreenView) { o.send(frameScreen, v) }

func (o output) ShowClinic(s session.ClinicState) { o.send(frameClinic, s) }

var (
	_ session.DisplayOutput = output{}
	_ session.ControlOutput = output{}
)
