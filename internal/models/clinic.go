package models

import "time"

type Clinic struct {
	ClinicID      string     `json:"clinic_id"`
	Name          string     `json:"name"`
	Number        int        `json:"number"`
	ScreenID      string     `json:"screen_id,omitempty"`
	CurrentNumber int        `json:"current_number"`
	Active        bool       `json:"active"`
	LastCall      *time.Time `json:"last_call,omitempty"`
	PasswordHash  string     `json:"-"`
	Version       int64      `json:"version"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type Screen struct {
	ScreenID     string    `json:"screen_id"`
	Name         string    `json:"name"`
	Number       int       `json:"number"`
	PasswordHash string    `json:"-"`
	Active       bool      `json:"active"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Doctor struct {
	DoctorID    string         `json:"doctor_id"`
	Name        string         `json:"name"`
	Phone       string         `json:"phone,omitempty"`
	Specialty   string         `json:"specialty,omitempty"`
	Image       string         `json:"image,omitempty"`
	WorkingDays []time.Weekday `json:"working_days,omitempty"`
	Shift       string         `json:"shift"`
	Active      bool           `json:"active"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

const (
	ShiftMorning = "morning"
	ShiftEvening = "evening"
	ShiftBoth    = "both"
)

func ValidShift(shift string) bool {
	switch shift {
	case ShiftMorning, ShiftEvening, ShiftBoth:
		return true
	}
	return false
}

// WorksOn reports whether the doctor is scheduled on the given weekday.
// An empty schedule means every day.
func (d Doctor) WorksOn(day time.Weekday) bool {
	if len(d.WorkingDays) == 0 {
		return true
	}
	for _, wd := range d.WorkingDays {
		if wd == day {
			return true
		}
	}
	return false
}

type ActionLogEntry struct {
	ClinicID  string    `json:"clinic_id"`
	Action    string    `json:"action"`
	Details   string    `json:"details,omitempty"`
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	ActionAdvance     = "advance"
	ActionRetreat     = "retreat"
	ActionJump        = "jump"
	ActionRepeat      = "repeat"
	ActionReset       = "reset"
	ActionSetActive   = "set_active"
	ActionCallByName  = "call_by_name"
	ActionTransfer    = "transfer"
	ActionEmergency   = "emergency"
	ActionDoctorAlert = "doctor_alert"
)
