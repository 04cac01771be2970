package notify

import (
	"sync"
	"time"

	"github.com/waa2l/queue2/internal/models"
	"github.com/waa2l/queue2/internal/schedule"
)

const (
	RotationInterval = 20 * time.Second
	RotationVisible  = 10 * time.Second
)

type DoctorSurface interface {
	ShowDoctor(models.Doctor)
	HideDoctor()
}

// Rotation cycles the doctor banner through the active doctors. Working
// days are shown on the banner but do not filter it. While paused time stands still: Resume arms the next step with
// whatever was left of the interval, so no step is skipped or repeated.
type Rotation struct {
	clock    schedule.Clock
	surface  DoctorSurface
	interval time.Duration
	visible  time.Duration

	mu        sync.Mutex
	doctors   []models.Doctor
	index     int
	running   bool
	paused    bool
	fresh     bool
	nextAt    time.Time
	remaining time.Duration
	step      schedule.Timer
	hide      schedule.Timer
	gen       uint64
	stopped   bool
}

func NewRotation(clock schedule.Clock, surface DoctorSurface) *Rotation {
	return &Rotation{clock: clock, surface: surface, interval: RotationInterval, visible: RotationVisible}
}

// SetDoctors replaces the doctor list. The rotation starts with the first
// doctor when the list becomes non-empty and stops when it empties.
func (r *Rotation) SetDoctors(doctors []models.Doctor) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	var currentID string
	if r.running && r.index < len(r.doctors) {
		currentID = r.doctors[r.index].DoctorID
	}
	r.doctors = r.doctors[:0]
	for _, d := range doctors {
		if d.Active {
			r.doctors = append(r.doctors, d)
		}
	}

	if len(r.doctors) == 0 {
		wasRunning := r.running
		r.haltLocked()
		r.mu.Unlock()
		if wasRunning {
			r.surface.HideDoctor()
		}
		return
	}

	if r.running {
		r.index = 0
		for i, d := range r.doctors {
			if d.DoctorID == currentID {
				r.index = i
				break
			}
		}
		r.mu.Unlock()
		return
	}

	r.running = true
	r.index = 0
	if r.paused {
		r.fresh = true
		r.mu.Unlock()
		return
	}
	r.startLocked()
}

// startLocked shows the doctor at index and schedules the next step. It
// releases the lock.
func (r *Rotation) startLocked() {
	show, ok := r.showLocked()
	r.armLocked(r.interval)
	r.mu.Unlock()
	if ok {
		r.surface.ShowDoctor(show)
	}
}

// Pause hides the banner and freezes the rotation.
func (r *Rotation) Pause() {
	r.mu.Lock()
	if r.stopped || r.paused {
		r.mu.Unlock()
		return
	}
	r.paused = true
	hadBanner := r.hide != nil
	if r.running {
		r.remaining = r.nextAt.Sub(r.clock.Now())
		if r.remaining < 0 {
			r.remaining = 0
		}
	}
	r.cancelTimersLocked()
	r.mu.Unlock()
	if hadBanner {
		r.surface.HideDoctor()
	}
}

// Resume continues a paused rotation with the step that was due next.
func (r *Rotation) Resume() {
	r.mu.Lock()
	if r.stopped || !r.paused {
		r.mu.Unlock()
		return
	}
	r.paused = false
	if !r.running {
		r.mu.Unlock()
		return
	}
	if r.fresh {
		r.fresh = false
		r.startLocked()
		return
	}
	r.armLocked(r.remaining)
	r.mu.Unlock()
}

// Stop releases the rotation's timers permanently.
func (r *Rotation) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	r.haltLocked()
}

// Current returns the doctor at the rotation index.
func (r *Rotation) Current() (models.Doctor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running || r.index >= len(r.doctors) {
		return models.Doctor{}, false
	}
	return r.doctors[r.index], true
}

func (r *Rotation) advance(gen uint64) {
	r.mu.Lock()
	if r.stopped || r.paused || gen != r.gen || len(r.doctors) == 0 {
		r.mu.Unlock()
		return
	}
	r.index = (r.index + 1) % len(r.doctors)
	r.startLocked()
}

// showLocked arms the hide timer for the doctor at index.
func (r *Rotation) showLocked() (models.Doctor, bool) {
	if r.index >= len(r.doctors) {
		return models.Doctor{}, false
	}
	gen := r.gen
	if r.hide != nil {
		r.hide.Stop()
	}
	r.hide = r.clock.AfterFunc(r.visible, func() { r.expire(gen) })
	return r.doctors[r.index], true
}

func (r *Rotation) expire(gen uint64) {
	r.mu.Lock()
	if r.stopped || gen != r.gen {
		r.mu.Unlock()
		return
	}
	r.hide = nil
	r.mu.Unlock()
	r.surface.HideDoctor()
}

func (r *Rotation) armLocked(d time.Duration) {
	if r.step != nil {
		r.step.Stop()
	}
	gen := r.gen
	r.nextAt = r.clock.Now().Add(d)
	r.step = r.clock.AfterFunc(d, func() { r.advance(gen) })
}

func (r *Rotation) cancelTimersLocked() {
	r.gen++
	if r.step != nil {
		r.step.Stop()
		r.step = nil
	}
	if r.hide != nil {
		r.hide.Stop()
		r.hide = nil
	}
}

func (r *Rotation) haltLocked() {
	r.cancelTimersLocked()
	r.running = false
	r.fresh = false
	r.index = 0
	r.remaining = 0
}
