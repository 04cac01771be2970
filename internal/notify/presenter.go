package notify

import (
	"sync"

	"github.com/waa2l/queue2/internal/schedule"
)

// Surface is where a session draws banners and highlight pulses.
type Surface interface {
	ShowBanner(Banner)
	ClearBanner()
	SetHighlight(clinicID string, on bool)
}

// Presenter applies effects to a Surface and clears them when their timers
// expire. A new banner replaces the current one and restarts its timer. A
// persistent connectivity banner is kept aside and shown again once the
// banner covering it expires.
type Presenter struct {
	clock   schedule.Clock
	surface Surface

	mu         sync.Mutex
	bannerGen  uint64
	banner     schedule.Timer
	offline    *Banner
	highlights map[string]*pulse
	stopped    bool
}

type pulse struct {
	gen   uint64
	timer schedule.Timer
}

func NewPresenter(clock schedule.Clock, surface Surface) *Presenter {
	return &Presenter{clock: clock, surface: surface, highlights: make(map[string]*pulse)}
}

func (p *Presenter) Apply(effect Effect) {
	if effect.Banner != nil {
		p.ShowBanner(*effect.Banner)
	}
	if effect.Highlight != "" {
		p.Highlight(effect.Highlight)
	}
}

func (p *Presenter) ShowBanner(b Banner) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	if p.banner != nil {
		p.banner.Stop()
		p.banner = nil
	}
	if b.Connectivity {
		p.offline = nil
		if b.Duration <= 0 {
			offline := b
			p.offline = &offline
		}
	}
	p.bannerGen++
	gen := p.bannerGen
	if b.Duration > 0 {
		p.banner = p.clock.AfterFunc(b.Duration, func() { p.expireBanner(gen) })
	}
	p.mu.Unlock()
	p.surface.ShowBanner(b)
}

func (p *Presenter) expireBanner(gen uint64) {
	p.mu.Lock()
	if p.stopped || gen != p.bannerGen {
		p.mu.Unlock()
		return
	}
	p.banner = nil
	offline := p.offline
	p.mu.Unlock()
	if offline != nil {
		p.surface.ShowBanner(*offline)
		return
	}
	p.surface.ClearBanner()
}

func (p *Presenter) Highlight(clinicID string) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	current, ok := p.highlights[clinicID]
	if !ok {
		current = &pulse{}
		p.highlights[clinicID] = current
	} else if current.timer != nil {
		current.timer.Stop()
	}
	current.gen++
	gen := current.gen
	current.timer = p.clock.AfterFunc(HighlightDuration, func() { p.expireHighlight(clinicID, gen) })
	p.mu.Unlock()
	p.surface.SetHighlight(clinicID, true)
}

func (p *Presenter) expireHighlight(clinicID string, gen uint64) {
	p.mu.Lock()
	current, ok := p.highlights[clinicID]
	if p.stopped || !ok || current.gen != gen {
		p.mu.Unlock()
		return
	}
	delete(p.highlights, clinicID)
	p.mu.Unlock()
	p.surface.SetHighlight(clinicID, false)
}

// Stop cancels every pending timer. The surface is left as is.
func (p *Presenter) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	if p.banner != nil {
		p.banner.Stop()
	}
	for id, h := range p.highlights {
		h.timer.Stop()
		delete(p.highlights, id)
	}
}
