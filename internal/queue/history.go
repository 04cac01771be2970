package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/waa2l/queue2/internal/auth"
	"github.com/waa2l/queue2/internal/models"
	"github.com/waa2l/queue2/internal/store"
)

// RecentActionLimit is how many action log entries a control panel shows.
const RecentActionLimit = 5

func (c *Controller) RecentActions(ctx context.Context, s auth.Session, clinicID string) ([]models.ActionLogEntry, error) {
	if !s.CanControl(clinicID) {
		return nil, fmt.Errorf("%w: session cannot read clinic %s", store.ErrUnauthorized, clinicID)
	}
	if _, err := c.entities.GetClinic(ctx, clinicID); err != nil {
		return nil, err
	}
	return c.actions.RecentActions(ctx, clinicID, RecentActionLimit)
}

type DailyStats struct {
	ClinicID      string     `json:"clinic_id"`
	Date          string     `json:"date"`
	CallsToday    int        `json:"calls_today"`
	CurrentNumber int        `json:"current_number"`
	LastCall      *time.Time `json:"last_call,omitempty"`
}

// statsPage is how many events Stats reads per query.
const statsPage = 1000

// Stats counts today's announced numbers for a clinic in loc.
func (c *Controller) Stats(ctx context.Context, clinicID string, loc *time.Location) (DailyStats, error) {
	if loc == nil {
		loc = time.Local
	}
	clinic, err := c.entities.GetClinic(ctx, clinicID)
	if err != nil {
		return DailyStats{}, err
	}
	now := c.clock.Now().In(loc)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	stats := DailyStats{
		ClinicID:      clinicID,
		Date:          dayStart.Format("2006-01-02"),
		CurrentNumber: clinic.CurrentNumber,
		LastCall:      clinic.LastCall,
	}
	first, err := c.firstSeqSince(ctx, dayStart)
	if err != nil {
		return DailyStats{}, err
	}
	after := first - 1
	for {
		events, err := c.events.ReadAfter(ctx, after, statsPage)
		if err != nil {
			return DailyStats{}, err
		}
		for _, event := range events {
			call, ok := event.Payload.(models.CallSpecific)
			if !ok || call.ClinicID != clinicID || event.Timestamp.Before(dayStart) {
				continue
			}
			stats.CallsToday++
		}
		if len(events) < statsPage {
			return stats, nil
		}
		after = events[len(events)-1].Seq
	}
}

// firstSeqSince binary searches the log for the oldest event stamped at or
// after since. Events are appended in time order. With no such event it
// returns one past the newest sequence.
func (c *Controller) firstSeqSince(ctx context.Context, since time.Time) (int64, error) {
	tail, err := c.events.ReadLastN(ctx, 1)
	if err != nil {
		return 0, err
	}
	if len(tail) == 0 {
		return 1, nil
	}
	lo, hi := int64(1), tail[0].Seq+1
	for lo < hi {
		mid := lo + (hi-lo)/2
		page, err := c.events.ReadAfter(ctx, mid-1, 1)
		if err != nil {
			return 0, err
		}
		if len(page) == 0 || !page[0].Timestamp.Before(since) {
			hi = mid
			continue
		}
		lo = page[0].Seq + 1
	}
	return lo, nil
}
