package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/waa2l/queue2/internal/logging"
	"github.com/waa2l/queue2/internal/metrics"
)

// NextDaily returns the first hh:mm in now's location strictly after now.
func NextDaily(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

type DailyOptions struct {
	Hour     int
	Minute   int
	Location *time.Location
	// Interval between runs after the first one. Defaults to 24h.
	Interval time.Duration
	Name     string
}

// Daily runs a job at the next configured wall-clock time, then every
// Interval. It implements the supervisor service contract.
type Daily struct {
	clock Clock
	job   func(ctx context.Context) error
	opts  DailyOptions
}

func NewDaily(clock Clock, job func(ctx context.Context) error, opts DailyOptions) (*Daily, error) {
	if opts.Hour < 0 || opts.Hour > 23 || opts.Minute < 0 || opts.Minute > 59 {
		return nil, fmt.Errorf("invalid daily time %02d:%02d", opts.Hour, opts.Minute)
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Interval <= 0 {
		opts.Interval = 24 * time.Hour
	}
	if opts.Name == "" {
		opts.Name = "daily-job"
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &Daily{clock: clock, job: job, opts: opts}, nil
}

func (d *Daily) Serve(ctx context.Context) error {
	now := d.clock.Now().In(d.opts.Location)
	first := NextDaily(now, d.opts.Hour, d.opts.Minute)
	logging.Info().Str("job", d.opts.Name).Time("next_run", first).Msg("daily job scheduled")

	wait := first.Sub(now)
	for {
		if err := Sleep(ctx, d.clock, wait); err != nil {
			return err
		}
		d.run(ctx)
		wait = d.opts.Interval
	}
}

func (d *Daily) run(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if err := d.job(runCtx); err != nil {
		metrics.DailyResetsTotal.WithLabelValues("error").Inc()
		logging.Error().Err(err).Str("job", d.opts.Name).Msg("daily job failed")
		return
	}
	metrics.DailyResetsTotal.WithLabelValues("ok").Inc()
	logging.Info().Str("job", d.opts.Name).Msg("daily job completed")
}

func (d *Daily) String() string {
	return d.opts.Name
}
