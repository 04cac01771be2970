package schedule

import (
	"context"
	"testing"
	"time"
)

func TestNextDaily(t *testing.T) {
	loc := time.FixedZone("AST", 3*3600)
	cases := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before six", time.Date(2026, 4, 10, 5, 59, 0, 0, loc), time.Date(2026, 4, 10, 6, 0, 0, 0, loc)},
		{"exactly six", time.Date(2026, 4, 10, 6, 0, 0, 0, loc), time.Date(2026, 4, 11, 6, 0, 0, 0, loc)},
		{"evening", time.Date(2026, 4, 10, 22, 15, 0, 0, loc), time.Date(2026, 4, 11, 6, 0, 0, 0, loc)},
		{"month end", time.Date(2026, 4, 30, 7, 0, 0, 0, loc), time.Date(2026, 5, 1, 6, 0, 0, 0, loc)},
	}
	for _, tt := range cases {
		if got := NextDaily(tt.now, 6, 0); !got.Equal(tt.want) {
			t.Fatalf("%s: NextDaily=%v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestFakeClockFiresInOrder(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	var fired []string
	clock.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	clock.AfterFunc(time.Second, func() { fired = append(fired, "a") })
	stopped := clock.AfterFunc(1500*time.Millisecond, func() { fired = append(fired, "x") })
	if !stopped.Stop() {
		t.Fatalf("expected stop to succeed")
	}

	clock.Advance(3 * time.Second)
	if len(fired) != 2 || fired[0] != "a" || fired[1] != "b" {
		t.Fatalf("unexpected firing order %v", fired)
	}
	if got := clock.Now(); !got.Equal(time.Unix(3, 0)) {
		t.Fatalf("clock at %v, want 3s", got)
	}
}

func TestSleepHonoursContext(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, clock, time.Hour); err == nil {
		t.Fatalf("expected context error")
	}
	if clock.Pending() != 0 {
		t.Fatalf("timer should be stopped")
	}
}

func TestDailyRunsAtSixThenEvery24h(t *testing.T) {
	loc := time.UTC
	clock := NewFakeClock(time.Date(2026, 4, 10, 23, 0, 0, 0, loc))
	runs := make(chan time.Time, 4)
	daily, err := NewDaily(clock, func(context.Context) error {
		runs <- clock.Now()
		return nil
	}, DailyOptions{Hour: 6, Location: loc, Name: "reset"})
	if err != nil {
		t.Fatalf("new daily: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- daily.Serve(ctx) }()

	clock.BlockUntil(1)
	clock.Advance(6*time.Hour + 59*time.Minute)
	select {
	case <-runs:
		t.Fatalf("job ran before 06:00")
	default:
	}
	clock.Advance(time.Minute)
	first := waitRun(t, runs)
	if want := time.Date(2026, 4, 11, 6, 0, 0, 0, loc); !first.Equal(want) {
		t.Fatalf("first run at %v, want %v", first, want)
	}

	clock.BlockUntil(1)
	clock.Advance(24 * time.Hour)
	second := waitRun(t, runs)
	if want := time.Date(2026, 4, 12, 6, 0, 0, 0, loc); !second.Equal(want) {
		t.Fatalf("second run at %v, want %v", second, want)
	}

	cancel()
	if err := <-done; err == nil {
		t.Fatalf("expected context error on shutdown")
	}
}

func TestNewDailyRejectsBadTime(t *testing.T) {
	if _, err := NewDaily(nil, func(context.Context) error { return nil }, DailyOptions{Hour: 24}); err == nil {
		t.Fatalf("expected error for hour 24")
	}
}

func waitRun(t *testing.T, runs <-chan time.Time) time.Time {
	t.Helper()
	select {
	case at := <-runs:
		return at
	case <-time.After(2 * time.Second):
		t.Fatalf("job did not run")
	}
	return time.Time{}
}
