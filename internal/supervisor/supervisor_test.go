package supervisor

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/waa2l/queue2/internal/logging"
	"github.com/waa2l/queue2/internal/schedule"
)

type fakeServer struct {
	started  chan struct{}
	stop     chan struct{}
	failWith error
	shutdown atomic.Bool
}

func newFakeServer() *fakeServer {
	return &fakeServer{started: make(chan struct{}), stop: make(chan struct{})}
}

func (s *fakeServer) ListenAndServe() error {
	if s.failWith != nil {
		return s.failWith
	}
	close(s.started)
	<-s.stop
	return http.ErrServerClosed
}

func (s *fakeServer) Shutdown(context.Context) error {
	s.shutdown.Store(true)
	close(s.stop)
	return nil
}

func TestHTTPServiceShutsDownOnCancel(t *testing.T) {
	server := newFakeServer()
	svc := NewHTTPService(server, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	<-server.started
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !server.shutdown.Load() {
		t.Fatalf("server was not shut down")
	}
}

func TestHTTPServiceReportsListenFailure(t *testing.T) {
	server := newFakeServer()
	server.failWith = errors.New("address in use")
	err := NewHTTPService(server, time.Second).Serve(context.Background())
	if err == nil || !errors.Is(err, server.failWith) {
		t.Fatalf("expected wrapped listen error, got %v", err)
	}
}

type countingPinger struct {
	calls atomic.Int32
	fail  atomic.Bool
	seen  chan struct{}
}

func (p *countingPinger) Ping(context.Context) error {
	p.calls.Add(1)
	p.seen <- struct{}{}
	if p.fail.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func TestConnectivityMonitorPingsOnInterval(t *testing.T) {
	clock := schedule.NewFakeClock(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))
	pinger := &countingPinger{seen: make(chan struct{}, 4)}
	monitor := NewConnectivityMonitor(pinger, clock, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- monitor.Serve(ctx) }()

	for i := 1; i <= 3; i++ {
		if i == 2 {
			pinger.fail.Store(true)
		}
		clock.BlockUntil(1)
		clock.Advance(5 * time.Second)
		<-pinger.seen
		if got := pinger.calls.Load(); got != int32(i) {
			t.Fatalf("after %d intervals expected %d pings, got %d", i, i, got)
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type startedService struct {
	started chan struct{}
}

func (s *startedService) Serve(ctx context.Context) error {
	close(s.started)
	<-ctx.Done()
	return ctx.Err()
}

func (s *startedService) String() string { return "started" }

func TestTreeRunsServices(t *testing.T) {
	tree := NewTree(logging.NewSlogLogger(), TreeConfig{ShutdownTimeout: time.Second})
	svc := &startedService{started: make(chan struct{})}
	tree.AddRealtimeService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tree.Serve(ctx) }()

	select {
	case <-svc.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("service did not start")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("tree did not stop")
	}
}
