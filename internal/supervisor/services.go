package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/waa2l/queue2/internal/logging"
	"github.com/waa2l/queue2/internal/schedule"
)

type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPService adapts an http.Server to the suture service contract.
type HTTPService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

func NewHTTPService(server HTTPServer, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPService) String() string { return "http-server" }

type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnectivityMonitor pings the store on an interval. The pings keep the
// circuit breaker probing while no session is issuing requests, so a
// recovered store is noticed and announced.
type ConnectivityMonitor struct {
	pinger   Pinger
	clock    schedule.Clock
	interval time.Duration
	timeout  time.Duration
}

func NewConnectivityMonitor(pinger Pinger, clock schedule.Clock, interval time.Duration) *ConnectivityMonitor {
	if clock == nil {
		clock = schedule.RealClock{}
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &ConnectivityMonitor{pinger: pinger, clock: clock, interval: interval, timeout: 2 * time.Second}
}

func (m *ConnectivityMonitor) Serve(ctx context.Context) error {
	healthy := true
	for {
		if err := schedule.Sleep(ctx, m.clock, m.interval); err != nil {
			return err
		}
		pingCtx, cancel := context.WithTimeout(ctx, m.timeout)
		err := m.pinger.Ping(pingCtx)
		cancel()
		switch {
		case err != nil && healthy:
			logging.Warn().Err(err).Msg("store ping failed")
			healthy = false
		case err == nil && !healthy:
			logging.Info().Msg("store ping recovered")
			healthy = true
		}
	}
}

func (m *ConnectivityMonitor) String() string { return "store-connectivity" }
