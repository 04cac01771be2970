package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	errClipFailed  = errors.New("client failed to play clip")
	errClipTimeout = errors.New("clip was not acknowledged in time")
)

// clipTimeout caps the wait for a clip's ended or error report.
const clipTimeout = 30 * time.Second

type audioPlayFrame struct {
	ID   string `json:"id"`
	Clip string `json:"clip"`
	URL  string `json:"url"`
}

type audioStopFrame struct {
	ID string `json:"id"`
}

// RemotePlayer plays clips in the browser. Play sends the clip and waits for
// the client to report that it ended.
type RemotePlayer struct {
	sender  sender
	baseURL string
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan error
}

func newRemotePlayer(s sender, baseURL string) *RemotePlayer {
	return &RemotePlayer{sender: s, baseURL: baseURL, timeout: clipTimeout, pending: make(map[string]chan error)}
}

func (p *RemotePlayer) Play(ctx context.Context, clip string) error {
	id := uuid.NewString()
	ack := make(chan error, 1)
	p.mu.Lock()
	p.pending[id] = ack
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
	}()

	p.sender.send(frameAudioPlay, audioPlayFrame{ID: id, Clip: clip, URL: p.baseURL + clip})
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case err := <-ack:
		return err
	case <-timer.C:
		p.sender.send(frameAudioStop, audioStopFrame{ID: id})
		return errClipTimeout
	case <-ctx.Done():
		p.sender.send(frameAudioStop, audioStopFrame{ID: id})
		return ctx.Err()
	}
}

// ack resolves the clip with id. Unknown ids are ignored.
func (p *RemotePlayer) ack(id string, err error) {
	p.mu.Lock()
	ch, ok := p.pending[id]
	p.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- err:
	default:
	}
}
