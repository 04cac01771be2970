package realtime

import (
	"errors"
	"time"

	"github.com/goccy/go-json"

	"github.com/waa2l/queue2/internal/logging"
)

// Outgoing frame types.
const (
	frameBanner      = "banner"
	frameBannerClear = "banner.clear"
	frameHighlight   = "highlight"
	frameDoctor      = "doctor"
	frameDoctorHide  = "doctor.hide"
	frameScreen      = "screen"
	frameClinic      = "clinic"
	frameAudioPlay   = "audio.play"
	frameAudioStop   = "audio.stop"
	frameHello       = "hello"
)

// Incoming frame types.
const (
	frameAudioEnded = "audio.ended"
	frameAudioError = "audio.error"
	frameVisibility = "visibility"
	frameSelect     = "screen.select"
)

type outFrame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type inFrame struct {
	Type     string `json:"type"`
	ID       string `json:"id,omitempty"`
	Error    string `json:"error,omitempty"`
	Visible  *bool  `json:"visible,omitempty"`
	ScreenID string `json:"screen_id,omitempty"`
}

var errBadFrame = errors.New("malformed frame")

func parseFrame(msg string) (inFrame, error) {
	var frame inFrame
	if err := json.Unmarshal([]byte(msg), &frame); err != nil {
		return inFrame{}, errBadFrame
	}
	switch frame.Type {
	case frameAudioEnded, frameAudioError:
		if frame.ID == "" {
			return inFrame{}, errBadFrame
		}
	case frameVisibility:
		if frame.Visible == nil {
			return inFrame{}, errBadFrame
		}
	case frameSelect:
	default:
		return inFrame{}, errBadFrame
	}
	return frame, nil
}

// sendTimeout bounds how long a frame waits for room in a connection's
// queue. A client that stays that far behind is treated as gone.
const sendTimeout = 10 * time.Second

// sender queues frames for one connection. A full queue blocks the caller
// until the writer catches up, the connection closes or timeout passes.
type sender struct {
	clientID string
	out      chan<- []byte
	done     <-chan struct{}
	timeout  time.Duration
}

func (s sender) send(frameType string, data any) {
	payload, err := json.Marshal(outFrame{Type: frameType, Data: data})
	if err != nil {
		logging.Error().Err(err).Str("frame", frameType).Msg("encode frame failed")
		return
	}
	select {
	case <-s.done:
		return
	case s.out <- payload:
		return
	default:
	}

	timeout := s.timeout
	if timeout <= 0 {
		timeout = sendTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.done:
	case s.out <- payload:
	case <-timer.C:
		logging.Error().Str("client_id", s.clientID).Str("frame", frameType).Dur("waited", timeout).Msg("client stalled, frame not delivered")
	}
}
