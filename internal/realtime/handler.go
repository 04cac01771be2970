package realtime

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"

	"github.com/waa2l/queue2/internal/audio"
	"github.com/waa2l/queue2/internal/auth"
	"github.com/waa2l/queue2/internal/logging"
	"github.com/waa2l/queue2/internal/notify"
	"github.com/waa2l/queue2/internal/schedule"
	"github.com/waa2l/queue2/internal/session"
	"github.com/waa2l/queue2/internal/store"
)

const (
	closeMissingToken = 4001
	closeInvalidToken = 4002
	closeForbidden    = 4003
)

const sendBuffer = 64

var errForbidden = errors.New("forbidden")

type TokenVerifier interface {
	Verify(token string) (auth.Session, error)
}

type Options struct {
	Prefix   string
	AudioURL string
	Catalog  *audio.Catalog
	Clock    schedule.Clock
}

type Handler struct {
	backend  store.Backend
	verifier TokenVerifier
	hub      *Hub
	opts     Options
}

type liveSession interface {
	Notifier
	SetVisible(bool) error
}

type helloFrame struct {
	SessionID string             `json:"session_id"`
	Role      auth.Role          `json:"role"`
	Kind      notify.SessionKind `json:"kind"`
	ScreenID  string             `json:"screen_id,omitempty"`
	ClinicID  string             `json:"clinic_id,omitempty"`
}

func NewHandler(backend store.Backend, verifier TokenVerifier, hub *Hub, opts Options) http.Handler {
	if opts.Prefix == "" {
		opts.Prefix = "/realtime"
	}
	if opts.AudioURL == "" {
		opts.AudioURL = "/audio/"
	}
	if opts.Clock == nil {
		opts.Clock = schedule.RealClock{}
	}
	h := &Handler{backend: backend, verifier: verifier, hub: hub, opts: opts}
	return sockjs.NewHandler(opts.Prefix, sockjs.DefaultOptions, h.serve)
}

// target describes which session a connection opens.
type target struct {
	kind     notify.SessionKind
	screenID string
	clinicID string
}

// resolveTarget picks the session for s. Screens always open their display
// and clinics their control panel; admins choose with the mode query.
func resolveTarget(s auth.Session, query map[string][]string) (target, error) {
	get := func(key string) string {
		if v := query[key]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}
	switch s.Role {
	case auth.RoleScreen:
		if s.ScreenID == "" {
			return target{}, errForbidden
		}
		return target{kind: notify.SessionDisplay, screenID: s.ScreenID}, nil
	case auth.RoleClinic:
		if s.ClinicID == "" {
			return target{}, errForbidden
		}
		return target{kind: notify.SessionControl, clinicID: s.ClinicID}, nil
	case auth.RoleAdmin:
		switch get("mode") {
		case "", string(notify.SessionDisplay):
			return target{kind: notify.SessionDisplay, screenID: get("screen_id")}, nil
		case string(notify.SessionControl):
			if get("clinic_id") == "" {
				return target{}, errForbidden
			}
			return target{kind: notify.SessionControl, clinicID: get("clinic_id")}, nil
		}
	}
	return target{}, errForbidden
}

func (h *Handler) serve(conn sockjs.Session) {
	req := conn.Request()
	token := tokenFromRequest(req)
	if token == "" {
		_ = conn.Close(closeMissingToken, "missing token")
		return
	}
	authSession, err := h.verifier.Verify(token)
	if err != nil {
		_ = conn.Close(closeInvalidToken, "invalid token")
		return
	}
	var query map[string][]string
	if req != nil {
		query = req.URL.Query()
	}
	tgt, err := resolveTarget(authSession, query)
	if err != nil {
		_ = conn.Close(closeForbidden, "access denied")
		return
	}

	ctx, cancel := context.WithCancel(logging.ContextWithSessionID(context.Background(), authSession.SessionID))
	defer cancel()
	log := logging.Ctx(ctx)

	out := make(chan []byte, sendBuffer)
	done := make(chan struct{})
	defer close(done)
	client := &Client{ID: uuid.NewString(), Kind: tgt.kind, ScreenID: tgt.screenID, ClinicID: tgt.clinicID}
	snd := sender{clientID: client.ID, out: out, done: done}

	go func() {
		for {
			select {
			case msg := <-out:
				if err := conn.Send(string(msg)); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	snd.send(frameHello, helloFrame{
		SessionID: authSession.SessionID,
		Role:      authSession.Role,
		Kind:      tgt.kind,
		ScreenID:  tgt.screenID,
		ClinicID:  tgt.clinicID,
	})

	var (
		live    liveSession
		display *session.Display
		player  *RemotePlayer
	)
	switch tgt.kind {
	case notify.SessionDisplay:
		player = newRemotePlayer(snd, h.opts.AudioURL)
		seq := audio.NewSequencer(player, h.opts.Catalog)
		display = session.NewDisplay(h.backend, h.backend, output{snd}, seq, session.DisplayConfig{ScreenID: tgt.screenID, Clock: h.opts.Clock})
		err = display.Start(ctx)
		live = display
	case notify.SessionControl:
		controlSession := authSession
		controlSession.ClinicID = tgt.clinicID
		control := session.NewControl(controlSession, h.backend, h.backend, h.backend, output{snd}, session.ControlConfig{Clock: h.opts.Clock})
		err = control.Start(ctx)
		live = control
	}
	if err != nil {
		log.Warn().Err(err).Str("kind", string(tgt.kind)).Msg("session start failed")
		_ = conn.Close(closeForbidden, "session unavailable")
		return
	}
	defer live.Close()

	client.Session = live
	h.hub.Register(client)
	defer h.hub.Unregister(client)
	log.Info().Str("kind", string(tgt.kind)).Str("screen_id", tgt.screenID).Str("clinic_id", tgt.clinicID).Msg("realtime session opened")

	for {
		msg, err := conn.Recv()
		if err != nil {
			log.Info().Str("kind", string(tgt.kind)).Msg("realtime session closed")
			return
		}
		frame, err := parseFrame(msg)
		if err != nil {
			log.Debug().Str("msg", msg).Msg("ignore malformed frame")
			continue
		}
		switch frame.Type {
		case frameAudioEnded:
			if player != nil {
				player.ack(frame.ID, nil)
			}
		case frameAudioError:
			if player != nil {
				player.ack(frame.ID, errClipFailed)
			}
		case frameVisibility:
			if err := live.SetVisible(*frame.Visible); err != nil {
				log.Warn().Err(err).Msg("visibility change failed")
			}
		case frameSelect:
			if display == nil || authSession.Role != auth.RoleAdmin {
				continue
			}
			if err := display.SetScreen(ctx, frame.ScreenID); err != nil {
				log.Warn().Err(err).Str("screen_id", frame.ScreenID).Msg("screen switch failed")
			}
		}
	}
}

func tokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func bearerToken(header string) string {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}
