package auth

import (
	"context"
	"time"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleClinic Role = "clinic"
	RoleScreen Role = "screen"
	RoleSystem Role = "system"
)

// Session is the authenticated context every controller call and realtime
// connection carries. It replaces any process-wide "current clinic" state.
type Session struct {
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	ClinicID  string    `json:"clinic_id,omitempty"`
	ScreenID  string    `json:"screen_id,omitempty"`
	Actor     string    `json:"actor"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s Session) IsAdmin() bool {
	return s.Role == RoleAdmin || s.Role == RoleSystem
}

// CanControl reports whether the session may issue queue commands for the
// clinic.
func (s Session) CanControl(clinicID string) bool {
	if s.IsAdmin() {
		return true
	}
	return s.Role == RoleClinic && s.ClinicID != "" && s.ClinicID == clinicID
}

// SystemSession is used by scheduled jobs and CLI commands.
func SystemSession(actor string) Session {
	return Session{SessionID: "system", Role: RoleSystem, Actor: actor}
}

type sessionContextKey struct{}

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}

func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(Session)
	return s, ok
}
