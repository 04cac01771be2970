package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/waa2l/queue2/internal/models"
	"github.com/waa2l/queue2/internal/store"
	"github.com/waa2l/queue2/internal/store/memory"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestCanControl(t *testing.T) {
	cases := []struct {
		name    string
		session Session
		clinic  string
		allowed bool
	}{
		{"admin any clinic", Session{Role: RoleAdmin}, "c1", true},
		{"system any clinic", SystemSession("daily-reset"), "c2", true},
		{"own clinic", Session{Role: RoleClinic, ClinicID: "c1"}, "c1", true},
		{"other clinic", Session{Role: RoleClinic, ClinicID: "c1"}, "c2", false},
		{"clinic without binding", Session{Role: RoleClinic}, "", false},
		{"screen session", Session{Role: RoleScreen, ScreenID: "s1"}, "c1", false},
		{"zero session", Session{}, "c1", false},
	}
	for _, tt := range cases {
		if got := tt.session.CanControl(tt.clinic); got != tt.allowed {
			t.Fatalf("%s: CanControl=%v, want %v", tt.name, got, tt.allowed)
		}
	}
}

func TestTokenRoundTrip(t *testing.T) {
	tokens, err := NewTokenManager(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	signed, issued, err := tokens.Issue(Session{Role: RoleClinic, ClinicID: "c1", Actor: "Dental"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if issued.SessionID == "" {
		t.Fatalf("session id not generated")
	}
	parsed, err := tokens.Parse(signed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.SessionID != issued.SessionID || parsed.ClinicID != "c1" || parsed.Role != RoleClinic {
		t.Fatalf("unexpected session %+v", parsed)
	}
}

func TestTokenRejected(t *testing.T) {
	tokens, _ := NewTokenManager(testSecret, time.Hour)
	signed, _, _ := tokens.Issue(Session{Role: RoleAdmin, Actor: "admin"})

	other, _ := NewTokenManager(strings.Repeat("z", 32), time.Hour)
	if _, err := other.Parse(signed); !errors.Is(err, store.ErrUnauthorized) {
		t.Fatalf("foreign secret: expected ErrUnauthorized, got %v", err)
	}

	tokens.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := tokens.Parse(signed); !errors.Is(err, store.ErrUnauthorized) {
		t.Fatalf("expired: expected ErrUnauthorized, got %v", err)
	}

	if _, err := tokens.Parse("not-a-token"); !errors.Is(err, store.ErrUnauthorized) {
		t.Fatalf("garbage: expected ErrUnauthorized, got %v", err)
	}
}

func TestShortSecretRejected(t *testing.T) {
	if _, err := NewTokenManager("short", time.Hour); err == nil {
		t.Fatalf("expected error for short secret")
	}
}

func TestLoginClinic(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if _, err := backend.PutClinic(ctx, models.Clinic{ClinicID: "c1", Name: "Dental", Number: 1, PasswordHash: hash}); err != nil {
		t.Fatalf("put clinic: %v", err)
	}
	tokens, _ := NewTokenManager(testSecret, time.Hour)
	authn := NewAuthenticator(backend, tokens, "")

	token, session, err := authn.LoginClinic(ctx, "c1", "s3cret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if session.Role != RoleClinic || session.ClinicID != "c1" || token == "" {
		t.Fatalf("unexpected session %+v", session)
	}
	if _, _, err := authn.LoginClinic(ctx, "c1", "wrong"); !errors.Is(err, store.ErrUnauthorized) {
		t.Fatalf("wrong password: expected ErrUnauthorized, got %v", err)
	}
	if _, _, err := authn.LoginClinic(ctx, "missing", "s3cret"); !errors.Is(err, store.ErrUnauthorized) {
		t.Fatalf("unknown clinic: expected ErrUnauthorized, got %v", err)
	}
	if _, _, err := authn.LoginAdmin("anything"); !errors.Is(err, store.ErrUnauthorized) {
		t.Fatalf("admin without hash: expected ErrUnauthorized, got %v", err)
	}
}
