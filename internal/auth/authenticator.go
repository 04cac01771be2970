package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/waa2l/queue2/internal/models"
	"github.com/waa2l/queue2/internal/store"
)

type credentialStore interface {
	GetClinic(ctx context.Context, clinicID string) (models.Clinic, error)
	GetScreen(ctx context.Context, screenID string) (models.Screen, error)
}

// Authenticator checks clinic, screen and admin passwords and issues tokens.
type Authenticator struct {
	store     credentialStore
	tokens    *TokenManager
	adminHash string
}

func NewAuthenticator(store credentialStore, tokens *TokenManager, adminPasswordHash string) *Authenticator {
	return &Authenticator{store: store, tokens: tokens, adminHash: adminPasswordHash}
}

func (a *Authenticator) LoginClinic(ctx context.Context, clinicID, password string) (string, Session, error) {
	clinic, err := a.store.GetClinic(ctx, strings.TrimSpace(clinicID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", Session{}, store.ErrUnauthorized
		}
		return "", Session{}, err
	}
	if err := CheckPassword(clinic.PasswordHash, password); err != nil {
		return "", Session{}, err
	}
	return a.tokens.Issue(Session{Role: RoleClinic, ClinicID: clinic.ClinicID, Actor: clinic.Name})
}

func (a *Authenticator) LoginScreen(ctx context.Context, screenID, password string) (string, Session, error) {
	screen, err := a.store.GetScreen(ctx, strings.TrimSpace(screenID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", Session{}, store.ErrUnauthorized
		}
		return "", Session{}, err
	}
	if err := CheckPassword(screen.PasswordHash, password); err != nil {
		return "", Session{}, err
	}
	return a.tokens.Issue(Session{Role: RoleScreen, ScreenID: screen.ScreenID, Actor: screen.Name})
}

func (a *Authenticator) LoginAdmin(password string) (string, Session, error) {
	if err := CheckPassword(a.adminHash, password); err != nil {
		return "", Session{}, err
	}
	return a.tokens.Issue(Session{Role: RoleAdmin, Actor: "admin"})
}

func (a *Authenticator) Verify(token string) (Session, error) {
	return a.tokens.Parse(token)
}
