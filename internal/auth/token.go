package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/waa2l/queue2/internal/store"
)

const issuer = "clinic-queue"

type Claims struct {
	Role     Role   `json:"role"`
	ClinicID string `json:"clinic_id,omitempty"`
	ScreenID string `json:"screen_id,omitempty"`
	Actor    string `json:"actor"`
	jwt.RegisteredClaims
}

type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenManager(secret string, ttl time.Duration) (*TokenManager, error) {
	if len(secret) < 32 {
		return nil, errors.New("JWT_SECRET must be at least 32 bytes")
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &TokenManager{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for s. A missing session id is generated.
func (m *TokenManager) Issue(s Session) (string, Session, error) {
	now := m.now().UTC()
	if s.SessionID == "" {
		s.SessionID = uuid.NewString()
	}
	s.ExpiresAt = now.Add(m.ttl)
	claims := &Claims{
		Role:     s.Role,
		ClinicID: s.ClinicID,
		ScreenID: s.ScreenID,
		Actor:    s.Actor,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        s.SessionID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", Session{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, s, nil
}

func (m *TokenManager) Parse(tokenString string) (Session, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(m.now))
	if err != nil || !token.Valid {
		return Session{}, store.ErrUnauthorized
	}
	s := Session{
		SessionID: claims.ID,
		Role:      claims.Role,
		ClinicID:  claims.ClinicID,
		ScreenID:  claims.ScreenID,
		Actor:     claims.Actor,
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	switch s.Role {
	case RoleAdmin, RoleClinic, RoleScreen:
	default:
		return Session{}, store.ErrUnauthorized
	}
	return s, nil
}
