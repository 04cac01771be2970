package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/waa2l/queue2/internal/auth"
	"github.com/waa2l/queue2/internal/logging"
	"github.com/waa2l/queue2/internal/store"
)

type loginRequest struct {
	ClinicID string `json:"clinic_id"`
	ScreenID string `json:"screen_id"`
	Password string `json:"password" validate:"required"`
}

type sessionResponse struct {
	Token   string       `json:"token"`
	Session auth.Session `json:"session"`
}

// AuthMiddleware resolves the bearer token into an auth.Session stored on the
// request context.
func AuthMiddleware(verifier Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r.Header.Get("Authorization"))
			if token == "" {
				writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing session")
				return
			}
			session, err := verifier.Verify(token)
			if err != nil {
				writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "invalid session")
				return
			}
			ctx := auth.WithSession(r.Context(), session)
			ctx = logging.ContextWithSessionID(ctx, session.SessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := auth.SessionFromContext(r.Context())
		if !ok {
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing session")
			return
		}
		if !session.IsAdmin() {
			writeError(w, requestIDFromRequest(r), http.StatusForbidden, "access_denied", "admin session required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// sessionOf returns the session installed by AuthMiddleware.
func sessionOf(r *http.Request) auth.Session {
	session, _ := auth.SessionFromContext(r.Context())
	return session
}

func (h *Handler) handleLoginClinic(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ClinicID) == "" {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "clinic_id is required")
		return
	}
	token, session, err := h.auth.LoginClinic(r.Context(), req.ClinicID, req.Password)
	h.writeLogin(w, r, token, session, err)
}

func (h *Handler) handleLoginScreen(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ScreenID) == "" {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "screen_id is required")
		return
	}
	token, session, err := h.auth.LoginScreen(r.Context(), req.ScreenID, req.Password)
	h.writeLogin(w, r, token, session, err)
}

func (h *Handler) handleLoginAdmin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	token, session, err := h.auth.LoginAdmin(req.Password)
	h.writeLogin(w, r, token, session, err)
}

func (h *Handler) writeLogin(w http.ResponseWriter, r *http.Request, token string, session auth.Session, err error) {
	if err != nil {
		if errors.Is(err, store.ErrUnauthorized) {
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
			return
		}
		h.fail(w, r, err)
		return
	}
	logging.Ctx(r.Context()).Info().Str("role", string(session.Role)).Str("session_id", session.SessionID).Msg("session opened")
	writeJSON(w, http.StatusOK, sessionResponse{Token: token, Session: session})
}

func (h *Handler) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionOf(r))
}

func requestIDFromRequest(r *http.Request) string {
	if id := logging.RequestIDFromContext(r.Context()); id != "" {
		return id
	}
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}
