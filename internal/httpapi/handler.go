package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/waa2l/queue2/internal/audio"
	"github.com/waa2l/queue2/internal/auth"
	"github.com/waa2l/queue2/internal/logging"
	"github.com/waa2l/queue2/internal/models"
	"github.com/waa2l/queue2/internal/queue"
	"github.com/waa2l/queue2/internal/store"
)

// Queue is the controller surface the API drives.
type Queue interface {
	Advance(ctx context.Context, s auth.Session, clinicID string) (int, error)
	Retreat(ctx context.Context, s auth.Session, clinicID string) (int, error)
	JumpTo(ctx context.Context, s auth.Session, clinicID string, n int) (int, error)
	Repeat(ctx context.Context, s auth.Session, clinicID string) (int, error)
	Reset(ctx context.Context, s auth.Session, clinicID string) error
	SetActive(ctx context.Context, s auth.Session, clinicID string, active bool) error
	CallByName(ctx context.Context, s auth.Session, clinicID, name string) error
	Transfer(ctx context.Context, s auth.Session, fromClinicID, toClinicID string, clientNumber int) error
	Emergency(ctx context.Context, s auth.Session, clinicID string) error
	DoctorAlert(ctx context.Context, s auth.Session, clinicID string) error

	ResetAll(ctx context.Context, s auth.Session) (int, error)
	AdminCall(ctx context.Context, s auth.Session, clinicID string, clientNumber int) error
	AdminEmergency(ctx context.Context, s auth.Session, clinicID string) error
	TextAlert(ctx context.Context, s auth.Session, message, alertType string) error
	AdminAlert(ctx context.Context, s auth.Session, message string) error

	RecentActions(ctx context.Context, s auth.Session, clinicID string) ([]models.ActionLogEntry, error)
	Stats(ctx context.Context, clinicID string, loc *time.Location) (queue.DailyStats, error)
}

var _ Queue = (*queue.Controller)(nil)

// Authenticator issues and verifies session tokens.
type Authenticator interface {
	LoginClinic(ctx context.Context, clinicID, password string) (string, auth.Session, error)
	LoginScreen(ctx context.Context, screenID, password string) (string, auth.Session, error)
	LoginAdmin(password string) (string, auth.Session, error)
	Verify(token string) (auth.Session, error)
}

type Handler struct {
	queue    Queue
	auth     Authenticator
	entities store.EntityStore
	events   store.EventLog
	catalog  *audio.Catalog
	realtime http.Handler
	limiter  *RateLimiter
	location *time.Location
	validate *validator.Validate
}

type Options struct {
	Catalog *audio.Catalog
	// Realtime is mounted under /realtime when set.
	Realtime  http.Handler
	RateLimit RateLimitConfig
	// Location is the clinic's local time zone, used for daily statistics.
	Location *time.Location
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(q Queue, authenticator Authenticator, entities store.EntityStore, events store.EventLog, opts Options) *Handler {
	if opts.Catalog == nil {
		opts.Catalog = audio.NewCatalog()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Handler{
		queue:    q,
		auth:     authenticator,
		entities: entities,
		events:   events,
		catalog:  opts.Catalog,
		realtime: opts.Realtime,
		limiter:  NewRateLimiter(opts.RateLimit),
		location: opts.Location,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/audio/{clip}", h.handleAudio)
	if h.realtime != nil {
		r.Handle("/realtime/*", h.realtime)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(h.limiter.Middleware)

		r.Post("/sessions/clinic", h.handleLoginClinic)
		r.Post("/sessions/screen", h.handleLoginScreen)
		r.Post("/sessions/admin", h.handleLoginAdmin)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.auth))

			r.Get("/sessions/me", h.handleWhoAmI)
			r.Get("/events", h.handleEvents)

			r.Route("/clinics/{clinicID}", func(r chi.Router) {
				r.Get("/", h.handleGetClinic)
				r.Get("/actions", h.handleRecentActions)
				r.Get("/stats", h.handleStats)
				r.Post("/advance", h.handleAdvance)
				r.Post("/retreat", h.handleRetreat)
				r.Post("/jump", h.handleJump)
				r.Post("/repeat", h.handleRepeat)
				r.Post("/reset", h.handleReset)
				r.Post("/status", h.handleStatus)
				r.Post("/call-by-name", h.handleCallByName)
				r.Post("/transfer", h.handleTransfer)
				r.Post("/emergency", h.handleEmergency)
				r.Post("/doctor-alert", h.handleDoctorAlert)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(requireAdmin)
				r.Post("/reset-all", h.handleResetAll)
				r.Post("/calls", h.handleAdminCall)
				r.Post("/emergency", h.handleAdminEmergency)
				r.Post("/alerts", h.handleAlert)
				r.Get("/events/export", h.handleExportEvents)

				r.Get("/clinics", h.handleListClinics)
				r.Put("/clinics/{clinicID}", h.handlePutClinic)
				r.Delete("/clinics/{clinicID}", h.handleDeleteClinic)
				r.Get("/screens", h.handleListScreens)
				r.Put("/screens/{screenID}", h.handlePutScreen)
				r.Delete("/screens/{screenID}", h.handleDeleteScreen)
				r.Get("/doctors", h.handleListDoctors)
				r.Put("/doctors/{doctorID}", h.handlePutDoctor)
				r.Delete("/doctors/{doctorID}", h.handleDeleteDoctor)
			})
		})
	})
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleAudio(w http.ResponseWriter, r *http.Request) {
	path, ok := h.catalog.Path(chi.URLParam(r, "clip"))
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusNotFound, "clip_not_found", "audio clip not found")
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeFile(w, r, path)
}

// decodeRequest reads a JSON body into target and validates it. It writes the
// error response itself and reports whether the handler may continue.
func (h *Handler) decodeRequest(w http.ResponseWriter, r *http.Request, target any) bool {
	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	parts := make([]string, 0, len(verrs))
	for _, e := range verrs {
		field := strings.ToLower(e.Field())
		switch e.Tag() {
		case "required":
			parts = append(parts, field+" is required")
		case "gt", "gte":
			parts = append(parts, field+" must be at least "+e.Param())
		case "max":
			parts = append(parts, field+" must be at most "+e.Param()+" characters")
		case "oneof":
			parts = append(parts, field+" must be one of "+e.Param())
		default:
			parts = append(parts, field+" is invalid")
		}
	}
	return strings.Join(parts, "; ")
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := mapError(err)
	if status == http.StatusInternalServerError {
		logging.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, requestIDFromRequest(r), status, code, msg)
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrClinicNotFound):
		return http.StatusNotFound, "clinic_not_found", "clinic not found"
	case errors.Is(err, store.ErrScreenNotFound):
		return http.StatusNotFound, "screen_not_found", "screen not found"
	case errors.Is(err, store.ErrDoctorNotFound):
		return http.StatusNotFound, "doctor_not_found", "doctor not found"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found", "not found"
	case errors.Is(err, store.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_request", invalidMessage(err)
	case errors.Is(err, store.ErrUnauthorized):
		return http.StatusForbidden, "access_denied", "access denied"
	case errors.Is(err, store.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable", "store temporarily unavailable"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "conflict", "clinic was modified concurrently, retry"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

// invalidMessage strips the sentinel prefix so clients see only the reason.
func invalidMessage(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, store.ErrInvalidArgument.Error()+": "); i >= 0 {
		return msg[i+len(store.ErrInvalidArgument.Error())+2:]
	}
	return "invalid request"
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
