package httpapi

import (
	"encoding/csv"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/waa2l/queue2/internal/auth"
	"github.com/waa2l/queue2/internal/logging"
	"github.com/waa2l/queue2/internal/models"
	"github.com/waa2l/queue2/internal/store"
)

type adminCallRequest struct {
	ClinicID     string `json:"clinic_id" validate:"required"`
	ClientNumber int    `json:"client_number" validate:"gt=0"`
}

type adminEmergencyRequest struct {
	ClinicID string `json:"clinic_id" validate:"required"`
}

type alertRequest struct {
	Message string `json:"message" validate:"required,max=500"`
	Type    string `json:"type" validate:"omitempty,oneof=text emergency admin"`
}

type clinicRequest struct {
	Name     string `json:"name" validate:"required,max=120"`
	Number   int    `json:"number" validate:"gt=0"`
	ScreenID string `json:"screen_id"`
	Active   *bool  `json:"active"`
	Password string `json:"password"`
}

type screenRequest struct {
	Name     string `json:"name" validate:"required,max=120"`
	Number   int    `json:"number" validate:"gte=0"`
	Active   *bool  `json:"active"`
	Password string `json:"password"`
}

type doctorRequest struct {
	Name        string `json:"name" validate:"required,max=120"`
	Phone       string `json:"phone" validate:"max=32"`
	Specialty   string `json:"specialty" validate:"max=120"`
	Image       string `json:"image"`
	WorkingDays []int  `json:"working_days" validate:"dive,gte=0,lte=6"`
	Shift       string `json:"shift" validate:"required,oneof=morning evening both"`
	Active      *bool  `json:"active"`
}

// exportPageSize is how many events the CSV export reads per page.
const exportPageSize = 500

func (h *Handler) handleResetAll(w http.ResponseWriter, r *http.Request) {
	count, err := h.queue.ResetAll(r.Context(), sessionOf(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"reset": count})
}

func (h *Handler) handleAdminCall(w http.ResponseWriter, r *http.Request) {
	var req adminCallRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	if err := h.queue.AdminCall(r.Context(), sessionOf(r), strings.TrimSpace(req.ClinicID), req.ClientNumber); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAdminEmergency(w http.ResponseWriter, r *http.Request) {
	var req adminEmergencyRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	if err := h.queue.AdminEmergency(r.Context(), sessionOf(r), strings.TrimSpace(req.ClinicID)); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAlert sends text and emergency alerts to displays and admin alerts to
// control panels.
func (h *Handler) handleAlert(w http.ResponseWriter, r *http.Request) {
	var req alertRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	var err error
	if req.Type == models.AlertAdmin {
		err = h.queue.AdminAlert(r.Context(), sessionOf(r), req.Message)
	} else {
		err = h.queue.TextAlert(r.Context(), sessionOf(r), req.Message, req.Type)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListClinics(w http.ResponseWriter, r *http.Request) {
	clinics, err := h.entities.ListClinics(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, clinics)
}

// handlePutClinic creates a clinic or updates its settings. The serving
// counter is never written here.
func (h *Handler) handlePutClinic(w http.ResponseWriter, r *http.Request) {
	var req clinicRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	clinicID := clinicIDParam(r)
	hash, err := hashIfSet(req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	_, err = h.entities.GetClinic(r.Context(), clinicID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		active := true
		if req.Active != nil {
			active = *req.Active
		}
		clinic, err := h.entities.PutClinic(r.Context(), models.Clinic{
			ClinicID:     clinicID,
			Name:         strings.TrimSpace(req.Name),
			Number:       req.Number,
			ScreenID:     strings.TrimSpace(req.ScreenID),
			Active:       active,
			PasswordHash: hash,
		})
		if err != nil {
			h.fail(w, r, err)
			return
		}
		h.audit(r, "clinic created", clinic.ClinicID)
		writeJSON(w, http.StatusCreated, clinic)
	case err != nil:
		h.fail(w, r, err)
	default:
		patch := store.ClinicPatch{
			Name:     store.Ptr(strings.TrimSpace(req.Name)),
			Number:   store.Ptr(req.Number),
			ScreenID: store.Ptr(strings.TrimSpace(req.ScreenID)),
			Active:   req.Active,
		}
		if hash != "" {
			patch.PasswordHash = &hash
		}
		clinic, err := h.entities.PatchClinic(r.Context(), clinicID, patch)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		h.audit(r, "clinic updated", clinicID)
		writeJSON(w, http.StatusOK, clinic)
	}
}

func (h *Handler) handleDeleteClinic(w http.ResponseWriter, r *http.Request) {
	clinicID := clinicIDParam(r)
	if err := h.entities.DeleteClinic(r.Context(), clinicID); err != nil {
		h.fail(w, r, err)
		return
	}
	h.audit(r, "clinic deleted", clinicID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListScreens(w http.ResponseWriter, r *http.Request) {
	screens, err := h.entities.ListScreens(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, screens)
}

func (h *Handler) handlePutScreen(w http.ResponseWriter, r *http.Request) {
	var req screenRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	screenID := strings.TrimSpace(chi.URLParam(r, "screenID"))
	hash, err := hashIfSet(req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	_, err = h.entities.GetScreen(r.Context(), screenID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		active := true
		if req.Active != nil {
			active = *req.Active
		}
		screen, err := h.entities.PutScreen(r.Context(), models.Screen{
			ScreenID:     screenID,
			Name:         strings.TrimSpace(req.Name),
			Number:       req.Number,
			Active:       active,
			PasswordHash: hash,
		})
		if err != nil {
			h.fail(w, r, err)
			return
		}
		h.audit(r, "screen created", screen.ScreenID)
		writeJSON(w, http.StatusCreated, screen)
	case err != nil:
		h.fail(w, r, err)
	default:
		patch := store.ScreenPatch{
			Name:   store.Ptr(strings.TrimSpace(req.Name)),
			Number: store.Ptr(req.Number),
			Active: req.Active,
		}
		if hash != "" {
			patch.PasswordHash = &hash
		}
		screen, err := h.entities.PatchScreen(r.Context(), screenID, patch)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		h.audit(r, "screen updated", screenID)
		writeJSON(w, http.StatusOK, screen)
	}
}

func (h *Handler) handleDeleteScreen(w http.ResponseWriter, r *http.Request) {
	screenID := strings.TrimSpace(chi.URLParam(r, "screenID"))
	if err := h.entities.DeleteScreen(r.Context(), screenID); err != nil {
		h.fail(w, r, err)
		return
	}
	h.audit(r, "screen deleted", screenID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListDoctors(w http.ResponseWriter, r *http.Request) {
	doctors, err := h.entities.ListDoctors(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doctors)
}

func (h *Handler) handlePutDoctor(w http.ResponseWriter, r *http.Request) {
	var req doctorRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	days := make([]time.Weekday, 0, len(req.WorkingDays))
	for _, d := range req.WorkingDays {
		days = append(days, time.Weekday(d))
	}
	doctor, err := h.entities.PutDoctor(r.Context(), models.Doctor{
		DoctorID:    strings.TrimSpace(chi.URLParam(r, "doctorID")),
		Name:        strings.TrimSpace(req.Name),
		Phone:       strings.TrimSpace(req.Phone),
		Specialty:   strings.TrimSpace(req.Specialty),
		Image:       strings.TrimSpace(req.Image),
		WorkingDays: days,
		Shift:       req.Shift,
		Active:      active,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.audit(r, "doctor saved", doctor.DoctorID)
	writeJSON(w, http.StatusOK, doctor)
}

func (h *Handler) handleDeleteDoctor(w http.ResponseWriter, r *http.Request) {
	doctorID := strings.TrimSpace(chi.URLParam(r, "doctorID"))
	if err := h.entities.DeleteDoctor(r.Context(), doctorID); err != nil {
		h.fail(w, r, err)
		return
	}
	h.audit(r, "doctor deleted", doctorID)
	w.WriteHeader(http.StatusNoContent)
}

// handleExportEvents streams the whole event log as CSV, oldest first.
func (h *Handler) handleExportEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="events.csv"`)
	out := csv.NewWriter(w)
	_ = out.Write([]string{"seq", "event_id", "timestamp", "type", "clinic_id", "payload"})

	var after int64
	for {
		events, err := h.events.ReadAfter(r.Context(), after, exportPageSize)
		if err != nil {
			// Headers are already written.
			logging.Ctx(r.Context()).Error().Err(err).Int64("after", after).Msg("event export failed")
			break
		}
		for _, event := range events {
			payload, _ := json.Marshal(event.Payload)
			_ = out.Write([]string{
				strconv.FormatInt(event.Seq, 10),
				event.EventID,
				event.Timestamp.UTC().Format(time.RFC3339),
				string(event.Type()),
				event.ClinicRef(),
				string(payload),
			})
			after = event.Seq
		}
		out.Flush()
		if len(events) < exportPageSize {
			break
		}
	}
	out.Flush()
}

func hashIfSet(password string) (string, error) {
	if password == "" {
		return "", nil
	}
	return auth.HashPassword(password)
}

func (h *Handler) audit(r *http.Request, msg, id string) {
	logging.Ctx(r.Context()).Info().Str("actor", sessionOf(r).Actor).Str("id", id).Msg(msg)
}
