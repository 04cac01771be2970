package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/waa2l/queue2/internal/models"
	"github.com/waa2l/queue2/internal/notify"
	"github.com/waa2l/queue2/internal/store"
)

type counterResponse struct {
	ClinicID      string `json:"clinic_id"`
	CurrentNumber int    `json:"current_number"`
	Display       string `json:"display"`
}

type jumpRequest struct {
	Number int `json:"number" validate:"gt=0"`
}

type statusRequest struct {
	Active *bool `json:"active" validate:"required"`
}

type callByNameRequest struct {
	Name string `json:"name" validate:"required,max=120"`
}

type transferRequest struct {
	ToClinicID   string `json:"to_clinic_id" validate:"required"`
	ClientNumber int    `json:"client_number" validate:"gt=0"`
}

type clinicResponse struct {
	models.Clinic
	Display string `json:"display"`
}

func clinicIDParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "clinicID"))
}

func counter(clinicID string, n int) counterResponse {
	return counterResponse{ClinicID: clinicID, CurrentNumber: n, Display: notify.ArabicDigits(n)}
}

func (h *Handler) handleGetClinic(w http.ResponseWriter, r *http.Request) {
	clinic, err := h.entities.GetClinic(r.Context(), clinicIDParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, clinicResponse{Clinic: clinic, Display: notify.ArabicDigits(clinic.CurrentNumber)})
}

func (h *Handler) handleRecentActions(w http.ResponseWriter, r *http.Request) {
	entries, err := h.queue.RecentActions(r.Context(), sessionOf(r), clinicIDParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.ActionLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	clinicID := clinicIDParam(r)
	if !sessionOf(r).CanControl(clinicID) {
		h.fail(w, r, store.ErrUnauthorized)
		return
	}
	stats, err := h.queue.Stats(r.Context(), clinicID, h.location)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleAdvance(w http.ResponseWriter, r *http.Request) {
	clinicID := clinicIDParam(r)
	n, err := h.queue.Advance(r.Context(), sessionOf(r), clinicID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counter(clinicID, n))
}

func (h *Handler) handleRetreat(w http.ResponseWriter, r *http.Request) {
	clinicID := clinicIDParam(r)
	n, err := h.queue.Retreat(r.Context(), sessionOf(r), clinicID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counter(clinicID, n))
}

func (h *Handler) handleJump(w http.ResponseWriter, r *http.Request) {
	var req jumpRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	clinicID := clinicIDParam(r)
	n, err := h.queue.JumpTo(r.Context(), sessionOf(r), clinicID, req.Number)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counter(clinicID, n))
}

func (h *Handler) handleRepeat(w http.ResponseWriter, r *http.Request) {
	clinicID := clinicIDParam(r)
	n, err := h.queue.Repeat(r.Context(), sessionOf(r), clinicID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counter(clinicID, n))
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	clinicID := clinicIDParam(r)
	if err := h.queue.Reset(r.Context(), sessionOf(r), clinicID); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counter(clinicID, 0))
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	if err := h.queue.SetActive(r.Context(), sessionOf(r), clinicIDParam(r), *req.Active); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCallByName(w http.ResponseWriter, r *http.Request) {
	var req callByNameRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	if err := h.queue.CallByName(r.Context(), sessionOf(r), clinicIDParam(r), req.Name); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	err := h.queue.Transfer(r.Context(), sessionOf(r), clinicIDParam(r), strings.TrimSpace(req.ToClinicID), req.ClientNumber)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleEmergency(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.Emergency(r.Context(), sessionOf(r), clinicIDParam(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDoctorAlert(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.DoctorAlert(r.Context(), sessionOf(r), clinicIDParam(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
