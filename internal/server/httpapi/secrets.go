package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"lastword/internal/server/repository"
	"lastword/internal/server/service"
	"lastword/internal/shared/models"
)

type createSecretRequest struct {
	Title        string             `json:"title"`
	Payload      string             `json:"payload"`
	Recipients   []models.Recipient `json:"recipients"`
	IntervalDays int                `json:"interval_days"`
}

type secretResponse struct {
	Secret       models.Secret `json:"secret"`
	CheckInToken string        `json:"check_in_token,omitempty"`
}

type updateIntervalRequest struct {
	IntervalDays int `json:"interval_days"`
}

func (r *Router) handleCreateSecret(w http.ResponseWriter, req *http.Request) {
	userID := getUserID(req.Context())
	if r.maxRequestBytes > 0 {
		req.Body = http.MaxBytesReader(w, req.Body, r.maxRequestBytes)
	}
	var body createSecretRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty body"})
			return
		}
		if err.Error() == "http: request body too large" {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request entity too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	sec, tok, err := r.services.Secrets.Create(req.Context(), userID, service.CreateSecretInput{
		Title:        body.Title,
		Payload:      []byte(body.Payload),
		Recipients:   body.Recipients,
		IntervalDays: body.IntervalDays,
	})
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, secretResponse{Secret: sec, CheckInToken: tok.Token})
}

func (r *Router) handleListSecrets(w http.ResponseWriter, req *http.Request) {
	userID := getUserID(req.Context())
	secrets, err := r.services.Secrets.List(req.Context(), userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, secrets)
}

func (r *Router) handleGetSecret(w http.ResponseWriter, req *http.Request) {
	userID := getUserID(req.Context())
	id := chi.URLParam(req, "id")
	sec, err := r.services.Secrets.Get(req.Context(), userID, id)
	if err != nil {
		r.writeSecretErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sec)
}

func (r *Router) handleDeleteSecret(w http.ResponseWriter, req *http.Request) {
	userID := getUserID(req.Context())
	id := chi.URLParam(req, "id")
	if err := r.services.Secrets.Delete(req.Context(), userID, id); err != nil {
		r.writeSecretErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleCheckIn(w http.ResponseWriter, req *http.Request) {
	userID := getUserID(req.Context())
	id := chi.URLParam(req, "id")
	sec, tok, err := r.services.Secrets.CheckIn(req.Context(), userID, id)
	if err != nil {
		r.writeSecretErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, secretResponse{Secret: sec, CheckInToken: tok.Token})
}

func (r *Router) handlePause(w http.ResponseWriter, req *http.Request) {
	userID := getUserID(req.Context())
	id := chi.URLParam(req, "id")
	if err := r.services.Secrets.Pause(req.Context(), userID, id); err != nil {
		r.writeSecretErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(models.SecretStatusPaused)})
}

func (r *Router) handleResume(w http.ResponseWriter, req *http.Request) {
	userID := getUserID(req.Context())
	id := chi.URLParam(req, "id")
	sec, err := r.services.Secrets.Resume(req.Context(), userID, id)
	if err != nil {
		r.writeSecretErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sec)
}

func (r *Router) handleUpdateInterval(w http.ResponseWriter, req *http.Request) {
	userID := getUserID(req.Context())
	id := chi.URLParam(req, "id")
	var body updateIntervalRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	sec, err := r.services.Secrets.UpdateInterval(req.Context(), userID, id, body.IntervalDays)
	if err != nil {
		r.writeSecretErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sec)
}

func (r *Router) handleListReminders(w http.ResponseWriter, req *http.Request) {
	userID := getUserID(req.Context())
	id := chi.URLParam(req, "id")
	reminders, err := r.services.Secrets.Reminders(req.Context(), userID, id)
	if err != nil {
		r.writeSecretErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reminders)
}

func (r *Router) handleListDisclosures(w http.ResponseWriter, req *http.Request) {
	userID := getUserID(req.Context())
	id := chi.URLParam(req, "id")
	disclosures, err := r.services.Secrets.Disclosures(req.Context(), userID, id)
	if err != nil {
		r.writeSecretErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, disclosures)
}

// writeSecretErr maps lifecycle errors: unknown-or-unowned rows are 404
// (indistinguishable on purpose), terminal or wrong-state transitions are 409,
// everything else is a validation failure.
func (r *Router) writeSecretErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, repository.ErrTriggered), errors.Is(err, repository.ErrWrongState):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
}
