package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"lastword/internal/server/repository"
)

// cronTokenHeader carries the shared secret the external scheduler presents.
const cronTokenHeader = "X-Cron-Token"

// handleSweep is the scheduler entry point. Auth happens before any store
// access; the sweep itself is idempotent, so an at-least-once scheduler with
// overlapping invocations is fine.
func (r *Router) handleSweep(w http.ResponseWriter, req *http.Request) {
	got := req.Header.Get(cronTokenHeader)
	if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(r.cronToken)) != 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid cron token"})
		return
	}
	sum, err := r.engine.Sweep(req.Context(), time.Now())
	if err != nil {
		if r.logger != nil {
			r.logger.Printf("sweep failed: %v", err)
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "sweep failed"})
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (r *Router) handleCheckInByToken(w http.ResponseWriter, req *http.Request) {
	token := chi.URLParam(req, "token")
	sec, next, err := r.services.Secrets.CheckInByToken(req.Context(), token)
	if err != nil {
		if errors.Is(err, repository.ErrTokenInvalid) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid or expired check-in token"})
			return
		}
		r.writeSecretErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, secretResponse{Secret: sec, CheckInToken: next.Token})
}
