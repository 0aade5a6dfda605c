package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/homebank/internal/auth"
	"github.com/dukerupert/homebank/internal/job"
	"github.com/dukerupert/homebank/internal/store"
)

func parseIDParam(r *http.Request) (int64, error) {
	idStr := r.PathValue("id")
	return strconv.ParseInt(idStr, 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func actorFrom(r *http.Request) job.Actor {
	ac, _ := auth.FromContext(r.Context())
	return job.Actor{UserID: ac.UserID, Role: ac.Role}
}

// writeDomainError maps the job and store error taxonomy onto HTTP status
// codes. Anything unrecognised is logged and reported as a 500 with
// fallback as the message.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, err error, fallback string) {
	switch {
	case errors.Is(err, job.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, job.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, job.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, job.ErrConflict),
		errors.Is(err, store.ErrOutOfStock),
		errors.Is(err, store.ErrInsufficientPoints):
		writeError(w, http.StatusConflict, err.Error())
	default:
		logger.Error(fallback, "error", err)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}
