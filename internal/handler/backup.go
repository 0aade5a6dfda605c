package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/homebank/internal/backup"
)

type BackupHandler struct {
	manager *backup.Manager
	logger  *slog.Logger
}

func NewBackupHandler(m *backup.Manager, logger *slog.Logger) *BackupHandler {
	return &BackupHandler{manager: m, logger: logger}
}

func (h *BackupHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Status())
}

// Run takes a backup immediately.
func (h *BackupHandler) Run(w http.ResponseWriter, r *http.Request) {
	if !h.manager.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "backup is not configured")
		return
	}

	res, err := h.manager.Run(r.Context())
	if errors.Is(err, backup.ErrInProgress) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("manual backup", "error", err)
		writeError(w, http.StatusInternalServerError, "backup failed")
		return
	}
	writeJSON(w, http.StatusCreated, res)
}
