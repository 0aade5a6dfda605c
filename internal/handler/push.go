package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dukerupert/homebank/internal/auth"
	"github.com/dukerupert/homebank/internal/model"
	"github.com/dukerupert/homebank/internal/push"
	"github.com/dukerupert/homebank/internal/store"
)

type pushSender interface {
	Enabled() bool
	PublicKey() string
	NotifyUser(ctx context.Context, userID int64, payload push.Payload) (int, error)
}

type PushHandler struct {
	subs   *store.PushStore
	sender pushSender
	logger *slog.Logger
}

func NewPushHandler(ps *store.PushStore, sender pushSender, logger *slog.Logger) *PushHandler {
	return &PushHandler{subs: ps, sender: sender, logger: logger}
}

// subscribeRequest mirrors the browser's PushSubscription.toJSON().
type subscribeRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
	DeviceName string `json:"device_name"`
}

// VAPIDKey handles GET /api/push/vapid-key
func (h *PushHandler) VAPIDKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":    h.sender.Enabled(),
		"public_key": h.sender.PublicKey(),
	})
}

// Subscribe handles POST /api/push/subscriptions
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())

	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Endpoint == "" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		writeError(w, http.StatusBadRequest, "endpoint, keys.p256dh, and keys.auth are required")
		return
	}

	sub, err := h.subs.Upsert(ac.UserID, req.Endpoint, req.Keys.P256dh, req.Keys.Auth, req.DeviceName)
	if err != nil {
		h.logger.Error("save push subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save subscription")
		return
	}

	writeJSON(w, http.StatusCreated, sub)
}

// ListSubscriptions handles GET /api/push/subscriptions
func (h *PushHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())

	subs, err := h.subs.ListByUser(ac.UserID)
	if err != nil {
		h.logger.Error("list push subscriptions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}
	if subs == nil {
		subs = []model.PushSubscription{}
	}
	writeJSON(w, http.StatusOK, subs)
}

// Unsubscribe handles DELETE /api/push/subscriptions
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())

	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint is required")
		return
	}

	deleted, err := h.subs.DeleteForUser(ac.UserID, req.Endpoint)
	if err != nil {
		h.logger.Error("delete push subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete subscription")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "subscription not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Test handles POST /api/push/test by notifying the caller's own devices.
func (h *PushHandler) Test(w http.ResponseWriter, r *http.Request) {
	if !h.sender.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "push notifications are not configured")
		return
	}
	ac, _ := auth.FromContext(r.Context())

	sent, err := h.sender.NotifyUser(r.Context(), ac.UserID, push.Payload{
		Title: "HomeBank",
		Body:  "Notifications are working",
		Tag:   "test",
	})
	if err != nil {
		h.logger.Error("send test push", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to send notification")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"sent": sent})
}
