package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/homebank/internal/auth"
	"github.com/dukerupert/homebank/internal/model"
	"github.com/dukerupert/homebank/internal/store"
	"github.com/dukerupert/homebank/internal/websocket"
)

type UserHandler struct {
	userStore    *store.UserStore
	sessionStore *store.SessionStore
	hub          *websocket.Hub
	logger       *slog.Logger
}

func NewUserHandler(us *store.UserStore, ss *store.SessionStore, hub *websocket.Hub, logger *slog.Logger) *UserHandler {
	return &UserHandler{userStore: us, sessionStore: ss, hub: hub, logger: logger}
}

func (h *UserHandler) broadcast(msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(msg)
	}
}

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.userStore.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string     `json:"email"`
		Name     string     `json:"name"`
		Password string     `json:"password"`
		Role     model.Role `json:"role"`
		ParentID *int64     `json:"parent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	req.Name = strings.TrimSpace(req.Name)
	if req.Email == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "email and name are required")
		return
	}
	if !req.Role.Valid() {
		writeError(w, http.StatusBadRequest, "role must be admin, parent or child")
		return
	}

	if req.ParentID != nil {
		if req.Role != model.RoleChild {
			writeError(w, http.StatusBadRequest, "only children have a parent")
			return
		}
		parent, err := h.userStore.GetByID(*req.ParentID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to check parent")
			return
		}
		if parent == nil || parent.Role != model.RoleParent {
			writeError(w, http.StatusBadRequest, "parent not found")
			return
		}
	}

	existing, err := h.userStore.GetByEmail(req.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check email")
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "email already registered")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if errors.Is(err, auth.ErrWeakPassword) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	user, err := h.userStore.Create(req.Email, req.Name, hash, req.Role, req.ParentID)
	if err != nil {
		h.logger.Error("create user", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	h.logger.Info("user created", "user_id", user.ID, "role", user.Role, "by", auth.UserID(r.Context()))
	h.broadcast(websocket.NewMessage(websocket.EntityUser, websocket.ActionCreated, user.ID, nil))

	writeJSON(w, http.StatusCreated, user)
}

func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if id == auth.UserID(r.Context()) {
		writeError(w, http.StatusBadRequest, "cannot delete your own account")
		return
	}

	existing, err := h.userStore.GetByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get user")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	if err := h.userStore.Delete(id); err != nil {
		h.logger.Error("delete user", "user_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete user")
		return
	}

	h.logger.Info("user deleted", "user_id", id, "by", auth.UserID(r.Context()))
	h.broadcast(websocket.NewMessage(websocket.EntityUser, websocket.ActionDeleted, id, nil))

	w.WriteHeader(http.StatusNoContent)
}

// SetPassword replaces a user's password and signs them out everywhere.
func (h *UserHandler) SetPassword(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	existing, err := h.userStore.GetByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get user")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if errors.Is(err, auth.ErrWeakPassword) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	if err := h.userStore.UpdatePassword(id, hash); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update password")
		return
	}
	if err := h.sessionStore.DeleteByUser(id); err != nil {
		h.logger.Warn("revoke sessions", "user_id", id, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// Children lists the caller's children, or every child for an admin.
func (h *UserHandler) Children(w http.ResponseWriter, r *http.Request) {
	var (
		children []model.User
		err      error
	)
	if auth.IsAdmin(r.Context()) {
		children, err = h.userStore.ListByRole(model.RoleChild)
	} else {
		children, err = h.userStore.ListChildren(auth.UserID(r.Context()))
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list children")
		return
	}
	if children == nil {
		children = []model.User{}
	}
	writeJSON(w, http.StatusOK, children)
}
