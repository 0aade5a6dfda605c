package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/homebank/internal/auth"
	"github.com/dukerupert/homebank/internal/clock"
	"github.com/dukerupert/homebank/internal/middleware"
	"github.com/dukerupert/homebank/internal/store"
)

// resetMailer is the slice of the email client the auth handler uses.
type resetMailer interface {
	SendPasswordReset(ctx context.Context, toEmail, name, token string) error
}

type AuthHandler struct {
	userStore       *store.UserStore
	sessionStore    *store.SessionStore
	resetTokenStore *store.ResetTokenStore
	mailer          resetMailer
	clock           clock.Clock
	secureCookies   bool
	logger          *slog.Logger
}

func NewAuthHandler(
	us *store.UserStore,
	ss *store.SessionStore,
	rts *store.ResetTokenStore,
	mailer resetMailer,
	clk clock.Clock,
	baseURL string,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		userStore:       us,
		sessionStore:    ss,
		resetTokenStore: rts,
		mailer:          mailer,
		clock:           clk,
		secureCookies:   strings.HasPrefix(baseURL, "https://"),
		logger:          logger,
	}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := h.userStore.GetByEmail(req.Email)
	if err != nil {
		h.logger.Error("login lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	ok, err := auth.CheckPassword(user.PasswordHash, req.Password)
	if err != nil {
		h.logger.Error("login password check", "user_id", user.ID, "error", err)
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	sess, err := h.sessionStore.Create(user.ID, h.clock.Now())
	if err != nil {
		h.logger.Error("create session", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	h.logger.Info("login", "user_id", user.ID, "role", user.Role)
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      sess.Token,
		"expires_at": sess.ExpiresAt,
		"user":       user,
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if ac, ok := auth.FromContext(r.Context()); ok {
		if err := h.sessionStore.Delete(ac.SessionID); err != nil {
			h.logger.Error("delete session", "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	w.WriteHeader(http.StatusNoContent)
}

// Me returns the authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.userStore.GetByID(auth.UserID(r.Context()))
	if err != nil || user == nil {
		writeError(w, http.StatusInternalServerError, "failed to get user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// ForgotPassword mails a reset link. The response is the same whether or not
// the address is registered so it cannot be used to enumerate accounts.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	defer writeJSON(w, http.StatusOK, map[string]string{
		"status": "if that address is registered, a reset link is on its way",
	})

	user, err := h.userStore.GetByEmail(req.Email)
	if err != nil {
		h.logger.Error("forgot password lookup", "error", err)
		return
	}
	if user == nil {
		return
	}

	rt, err := h.resetTokenStore.Create(user.ID, user.Email, h.clock.Now())
	if err != nil {
		h.logger.Error("create reset token", "user_id", user.ID, "error", err)
		return
	}
	if err := h.mailer.SendPasswordReset(r.Context(), user.Email, user.Name, rt.Token); err != nil {
		h.logger.Error("send password reset", "user_id", user.ID, "error", err)
	}
}

// ValidateResetToken lets the reset page check a link before asking for a
// new password.
func (h *AuthHandler) ValidateResetToken(w http.ResponseWriter, r *http.Request) {
	rt, err := h.resetTokenStore.GetValid(r.PathValue("token"), h.clock.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if rt == nil {
		writeError(w, http.StatusBadRequest, "invalid or expired reset token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true, "email": rt.Email})
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	now := h.clock.Now()
	rt, err := h.resetTokenStore.GetValid(req.Token, now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if rt == nil {
		writeError(w, http.StatusBadRequest, "invalid or expired reset token")
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

	// Consume the token first; a concurrent request with the same token
	// loses here.
	ok, err := h.resetTokenStore.MarkUsed(rt.ID, now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid or expired reset token")
		return
	}

	if err := h.userStore.UpdatePassword(rt.UserID, hash); err != nil {
		h.logger.Error("reset password", "user_id", rt.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update password")
		return
	}
	if err := h.sessionStore.DeleteByUser(rt.UserID); err != nil {
		h.logger.Warn("revoke sessions", "user_id", rt.UserID, "error", err)
	}

	h.logger.Info("password reset", "user_id", rt.UserID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "password updated"})
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	user, err := h.userStore.GetByID(auth.UserID(r.Context()))
	if err != nil || user == nil {
		writeError(w, http.StatusInternalServerError, "failed to get user")
		return
	}

	ok, err := auth.CheckPassword(user.PasswordHash, req.CurrentPassword)
	if err != nil {
		h.logger.Error("change password check", "user_id", user.ID, "error", err)
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, "current password is incorrect")
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if errors.Is(err, auth.ErrWeakPassword) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	if err := h.userStore.UpdatePassword(user.ID, hash); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update password")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "password updated"})
}
