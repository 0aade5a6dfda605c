package handler

import (
	"net/http"
	"testing"
	"time"

	"github.com/dukerupert/homebank/internal/auth"
	"github.com/dukerupert/homebank/internal/logging"
	"github.com/dukerupert/homebank/internal/middleware"
)

func newTestAuthHandler(e *testEnv) *AuthHandler {
	return NewAuthHandler(e.users, e.sessions, e.resets, e.mailer, e.clk, "https://bank.example.com", logging.Discard())
}

func TestLogin(t *testing.T) {
	e := newTestEnv(t)
	h := newTestAuthHandler(e)

	rec := serve(t, "POST /api/auth/login", h.Login, "POST", "/api/auth/login",
		map[string]string{"email": "Kid@Example.com", "password": "password1"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.SessionCookieName {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value == "" {
		t.Fatal("session cookie not set")
	}
	if !cookie.HttpOnly || !cookie.Secure {
		t.Errorf("cookie flags: httponly=%v secure=%v", cookie.HttpOnly, cookie.Secure)
	}

	sess, err := e.sessions.GetByToken(cookie.Value, testNow)
	if err != nil || sess == nil {
		t.Fatalf("session lookup: %v", err)
	}
	if sess.UserID != e.kid.ID {
		t.Errorf("session user = %d, want %d", sess.UserID, e.kid.ID)
	}
}

func TestLoginRejects(t *testing.T) {
	e := newTestEnv(t)
	h := newTestAuthHandler(e)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"wrong password", map[string]string{"email": "kid@example.com", "password": "nope-nope"}, http.StatusUnauthorized},
		{"unknown email", map[string]string{"email": "ghost@example.com", "password": "password1"}, http.StatusUnauthorized},
		{"missing fields", map[string]string{"email": ""}, http.StatusBadRequest},
		{"bad json", "{", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, "POST /api/auth/login", h.Login, "POST", "/api/auth/login", tt.body, nil)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestLogout(t *testing.T) {
	e := newTestEnv(t)
	h := newTestAuthHandler(e)
	sess, err := e.sessions.Create(e.kid.ID, testNow)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	ac := &auth.AuthContext{UserID: e.kid.ID, Role: e.kid.Role, SessionID: sess.ID}
	rec := serve(t, "POST /api/auth/logout", h.Logout, "POST", "/api/auth/logout", nil, ac)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if got, _ := e.sessions.GetByToken(sess.Token, testNow); got != nil {
		t.Error("session not deleted")
	}
}

func TestPasswordResetFlow(t *testing.T) {
	e := newTestEnv(t)
	h := newTestAuthHandler(e)

	rec := serve(t, "POST /api/auth/forgot-password", h.ForgotPassword, "POST", "/api/auth/forgot-password",
		map[string]string{"email": "kid@example.com"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("forgot: status %d", rec.Code)
	}
	token := e.mailer.tokenFor("kid@example.com")
	if token == "" {
		t.Fatal("no reset mail sent")
	}

	rec = serve(t, "GET /api/auth/reset-password/{token}", h.ValidateResetToken, "GET", "/api/auth/reset-password/"+token, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("validate: status %d", rec.Code)
	}

	rec = serve(t, "POST /api/auth/reset-password", h.ResetPassword, "POST", "/api/auth/reset-password",
		map[string]string{"token": token, "password": "brand-new-pw"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset: status %d: %s", rec.Code, rec.Body.String())
	}

	rec = serve(t, "POST /api/auth/login", h.Login, "POST", "/api/auth/login",
		map[string]string{"email": "kid@example.com", "password": "brand-new-pw"}, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("login with new password: status %d", rec.Code)
	}

	rec = serve(t, "POST /api/auth/reset-password", h.ResetPassword, "POST", "/api/auth/reset-password",
		map[string]string{"token": token, "password": "another-pw"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("token reuse: status %d, want 400", rec.Code)
	}
}

func TestPasswordResetExpired(t *testing.T) {
	e := newTestEnv(t)
	h := newTestAuthHandler(e)

	serve(t, "POST /api/auth/forgot-password", h.ForgotPassword, "POST", "/api/auth/forgot-password",
		map[string]string{"email": "kid@example.com"}, nil)
	token := e.mailer.tokenFor("kid@example.com")

	e.clk.Advance(2 * time.Hour)
	rec := serve(t, "POST /api/auth/reset-password", h.ResetPassword, "POST", "/api/auth/reset-password",
		map[string]string{"token": token, "password": "brand-new-pw"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestForgotPasswordUnknownEmail(t *testing.T) {
	e := newTestEnv(t)
	h := newTestAuthHandler(e)

	rec := serve(t, "POST /api/auth/forgot-password", h.ForgotPassword, "POST", "/api/auth/forgot-password",
		map[string]string{"email": "ghost@example.com"}, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if e.mailer.tokenFor("ghost@example.com") != "" {
		t.Error("mail sent for unknown address")
	}
}

func TestChangePassword(t *testing.T) {
	e := newTestEnv(t)
	h := newTestAuthHandler(e)

	rec := serve(t, "POST /api/auth/change-password", h.ChangePassword, "POST", "/api/auth/change-password",
		map[string]string{"current_password": "wrong-one", "new_password": "password2"}, as(e.kid))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong current: status %d, want 401", rec.Code)
	}

	rec = serve(t, "POST /api/auth/change-password", h.ChangePassword, "POST", "/api/auth/change-password",
		map[string]string{"current_password": "password1", "new_password": "password2"}, as(e.kid))
	if rec.Code != http.StatusOK {
		t.Fatalf("change: status %d: %s", rec.Code, rec.Body.String())
	}

	u, _ := e.users.GetByID(e.kid.ID)
	if ok, _ := auth.CheckPassword(u.PasswordHash, "password2"); !ok {
		t.Error("new password not stored")
	}
}
