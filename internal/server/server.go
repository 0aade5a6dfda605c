package server

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/homebank/internal/backup"
	"github.com/dukerupert/homebank/internal/clock"
	"github.com/dukerupert/homebank/internal/email"
	"github.com/dukerupert/homebank/internal/handler"
	"github.com/dukerupert/homebank/internal/job"
	"github.com/dukerupert/homebank/internal/middleware"
	"github.com/dukerupert/homebank/internal/model"
	"github.com/dukerupert/homebank/internal/push"
	"github.com/dukerupert/homebank/internal/store"
	ws "github.com/dukerupert/homebank/internal/websocket"
)

type Config struct {
	BaseURL     string
	Location    *time.Location
	HorizonDays int
	Backup      backup.Config
	Push        push.Config
}

type Server struct {
	db    *sql.DB
	hub   *ws.Hub
	clock clock.Clock

	jobH     *handler.JobHandler
	rewardH  *handler.RewardHandler
	pointsH  *handler.PointsHandler
	userH    *handler.UserHandler
	authH    *handler.AuthHandler
	backupH  *handler.BackupHandler
	pushH    *handler.PushHandler
	jobs     *job.Service
	backups  *backup.Manager
	pusher   *push.Dispatcher
	limiter  *middleware.RateLimiter
	users    *store.UserStore
	sessions *store.SessionStore
	resets   *store.ResetTokenStore

	logger *slog.Logger
}

func New(db *sql.DB, cfg Config, clk clock.Clock, emailClient *email.Client, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	userStore := store.NewUserStore(db)
	jobStore := store.NewJobStore(db)
	sessionStore := store.NewSessionStore(db)
	resetStore := store.NewResetTokenStore(db)
	rewardStore := store.NewRewardStore(db)
	txnStore := store.NewTransactionStore(db)
	pushStore := store.NewPushStore(db)

	pusher := push.NewDispatcher(push.NewService(cfg.Push), pushStore, logger.With("component", "push"))

	jobSvc := job.NewService(jobStore, userStore, job.Config{
		Clock:       clk,
		Location:    cfg.Location,
		HorizonDays: cfg.HorizonDays,
		Notifier:    email.NewJobNotifier(emailClient, userStore, cfg.BaseURL),
		Logger:      logger.With("component", "job"),
	})

	backupMgr := backup.NewManager(cfg.Backup, db, clk, logger.With("component", "backup"), func(s backup.Status) {
		hub.Broadcast(ws.Message{
			Type:   "backup_status",
			Entity: "backup",
			Action: ws.Action(s.State),
			Extra: map[string]any{
				"in_progress": s.InProgress,
				"error":       s.Error,
			},
		})
	})

	return &Server{
		db:       db,
		hub:      hub,
		clock:    clk,
		jobH:     handler.NewJobHandler(jobSvc, userStore, hub, pusher, clk, cfg.BaseURL, logger.With("component", "job_handler")),
		rewardH:  handler.NewRewardHandler(rewardStore, userStore, hub, clk, logger.With("component", "reward")),
		pointsH:  handler.NewPointsHandler(userStore, txnStore, logger.With("component", "points")),
		userH:    handler.NewUserHandler(userStore, sessionStore, hub, logger.With("component", "user")),
		authH:    handler.NewAuthHandler(userStore, sessionStore, resetStore, emailClient, clk, cfg.BaseURL, logger.With("component", "auth")),
		backupH:  handler.NewBackupHandler(backupMgr, logger.With("component", "backup_handler")),
		pushH:    handler.NewPushHandler(pushStore, pusher, logger.With("component", "push_handler")),
		jobs:     jobSvc,
		backups:  backupMgr,
		pusher:   pusher,
		limiter:  middleware.NewRateLimiter(clk),
		users:    userStore,
		sessions: sessionStore,
		resets:   resetStore,
		logger:   logger,
	}
}

// Jobs returns the job engine for the scheduler.
func (s *Server) Jobs() *job.Service {
	return s.jobs
}

// Hub returns the websocket hub for scheduler broadcasts.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

// SessionStore returns the session store for cleanup tasks.
func (s *Server) SessionStore() *store.SessionStore {
	return s.sessions
}

// ResetTokenStore returns the reset token store for cleanup tasks.
func (s *Server) ResetTokenStore() *store.ResetTokenStore {
	return s.resets
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.limiter
}

// Push returns the push dispatcher for scheduler notifications.
func (s *Server) Push() *push.Dispatcher {
	return s.pusher
}

// BackupManager returns the backup manager.
func (s *Server) BackupManager() *backup.Manager {
	return s.backups
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.HandleFunc("POST /api/auth/login", s.rateLimitedHandler(s.authH.Login))
	outerMux.HandleFunc("POST /api/auth/forgot-password", s.rateLimitedHandler(s.authH.ForgotPassword))
	outerMux.HandleFunc("GET /api/auth/reset-password/{token}", s.authH.ValidateResetToken)
	outerMux.HandleFunc("POST /api/auth/reset-password", s.rateLimitedHandler(s.authH.ResetPassword))

	// Protected routes, wrapped with RequireAuth middleware
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.sessions, s.users, s.clock)
	outerMux.Handle("/", authMiddleware(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		status, code = "database unavailable", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write([]byte(`{"status":"` + status + `"}`))
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.limiter, keyFunc, 10, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}

// only restricts h to the given roles.
func only(h http.HandlerFunc, roles ...model.Role) http.Handler {
	return middleware.RequireRole(roles...)(h)
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	manage := []model.Role{model.RoleParent, model.RoleAdmin}

	// Session
	mux.HandleFunc("POST /api/auth/logout", s.authH.Logout)
	mux.HandleFunc("GET /api/auth/me", s.authH.Me)
	mux.HandleFunc("POST /api/auth/change-password", s.authH.ChangePassword)

	// Jobs
	mux.HandleFunc("GET /api/jobs", s.jobH.List)
	mux.Handle("POST /api/jobs", only(s.jobH.Create, manage...))
	mux.HandleFunc("GET /api/jobs/{id}", s.jobH.Get)
	mux.Handle("DELETE /api/jobs/{id}", only(s.jobH.Delete, manage...))
	mux.Handle("POST /api/jobs/{id}/claim", only(s.jobH.Claim, model.RoleChild))
	mux.Handle("POST /api/jobs/{id}/submit", only(s.jobH.Submit, model.RoleChild))
	mux.Handle("POST /api/jobs/{id}/approve", only(s.jobH.Approve, manage...))
	mux.Handle("POST /api/jobs/sweep", only(s.jobH.Sweep, manage...))
	mux.Handle("POST /api/jobs/generate", only(s.jobH.Generate, manage...))
	mux.HandleFunc("GET /api/jobs/{id}/calendar.ics", s.jobH.Calendar)

	// Rewards
	mux.HandleFunc("GET /api/rewards", s.rewardH.List)
	mux.Handle("POST /api/rewards", only(s.rewardH.Create, manage...))
	mux.Handle("PUT /api/rewards/{id}", only(s.rewardH.Update, manage...))
	mux.Handle("DELETE /api/rewards/{id}", only(s.rewardH.Delete, manage...))
	mux.HandleFunc("POST /api/rewards/{id}/redeem", s.rewardH.Redeem)

	// Points
	mux.HandleFunc("GET /api/users/{id}/points", s.pointsH.Get)
	mux.Handle("GET /api/children", only(s.userH.Children, manage...))

	// Admin
	mux.Handle("GET /api/admin/users", only(s.userH.List, model.RoleAdmin))
	mux.Handle("POST /api/admin/users", only(s.userH.Create, model.RoleAdmin))
	mux.Handle("DELETE /api/admin/users/{id}", only(s.userH.Delete, model.RoleAdmin))
	mux.Handle("POST /api/admin/users/{id}/password", only(s.userH.SetPassword, model.RoleAdmin))
	mux.Handle("GET /api/admin/backup", only(s.backupH.Status, model.RoleAdmin))
	mux.Handle("POST /api/admin/backup", only(s.backupH.Run, model.RoleAdmin))

	// Push notifications
	mux.HandleFunc("GET /api/push/vapid-key", s.pushH.VAPIDKey)
	mux.HandleFunc("GET /api/push/subscriptions", s.pushH.ListSubscriptions)
	mux.HandleFunc("POST /api/push/subscriptions", s.pushH.Subscribe)
	mux.HandleFunc("DELETE /api/push/subscriptions", s.pushH.Unsubscribe)
	mux.HandleFunc("POST /api/push/test", s.pushH.Test)

	// WebSocket
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.logger.With("component", "websocket")))
}
