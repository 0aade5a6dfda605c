package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/homebank/internal/auth"
	"github.com/dukerupert/homebank/internal/backup"
	"github.com/dukerupert/homebank/internal/clock"
	"github.com/dukerupert/homebank/internal/config"
	"github.com/dukerupert/homebank/internal/database"
	"github.com/dukerupert/homebank/internal/email"
	"github.com/dukerupert/homebank/internal/logging"
	"github.com/dukerupert/homebank/internal/model"
	"github.com/dukerupert/homebank/internal/push"
	"github.com/dukerupert/homebank/internal/scheduler"
	"github.com/dukerupert/homebank/internal/server"
	"github.com/dukerupert/homebank/internal/store"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "vapid-keys" {
		pub, priv, err := push.GenerateVAPIDKeys()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("HOMEBANK_VAPID_PUBLIC_KEY=%s\nHOMEBANK_VAPID_PRIVATE_KEY=%s\n", pub, priv)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.LogLevel)

	loc, err := cfg.Location()
	if err != nil {
		logger.Error("invalid timezone", "error", err)
		os.Exit(1)
	}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := bootstrapAdmin(store.NewUserStore(db), cfg, logger); err != nil {
		logger.Error("failed to bootstrap admin", "error", err)
		os.Exit(1)
	}

	emailClient := email.NewClient(cfg.PostmarkToken, cfg.FromEmail, cfg.BaseURL)
	if !emailClient.Configured() {
		logger.Warn("email disabled: HOMEBANK_POSTMARK_TOKEN not set")
	}

	if cfg.VAPIDPublicKey == "" || cfg.VAPIDPrivateKey == "" {
		logger.Warn("push disabled: run `homebank vapid-keys` and set HOMEBANK_VAPID_PUBLIC_KEY and HOMEBANK_VAPID_PRIVATE_KEY")
	}

	clk := clock.Real{}
	srv := server.New(db, server.Config{
		BaseURL:     cfg.BaseURL,
		Location:    loc,
		HorizonDays: cfg.HorizonDays,
		Backup: backup.Config{
			S3: backup.S3Config{
				Endpoint:  cfg.S3.Endpoint,
				Bucket:    cfg.S3.Bucket,
				Region:    cfg.S3.Region,
				AccessKey: cfg.S3.AccessKey,
				SecretKey: cfg.S3.SecretKey,
			},
			Passphrase:    cfg.BackupPassphrase,
			RetentionDays: cfg.BackupRetentionDays,
		},
		Push: push.Config{
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			Subscriber:      cfg.FromEmail,
		},
	}, clk, emailClient, logger)

	sched := scheduler.New(loc, logger.With("component", "scheduler"))
	backupSpec := ""
	if cfg.BackupEnabled() {
		backupSpec = cfg.BackupSchedule
	}
	err = scheduler.Register(sched, scheduler.Deps{
		Jobs:        srv.Jobs(),
		Sessions:    srv.SessionStore(),
		ResetTokens: srv.ResetTokenStore(),
		Limiter:     srv.RateLimiter(),
		Backup:      srv.BackupManager(),
		Hub:         srv.Hub(),
		Push:        srv.Push(),
		Clock:       clk,
		Logger:      logger.With("component", "scheduler"),
	}, scheduler.Schedules{
		Sweep:    cfg.SweepSchedule,
		Generate: cfg.GenerateSchedule,
		Cleanup:  cfg.CleanupSchedule,
		Backup:   backupSpec,
	})
	if err != nil {
		logger.Error("failed to register scheduled tasks", "error", err)
		os.Exit(1)
	}

	// Catch up on anything that expired or fell due while the process was down.
	for _, task := range []string{scheduler.TaskSweep, scheduler.TaskGenerate} {
		if err := sched.RunNow(task); err != nil {
			logger.Warn("startup task failed", "task", task, "error", err)
		}
	}
	sched.Start()

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("homebank running", "addr", httpServer.Addr, "base_url", cfg.BaseURL, "timezone", loc.String())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	sched.Stop(shutdownCtx)
}

// bootstrapAdmin creates the configured admin account when none exists.
func bootstrapAdmin(users *store.UserStore, cfg *config.Config, logger *slog.Logger) error {
	n, err := users.CountByRole(model.RoleAdmin)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		logger.Warn("no admin account: set HOMEBANK_ADMIN_EMAIL and HOMEBANK_ADMIN_PASSWORD to create one")
		return nil
	}

	hash, err := auth.HashPassword(cfg.AdminPassword)
	if err != nil {
		return err
	}
	admin, err := users.Create(cfg.AdminEmail, "Administrator", hash, model.RoleAdmin, nil)
	if err != nil {
		return err
	}
	logger.Info("admin account created", "user_id", admin.ID, "email", admin.Email)
	return nil
}
