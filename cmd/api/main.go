package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"

	"messaging-relay/internal/audit"
	"messaging-relay/internal/config"
	"messaging-relay/internal/httpapi"
	"messaging-relay/internal/messaging"
	"messaging-relay/internal/reporting"
	"messaging-relay/internal/store"
	"messaging-relay/internal/telephony"
	"messaging-relay/pkg/logger"
	"messaging-relay/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config.LoadEnvFiles()
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := store.Migrate(rootCtx, db); err != nil {
		log.Error("schema migration failed", "err", err)
		os.Exit(1)
	}

	checks := []httpapi.HealthCheck{{
		Name:  "postgres",
		Check: func(ctx context.Context) error { return utils.HealthCheck(ctx, db, 2*time.Second) },
	}}

	// Redis-backed locks coordinate replicas; a single instance can run on in-process locks.
	var locker messaging.Locker = messaging.NewLocalLocker()
	if cfg.RedisEnabled() {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		locker = utils.NewKeyLock(rdb, utils.KeyLockConfig{})
		checks = append(checks, httpapi.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	} else {
		log.Warn("redis not configured; using in-process reconciliation locks")
	}

	repo := store.NewPostgresRepo(db)
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))

	provider := telephony.NewTwilioProvider(telephony.TwilioConfig{
		AccountSID:   cfg.Twilio.AccountSID,
		AuthToken:    cfg.Twilio.AuthToken,
		ServiceSID:   cfg.Twilio.ConversationsServiceSID,
		RateLimitRPS: cfg.Twilio.RateLimitRPS,
	})
	recon := messaging.NewReconciler(repo, provider, locker, auditSvc)
	msgSvc := messaging.NewService(repo, recon, provider, messaging.NewHTTPMediaFetcher(cfg.Media.FetchTimeout), auditSvc, messaging.Options{
		SendingAddress: cfg.SendingAddress(),
		ProxyAddress:   cfg.ProxyAddress(),
	})

	if !cfg.Twilio.ValidateWebhooks {
		log.Warn("twilio webhook signature validation disabled")
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		API: httpapi.Handlers{
			Messaging:      msgSvc,
			Store:          repo,
			Reporting:      reporting.NewService(repo),
			Checks:         checks,
			SendingAddress: cfg.SendingAddress(),
			ProxyAddress:   cfg.ProxyAddress(),
		},
		Webhooks: telephony.WebhookHandler{Messaging: msgSvc},
		Verifier: telephony.NewSignatureVerifier(cfg.Twilio.AuthToken, cfg.Twilio.ValidateWebhooks, cfg.Twilio.PublicBaseURL),
		Origins:  cfg.HTTP.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
