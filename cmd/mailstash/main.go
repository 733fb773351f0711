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

	"github.com/joho/godotenv"

	"github.io/infrasutra/mailstash/internal/accounts"
	"github.io/infrasutra/mailstash/internal/api"
	"github.io/infrasutra/mailstash/internal/auth"
	"github.io/infrasutra/mailstash/internal/config"
	"github.io/infrasutra/mailstash/internal/kv"
	"github.io/infrasutra/mailstash/internal/localmail"
	"github.io/infrasutra/mailstash/internal/mailtm"
	"github.io/infrasutra/mailstash/internal/prefs"
	"github.io/infrasutra/mailstash/internal/smtpserver"
	"github.io/infrasutra/mailstash/internal/sse"
	"github.io/infrasutra/mailstash/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	backend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("open storage backend", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	st := store.New(backend, store.Options{
		Prefix:       cfg.StorePrefix,
		ChunkSize:    cfg.StoreChunkSize,
		Capacity:     cfg.StoreCapacity,
		EnforceQuota: cfg.StoreEnforceQuota,
	}, logger)
	if removed, err := st.Cleanup(ctx); err != nil {
		logger.Warn("initial cleanup", "error", err)
	} else if removed > 0 {
		logger.Info("initial cleanup", "removed", removed)
	}

	ring, err := accounts.OpenKeyring(cfg.KeyringDir)
	if err != nil {
		logger.Error("open keyring", "error", err)
		os.Exit(1)
	}

	authManager, err := auth.New(cfg.AuthSecret, 30*24*time.Hour)
	if err != nil {
		logger.Error("init auth", "error", err)
		os.Exit(1)
	}
	if cfg.AuthSecret == "" {
		logger.Warn("AUTH_SECRET not set; sessions reset on restart")
	}

	hub := sse.NewHub()
	p := prefs.New(backend, logger)
	svc := localmail.New(st, p, hub, logger)
	apiServer := api.NewServer(api.Deps{
		Local:    svc,
		Prefs:    p,
		Accounts: accounts.New(backend, ring),
		Remote:   mailtm.New(cfg.MailTMBaseURL, cfg.MailTMTimeout),
		Auth:     authManager,
		Hub:      hub,
		Logger:   logger,
	})

	go svc.RunAutoArchive(ctx, time.Hour)

	var smtpSrv *smtpserver.Server
	if cfg.SMTPIntakeEnabled {
		smtpAuthCfg := smtpserver.AuthConfig{
			Enabled:  cfg.SMTPAuthEnabled,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
		}
		if !smtpAuthCfg.Enabled {
			logger.Warn("smtp auth disabled; intake accepts unauthenticated connections")
		} else if cfg.DefaultSMTPAuth() {
			logger.Warn("SMTP_USERNAME or SMTP_PASSWORD not set; intake uses the built-in credentials")
		}
		smtpSrv = smtpserver.New(svc, logger, fmt.Sprintf(":%d", cfg.SMTPPort), smtpAuthCfg)
		go func() {
			if err := smtpSrv.ListenAndServe(); err != nil {
				logger.Error("smtp server stopped", "error", err)
			}
		}()
	}

	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	httpSrv := &http.Server{
		Addr:    httpAddr,
		Handler: apiServer,
	}
	go func() {
		logger.Info("http server listening", "addr", httpAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown http", "error", err)
	}
	if smtpSrv != nil {
		if err := smtpSrv.Close(); err != nil {
			logger.Error("shutdown smtp", "error", err)
		}
	}
}

func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (kv.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		logger.Warn("memory backend selected; stored mail is lost on restart")
		return kv.NewMemory(0), nil
	case config.BackendS3:
		return kv.DialS3(kv.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
	case config.BackendSQLite:
		if cfg.DBPath == "" {
			logger.Warn("DB_PATH not set; using an in-memory database")
		}
		return kv.OpenSQLite(ctx, cfg.DBPath, 0)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
