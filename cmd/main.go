// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Shivanand-hulikatti/ticket-codes/internal/config"
	"github.com/Shivanand-hulikatti/ticket-codes/internal/database"
	"github.com/Shivanand-hulikatti/ticket-codes/internal/handler"
	"github.com/Shivanand-hulikatti/ticket-codes/internal/issuance"
	"github.com/Shivanand-hulikatti/ticket-codes/internal/lock"
	"github.com/Shivanand-hulikatti/ticket-codes/internal/notify"
	"github.com/Shivanand-hulikatti/ticket-codes/internal/ocr"
	"github.com/Shivanand-hulikatti/ticket-codes/internal/repository"
	"github.com/Shivanand-hulikatti/ticket-codes/internal/service"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}
	cfg := config.Load()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)})))

	if err := run(cfg); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	ctx := context.Background()

	// ── 1. Open the ticket store ─────────────────────────────────────────
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	// ── 2. Wire up layers ────────────────────────────────────────────────
	locker, err := newLocker(cfg)
	if err != nil {
		return err
	}
	notifier, err := newNotifier(cfg)
	if err != nil {
		return err
	}
	svc := service.NewRegistrationService(
		store,
		locker,
		newExtractor(cfg),
		notifier,
		service.Options{
			IndexMode:         issuance.ParseDegradeMode(cfg.Issuance.IndexMode),
			MaxPrimeSamples:   cfg.Issuance.MaxPrimeSamples,
			MaxClaimAttempts:  cfg.Issuance.MaxClaimAttempts,
			MaxAppendAttempts: cfg.Issuance.MaxAppendAttempts,
			LockKey:           cfg.Lock.Key,
			LockWait:          cfg.Lock.WaitTimeout,
		},
	)
	h := handler.NewRegistrationHandler(svc, cfg.MaxUploadBytes)

	// ── 3. Start server with graceful shutdown ───────────────────────────
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      handler.NewRouter(h, cfg.AllowedOrigins),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", srv.Addr, "store", cfg.StoreBackend, "lock", cfg.Lock.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		return fmt.Errorf("server error: %w", err)
	case <-quit:
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	slog.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.Config) (repository.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		pool, err := database.NewPool(ctx, cfg.DB)
		if err != nil {
			return nil, nil, fmt.Errorf("database: %w", err)
		}
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("database: %w", err)
		}
		slog.Info("connected to PostgreSQL", "host", cfg.DB.Host, "db", cfg.DB.Name)
		return repository.NewPostgresStore(pool), pool.Close, nil
	default:
		store, err := repository.NewSheetsStore(ctx, cfg.Sheets)
		if err != nil {
			return nil, nil, fmt.Errorf("sheets: %w", err)
		}
		slog.Info("using Google Sheets store", "range", cfg.Sheets.AppendRange)
		return store, func() {}, nil
	}
}

// newLocker builds the claim lock. An unreachable Redis is fatal unless
// LOCK_FALLBACK=local opts into a per-process lock.
func newLocker(cfg config.Config) (lock.Locker, error) {
	if cfg.Lock.Backend != config.LockRedis {
		return lock.NewLocalLocker(), nil
	}
	rdb, err := config.NewRedisClient(cfg.Redis)
	if err == nil {
		return lock.NewRedisLocker(rdb, cfg.Lock.TTL), nil
	}
	if cfg.Lock.Fallback != config.LockLocal {
		return nil, fmt.Errorf("claim lock: %w", err)
	}
	slog.Warn("redis unreachable, LOCK_FALLBACK selects in-process claim lock",
		"addr", cfg.Redis.Addr, "error", err)
	return lock.NewLocalLocker(), nil
}

func newExtractor(cfg config.Config) ocr.Extractor {
	if cfg.OpenAI.APIKey == "" {
		slog.Warn("OPENAI_API_KEY not set, receipt OCR disabled")
		return ocr.Noop{}
	}
	return ocr.NewOpenAIExtractor(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
}

func newNotifier(cfg config.Config) (notify.Notifier, error) {
	var sinks notify.Multi
	if cfg.Telegram.BotToken != "" {
		tg, err := notify.NewTelegram(cfg.Telegram.APIURL, cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		sinks = append(sinks, notify.Sink{Name: "telegram", Notifier: tg})
	}
	if cfg.AMQPURL != "" {
		sinks = append(sinks, notify.Sink{Name: "amqp", Notifier: notify.NewAMQPPublisher(cfg.AMQPURL)})
	}
	if len(sinks) == 0 {
		slog.Warn("no notification sink configured")
	}
	return sinks, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
