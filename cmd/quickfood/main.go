// Command quickfood serves the QuickFood client views on a local address,
// guarding each one with the session and route-authorization core.
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

	"github.com/prometheus/client_golang/prometheus"

	quickfood "github.com/quickfood/quickfood-go"
	"github.com/quickfood/quickfood-go/audit"
	"github.com/quickfood/quickfood-go/credstore"
	"github.com/quickfood/quickfood-go/identity"
	"github.com/quickfood/quickfood-go/metrics"
	"github.com/quickfood/quickfood-go/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "quickfood: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}

	client, err := quickfood.NewClient(
		quickfood.Config{
			APIURL:          cfg.APIURL,
			RequestTimeout:  cfg.RequestTimeout,
			RenewTimeout:    cfg.RenewTimeout,
			TokenExpirySkew: cfg.TokenExpirySkew,
		},
		quickfood.WithLogger(logger),
		quickfood.WithCredentialStore(store),
		quickfood.WithIdentityAPI(identity.New(cfg.APIURL)),
	)
	if err != nil {
		return err
	}
	defer client.Close()

	m := metrics.New(cfg.MetricsEnabled)
	var auditLog *audit.Logger
	if cfg.AuditEnabled {
		auditLog = audit.New(256, audit.WithSlogHandler(logger.With(slog.String("component", "audit"))))
		defer auditLog.Close()
	}

	mgr := session.New(client, session.WithMetrics(m), session.WithAuditLogger(auditLog))
	opts := serverOptions{logger: logger, metrics: m, audit: auditLog}
	if cfg.MetricsEnabled {
		opts.gatherer = prometheus.DefaultGatherer
	}
	handler := newServer(mgr, opts)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("quickfood listening",
			slog.String("addr", cfg.Addr),
			slog.String("api", cfg.APIURL),
			slog.String("store", cfg.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown error", slog.Any("error", err))
	}
	return nil
}

func openStore(ctx context.Context, cfg *config) (quickfood.CredentialStore, error) {
	switch cfg.Store {
	case "memory":
		return credstore.NewMemory(), nil
	case "redis":
		return credstore.DialRedis(ctx, cfg.RedisURL, cfg.RedisKey)
	case "file":
		return credstore.NewFile(cfg.StoreFile), nil
	default:
		return nil, fmt.Errorf("unknown credential store %q", cfg.Store)
	}
}

// newLogger creates a JSON slog logger at level, defaulting to info.
func newLogger(level string) *slog.Logger {
	lvl := new(slog.LevelVar)
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl.Set(slog.LevelInfo)
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
