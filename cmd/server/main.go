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

	"golang.org/x/sync/errgroup"

	"github.com/kjannette/stockviewer-backend/internal/api"
	"github.com/kjannette/stockviewer-backend/internal/config"
	"github.com/kjannette/stockviewer-backend/internal/db"
	"github.com/kjannette/stockviewer-backend/internal/importer"
	"github.com/kjannette/stockviewer-backend/internal/logger"
	"github.com/kjannette/stockviewer-backend/internal/metrics"
	"github.com/kjannette/stockviewer-backend/internal/notifications"
	"github.com/kjannette/stockviewer-backend/internal/repository"
	"github.com/kjannette/stockviewer-backend/internal/validator"
)

const banner = `
╔══════════════════════════════════════╗
║        Stock Viewer API v1.0         ║
║                                      ║
╚══════════════════════════════════════╝
`

func main() {
	fmt.Print(banner)
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := logger.Init(cfg.Log); err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	cfg.Print()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	slog.Info("connecting to database", "component", "db", "host", cfg.DBHost, "port", cfg.DBPort, "name", cfg.DBName)
	poolOpts := db.DefaultPoolOptions
	poolOpts.MaxConns = int32(cfg.DBMaxConns)
	pool, err := db.Connect(ctx, cfg.DSN(), poolOpts)
	if err != nil {
		return fmt.Errorf("database connect: %w", err)
	}
	defer func() {
		pool.Close()
		slog.Info("connection pool closed", "component", "db")
	}()

	if err := db.TestConnection(ctx, pool); err != nil {
		return fmt.Errorf("database test query: %w", err)
	}
	if cfg.AutoMigrate {
		if err := db.EnsureSchema(ctx, pool); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	repo := repository.NewStockRepo(pool)
	m := metrics.New()
	notify := notifications.NewSender(cfg.WebhookURL, cfg.AppName)

	var source importer.Source = importer.NewFileSource(cfg.ImportFile)
	if cfg.ImportURL != "" {
		source = importer.NewHTTPSource(cfg.ImportURL)
	}
	imp := importer.New(source, repo, m, notify)

	v := validator.New(validator.Options{RequireAllFields: cfg.StrictRecordFields})
	srv := api.NewServer(repo, imp, v, m, pool, api.Options{
		Port:            cfg.APIPort,
		CORSAllowOrigin: cfg.CORSAllowOrigin,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api shutdown: %w", err)
		}
		slog.Info("server closed", "component", "api")
		imp.Wait()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("shutdown complete")
	return nil
}
