package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/q2kindle/q2kindle/app/api"
	"github.com/q2kindle/q2kindle/app/cfg"
	"github.com/q2kindle/q2kindle/app/database"
	"github.com/q2kindle/q2kindle/app/delivery"
	"github.com/q2kindle/q2kindle/app/epub"
	"github.com/q2kindle/q2kindle/app/extractor"
	"github.com/q2kindle/q2kindle/app/mailer"
	"github.com/q2kindle/q2kindle/app/tasks"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown, exit gracefully
		return
	}

	logLevel := slog.LevelInfo
	if appCfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	slog.Info("Starting q2kindle server", "version", appCfg.Version)

	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		slog.Error("Failed to open database", "path", appCfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "path", appCfg.DBPath, "schema_version", version, "dirty", dirty)

	articleRepo := database.NewArticleRepository(db)
	settingsRepo := database.NewSettingsRepository(db)
	historyRepo := database.NewHistoryRepository(db)

	httpClient := &http.Client{Timeout: extractor.FetchTimeout}
	contentExtractor := extractor.New(httpClient, appCfg.UserAgent)

	epubBuilder := epub.NewBuilder()
	dispatcher, err := mailer.New(appCfg.SMTPHost, appCfg.SMTPPort,
		appCfg.SMTPLogin, appCfg.SMTPPassword, appCfg.SenderAddress)
	if err != nil {
		slog.Error("Failed to initialize SMTP client", "host", appCfg.SMTPHost, "error", err)
		os.Exit(1)
	}

	quota := delivery.NewQuotaTracker(historyRepo)
	orchestrator := delivery.NewOrchestrator(articleRepo, settingsRepo, historyRepo,
		quota, epubBuilder, dispatcher)

	slog.Info("Starting background scheduler", "workers", appCfg.WorkerCount)
	scheduler := tasks.NewScheduler(articleRepo, contentExtractor, orchestrator)
	scheduler.Start()
	defer scheduler.Stop()

	apiHandler := api.NewHandler(articleRepo, settingsRepo, historyRepo,
		quota, orchestrator, scheduler, contentExtractor)
	server := api.NewServer(apiHandler, appCfg.APIAccessKey, appCfg.CronSecret)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout: 30 * time.Second,
		// The cron trigger runs a full delivery pass before responding,
		// so the write timeout has to cover several compile+send cycles.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Scheduler is stopped via defer
	slog.Info("Shutdown complete")
}
