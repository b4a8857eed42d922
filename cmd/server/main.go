package main

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	resumewebui "github.com/MegaGrindStone/resume-web-ui"
	"github.com/MegaGrindStone/resume-web-ui/internal/handlers"
	"github.com/MegaGrindStone/resume-web-ui/internal/services"
)

const errLoggerKey = "err"

func main() {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		log.Fatal(fmt.Errorf("error getting user config dir: %w", err))
	}
	cfgPath := filepath.Join(cfgDir, "resumewebui")
	if err := os.MkdirAll(cfgPath, 0755); err != nil {
		log.Fatal(fmt.Errorf("error creating config directory: %w", err))
	}

	cfg, err := loadConfig(filepath.Join(cfgPath, "config.yaml"))
	if err != nil {
		log.Fatal(err)
	}

	logger, closeLog, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatal(err)
	}
	defer closeLog()

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(cfgPath, "store.db")
	}
	boltDB, err := services.NewBoltDB(dbPath)
	if err != nil {
		logger.Error("Failed to open store", slog.String("path", dbPath), slog.String(errLoggerKey, err.Error()))
		os.Exit(1)
	}
	defer boltDB.Close()

	backend := services.NewBackend(cfg.Backend.URL, cfg.Backend.Timeout, cfg.Backend.Breaker, logger)

	m, err := handlers.NewMain(backend, boltDB, services.NewMarkdown(), logger)
	if err != nil {
		logger.Error("Failed to initialize handlers", slog.String(errLoggerKey, err.Error()))
		os.Exit(1)
	}

	// Serve static files
	staticFS, err := fs.Sub(resumewebui.StaticFS, "static")
	if err != nil {
		logger.Error("Failed to load static files", slog.String(errLoggerKey, err.Error()))
		os.Exit(1)
	}
	fileServer := http.FileServer(http.FS(staticFS))

	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("/", m.HandleHome)
	mux.HandleFunc("/jobs", m.HandleJobs)
	mux.HandleFunc("/jobs/status", m.HandleJobStatus)
	mux.HandleFunc("/jobs/update", m.HandleJobUpdate)
	mux.HandleFunc("/jobs/delete", m.HandleJobDelete)
	mux.HandleFunc("/resumes/update", m.HandleResumeUpdate)
	mux.HandleFunc("/resumes/delete", m.HandleResumeDelete)
	mux.HandleFunc("/guide", m.HandleGuide)
	mux.HandleFunc("/background", m.HandleBackground)
	mux.HandleFunc("/chats", m.HandleChats)
	mux.HandleFunc("/chats/cancel", m.HandleCancel)
	mux.HandleFunc("/chats/clear", m.HandleClear)
	mux.HandleFunc("/sse/messages", m.HandleSSE)
	mux.HandleFunc("/export", m.HandleExport)
	mux.HandleFunc("/settings", m.HandleSettings)
	mux.HandleFunc("/settings/clear-key", m.HandleSettingsClearKey)
	mux.HandleFunc("/settings/test", m.HandleSettingsTest)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Server starting",
			slog.String("port", cfg.Port),
			slog.String("backend", cfg.Backend.URL))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("Server error", slog.String(errLoggerKey, err.Error()))

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Replies in flight are aborted and saved before the store is closed. Closing the SSE streams
		// first lets the HTTP server drain.
		if err := m.Shutdown(ctx); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String(errLoggerKey, err.Error()))
		}
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String(errLoggerKey, err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String(errLoggerKey, err.Error()))
			}
		}
	}
}
