package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	captureimpl "github.com/ecoaudit/voicenote/external/capture"
	configloader "github.com/ecoaudit/voicenote/external/config"
	storeimpl "github.com/ecoaudit/voicenote/external/store"
	uploaderimpl "github.com/ecoaudit/voicenote/external/uploader"
	"github.com/ecoaudit/voicenote/internal/config"
	"github.com/ecoaudit/voicenote/internal/session"
	"github.com/ecoaudit/voicenote/internal/store"
	"github.com/samber/do/v2"
)

const shutdownStopTimeout = 10 * time.Second

func main() {
	slog.Info("startup: loading configuration")
	cfg := mustLoadConfig()
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env)

	slog.Info("startup: building dependency graph")
	injector := setupDI(cfg)

	run(injector)
}

func mustLoadConfig() *config.Config {
	cfg, err := configloader.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	storeimpl.RegisterDI(injector)
	captureimpl.RegisterDI(injector)
	uploaderimpl.RegisterDI(injector)
	session.RegisterDI(injector)

	return injector
}

func run(injector do.Injector) {
	manager, err := do.Invoke[*session.Manager](injector)
	if err != nil {
		slog.Error("failed to resolve session manager", "error", err)
		os.Exit(1)
	}

	reportRecoveryCandidates(manager)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")

	// A live capture is stopped so its tail chunk is flushed and the session
	// lands durably in stopped-unsaved instead of becoming a crash orphan.
	if sess := manager.CurrentSession(); sess != nil && (sess.State == store.SessionStateRecording || sess.State == store.SessionStatePaused) {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownStopTimeout)
		defer cancel()
		if err := manager.Stop(ctx); err != nil {
			slog.Error("failed to stop session on shutdown", "error", err, "session_id", sess.ID)
		}
	}
}

// reportRecoveryCandidates surfaces sessions an unclean exit left behind so
// the operator (or the UI layer) can continue or discard them.
func reportRecoveryCandidates(manager *session.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	candidates, err := manager.ListRecoverable(ctx)
	if err != nil {
		slog.Error("failed to list recovery candidates", "error", err)
		os.Exit(1)
	}
	if len(candidates) == 0 {
		slog.Info("startup: no interrupted recordings found")
		return
	}
	for _, s := range candidates {
		slog.Warn("startup: interrupted recording awaits recovery",
			"session_id", s.ID,
			"context_id", s.ContextID,
			"state", string(s.State),
			"chunks", s.NextSequence,
			"started_at", s.StartedAt,
			"age", time.Since(s.StartedAt).Round(time.Second).String())
	}
}
