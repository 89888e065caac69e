package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/john/printer_monitor/display"
	"github.com/john/printer_monitor/group"
	"github.com/john/printer_monitor/settings"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	query := flag.String("query", "", "refresh every printer once, print the answer to this query key and exit")
	flag.Parse()

	// Load configuration.
	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("printer monitor starting", "server", cfg.ListenAddr(), "printers", cfg.Monitor.Printers)

	// Load per-printer settings, creating defaults for missing slots.
	store, err := settings.Open(cfg.Monitor.SettingsFile, cfg.Monitor.Printers)
	if err != nil {
		logger.Error("failed to open printer settings", "file", cfg.Monitor.SettingsFile, "error", err)
		os.Exit(1)
	}
	logger.Info("printer settings loaded", "file", cfg.Monitor.SettingsFile)

	g := group.New(store.Printers(cfg.Monitor.Printers), group.Options{
		RefreshInterval: cfg.RefreshInterval(),
		Use24Hour:       cfg.Monitor.Use24Hour,
		Logger:          logger.Named("group"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if n := g.ActivateAll(ctx); n == 0 {
		logger.Warn("no active printers configured", "file", cfg.Monitor.SettingsFile)
	}

	// Handle one-shot query mode.
	if *query != "" {
		g.Refresh(ctx, true)
		fmt.Println(g.Query(*query))
		return
	}

	guard := display.NewGuard(g)
	server := display.NewServer(display.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, guard, logger.Named("display"))
	guard.SetBusyNotifier(server.Hub())

	// Start the poller; every pass pushes the new views to WebSocket clients.
	poller := group.NewPoller(guard, cfg.TickInterval(), func(updates []group.Update) {
		if len(updates) == 0 {
			return
		}
		server.Hub().BroadcastStatus(guard.Snapshot())
	}, logger.Named("poller"))
	poller.Start(ctx)

	// Handle graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sig := <-sigCh
		logger.Info("shutting down", "signal", sig)
		shutdown(cancel, poller, server, logger)
	}()

	// Start the HTTP server (blocks).
	if err := server.Start(); !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	<-stopped
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// shutdown cancels in-flight printer requests, waits for the poller to
// exit and then closes the display server.
func shutdown(cancel context.CancelFunc, poller *group.Poller, server shutdowner, logger hclog.Logger) {
	cancel()
	poller.Stop()

	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("display server shutdown", "error", err)
	}
}

// newLogger builds the root logger. LOG_LEVEL in the environment overrides
// the configured level.
func newLogger(level string) hclog.Logger {
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}
	lvl := hclog.LevelFromString(level)
	if lvl == hclog.NoLevel {
		lvl = hclog.Info
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   "monitor",
		Level:  lvl,
		Output: os.Stderr,
	})
}
