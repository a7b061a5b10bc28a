package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sprintpulse/sprintpulse/internal/api"
	"github.com/sprintpulse/sprintpulse/internal/config"
	"github.com/sprintpulse/sprintpulse/internal/history"
	"github.com/sprintpulse/sprintpulse/internal/notify"
	"github.com/sprintpulse/sprintpulse/internal/store"
	"github.com/sprintpulse/sprintpulse/internal/worker"
	"github.com/sprintpulse/sprintpulse/internal/ws"
)

// wsInterval is how often connected dashboards receive the stored reports
// between worker runs.
const wsInterval = 30 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	once := flag.Bool("once", false, "evaluate every team once, print the reports and exit (no webhooks, no history)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	// -once prints reports on stdout, so logs move to stderr.
	logOut := os.Stdout
	if *once {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Secrets referenced by *_env fields may come from a local .env file.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env", "err", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *once {
		if err := runOnce(ctx, cfg); err != nil {
			slog.Error("run failed", "err", err)
			os.Exit(1)
		}
		return
	}

	if err := cfg.Server.Auth.Check(); err != nil {
		slog.Error("refusing to serve an unauthenticated API", "err", err)
		os.Exit(1)
	}

	slog.Info("sprintpulse starting",
		"config", *configPath,
		"teams", len(cfg.Teams),
		"interval", cfg.App.Interval,
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
	)

	// Report store with background TTL eviction.
	st := store.New(cfg.Server.ReportTTL)
	go st.Run(ctx)

	// Webhook delivery.
	dispatcher := notify.NewDispatcher(notify.DefaultBufferSize)
	go dispatcher.Run(ctx)
	notifier := notify.NewNotifier(dispatcher, cfg.App)

	// WebSocket hub — also pushed to after every worker run.
	hub := ws.New(st, wsInterval)
	go hub.Run(ctx)

	opts := []worker.Option{
		worker.WithNotifier(notifier),
		worker.WithBroadcaster(hub),
	}
	apiOpts := []api.Option{
		api.WithHub(hub),
		api.WithAuth(cfg.Server.Auth.Mode, cfg.Server.Auth.EffectiveHeader(), cfg.Server.Auth.Key()),
	}

	// Optional Postgres run history.
	if dsn := cfg.Storage.DatabaseURL(); dsn != "" {
		hist, err := openHistory(ctx, dsn)
		if err != nil {
			slog.Error("failed to open history", "err", err)
			os.Exit(1)
		}
		defer hist.Close()
		worker.Restore(ctx, st, hist, cfg.Teams)
		opts = append(opts, worker.WithRecorder(hist))
		apiOpts = append(apiOpts, api.WithHistory(hist))
		slog.Info("history enabled")
	}

	runner := worker.New(cfg, st, opts...)
	go runner.Run(ctx)

	go func() {
		err := config.Watch(ctx, *configPath, cfg, func(next *config.Config) {
			runner.Reload(next)
		})
		if err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           api.New(st, apiOpts...),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("sprintpulse shutting down", "pending_deliveries", dispatcher.Pending())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
}

func openHistory(ctx context.Context, dsn string) (*history.Store, error) {
	hist, err := history.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := hist.Migrate(ctx); err != nil {
		hist.Close()
		return nil, err
	}
	return hist, nil
}

// runOnce evaluates every team once and prints the terminal rendering of each
// report to stdout.
func runOnce(ctx context.Context, cfg *config.Config) error {
	st := store.New(0)
	reports := worker.New(cfg, st).RunOnce(ctx, time.Now())
	if len(reports) == 0 && len(cfg.Teams) > 0 {
		return errors.New("no team could be evaluated")
	}

	loc := cfg.App.Location()
	for _, r := range reports {
		fmt.Println(notify.RenderTerminal(r, loc))
	}
	return nil
}
