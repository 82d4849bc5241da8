package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/mirrorkit/notionmirror/internal/api"
	"github.com/mirrorkit/notionmirror/internal/capture"
	"github.com/mirrorkit/notionmirror/internal/config"
	"github.com/mirrorkit/notionmirror/internal/settings"
	"github.com/mirrorkit/notionmirror/internal/store"
	"github.com/mirrorkit/notionmirror/internal/syncer"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: notionmirror <command>\n\nCommands:\n  serve  Start the HTTP server\n  sync   Run one sync to completion\n")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "sync":
		cmdSync(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
}

// deps is the wired application core shared by both commands.
type deps struct {
	store    *store.Store
	settings *settings.Store
	capture  *capture.Store
	syncer   *syncer.Syncer
}

func openDeps(cfg *config.Config) (*deps, error) {
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	cfgStore, err := settings.New(st.DB())
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init settings: %w", err)
	}
	capStore, err := capture.New(st.DB())
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init capture: %w", err)
	}
	return &deps{
		store:    st,
		settings: cfgStore,
		capture:  capStore,
		syncer:   syncer.New(st, cfgStore, slog.Default()),
	}, nil
}

func cmdServe(args []string) {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateServe(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	traceShutdown, err := initTracing(context.Background())
	if err != nil {
		slog.Error("init tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := traceShutdown(ctx); err != nil {
			slog.Error("shutdown tracing", "error", err)
		}
	}()

	app, err := openDeps(cfg)
	if err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer app.store.Close()

	// A schedule in the config file seeds the settings store once; the
	// stored value stays authoritative afterwards.
	if cfg.Sync.Schedule != "" {
		stored, err := app.settings.Get(settings.ModuleNotion, settings.KeySyncSchedule, "")
		if err == nil && stored == "" {
			if err := app.settings.Save(settings.ModuleNotion, map[string]string{
				settings.KeySyncSchedule: cfg.Sync.Schedule,
			}); err != nil {
				slog.Warn("failed to seed sync schedule", "error", err)
			}
		}
	}

	mgr := syncer.NewManager(app.syncer, app.settings, slog.Default())
	sched := syncer.NewScheduler(mgr, app.settings, slog.Default())
	if _, err := sched.Start(); err != nil {
		slog.Error("start scheduler", "error", err)
		os.Exit(1)
	}
	defer sched.Stop()

	server := api.NewServer(app.store, app.settings, app.capture, mgr, slog.Default())
	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt)

	go func() {
		slog.Info("notionmirror listening", "addr", cfg.Addr())
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("listen", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpServer.Shutdown(ctx)
}

func cmdSync(args []string) {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	full := fs.Bool("full", false, "force a full sync")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	app, err := openDeps(cfg)
	if err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer app.store.Close()

	mode := "incremental"
	if *full {
		mode = "full"
	} else if v, err := app.settings.Get(settings.ModuleNotion, settings.KeySyncMode, "incremental"); err == nil {
		mode = v
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	result := app.syncer.Run(ctx, mode, func(processed, total int) {
		slog.Info("sync progress", "processed", processed, "total", total)
	})
	json.NewEncoder(os.Stdout).Encode(result)
	if !result.OK {
		os.Exit(1)
	}
}
