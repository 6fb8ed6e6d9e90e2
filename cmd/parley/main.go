// Command parley is the chat routing server. It answers POST /api/chat with
// a spoken reply from the model named in the request.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/api"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/dispatch"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/types"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "parley.yaml", "path to the YAML configuration file")
	envFile := flag.String("env-file", ".env", "optional file of KEY=VALUE environment overrides")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("parley starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"ops_addr", cfg.Server.OpsAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.Setup(ctx, version)
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	breakers := newBreakerSet(cfg.Backends.CircuitBreaker, metrics)
	backends, err := buildBackends(cfg.Backends, breakers)
	if err != nil {
		slog.Error("failed to build backends", "err", err)
		return 1
	}
	synth, err := buildSynthesizer(cfg, reg, breakers)
	if err != nil {
		slog.Error("failed to build speech synthesizer", "err", err)
		return 1
	}
	defer synth.Close()

	d, err := dispatch.New(dispatch.Config{
		SystemPrompt: cfg.Dispatch.SystemPrompt,
		Voices: dispatch.Voices{
			Local:  types.VoiceProfile{ID: cfg.Dispatch.Voices.Local, Provider: cfg.TTS.Name},
			Remote: types.VoiceProfile{ID: cfg.Dispatch.Voices.Remote, Provider: cfg.TTS.Name},
		},
		MaxTokens:   cfg.Dispatch.MaxTokens,
		Temperature: cfg.Dispatch.Temperature,
	}, backends, synth.Provider, dispatch.WithMetrics(metrics))
	if err != nil {
		slog.Error("failed to initialise dispatcher", "err", err)
		return 1
	}

	printStartupSummary(cfg, backends)

	// ── HTTP servers ──────────────────────────────────────────────────────────
	apiMux := http.NewServeMux()
	api.New(d,
		api.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		api.WithTimeout(cfg.Server.RequestTimeout),
	).Register(apiMux)

	servers := []*http.Server{{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(apiMux),
		ReadHeaderTimeout: 10 * time.Second,
	}}

	if cfg.Server.OpsAddr != "" {
		checkers := []health.Checker{
			health.Backends(backends),
			health.Synthesizer(synth.Raw),
			health.Voices(synth.Provider, cfg.Dispatch.Voices.Local, cfg.Dispatch.Voices.Remote),
			health.Breakers(breakers.States),
		}
		if synth.Ping != nil {
			checkers = append(checkers, health.Ping("redis", synth.Ping))
		}
		opsMux := http.NewServeMux()
		opsMux.Handle("GET /metrics", promhttp.Handler())
		health.New(checkers...).Register(opsMux)
		servers = append(servers, &http.Server{
			Addr:              cfg.Server.OpsAddr,
			Handler:           opsMux,
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath)
	if err != nil {
		slog.Debug("config hot reload disabled", "err", err)
		watcher = nil
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			slog.Info("listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx, applyReload(level)) })
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(sctx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
			}
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// applyReload returns the hot-reload handler: the log level changes in place,
// everything else is reported as needing a restart.
func applyReload(level *slog.LevelVar) func(*config.Config, config.ConfigDiff) {
	return func(_ *config.Config, diff config.ConfigDiff) {
		if diff.LogLevelChanged {
			level.Set(slogLevel(diff.NewLogLevel))
			slog.Info("log level changed", "log_level", diff.NewLogLevel)
		}
		if len(diff.RestartRequired) > 0 {
			slog.Warn("config changes take effect after restart", "sections", diff.RestartRequired)
		}
	}
}

func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
