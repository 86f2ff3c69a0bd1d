package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/logsentry/logsentry/internal/appstore"
	"github.com/logsentry/logsentry/internal/ingestserver"
	"github.com/logsentry/logsentry/internal/logstore"
	"github.com/logsentry/logsentry/internal/runtime"
)

// runServer wires the app store, Redis, the log store, and the
// ingestion server together, then blocks until a signal requests
// shutdown.
func runServer(cfg appConfig) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	apps, err := appstore.Open(ctx, cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("failed to open app store: %w", err)
	}
	if err := apps.Migrate(ctx); err != nil {
		apps.Close()
		return fmt.Errorf("failed to migrate app store: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		apps.Close()
		return fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
	}

	store, err := logstore.Open(cfg.DBPath)
	if err != nil {
		apps.Close()
		_ = rdb.Close()
		return fmt.Errorf("failed to open log store: %w", err)
	}

	rt, err := runtime.New(apps, rdb, store, nil, runtime.Config{
		Pepper:                cfg.Pepper,
		VerificationURL:       cfg.VerificationURL,
		DSN:                   cfg.DSN,
		SpoolDir:              cfg.SpoolDir,
		SpoolMaxBytes:         cfg.SpoolMaxBytes,
		ClassifierConcurrency: cfg.ClassifierConcurrency,
	})
	if err != nil {
		apps.Close()
		_ = rdb.Close()
		_ = store.Close()
		return fmt.Errorf("failed to assemble runtime: %w", err)
	}

	srv := ingestserver.New(rt)

	printStartupBanner(cfg)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Run(cfg.listenAddr()); err != nil {
			return fmt.Errorf("ingest server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		sweepDeviceSessions(gctx, rt, cfg.DeviceSweepPeriod)
		return nil
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("server: received signal, shutting down")
	case <-gctx.Done():
		log.Error().Err(gctx.Err()).Msg("server: a background task exited")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server: error stopping ingest server")
	}
	if err := rt.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server: error during runtime shutdown")
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server: errgroup exited with error")
	}

	return nil
}

// sweepDeviceSessions runs the expired-session janitor every period
// until ctx is cancelled (spec §5: "swept by a janitor task every
// 30s").
func sweepDeviceSessions(ctx context.Context, rt *runtime.Runtime, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := rt.DeviceAuth.SweepExpired(ctx, time.Now(), 100)
			if err != nil {
				log.Error().Err(err).Msg("device-auth sweep failed")
				continue
			}
			if n > 0 {
				log.Info().Int("expired", n).Msg("device-auth sweep")
			}
		}
	}
}

func printStartupBanner(cfg appConfig) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")

	logo := cyan.Bold(true).Render(`
    ╦  ╔═╗╔═╗╔═╗╔═╗╔╗╔╔╦╗╦═╗╦ ╦
    ║  ║ ║║ ╦╚═╗║╣ ║║║ ║ ╠╦╝╚╦╝
    ╩═╝╚═╝╚═╝╚═╝╚═╝╝╚╝ ╩ ╩╚═ ╩ `)

	ver := dim.Render("v" + version)

	var lines []string
	lines = append(lines, "", logo, "    "+ver, "")
	lines = append(lines, dim.Render("    ─────────────────────────────────"), "")
	lines = append(lines, bold.Render("    Gateway"), "")
	lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", check, cyan.Render(cfg.listenAddr())))
	lines = append(lines, fmt.Sprintf("    %s  Public DSN     %s", check, cyan.Render(cfg.DSN)))
	lines = append(lines, "")
	lines = append(lines, bold.Render("    Storage"), "")
	lines = append(lines, fmt.Sprintf("    %s  Log store      %s", check, dim.Render(cfg.DBPath)))
	lines = append(lines, fmt.Sprintf("    %s  App store      %s", check, dim.Render(redactURL(cfg.PostgresURL))))
	lines = append(lines, fmt.Sprintf("    %s  Redis          %s", check, dim.Render(cfg.RedisAddr)))
	lines = append(lines, "")
	lines = append(lines, bold.Render("    Config"), "")
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", check, dim.Render(cfg.ConfigPath)))
	} else {
		lines = append(lines, fmt.Sprintf("    ●  Config File    %s", dim.Render("default (no file)")))
	}
	lines = append(lines, "")

	fmt.Println(strings.Join(lines, "\n"))
}

// redactURL strips credentials from a connection string before it
// ever reaches a log line or the startup banner.
func redactURL(raw string) string {
	at := strings.LastIndex(raw, "@")
	scheme := strings.Index(raw, "://")
	if at == -1 || scheme == -1 || at < scheme {
		return raw
	}
	return raw[:scheme+3] + "***" + raw[at:]
}
