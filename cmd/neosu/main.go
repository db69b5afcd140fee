// neosu is a headless Bancho client. It keeps an online session with a
// neosu server, exposes it over a local REST API and an interactive
// console, and publishes session events over MQTT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/neosu-project/neosu/internal/api"
	"github.com/neosu-project/neosu/internal/bancho"
	"github.com/neosu-project/neosu/internal/cli"
	"github.com/neosu-project/neosu/internal/config"
	"github.com/neosu-project/neosu/internal/connector"
	"github.com/neosu-project/neosu/internal/db"
	"github.com/neosu-project/neosu/internal/events"
	"github.com/neosu-project/neosu/internal/health"
	"github.com/neosu-project/neosu/internal/scheduler"
	"github.com/neosu-project/neosu/internal/telemetry"
	"github.com/neosu-project/neosu/internal/util"
)

const Banner = `

  _ __   ___  ___  ___ _   _
 | '_ \ / _ \/ _ \/ __| | | |
 | | | |  __/ (_) \__ \ |_| |
 |_| |_|\___|\___/|___/\__,_|  v%s
 headless Bancho client
`

func main() {
	fmt.Printf(Banner, util.Version)
	fmt.Println()

	// Initialize logger with defaults first (will be reconfigured after config load)
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", util.Version).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Msg("starting neosu")

	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if cfg.IsFirstRun() {
		log.Info().Msg("first run detected, launching setup wizard")
		if err := config.RunSetupWizard(cfg); err != nil {
			log.Fatal().Err(err).Msg("setup wizard failed")
		}
	}

	appData := cfg.GetApplicationData()
	logging := appData.Logging
	if err := util.InitLogger(util.LogConfigFrom(logging.Level, logging.Directory, logging.MaxSizeMB, logging.MaxBackups)); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dataDir := cfg.DataDir()
	if err := util.EnsureDir(dataDir); err != nil {
		log.Fatal().Err(err).Str("path", dataDir).Msg("failed to create data directory")
	}

	eventBus := events.NewEventBus()
	metrics := telemetry.NewMetrics()

	vars := config.NewVars()
	cfg.BindVars(vars)

	scoreDB, err := db.NewScoreDatabase(databasePath(dataDir, appData.Paths.Database))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open score database")
	}
	defer scoreDB.Close()

	maps, err := bancho.NewFileBeatmapStore(filepath.Join(dataDir, "maps"))
	if err != nil {
		log.Warn().Err(err).Msg("beatmap index unavailable, map uploads disabled")
	}

	transport := connector.NewHTTPTransport()
	deps := bancho.Deps{
		Config:  cfg,
		Vars:    vars,
		Bus:     eventBus,
		Scores:  scoreDB,
		Metrics: metrics,
		DataDir: dataDir,
	}
	if maps != nil {
		deps.Maps = maps
	}
	client := bancho.NewClient(deps, transport)

	avatars, err := connector.NewAvatarStore(dataDir, transport, metrics)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create avatar store")
	}

	var apiServer *api.Server
	if appData.API.Enabled {
		apiServer = api.NewServer(cfg, eventBus, client, api.Deps{
			Vars:    vars,
			Scores:  scoreDB,
			Avatars: avatars,
			Metrics: metrics,
		})
	}

	var mqttHandler *telemetry.MQTTHandler
	if appData.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	healthMgr := health.NewManager(cfg, eventBus, client)
	sched := scheduler.NewScheduler(cfg, scoreDB, avatars)
	console := cli.NewCLI(client, eventBus, os.Stdin, os.Stdout)

	// 'quit' on the console and any other shutdown request end the process
	quitCh := make(chan struct{}, 1)
	eventBus.Subscribe(events.EventShutdown, "main", func(context.Context, events.Event) error {
		select {
		case quitCh <- struct{}{}:
		default:
		}
		return nil
	})

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	// Task 1: the session loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := client.Run(ctx); err != nil {
			errCh <- fmt.Errorf("session loop: %w", err)
		}
	}()

	// Task 2: REST API (with retry for port binding)
	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !config.IsPortAvailable(appData.API.Port) {
				log.Warn().Int("port", appData.API.Port).Msg("API port is in use, is another instance running?")
			}
			log.Info().Int("port", appData.API.Port).Msg("starting REST API server")
			if err := startWithRetry(ctx, "API server", apiServer.Start, 5); err != nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	// Task 3: MQTT telemetry
	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	// Task 4: health checks and heartbeat
	wg.Add(1)
	go func() {
		defer wg.Done()
		healthMgr.Start(ctx)
	}()

	// Task 5: replay and avatar cleanup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()

	// Task 6: config hot reload
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := cfg.Watch(ctx, func(c *config.Config) {
			l := c.GetApplicationData().Logging
			if err := util.InitLogger(util.LogConfigFrom(l.Level, l.Directory, l.MaxSizeMB, l.MaxBackups)); err != nil {
				log.Warn().Err(err).Msg("failed to reconfigure logger")
			}
			eventBus.Emit(ctx, events.Event{
				Type:    events.EventConfigChanged,
				Source:  "config_watcher",
				Payload: events.ConfigChangedPayload{Section: "file", Key: c.Path()},
			})
		})
		if err != nil {
			log.Warn().Err(err).Msg("config hot reload disabled")
		}
	}()

	// Task 7: interactive console. It is not in the wait group since the
	// stdin reader can stay blocked after shutdown.
	go console.Start(ctx)

	// ---------------------------------------------------------------
	// Graceful shutdown handling
	// ---------------------------------------------------------------
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-quitCh:
		log.Info().Msg("shutdown requested")
	case <-client.Done():
		log.Warn().Msg("session loop exited")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")

	// the session loop logs out on cancel
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	eventBus.Stop()
	log.Info().Msg("neosu stopped")
}

// databasePath resolves a relative database file against the data
// directory.
func databasePath(dataDir, name string) string {
	if name == "" {
		name = "neosu.db"
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dataDir, name)
}

// startWithRetry calls startFn until it succeeds, ctx is cancelled or
// maxRetries is reached. Used for listeners whose port may still be held
// by a previous run.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
