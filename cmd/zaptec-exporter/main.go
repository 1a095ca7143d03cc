package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zaptec-community/go-zaptec/pkg/config"
	"github.com/zaptec-community/go-zaptec/pkg/exporter"
	"github.com/zaptec-community/go-zaptec/pkg/zaptec"
)

// pollTimeout bounds a single scheduled poll run.
const pollTimeout = 2 * time.Minute

// streamRestartDelay is how long to wait before reopening a closed
// service bus stream.
const streamRestartDelay = 5 * time.Second

func main() {
	// Configure logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Parse flags
	configPath := flag.String("config", "", "Path to config file (default: $ZAPTEC_CONFIG)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal().Str("level", cfg.LogLevel).Msg("Invalid log level")
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("listen", cfg.Listen).
		Bool("stream", cfg.Stream).
		Bool("redact", cfg.Redact).
		Msg("Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := zaptec.NewClient(cfg.Username, cfg.Password, &zaptec.Options{
		DisableRedaction: !cfg.Redact,
	})

	if err := client.Login(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to log in")
	}
	if err := client.Build(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to build account hierarchy")
	}
	log.Info().
		Int("installations", len(client.Installations())).
		Int("chargers", len(client.Chargers())).
		Msg("Account hierarchy built")

	// Fill the attribute bags before the first scrape.
	if err := client.Poll(ctx, nil, zaptec.PollOptions{Info: true, State: true, Firmware: true}); err != nil {
		log.Fatal().Err(err).Msg("Initial poll failed")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(exporter.NewCollector(client))

	// Schedule the periodic polls
	scheduler := cron.New()
	addPoll(ctx, scheduler, client, "state", cfg.Poll.State, zaptec.PollOptions{State: true})
	addPoll(ctx, scheduler, client, "info", cfg.Poll.Info, zaptec.PollOptions{Info: true})
	addPoll(ctx, scheduler, client, "firmware", cfg.Poll.Firmware, zaptec.PollOptions{Firmware: true})
	scheduler.Start()

	// Open the live streams
	if cfg.Stream {
		for _, inst := range client.Installations() {
			go runStream(ctx, inst)
		}
	}

	router := exporter.NewRouter(client, registry)
	srv := &http.Server{Addr: cfg.Listen, Handler: router.Handler()}

	// Handle shutdown gracefully
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("Shutting down...")
		cancel()
		<-scheduler.Stop().Done()
		for _, inst := range client.Installations() {
			inst.CancelStream()
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shut down server")
		}
	}()

	// Start server
	log.Info().Str("address", cfg.Listen).Msg("Starting exporter")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
	log.Info().Msg("Exporter stopped")
}

// addPoll schedules a recurring poll. A zero or negative interval
// disables it.
func addPoll(ctx context.Context, scheduler *cron.Cron, client *zaptec.Client, kind string, every time.Duration, opts zaptec.PollOptions) {
	if every <= 0 {
		log.Info().Str("poll", kind).Msg("Poll disabled")
		return
	}
	_, err := scheduler.AddFunc("@every "+every.String(), func() {
		pollCtx, pollCancel := context.WithTimeout(ctx, pollTimeout)
		defer pollCancel()
		if err := client.Poll(pollCtx, nil, opts); err != nil {
			log.Error().Err(err).Str("poll", kind).Msg("Poll failed")
		}
	})
	if err != nil {
		log.Fatal().Err(err).Str("poll", kind).Msg("Failed to schedule poll")
	}
	log.Info().Str("poll", kind).Dur("every", every).Msg("Poll scheduled")
}

// runStream keeps the service bus stream of an installation alive until
// the context is canceled. The metrics are fed through the attribute
// updates, so no callback is needed.
func runStream(ctx context.Context, inst *zaptec.Installation) {
	for {
		done := inst.Stream(ctx, nil)
		select {
		case <-ctx.Done():
			return
		case <-done:
		}
		log.Warn().Str("installation", inst.QualID()).
			Dur("delay", streamRestartDelay).
			Msg("Stream ended, restarting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(streamRestartDelay):
		}
	}
}
