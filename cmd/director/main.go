package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nitecon/udp-director/internal/config"
	"github.com/nitecon/udp-director/internal/metrics"
	"github.com/nitecon/udp-director/internal/monitor"
	"github.com/nitecon/udp-director/internal/orchestrator"
	"github.com/nitecon/udp-director/internal/proxy"
	"github.com/nitecon/udp-director/internal/query"
	"github.com/nitecon/udp-director/internal/selector"
	"github.com/nitecon/udp-director/internal/session"
	"github.com/nitecon/udp-director/internal/tokencache"
)

const Version = "1.0.0"

func main() {
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	setupLogging()

	log.Info().Str("version", Version).Msg("Starting UDP session director")

	configPath := os.Getenv("CONFIG_FILE_PATH")
	if configPath == "" {
		configPath = "/etc/udp-director/config.yaml"
	}

	configLoader, err := config.NewLoader(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	defer configLoader.Close()

	cfg := configLoader.GetConfig()

	orch, err := orchestrator.NewDynamicClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize orchestrator client")
	}

	counts := selector.NewCounts()
	sessions := session.NewTable(time.Duration(cfg.SessionTimeoutSeconds)*time.Second, counts)
	defer sessions.Shutdown()

	tokens := tokencache.New(time.Duration(cfg.TokenTTLSeconds) * time.Second)
	defer tokens.Close()

	defaultCache := proxy.NewDefaultEndpointCache()

	queryResponder := query.New(cfg.QueryPort, configLoader, orch, tokens, sessions, counts)
	dataProxy := proxy.New(configLoader, orch, tokens, sessions, counts, defaultCache)
	resourceMonitor := monitor.New(configLoader, orch, sessions, defaultCache)
	metricsServer := metrics.NewServer(cfg.Observability.MetricsPort)

	ctx, cancel := context.WithCancel(context.Background())
	queryStop := make(chan struct{})

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := queryResponder.Run(queryStop); err != nil {
			log.Error().Err(err).Msg("Query responder stopped")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		dataProxy.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		resourceMonitor.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := metricsServer.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Metrics server stopped")
		}
	}()

	log.Info().
		Int("queryPort", cfg.QueryPort).
		Int("metricsPort", cfg.Observability.MetricsPort).
		Msg("Session director started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down session director...")

	close(queryStop)
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("Session director stopped")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("Shutdown timed out, exiting")
	}
}

func setupLogging() {
	logLevel := os.Getenv("LOG_LEVEL")
	switch logLevel {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	logFormat := os.Getenv("LOG_FORMAT")
	if logFormat == "text" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
