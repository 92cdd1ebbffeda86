package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-analytics/internal/analytics"
	"github.com/lorawan-server/lorawan-analytics/internal/api"
	"github.com/lorawan-server/lorawan-analytics/internal/auth"
	"github.com/lorawan-server/lorawan-analytics/internal/config"
	"github.com/lorawan-server/lorawan-analytics/internal/integration"
	"github.com/lorawan-server/lorawan-analytics/internal/metrics"
	"github.com/lorawan-server/lorawan-analytics/internal/server"
	"github.com/lorawan-server/lorawan-analytics/internal/upstream"
)

func main() {
	// Command line flags
	var (
		configFile   string
		validateOnly bool
		showConfig   bool
	)
	flag.StringVar(&configFile, "config", "config/analytics-server.yml", "Configuration file path")
	flag.BoolVar(&validateOnly, "validate", false, "Validate the configuration and exit")
	flag.BoolVar(&showConfig, "show-config", false, "Print the effective configuration")
	flag.Parse()

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", configFile).Msg("Failed to load configuration")
	}

	if showConfig || validateOnly {
		cfg.PrintConfigSummary()
	}
	if validateOnly {
		fmt.Println("Configuration is valid")
		return
	}

	if cfg.Log.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var m *metrics.PrometheusMetrics
	if cfg.Metrics.Enabled {
		m = metrics.NewPrometheusMetrics()
	}

	pipeline := analytics.NewPipeline(
		analytics.WithLogger(log.Logger.With().Str("component", "pipeline").Logger()),
		analytics.WithBandPlan(cfg.BandPlan()),
	)
	energy := analytics.EnergyConfig{TxCurrentMa: cfg.Energy.TxCurrentMa, Voltage: cfg.Energy.Voltage}

	opts := []server.ServiceOption{server.WithMetrics(m)}

	if cfg.Upstream.Enabled() {
		opts = append(opts, server.WithUpstream(newUpstreamClient(cfg)))
		log.Info().Str("url", cfg.Upstream.URL).Msg("Upstream frame queries enabled")
	} else {
		log.Info().Msg("Upstream not configured, device queries disabled")
	}

	if cfg.MQTT.Broker != "" {
		publisher, err := integration.NewMQTTPublisher(cfg.MQTT)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to MQTT, bundles will not be published")
		} else {
			defer publisher.Close()
			opts = append(opts, server.WithPublisher(publisher))
		}
	}

	service := server.NewService(pipeline, energy, cfg.Upstream.MaxFrames,
		log.Logger.With().Str("component", "service").Logger(), opts...)

	apiServer := api.NewRESTServer(cfg, service, m)

	// WaitGroup for services
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := apiServer.ListenAndServe(cfg.Address()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("REST API server failed")
		}
	}()

	// Optional: Start NATS subscriber
	if cfg.NATS.URL != "" {
		log.Info().Str("url", cfg.NATS.URL).Msg("Connecting to NATS...")

		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name(cfg.Server.Name),
			nats.UserInfo(cfg.NATS.Username, cfg.NATS.Password),
			nats.ReconnectWait(cfg.NATS.ReconnectInterval),
			nats.MaxReconnects(cfg.NATS.MaxReconnects),
			nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
				log.Warn().Err(err).Msg("Disconnected from NATS")
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				log.Info().Msg("Reconnected to NATS")
			}),
			nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
				ev := log.Error().Err(err)
				if sub != nil {
					ev = ev.Str("subject", sub.Subject)
				}
				ev.Msg("NATS error")
			}),
		)

		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to NATS, continuing without NATS support")
		} else {
			defer nc.Close()
			log.Info().Msg("Connected to NATS")

			subscriber := server.NewNATSSubscriber(nc, service, cfg.NATS.Subject, cfg.NATS.QueueGroup)

			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := subscriber.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error().Err(err).Msg("NATS subscriber stopped")
				}
			}()
		}
	} else {
		log.Info().Msg("NATS not configured, serving REST only")
	}

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown API server gracefully")
	}

	wg.Wait()

	log.Info().Msg("Analytics server stopped")
}

func newUpstreamClient(cfg *config.Config) *upstream.Client {
	var tokens upstream.TokenSource
	if cfg.Upstream.APIToken != "" {
		tokens = upstream.StaticToken(cfg.Upstream.APIToken)
	} else {
		tokens = upstream.JWTSource{
			Manager: auth.NewJWTManager(cfg.Upstream.JWTSecret, cfg.JWT.Issuer),
			Subject: cfg.Upstream.Subject,
			TTL:     cfg.Upstream.TokenTTL,
		}
	}
	return upstream.NewClient(cfg.Upstream.URL, tokens, cfg.Upstream.Timeout, cfg.Upstream.MaxFrames,
		log.Logger.With().Str("component", "upstream").Logger())
}
