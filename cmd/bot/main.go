package main

import (
	"context"
	"errors"
	"flag"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"oscibot/internal/config"
	"oscibot/internal/engine"
	"oscibot/internal/execution"
	"oscibot/internal/exposure"
	"oscibot/internal/indicator"
	"oscibot/internal/metrics"
	"oscibot/internal/notify"
	sig "oscibot/internal/signal"
	"oscibot/internal/util"
	"oscibot/internal/venue"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// Secrets come from the environment; a .env file is a convenience, not a requirement.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fallback := util.NewLogger("info")
		fallback.Fatal().Err(err).Msg("load config")
	}
	log := util.NewLogger(cfg.App.LogLevel)

	creds, err := config.CredentialsFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("load credentials")
	}

	_ = metrics.Serve(cfg.App.MetricsAddr)
	log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	clock := util.RealClock{}

	venueClient := venue.NewClient(cfg.Venue.BaseURL, creds.VenueKey, creds.VenueSecret, creds.VenuePassphrase, clock, log)
	limiter := indicator.NewRateLimiter(time.Duration(cfg.Engine.FetchCooldownMs)*time.Millisecond, clock)
	quotes := indicator.NewClient(cfg.Indicator.BaseURL, creds.IndicatorKey, limiter, log)

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		notifier = notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, log)
		log.Info().Msg("telegram notifications enabled")
	}

	tracker := exposure.NewTracker(
		venueClient, notifier, cfg.Market.Symbol,
		cfg.Engine.TakeProfit, cfg.Engine.StopLoss,
		time.Duration(cfg.Engine.SettleDelayMs)*time.Millisecond,
		clock, log,
	)
	dispatcher := execution.NewDispatcher(venueClient, notifier, cfg.Market.Symbol, log)
	eng := engine.New(cfg.Engine, cfg.Market.Symbol, cfg.Market.Interval, quotes, tracker, dispatcher, clock, log)

	ticks := make(chan sig.Tick, 1024)
	stream := venue.NewStream(cfg.Venue.WsURL, cfg.Market.Symbol, cfg.Engine.MaxReconnects, clock, log)

	go func() {
		if err := stream.Run(ctx, ticks); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("live data stream stopped")
			cancel()
		}
	}()

	log.Info().Str("symbol", cfg.Market.Symbol).Str("interval", cfg.Market.Interval).Msg("engine started")
	if err := eng.Run(ctx, ticks); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("engine stopped")
	}
	log.Info().Msg("shutting down")
}
