// Package config exposes strongly typed application configuration loaded from
// YAML, plus venue and indicator credentials sourced from the environment.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings.
type App struct {
	Name        string `yaml:"name"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Market pins the single instrument and candle interval the bot trades.
type Market struct {
	Symbol   string `yaml:"symbol"`
	Interval string `yaml:"interval"`
}

// Venue describes derivatives venue connectivity.
type Venue struct {
	BaseURL string `yaml:"base_url"`
	WsURL   string `yaml:"ws_url"`
}

// Indicator describes the external indicator provider endpoint.
type Indicator struct {
	BaseURL string `yaml:"base_url"`
}

// Telegram configures the outbound notification channel. Empty values disable it.
type Telegram struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// Engine groups the tunable knobs of the decision core.
type Engine struct {
	TradeCooldownMs  int     `yaml:"trade_cooldown_ms"`
	CycleCooldownMs  int     `yaml:"cycle_cooldown_ms"`
	FetchCooldownMs  int     `yaml:"fetch_cooldown_ms"`
	SettleDelayMs    int     `yaml:"settle_delay_ms"`
	HistorySize      int     `yaml:"history_size"`
	AveragePeriod    int     `yaml:"average_period"`
	SellThreshold    float64 `yaml:"sell_threshold"`
	BuyThreshold     float64 `yaml:"buy_threshold"`
	ExposureCap      float64 `yaml:"exposure_cap"`
	TakeProfit       float64 `yaml:"take_profit"`
	StopLoss         float64 `yaml:"stop_loss"`
	OrderQuantity    float64 `yaml:"order_quantity"`
	Leverage         float64 `yaml:"leverage"`
	MaxReconnects    int     `yaml:"max_reconnects"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App       App       `yaml:"app"`
	Market    Market    `yaml:"market"`
	Venue     Venue     `yaml:"venue"`
	Indicator Indicator `yaml:"indicator"`
	Telegram  Telegram  `yaml:"telegram"`
	Engine    Engine    `yaml:"engine"`
}

// Load reads a YAML file from disk, hydrates a Config struct, and fills
// defaults for any zero-valued engine knobs so a minimal file works.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Market.Interval == "" {
		c.Market.Interval = "15m"
	}
	e := &c.Engine
	if e.TradeCooldownMs <= 0 {
		e.TradeCooldownMs = 1000
	}
	if e.CycleCooldownMs <= 0 {
		e.CycleCooldownMs = 60000
	}
	if e.FetchCooldownMs <= 0 {
		e.FetchCooldownMs = 15000
	}
	if e.SettleDelayMs <= 0 {
		e.SettleDelayMs = 1000
	}
	if e.HistorySize <= 0 {
		e.HistorySize = 16
	}
	if e.AveragePeriod <= 0 {
		e.AveragePeriod = 15
	}
	if e.SellThreshold == 0 {
		e.SellThreshold = 75
	}
	if e.BuyThreshold == 0 {
		e.BuyThreshold = 45
	}
	if e.ExposureCap <= 0 {
		e.ExposureCap = 20
	}
	if e.TakeProfit == 0 {
		e.TakeProfit = 20
	}
	if e.StopLoss == 0 {
		e.StopLoss = -19
	}
	if e.OrderQuantity <= 0 {
		e.OrderQuantity = 2
	}
	if e.Leverage <= 0 {
		e.Leverage = 1
	}
	if e.MaxReconnects <= 0 {
		e.MaxReconnects = 5
	}
}

// Credentials holds the secrets required to reach the venue and the indicator
// provider. They are never read from the YAML file.
type Credentials struct {
	VenueKey        string
	VenueSecret     string
	VenuePassphrase string
	IndicatorKey    string
}

// Required environment variable names, in report order.
const (
	EnvVenueKey        = "VENUE_API_KEY"
	EnvVenueSecret     = "VENUE_API_SECRET"
	EnvVenuePassphrase = "VENUE_API_PASSPHRASE"
	EnvIndicatorKey    = "INDICATOR_API_KEY"
)

// CredentialsFromEnv reads the four required secrets. Every missing variable
// is enumerated by name in a single error so operators can fix them in one go.
func CredentialsFromEnv() (*Credentials, error) {
	creds := &Credentials{
		VenueKey:        os.Getenv(EnvVenueKey),
		VenueSecret:     os.Getenv(EnvVenueSecret),
		VenuePassphrase: os.Getenv(EnvVenuePassphrase),
		IndicatorKey:    os.Getenv(EnvIndicatorKey),
	}

	var missing []string
	for _, pair := range []struct {
		name, value string
	}{
		{EnvVenueKey, creds.VenueKey},
		{EnvVenueSecret, creds.VenueSecret},
		{EnvVenuePassphrase, creds.VenuePassphrase},
		{EnvIndicatorKey, creds.IndicatorKey},
	} {
		if pair.value == "" {
			missing = append(missing, pair.name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return creds, nil
}
