// Package config provides configuration management for the trading engine.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

const (
	// defaultPositionEndTimeout is used when broker.position_end_timeout is unset
	defaultPositionEndTimeout = "3s"
	// defaultProcessor is used when engine.processor is unset
	defaultProcessor = "bidask"
	// defaultStaleness is used when engine.staleness is unset
	defaultStaleness = "2s"
	// defaultUnsubscribeDebounce is used when engine.unsubscribe_debounce is unset
	defaultUnsubscribeDebounce = "1s"
	// defaultStatusPort is used when status.port is unset
	defaultStatusPort = 9095
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Engine      EngineConfig      `yaml:"engine"`
	Journal     JournalConfig     `yaml:"journal"`
	Status      StatusConfig      `yaml:"status"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines brokerage connection settings.
type BrokerConfig struct {
	Provider  string `yaml:"provider"` // sim | gateway
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	ClientID  int    `yaml:"client_id"`
	AccountID string `yaml:"account_id"`
	// ConnectRetries bounds the reconnect attempts at startup
	ConnectRetries int `yaml:"connect_retries"`
	// PositionEndTimeout bounds the wait for the initial position snapshot
	PositionEndTimeout string `yaml:"position_end_timeout"`
}

// ScheduleConfig defines the trading session window.
type ScheduleConfig struct {
	Timezone     string `yaml:"timezone"`      // e.g., "America/New_York"
	TradingStart string `yaml:"trading_start"` // "HH:MM"
	TradingEnd   string `yaml:"trading_end"`   // "HH:MM"
}

// EngineConfig defines tick processing parameters.
type EngineConfig struct {
	Processor string `yaml:"processor"` // last | bidask
	// Staleness is the age past which a tick is logged as stale
	Staleness string `yaml:"staleness"`
	// UnsubscribeDebounce delays unsubscribing a ticker after its last
	// watcher is removed, so a quick re-add reuses the subscription
	UnsubscribeDebounce string `yaml:"unsubscribe_debounce"`
}

// JournalConfig defines persistence settings for reversal records.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// StatusConfig defines the read-only HTTP status server.
type StatusConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	c.normalize()

	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	switch c.Broker.Provider {
	case "sim":
	case "gateway":
		if c.Broker.Host == "" {
			return fmt.Errorf("broker.host is required for the gateway provider")
		}
		if c.Broker.Port <= 0 || c.Broker.Port > 65535 {
			return fmt.Errorf("broker.port must be in (0,65535]")
		}
		if c.Broker.AccountID == "" {
			return fmt.Errorf("broker.account_id is required for the gateway provider")
		}
	default:
		return fmt.Errorf("broker.provider must be 'sim' or 'gateway'")
	}
	if c.Broker.ConnectRetries < 0 {
		return fmt.Errorf("broker.connect_retries must be >= 0")
	}
	if _, err := time.ParseDuration(c.Broker.PositionEndTimeout); err != nil {
		return fmt.Errorf("broker.position_end_timeout invalid: %w", err)
	}

	if c.Engine.Processor != "last" && c.Engine.Processor != "bidask" {
		return fmt.Errorf("engine.processor must be 'last' or 'bidask'")
	}
	if _, err := time.ParseDuration(c.Engine.Staleness); err != nil {
		return fmt.Errorf("engine.staleness invalid: %w", err)
	}
	if _, err := time.ParseDuration(c.Engine.UnsubscribeDebounce); err != nil {
		return fmt.Errorf("engine.unsubscribe_debounce invalid: %w", err)
	}

	if c.Journal.Path == "" {
		return fmt.Errorf("journal.path is required")
	}

	if c.Status.Enabled && (c.Status.Port <= 0 || c.Status.Port > 65535) {
		return fmt.Errorf("status.port must be in (0,65535]")
	}

	tz := c.Schedule.Timezone
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("schedule.timezone %q: %w", tz, err)
	}
	s, err1 := time.ParseInLocation("15:04", c.Schedule.TradingStart, loc)
	e, err2 := time.ParseInLocation("15:04", c.Schedule.TradingEnd, loc)
	if err1 != nil || err2 != nil || (s.Hour() > e.Hour() || (s.Hour() == e.Hour() && s.Minute() >= e.Minute())) {
		return fmt.Errorf("schedule trading window invalid (start/end parse/order)")
	}

	return nil
}

// IsPaperTrading returns true if the engine is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// GetPositionEndTimeout returns the bound on the initial position snapshot.
func (c *Config) GetPositionEndTimeout() time.Duration {
	return durationOr(c.Broker.PositionEndTimeout, defaultPositionEndTimeout)
}

// GetStaleness returns the tick age past which a warning is logged.
func (c *Config) GetStaleness() time.Duration {
	return durationOr(c.Engine.Staleness, defaultStaleness)
}

// GetUnsubscribeDebounce returns the delay before an idle ticker is unsubscribed.
func (c *Config) GetUnsubscribeDebounce() time.Duration {
	return durationOr(c.Engine.UnsubscribeDebounce, defaultUnsubscribeDebounce)
}

func durationOr(s, fallback string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

// normalize fills in defaults for optional settings.
func (c *Config) normalize() {
	if c.Broker.PositionEndTimeout == "" {
		c.Broker.PositionEndTimeout = defaultPositionEndTimeout
	}
	if c.Engine.Processor == "" {
		c.Engine.Processor = defaultProcessor
	}
	if c.Engine.Staleness == "" {
		c.Engine.Staleness = defaultStaleness
	}
	if c.Engine.UnsubscribeDebounce == "" {
		c.Engine.UnsubscribeDebounce = defaultUnsubscribeDebounce
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = "America/New_York"
	}
	if c.Schedule.TradingStart == "" {
		c.Schedule.TradingStart = "09:30"
	}
	if c.Schedule.TradingEnd == "" {
		c.Schedule.TradingEnd = "16:00"
	}
	if c.Status.Enabled && c.Status.Port == 0 {
		c.Status.Port = defaultStatusPort
	}
}
