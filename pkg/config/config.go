package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

const (
	envConfigPath        = "JEPCOBIRD_CONFIG"
	envToken             = "token"
	envTransport         = "JEPCOBIRD_TRANSPORT"
	envTelegramBotToken  = "TELEGRAM_BOT_TOKEN"
	envTelegramAllowFrom = "TELEGRAM_ALLOW_FROM"
	envMatrixAccessToken = "MATRIX_ACCESS_TOKEN"
	envStorageDriver     = "JEPCOBIRD_STORAGE_DRIVER"
	envStoragePath       = "JEPCOBIRD_STORAGE_PATH"
	envStorageRedisAddr  = "JEPCOBIRD_STORAGE_REDIS_ADDR"
	envWeatherBaseURL    = "JEPCOBIRD_WEATHER_URL"
)

const (
	TransportTelegram = "telegram"
	TransportMatrix   = "matrix"
	TransportConsole  = "console"
	TransportTUI      = "tui"

	StorageMemory = "memory"
	StorageFile   = "file"
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
)

// ErrMissingToken is returned by RequireToken when the selected transport has
// no credential.
var ErrMissingToken = errors.New("missing bot token")

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Bot      BotConfig      `json:"bot"`
	Channels ChannelsConfig `json:"channels"`
	Storage  StorageConfig  `json:"storage"`
	Weather  WeatherConfig  `json:"weather"`
	Dialogue DialogueConfig `json:"dialogue"`
	Gateway  GatewayConfig  `json:"gateway"`
	Logging  LoggingConfig  `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// BotConfig names the bot and picks the transport it runs on.
type BotConfig struct {
	Name      string `json:"name"`
	Transport string `json:"transport"`
}

// ChannelsConfig stores transport adapter settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Matrix   MatrixConfig   `json:"matrix"`
}

// TelegramConfig configures Telegram channel integration.
type TelegramConfig struct {
	Token     string   `json:"token"`
	Proxy     string   `json:"proxy"`
	AllowFrom []string `json:"allow_from"`
}

// MatrixConfig configures Matrix channel integration.
type MatrixConfig struct {
	Homeserver  string   `json:"homeserver"`
	UserID      string   `json:"user_id"`
	AccessToken string   `json:"access_token"`
	AllowFrom   []string `json:"allow_from"`
}

// StorageConfig selects the user profile backend.
type StorageConfig struct {
	Driver string      `json:"driver"`
	Path   string      `json:"path"`
	Redis  RedisConfig `json:"redis"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// WeatherConfig points at a livedoor-compatible forecast API.
type WeatherConfig struct {
	BaseURL        string `json:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// DialogueConfig bounds open conversations. A zero timeout disables it; zero
// max_retries leaves re-prompting unbounded.
type DialogueConfig struct {
	TimeoutSeconds int `json:"timeout_seconds"`
	MaxRetries     int `json:"max_retries"`
}

// GatewayConfig configures the HTTP status server bind settings. A negative
// port disables the server.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		Bot: BotConfig{
			Name:      "jepcobird",
			Transport: TransportTelegram,
		},
		Storage: StorageConfig{
			Driver: StorageFile,
			Path:   "./db_jepcobird",
			Redis:  RedisConfig{Addr: "127.0.0.1:6379", Prefix: "jepcobird:user:"},
		},
		Weather: WeatherConfig{
			BaseURL:        "https://weather.tsukumijima.net/api/forecast",
			TimeoutSeconds: 10,
		},
		Dialogue: DialogueConfig{TimeoutSeconds: 300},
		Gateway:  GatewayConfig{Host: "127.0.0.1", Port: 18790},
		Logging:  LoggingConfig{Format: "text", Level: "info"},
	}
}

// LoadConfig resolves config.json, unmarshals it over the defaults, and
// applies environment overrides. A missing config file is not an error.
func LoadConfig() (*Config, error) {
	cfg := Default()

	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated settings. Credentials are checked separately by
// RequireToken since the terminal transports need none.
func (c *Config) Validate() error {
	switch c.Bot.Transport {
	case TransportTelegram, TransportMatrix, TransportConsole, TransportTUI:
	default:
		return fmt.Errorf("unsupported transport %q", c.Bot.Transport)
	}

	switch c.Storage.Driver {
	case StorageMemory, StorageFile, StorageSQLite, StorageRedis:
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}

	if c.Dialogue.TimeoutSeconds < 0 {
		return fmt.Errorf("dialogue.timeout_seconds must not be negative")
	}
	if c.Dialogue.MaxRetries < 0 {
		return fmt.Errorf("dialogue.max_retries must not be negative")
	}
	return nil
}

// RequireToken reports ErrMissingToken when the selected transport needs a
// credential and none is configured.
func (c *Config) RequireToken() error {
	switch c.Bot.Transport {
	case TransportTelegram:
		if strings.TrimSpace(c.Channels.Telegram.Token) == "" {
			return fmt.Errorf("%s transport: %w", TransportTelegram, ErrMissingToken)
		}
	case TransportMatrix:
		if strings.TrimSpace(c.Channels.Matrix.AccessToken) == "" {
			return fmt.Errorf("%s transport: %w", TransportMatrix, ErrMissingToken)
		}
	}
	return nil
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
// The generic token variable is applied last to whichever transport is active.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if transport := strings.TrimSpace(os.Getenv(envTransport)); transport != "" {
		cfg.Bot.Transport = strings.ToLower(transport)
	}

	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if rawAllowFrom := strings.TrimSpace(os.Getenv(envTelegramAllowFrom)); rawAllowFrom != "" {
		cfg.Channels.Telegram.AllowFrom = parseCSV(rawAllowFrom)
	}
	if token := strings.TrimSpace(os.Getenv(envMatrixAccessToken)); token != "" {
		cfg.Channels.Matrix.AccessToken = token
	}

	if token := strings.TrimSpace(os.Getenv(envToken)); token != "" {
		switch cfg.Bot.Transport {
		case TransportTelegram:
			cfg.Channels.Telegram.Token = token
		case TransportMatrix:
			cfg.Channels.Matrix.AccessToken = token
		}
	}

	if driver := strings.TrimSpace(os.Getenv(envStorageDriver)); driver != "" {
		cfg.Storage.Driver = strings.ToLower(driver)
	}
	if path := strings.TrimSpace(os.Getenv(envStoragePath)); path != "" {
		cfg.Storage.Path = path
	}
	if addr := strings.TrimSpace(os.Getenv(envStorageRedisAddr)); addr != "" {
		cfg.Storage.Redis.Addr = addr
	}
	if baseURL := strings.TrimSpace(os.Getenv(envWeatherBaseURL)); baseURL != "" {
		cfg.Weather.BaseURL = baseURL
	}
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// Address joins the gateway bind host and port.
func (g GatewayConfig) Address() string {
	return g.Host + ":" + strconv.Itoa(g.Port)
}

// findConfigPath resolves the active config file location.
//
// Precedence is JEPCOBIRD_CONFIG first, then cwd-local fallback paths. An
// empty path with no error means no config file was found.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", nil
}
