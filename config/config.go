package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port           string   `envconfig:"PORT" default:"8080"`
	Environment    string   `envconfig:"ENVIRONMENT" default:"development"`
	SignalPath     string   `envconfig:"SIGNAL_PATH" default:"/signal"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"*"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	SendBuffer      int           `envconfig:"SEND_BUFFER" default:"256"`
	MaxMessageBytes int64         `envconfig:"MAX_MESSAGE_BYTES" default:"65536"`
	PongWait        time.Duration `envconfig:"PONG_WAIT" default:"60s"`
	WriteWait       time.Duration `envconfig:"WRITE_WAIT" default:"10s"`
	PingPeriod      time.Duration `ignored:"true"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	Redis RedisConfig
}

// RedisConfig configures the optional presence mirror. An empty Addr
// disables it.
type RedisConfig struct {
	Addr           string        `envconfig:"ADDR"`
	Password       string        `envconfig:"PASSWORD"`
	DB             int           `envconfig:"DB" default:"0"`
	PresenceTTL    time.Duration `envconfig:"PRESENCE_TTL" default:"24h"`
	PresenceBuffer int           `envconfig:"PRESENCE_BUFFER" default:"1024"`
}

// Enabled reports whether a redis server was configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	// Tolerate "a, b" style origin lists.
	origins := cfg.AllowedOrigins[:0]
	for _, o := range cfg.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	cfg.AllowedOrigins = origins

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.PingPeriod = (cfg.PongWait * 9) / 10
	return &cfg, nil
}

func (c *Config) validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q (expected text or json)", c.LogFormat)
	}
	if !strings.HasPrefix(c.SignalPath, "/") {
		return fmt.Errorf("SIGNAL_PATH must start with '/', got %q", c.SignalPath)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("SEND_BUFFER must be positive, got %d", c.SendBuffer)
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("MAX_MESSAGE_BYTES must be positive, got %d", c.MaxMessageBytes)
	}
	if c.PongWait <= 0 || c.WriteWait <= 0 {
		return fmt.Errorf("PONG_WAIT and WRITE_WAIT must be positive")
	}
	if c.Redis.Enabled() && c.Redis.PresenceBuffer <= 0 {
		return fmt.Errorf("REDIS_PRESENCE_BUFFER must be positive, got %d", c.Redis.PresenceBuffer)
	}
	return nil
}

// IsProduction reports whether gin should run in release mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// NewLogger builds the process logger on stdout.
func NewLogger(cfg *Config) (*slog.Logger, error) {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg *Config, w io.Writer) (*slog.Logger, error) {
	level, err := ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.LogFormat) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), nil
}

func ParseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}
