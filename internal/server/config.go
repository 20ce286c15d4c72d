package server

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds runtime configuration loaded from environment variables.
type Config struct {
	Port           string   `env:"PORT" envDefault:"3000"`
	PublicDir      string   `env:"PUBLIC_DIR" envDefault:"public"`
	DBPath         string   `env:"DB_PATH" envDefault:"data/numbergame.db"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	AdminToken     string   `env:"ADMIN_TOKEN"`
	JWTSecret      string   `env:"JWT_SECRET" envDefault:"dev_secret_change_me"`
	TokenCookie    string   `env:"TOKEN_COOKIE" envDefault:"token"`

	TokenTTL     time.Duration `env:"TOKEN_TTL" envDefault:"168h"`
	CookieSecure bool          `env:"COOKIE_SECURE"`

	TurnDuration      time.Duration `env:"TURN_DURATION" envDefault:"60s"`
	TurnTick          time.Duration `env:"TURN_TICK" envDefault:"1s"`
	RoomCleanupDelay  time.Duration `env:"ROOM_CLEANUP_DELAY" envDefault:"30m"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"45s"`
	HeartbeatMisses   int           `env:"HEARTBEAT_MAX_MISSES" envDefault:"3"`
	PersistTimeout    time.Duration `env:"PERSIST_TIMEOUT" envDefault:"5s"`

	MessageRate  float64 `env:"MESSAGE_RATE" envDefault:"20"`
	MessageBurst int     `env:"MESSAGE_BURST" envDefault:"40"`

	NATSURL     string `env:"NATS_URL"`
	NATSSubject string `env:"NATS_SUBJECT" envDefault:"numbergame.matches"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

const defaultAllowedOrigin = "*"

// LoadConfig builds a Config from the environment, falling back to defaults.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.AllowedOrigins = parseAllowedOrigins(cfg.AllowedOrigins)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Addr is the listen address derived from Port.
func (c Config) Addr() string {
	return ":" + c.Port
}

func (c Config) validate() error {
	var errs []error
	if c.TurnDuration <= 0 {
		errs = append(errs, errors.New("TURN_DURATION must be positive"))
	}
	if c.TurnTick <= 0 {
		errs = append(errs, errors.New("TURN_TICK must be positive"))
	}
	if c.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("HEARTBEAT_INTERVAL must be positive"))
	}
	if c.HeartbeatMisses < 1 {
		errs = append(errs, errors.New("HEARTBEAT_MAX_MISSES must be at least 1"))
	}
	if c.MessageRate <= 0 || c.MessageBurst < 1 {
		errs = append(errs, errors.New("MESSAGE_RATE and MESSAGE_BURST must be positive"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("TOKEN_TTL must be positive"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is empty"))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func parseAllowedOrigins(raw []string) []string {
	var origins []string
	for _, origin := range raw {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		origins = []string{defaultAllowedOrigin}
	}
	return origins
}

func parseLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}
