// Package config loads server settings from flags, SPARKLE_* environment
// variables, an optional .env file and an optional YAML file, in that order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/presence"
)

const envPrefix = "SPARKLE"

type Config struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	DB              DB            `mapstructure:"db"`
	Presence        Presence      `mapstructure:"presence"`
	Auth            Auth          `mapstructure:"auth"`
	Log             Log           `mapstructure:"log"`
}

type DB struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type Presence struct {
	Backend           string        `mapstructure:"backend"`
	RedisURL          string        `mapstructure:"redis_url"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	GraceWindow       time.Duration `mapstructure:"grace_window"`
	TypingExpiry      time.Duration `mapstructure:"typing_expiry"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	OfflineRetention  time.Duration `mapstructure:"offline_retention"`
}

// Channel returns the presence tuning in the form presence.New takes.
func (p Presence) Channel() presence.Config {
	return presence.Config{
		HeartbeatInterval: p.HeartbeatInterval,
		GraceWindow:       p.GraceWindow,
		TypingExpiry:      p.TypingExpiry,
		PollInterval:      p.PollInterval,
		OfflineRetention:  p.OfflineRetention,
	}
}

type Auth struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// flag name -> config key
var flagKeys = map[string]string{
	"addr":                       "addr",
	"shutdown-timeout":           "shutdown_timeout",
	"db-driver":                  "db.driver",
	"db-dsn":                     "db.dsn",
	"presence-backend":           "presence.backend",
	"redis-url":                  "presence.redis_url",
	"presence-heartbeat":         "presence.heartbeat_interval",
	"presence-grace":             "presence.grace_window",
	"typing-expiry":              "presence.typing_expiry",
	"presence-poll":              "presence.poll_interval",
	"presence-offline-retention": "presence.offline_retention",
	"auth-secret":                "auth.secret",
	"auth-issuer":                "auth.issuer",
	"log-level":                  "log.level",
	"log-format":                 "log.format",
}

func newFlagSet() *pflag.FlagSet {
	defaults := presence.DefaultConfig()

	flags := pflag.NewFlagSet("sparkle", pflag.ContinueOnError)
	flags.String("config", "", "optional YAML config file")
	flags.String("env-file", ".env", "dotenv file loaded before reading the environment")

	flags.String("addr", ":8080", "http service address")
	flags.Duration("shutdown-timeout", 10*time.Second, "grace period for in-flight requests on shutdown")
	flags.String("db-driver", "sqlite3", "database driver: sqlite3, postgres or pgx")
	flags.String("db-dsn", "sparkle.db", "database DSN; postgres drivers need a postgres:// URL")
	flags.String("presence-backend", "memory", "presence backend: memory or redis")
	flags.String("redis-url", "", "redis URL for the redis presence backend")
	flags.Duration("presence-heartbeat", defaults.HeartbeatInterval, "heartbeat interval advertised to clients")
	flags.Duration("presence-grace", defaults.GraceWindow, "how long a silent user stays online")
	flags.Duration("typing-expiry", defaults.TypingExpiry, "how long a typing signal lasts")
	flags.Duration("presence-poll", defaults.PollInterval, "watch re-evaluation interval")
	flags.Duration("presence-offline-retention", defaults.OfflineRetention, "how long presence records and last-seen are kept")
	flags.String("auth-secret", "", "HS256 secret shared with the identity provider")
	flags.String("auth-issuer", "", "required iss claim; empty accepts any")
	flags.String("log-level", "info", "debug, info, warn or error")
	flags.String("log-format", "text", "text or json")
	return flags
}

// Load parses args (without the program name) and resolves the final
// configuration.
func Load(args []string) (*Config, error) {
	flags := newFlagSet()
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	envFile, _ := flags.GetString("env-file")
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", name, err)
		}
	}

	if file, _ := flags.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.DB.Driver {
	case "sqlite3", "postgres", "pgx":
	default:
		errs = append(errs, fmt.Errorf("db.driver %q is not sqlite3, postgres or pgx", c.DB.Driver))
	}
	if c.DB.DSN == "" {
		errs = append(errs, errors.New("db.dsn is required"))
	}
	switch c.Presence.Backend {
	case "memory":
	case "redis":
		if c.Presence.RedisURL == "" {
			errs = append(errs, errors.New("presence.redis_url is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("presence.backend %q is not memory or redis", c.Presence.Backend))
	}
	if c.Presence.HeartbeatInterval <= 0 || c.Presence.GraceWindow < c.Presence.HeartbeatInterval {
		errs = append(errs, errors.New("presence.grace_window must be at least presence.heartbeat_interval"))
	}
	if c.Presence.TypingExpiry <= 0 || c.Presence.PollInterval <= 0 {
		errs = append(errs, errors.New("presence.typing_expiry and presence.poll_interval must be positive"))
	}
	if c.Auth.Secret == "" {
		errs = append(errs, errors.New("auth.secret is required"))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q is not text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}
