// Package config loads the gateway daemon's settings from a YAML file,
// .env files and MAILGATE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. MAILGATE_POP3_ADDR.
const EnvPrefix = "MAILGATE"

type GmailConfig struct {
	User       string        `mapstructure:"user"`
	Label      string        `mapstructure:"label"`
	MaxResults int           `mapstructure:"max_results"`
	RPS        int           `mapstructure:"rps"`
	Burst      int           `mapstructure:"burst"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type AuthConfig struct {
	ClientSecret   string `mapstructure:"client_secret"`
	KeyringDir     string `mapstructure:"keyring_dir"`
	KeyringBackend string `mapstructure:"keyring_backend"`
	TokenKey       string `mapstructure:"token_key"`
}

type POP3Config struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type SMTPConfig struct {
	Addr            string `mapstructure:"addr"`
	Domain          string `mapstructure:"domain"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	MaxMessageBytes int64  `mapstructure:"max_message_bytes"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Config is the daemon configuration.
type Config struct {
	Gmail   GmailConfig   `mapstructure:"gmail"`
	Auth    AuthConfig    `mapstructure:"auth"`
	POP3    POP3Config    `mapstructure:"pop3"`
	SMTP    SMTPConfig    `mapstructure:"smtp"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`
}

// DefaultPath is ~/.config/mailgate/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailgate", "config.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gmail.user", "me")
	v.SetDefault("gmail.label", "UNREAD")
	v.SetDefault("gmail.max_results", 1000)
	v.SetDefault("gmail.rps", 4)
	v.SetDefault("gmail.burst", 4)
	v.SetDefault("gmail.timeout", "0s")
	v.SetDefault("auth.client_secret", "")
	v.SetDefault("auth.keyring_dir", "")
	v.SetDefault("auth.keyring_backend", "")
	v.SetDefault("auth.token_key", "")
	v.SetDefault("pop3.addr", ":1213")
	v.SetDefault("pop3.username", "")
	v.SetDefault("pop3.password", "")
	v.SetDefault("smtp.addr", ":1214")
	v.SetDefault("smtp.domain", "mailgate")
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.max_message_bytes", 0)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("log.level", "info")
}

// Load reads path (if it exists) over the defaults and then applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Gmail.MaxResults <= 0 {
		return fmt.Errorf("gmail.max_results must be positive, got %d", c.Gmail.MaxResults)
	}
	if c.Gmail.RPS < 0 {
		return fmt.Errorf("gmail.rps must not be negative, got %d", c.Gmail.RPS)
	}
	if c.Gmail.Timeout < 0 {
		return fmt.Errorf("gmail.timeout must not be negative, got %s", c.Gmail.Timeout)
	}
	if c.POP3.Addr == "" && c.SMTP.Addr == "" {
		return errors.New("at least one of pop3.addr and smtp.addr must be set")
	}
	if (c.SMTP.Username == "") != (c.SMTP.Password == "") {
		return errors.New("smtp.username and smtp.password must be set together")
	}
	return nil
}

// LoadEnvFiles loads the given .env files into the process environment,
// skipping files that do not exist. Variables already set win.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load env file %s: %w", p, err)
		}
	}
	return nil
}
