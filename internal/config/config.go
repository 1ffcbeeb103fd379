package config

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

type Config struct {
	Env           string        `env:"APP_ENV" envDefault:"dev"`
	Addr          string        `env:"APP_ADDR" envDefault:"127.0.0.1:8080"`
	PublicURLRaw  string        `env:"APP_PUBLIC_URL"`
	DBDSN         string        `env:"APP_DB_DSN"`
	SessionSecret string        `env:"APP_SESSION_SECRET"`
	SessionTTL    time.Duration `env:"APP_SESSION_TTL" envDefault:"720h"`
	ActivationTTL time.Duration `env:"APP_ACTIVATION_TTL" envDefault:"24h"`
	LogLevel      string        `env:"APP_LOG_LEVEL" envDefault:"info"`

	AdminBootstrapEmail    string `env:"APP_ADMIN_BOOTSTRAP_EMAIL"`
	AdminBootstrapName     string `env:"APP_ADMIN_BOOTSTRAP_NAME"`
	AdminBootstrapPassword string `env:"APP_ADMIN_BOOTSTRAP_PASSWORD"`

	Redis RedisConfig
	SMTP  SMTPConfig

	PublicURL *url.URL
}

type RedisConfig struct {
	Addr     string `env:"APP_REDIS_ADDR"`
	Password string `env:"APP_REDIS_PASSWORD"`
	DB       int    `env:"APP_REDIS_DB" envDefault:"0"`
}

type SMTPConfig struct {
	Host     string        `env:"APP_SMTP_HOST"`
	Port     int           `env:"APP_SMTP_PORT" envDefault:"587"`
	Username string        `env:"APP_SMTP_USERNAME"`
	Password string        `env:"APP_SMTP_PASSWORD"`
	TLSMode  string        `env:"APP_SMTP_TLS" envDefault:"starttls"`
	Timeout  time.Duration `env:"APP_SMTP_TIMEOUT" envDefault:"10s"`
	From     string        `env:"APP_MAIL_FROM"`
	FromName string        `env:"APP_MAIL_FROM_NAME" envDefault:"Accounts"`
	Company  string        `env:"APP_MAIL_COMPANY"`
	Footer   string        `env:"APP_MAIL_FOOTER"`
}

// Load reads ./.env (if present) without overriding variables that are
// already set, then parses the process environment.
func Load() (Config, error) {
	if err := loadDotEnvFile(".env", os.Setenv, os.Getenv); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}
	return LoadFromEnv(env.ToMap(os.Environ()))
}

func LoadFromEnv(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.PublicURL = nil

	switch cfg.Env {
	case "dev", "prod", "test":
	default:
		return Config{}, errors.New("APP_ENV: must be one of dev, test, prod")
	}

	if cfg.PublicURLRaw != "" {
		parsed, err := url.Parse(cfg.PublicURLRaw)
		if err != nil {
			return Config{}, fmt.Errorf("APP_PUBLIC_URL: %w", err)
		}
		if !parsed.IsAbs() || parsed.Host == "" {
			return Config{}, errors.New("APP_PUBLIC_URL: must be an absolute URL")
		}
		switch parsed.Scheme {
		case "http", "https":
		default:
			return Config{}, errors.New("APP_PUBLIC_URL: scheme must be http or https")
		}
		cfg.PublicURL = parsed
	}

	if cfg.SessionTTL <= 0 {
		return Config{}, errors.New("APP_SESSION_TTL: must be > 0")
	}
	if cfg.ActivationTTL <= 0 {
		return Config{}, errors.New("APP_ACTIVATION_TTL: must be > 0")
	}

	switch cfg.SMTP.TLSMode {
	case "tls", "starttls", "none":
	default:
		return Config{}, errors.New("APP_SMTP_TLS: must be one of tls, starttls, none")
	}
	if cfg.SMTP.Host != "" && cfg.SMTP.From == "" {
		return Config{}, errors.New("APP_MAIL_FROM: required when APP_SMTP_HOST is set")
	}

	cfg.AdminBootstrapEmail = strings.TrimSpace(strings.ToLower(cfg.AdminBootstrapEmail))
	cfg.AdminBootstrapName = strings.TrimSpace(cfg.AdminBootstrapName)

	if cfg.AdminBootstrapPassword != "" && cfg.AdminBootstrapEmail == "" {
		return Config{}, errors.New("APP_ADMIN_BOOTSTRAP_EMAIL: required when APP_ADMIN_BOOTSTRAP_PASSWORD is set")
	}
	if cfg.AdminBootstrapPassword != "" && cfg.AdminBootstrapName == "" {
		cfg.AdminBootstrapName = "Administrator"
	}

	if cfg.IsProd() {
		if cfg.PublicURL == nil {
			return Config{}, errors.New("APP_PUBLIC_URL: required in prod")
		}
		if cfg.DBDSN == "" {
			return Config{}, errors.New("APP_DB_DSN: required in prod")
		}
		if len(cfg.SessionSecret) < 32 {
			return Config{}, errors.New("APP_SESSION_SECRET: must be at least 32 bytes in prod")
		}
	}

	return cfg, nil
}

func (c Config) IsProd() bool { return c.Env == "prod" }

// BaseURL is the public origin used in mailed links.
func (c Config) BaseURL() string {
	if c.PublicURL != nil {
		return strings.TrimRight(c.PublicURL.String(), "/")
	}
	return "http://" + c.Addr
}

// loadDotEnvFile applies KEY=VALUE lines from path. Keys that already have a
// value are left alone, and so are lines with an empty value.
func loadDotEnvFile(path string, setenv func(string, string) error, getenv func(string) string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = unquote(strings.TrimSpace(value))
		if key == "" || value == "" || getenv(key) != "" {
			continue
		}
		if err := setenv(key, value); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}
