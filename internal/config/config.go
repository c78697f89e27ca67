// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultPort         = "3001"
	DefaultSessionTable = "sessions"
	DefaultDatabasePath = "linkauth.db"
	DefaultMaxAge       = 4 * 7 * 24 * time.Hour

	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Config holds everything the process needs at startup.
type Config struct {
	Port            string `validate:"required,numeric"`
	FrontendBaseURL string `validate:"required,url"`
	PublicBaseURL   string `validate:"required,url"`
	SessionSecret   string `validate:"required"`
	CookieDomain    string
	Dev             bool
	SessionTable    string        `validate:"required,max=63"`
	SessionMaxAge   time.Duration `validate:"gt=0"`
	SessionRolling  bool
	SessionStore    string `validate:"required,oneof=sqlite redis"`
	RedisURL        string `validate:"required_if=SessionStore redis,omitempty,url"`
	DatabasePath    string `validate:"required"`
	PostmarkToken   string
	EmailFrom       string `validate:"required_with=PostmarkToken,omitempty,email"`
	LogLevel        string `validate:"omitempty,oneof=debug info warn warning error"`
}

// Load reads the environment, fills defaults and validates the result.
func Load() (Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	cfg := Config{
		Port:            getenv("PORT"),
		FrontendBaseURL: strings.TrimRight(getenv("FRONTEND_BASE_URL"), "/"),
		PublicBaseURL:   strings.TrimRight(getenv("PUBLIC_BASE_URL"), "/"),
		SessionSecret:   getenv("SESSION_SECRET"),
		CookieDomain:    getenv("COOKIE_DOMAIN"),
		SessionTable:    getenv("SESSION_TABLE"),
		SessionStore:    strings.ToLower(getenv("SESSION_STORE")),
		RedisURL:        getenv("REDIS_URL"),
		DatabasePath:    getenv("DATABASE_PATH"),
		PostmarkToken:   getenv("POSTMARK_SERVER_TOKEN"),
		EmailFrom:       getenv("EMAIL_FROM"),
		LogLevel:        strings.ToLower(getenv("LOG_LEVEL")),
		SessionMaxAge:   DefaultMaxAge,
		SessionRolling:  true,
	}

	env := getenv("APP_ENV")
	cfg.Dev = env != "" && env != "production"

	if cfg.Port == "" {
		cfg.Port = DefaultPort
	}
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = "http://localhost:" + cfg.Port
	}
	if cfg.SessionTable == "" {
		cfg.SessionTable = DefaultSessionTable
	}
	if cfg.SessionStore == "" {
		cfg.SessionStore = StoreSQLite
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = DefaultDatabasePath
	}

	if v := getenv("SESSION_MAX_AGE_MS"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse SESSION_MAX_AGE_MS: %w", err)
		}
		cfg.SessionMaxAge = time.Duration(ms) * time.Millisecond
	}
	if v := getenv("SESSION_ROLLING"); v != "" {
		rolling, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse SESSION_ROLLING: %w", err)
		}
		cfg.SessionRolling = rolling
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the struct tags and reports every failing field by its
// environment variable name.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s (%s)", envNames[fe.StructField()], fe.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, ", "))
}

var validate = validator.New(validator.WithRequiredStructEnabled())

var envNames = map[string]string{
	"Port":            "PORT",
	"FrontendBaseURL": "FRONTEND_BASE_URL",
	"PublicBaseURL":   "PUBLIC_BASE_URL",
	"SessionSecret":   "SESSION_SECRET",
	"SessionTable":    "SESSION_TABLE",
	"SessionMaxAge":   "SESSION_MAX_AGE_MS",
	"SessionStore":    "SESSION_STORE",
	"RedisURL":        "REDIS_URL",
	"DatabasePath":    "DATABASE_PATH",
	"EmailFrom":       "EMAIL_FROM",
	"LogLevel":        "LOG_LEVEL",
}
