package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all configuration required by the API process.
// All values come from env (or an env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App   AppConfig
	DB    DBConfig
	Redis RedisConfig
	Auth  AuthConfig
	CTI   CTIConfig
	OTel  OTelConfig
}

type AppConfig struct {
	Env      string `env:"APP_ENV,required"`
	Port     int    `env:"APP_PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL"`
}

type DBConfig struct {
	Host     string `env:"DB_HOST,required"`
	Port     int    `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER,required"`
	Password string `env:"DB_PASSWORD"`
	Name     string `env:"DB_NAME,required"`

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string `env:"DB_SSLMODE"`

	MaxOpenConns int `env:"DB_MAX_OPEN_CONNS" envDefault:"20"`
}

type RedisConfig struct {
	Host     string `env:"REDIS_HOST,required"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB"`
}

// AuthConfig verifies access tokens for the read API. Tokens are issued elsewhere.
type AuthConfig struct {
	JWTSecret   string `env:"JWT_SECRET"`
	JWTIssuer   string `env:"JWT_ISSUER"`
	JWTAudience string `env:"JWT_AUDIENCE"`
}

type CTIConfig struct {
	ExcludedNumbers []string `env:"CTI_EXCLUDED_NUMBERS" envSeparator:","`

	CorrelationWindow time.Duration `env:"CTI_CORRELATION_WINDOW" envDefault:"5m"`
	ClinicUTCOffset   time.Duration `env:"CTI_CLINIC_UTC_OFFSET" envDefault:"9h"`
	RequestTimeout    time.Duration `env:"CTI_REQUEST_TIMEOUT" envDefault:"10s"`

	// WebhookToken is the shared secret the bridge sends in X-CTI-Token.
	WebhookToken  string `env:"CTI_WEBHOOK_TOKEN"`
	NotifyChannel string `env:"CTI_NOTIFY_CHANNEL" envDefault:"cti-v2"`

	// LockBackend is "memory" (single instance) or "redis".
	LockBackend string        `env:"CTI_LOCK_BACKEND" envDefault:"memory"`
	LockTTL     time.Duration `env:"CTI_LOCK_TTL" envDefault:"5s"`

	// SweepInterval of 0 disables the stale ringing sweep.
	SweepInterval time.Duration `env:"CTI_SWEEP_INTERVAL"`
	SweepBatch    int           `env:"CTI_SWEEP_BATCH" envDefault:"100"`
}

type OTelConfig struct {
	Enabled  bool   `env:"OTEL_ENABLED"`
	Endpoint string `env:"OTEL_ENDPOINT"`
}

// Load reads the process environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom reads from the given variables instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	c := Config{}
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks cross-field rules and fills environment-dependent defaults.
func (c *Config) Validate() error {
	var errs []error

	c.App.Env = strings.TrimSpace(c.App.Env)
	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
		if c.CTI.WebhookToken == "" {
			errs = append(errs, errors.New("CTI_WEBHOOK_TOKEN is required in production"))
		}
	}

	if c.CTI.CorrelationWindow <= 0 {
		errs = append(errs, fmt.Errorf("CTI_CORRELATION_WINDOW must be positive, got %s", c.CTI.CorrelationWindow))
	}
	if c.CTI.ClinicUTCOffset < -14*time.Hour || c.CTI.ClinicUTCOffset > 14*time.Hour {
		errs = append(errs, fmt.Errorf("CTI_CLINIC_UTC_OFFSET out of range, got %s", c.CTI.ClinicUTCOffset))
	}
	if c.CTI.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("CTI_REQUEST_TIMEOUT must be positive, got %s", c.CTI.RequestTimeout))
	}
	if strings.TrimSpace(c.CTI.NotifyChannel) == "" {
		errs = append(errs, errors.New("CTI_NOTIFY_CHANNEL must not be empty"))
	}
	switch c.CTI.LockBackend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("CTI_LOCK_BACKEND must be memory or redis, got %q", c.CTI.LockBackend))
	}
	if c.CTI.LockBackend == "redis" && c.CTI.LockTTL <= 0 {
		errs = append(errs, errors.New("CTI_LOCK_TTL must be positive with the redis lock backend"))
	}
	if c.CTI.SweepInterval < 0 {
		errs = append(errs, fmt.Errorf("CTI_SWEEP_INTERVAL must not be negative, got %s", c.CTI.SweepInterval))
	}
	if c.CTI.SweepBatch <= 0 {
		c.CTI.SweepBatch = 100
	}

	if c.OTel.Enabled && strings.TrimSpace(c.OTel.Endpoint) == "" {
		errs = append(errs, errors.New("OTEL_ENDPOINT is required when OTEL_ENABLED is true"))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Excluded returns ExcludedNumbers without blank entries left by trailing commas.
func (c CTIConfig) Excluded() []string {
	out := make([]string, 0, len(c.ExcludedNumbers))
	for _, n := range c.ExcludedNumbers {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
