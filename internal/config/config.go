// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	Definitions   DefinitionsConfig   `yaml:"definitions"`
	Backend       BackendConfig       `yaml:"backend"`
	Screens       ScreensConfig       `yaml:"screens"`
	Capability    CapabilityConfig    `yaml:"capability"`
	Lookup        LookupCacheConfig   `yaml:"lookup"`
	Audit         AuditConfig         `yaml:"audit"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// IdentityConfig describes JWT and identity provider settings.
type IdentityConfig struct {
	Issuer       string            `yaml:"issuer"         validate:"required"`
	Audience     string            `yaml:"audience"       validate:"required"`
	JWKSURL      string            `yaml:"jwks_url"       validate:"required,url"`
	JWKSCacheTTL time.Duration     `yaml:"jwks_cache_ttl" validate:"gte=0s"`
	Algorithms   []string          `yaml:"algorithms"     validate:"min=1,dive,oneof=RS256 RS384 RS512 ES256 ES384 ES512"`
	ClaimPaths   map[string]string `yaml:"claim_paths"`
}

// DefinitionsConfig describes where to find screen definition files.
type DefinitionsConfig struct {
	Directories []string `yaml:"directories"`
	// Contract is an optional OpenAPI document of the booking API. When set,
	// every definition endpoint must be declared in it.
	Contract string `yaml:"contract"`
}

// BackendConfig describes the remote booking API.
type BackendConfig struct {
	BaseURL        string               `yaml:"base_url" validate:"required,url"`
	Timeout        time.Duration        `yaml:"timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
}

// CircuitBreakerConfig describes circuit breaker settings.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// RetryConfig describes retry settings. Only idempotent requests are
// retried.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
}

// ScreensConfig describes controller defaults and mounted screen lifetime.
type ScreensConfig struct {
	DefaultPageSize int           `yaml:"default_page_size" validate:"min=1"`
	DefaultDebounce time.Duration `yaml:"default_debounce"  validate:"gte=0s"`
	IdleTTL         time.Duration `yaml:"idle_ttl"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	MaxPerSession   int           `yaml:"max_per_session"`
	InboxSize       int           `yaml:"inbox_size"`
}

// CapabilityConfig describes authorization settings.
type CapabilityConfig struct {
	StaticPolicyFile string      `yaml:"static_policy_file"`
	Cache            CacheConfig `yaml:"cache"`
}

// CacheConfig describes cache settings.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// LookupCacheConfig describes lookup cache settings.
type LookupCacheConfig struct {
	Driver  string      `yaml:"driver"   validate:"oneof=memory redis"`
	AddrEnv string      `yaml:"addr_env"`
	DB      int         `yaml:"db"`
	Cache   CacheConfig `yaml:"cache"`
}

// AuditConfig describes the mutation audit trail.
type AuditConfig struct {
	Enabled bool        `yaml:"enabled"`
	Store   StoreConfig `yaml:"store"`
}

// StoreConfig describes audit persistence settings.
type StoreConfig struct {
	Driver          string        `yaml:"driver" validate:"oneof=memory postgres"`
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	Retention       time.Duration `yaml:"retention"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	// LogFormat is "json" or "console".
	LogFormat string `yaml:"log_format" validate:"omitempty,oneof=json console"`
	// RedactFields extends the payload field names masked in debug logs.
	RedactFields []string      `yaml:"redact_fields"`
	Tracing      TracingConfig `yaml:"tracing"`
	Metrics      MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate" validate:"gte=0,lte=1"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxUploadBytes:  32 << 20,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Correlation-Id"},
				MaxAge:         86400,
			},
		},
		Identity: IdentityConfig{
			JWKSCacheTTL: 1 * time.Hour,
			Algorithms:   []string{"RS256"},
			ClaimPaths: map[string]string{
				"subject_id": "sub",
				"email":      "email",
				"name":       "name",
				"roles":      "roles",
			},
		},
		Definitions: DefinitionsConfig{
			Directories: []string{"/definitions"},
		},
		Backend: BackendConfig{
			Timeout: 10 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts:       3,
				BackoffInitial:    100 * time.Millisecond,
				BackoffMultiplier: 2,
				BackoffMax:        2 * time.Second,
			},
		},
		Screens: ScreensConfig{
			DefaultPageSize: 5,
			DefaultDebounce: 800 * time.Millisecond,
			IdleTTL:         30 * time.Minute,
			SweepInterval:   time.Minute,
			MaxPerSession:   16,
			InboxSize:       32,
		},
		Capability: CapabilityConfig{
			Cache: CacheConfig{
				TTL:        5 * time.Minute,
				MaxEntries: 10000,
			},
		},
		Lookup: LookupCacheConfig{
			Driver:  "memory",
			AddrEnv: "BACKOFFICE_REDIS_ADDR",
			Cache: CacheConfig{
				TTL:        5 * time.Minute,
				MaxEntries: 1000,
			},
		},
		Audit: AuditConfig{
			Store: StoreConfig{
				Driver:          "memory",
				DSNEnv:          "BACKOFFICE_AUDIT_DSN",
				MaxOpenConns:    10,
				ConnMaxLifetime: 5 * time.Minute,
				Retention:       90 * 24 * time.Hour,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads the YAML file at path over Defaults, applies BACKOFFICE_*
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}
	return cfg, nil
}

var structValidator = newStructValidator()

// newStructValidator names fields by their yaml keys so errors read like
// the config file.
func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate reports every invalid setting at once, as "; " separated
// messages keyed by the dotted yaml path.
func (c *Config) Validate() error {
	err := structValidator.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describe(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	_, path, _ := strings.Cut(fe.Namespace(), ".")
	switch fe.Tag() {
	case "required":
		return path + " is required"
	case "url":
		return fmt.Sprintf("%s %q must be an absolute URL", path, fe.Value())
	case "oneof":
		return fmt.Sprintf("%s %q must be one of: %s", path, fe.Value(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", path, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", path, fe.Param())
	}
	return fmt.Sprintf("%s failed %s", path, fe.Tag())
}

// envOverrides maps BACKOFFICE_* variables to the settings they replace.
var envOverrides = map[string]func(*Config, string) error{
	"BACKOFFICE_SERVER_PORT": func(c *Config, v string) error {
		port, err := strconv.Atoi(v)
		c.Server.Port = port
		return err
	},
	"BACKOFFICE_IDENTITY_ISSUER":         func(c *Config, v string) error { c.Identity.Issuer = v; return nil },
	"BACKOFFICE_IDENTITY_JWKS_URL":       func(c *Config, v string) error { c.Identity.JWKSURL = v; return nil },
	"BACKOFFICE_IDENTITY_AUDIENCE":       func(c *Config, v string) error { c.Identity.Audience = v; return nil },
	"BACKOFFICE_DEFINITIONS_CONTRACT":    func(c *Config, v string) error { c.Definitions.Contract = v; return nil },
	"BACKOFFICE_BACKEND_BASE_URL":        func(c *Config, v string) error { c.Backend.BaseURL = v; return nil },
	"BACKOFFICE_OBSERVABILITY_LOG_LEVEL": func(c *Config, v string) error { c.Observability.LogLevel = v; return nil },
	"BACKOFFICE_LOOKUP_DRIVER":           func(c *Config, v string) error { c.Lookup.Driver = v; return nil },
}

func applyEnvOverrides(cfg *Config) error {
	for name, set := range envOverrides {
		v, ok := os.LookupEnv(name)
		if !ok || v == "" {
			continue
		}
		if err := set(cfg, v); err != nil {
			return fmt.Errorf("%s=%q: %w", name, v, err)
		}
	}
	return nil
}
