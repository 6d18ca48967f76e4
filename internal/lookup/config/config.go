package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/haukened/rr-lookup/internal/lookup/common/phone"
)

// envPrefix is stripped from every environment variable before it becomes a koanf key.
const envPrefix = "LOOKUP_"

// AppConfig holds configuration values parsed from environment variables.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity: "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	// Provider selects the lookup backend.
	Provider string `koanf:"provider" validate:"required,oneof=none twilio directory"`

	// DefaultRegion is the ISO 3166 region used to interpret numbers typed without a country code.
	DefaultRegion string `koanf:"default_region" validate:"required,region"`

	// QueueSize bounds the dispatcher's message queue.
	QueueSize int `koanf:"queue_size" validate:"required,gte=1"`

	// PendingEviction is "callback" (retire a pending lookup when its callback fires)
	// or "never" (a number stays pending for the dispatcher's lifetime).
	PendingEviction string `koanf:"pending_eviction" validate:"required,oneof=callback never"`

	// PendingTTL expires pending lookups that never resolve. Zero disables expiry.
	PendingTTL time.Duration `koanf:"pending_ttl" validate:"gte=0s"`

	// FetchTimeout bounds a single provider round-trip.
	FetchTimeout time.Duration `koanf:"fetch_timeout" validate:"gt=0s"`

	TwilioAccountSID string  `koanf:"twilio_account_sid" validate:"required_if=Provider twilio"`
	TwilioAuthToken  string  `koanf:"twilio_auth_token" validate:"required_if=Provider twilio"`
	TwilioRate       float64 `koanf:"twilio_rate" validate:"gt=0"`
	TwilioBurst      int     `koanf:"twilio_burst" validate:"gte=1"`

	// DirectoryDB is the sqlite file backing the local caller directory.
	DirectoryDB string `koanf:"directory_db" validate:"required_if=Provider directory"`

	// BlacklistDB is the bbolt file holding blacklist entries. Empty disables the blacklist.
	BlacklistDB string `koanf:"blacklist_db"`

	// BlacklistImport is an optional plain-text list of numbers merged into the blacklist at startup.
	BlacklistImport string `koanf:"blacklist_import"`

	// BlacklistCacheSize is the decision cache capacity; zero disables the cache.
	BlacklistCacheSize int `koanf:"blacklist_cache_size" validate:"gte=0"`

	// BlacklistFPRate is the bloom filter's target false-positive rate.
	BlacklistFPRate float64 `koanf:"blacklist_fp_rate" validate:"gt=0,lt=1"`
}

// DEFAULT_APP_CONFIG defines the defaults applied before environment overrides.
var DEFAULT_APP_CONFIG = AppConfig{
	Env:                "prod",
	LogLevel:           "info",
	Provider:           "none",
	DefaultRegion:      "US",
	QueueSize:          64,
	PendingEviction:    "callback",
	PendingTTL:         0,
	FetchTimeout:       5 * time.Second,
	TwilioRate:         5,
	TwilioBurst:        5,
	DirectoryDB:        "/var/lib/rr-lookup/directory.db",
	BlacklistDB:        "/var/lib/rr-lookup/blacklist.db",
	BlacklistCacheSize: 1000,
	BlacklistFPRate:    0.01,
}

// validRegion accepts any region libphonenumber has metadata for.
func validRegion(fl validator.FieldLevel) bool {
	return phone.IsSupportedRegion(fl.Field().String())
}

// envLoader loads LOOKUP_* environment variables, lowercasing keys and
// dropping the prefix. It is a variable so tests can replace it.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return strings.ToLower(strings.TrimPrefix(key, envPrefix)), strings.TrimSpace(value)
		},
	}), nil)
}

// defaultLoader loads DEFAULT_APP_CONFIG through the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// registerValidation adds the custom "region" tag.
var registerValidation = func(v *validator.Validate) error {
	return v.RegisterValidation("region", validRegion)
}

// Load parses environment variables and returns an AppConfig instance.
// It applies default values and runs validation automatically.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(validate); err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	cfg.DefaultRegion = strings.ToUpper(cfg.DefaultRegion)
	return &cfg, nil
}
