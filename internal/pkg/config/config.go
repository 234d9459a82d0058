package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/askthestars/askthestars/internal/pkg/env"
)

// Store backends for entitlement records.
const (
	StoreMySQL     = "mysql"
	StoreFirestore = "firestore"
	StoreMemory    = "memory"
)

// Config is the typed process configuration.
type Config struct {
	Host         string
	Port         string
	AppEnv       string
	PublicDomain string

	Stripe StripeConfig

	CheckoutTimeout time.Duration
	WebhookTimeout  time.Duration

	EntitlementStore string
	Firestore        FirestoreConfig

	CacheHost     string
	CachePort     string
	CachePassword string
	EventLockTTL  time.Duration

	ArchiveEnabled bool

	PollInterval time.Duration
	PollTimeout  time.Duration
}

// StripeConfig holds the payment gateway settings.
type StripeConfig struct {
	SecretKey        string
	WebhookSecret    string
	WebhookTolerance time.Duration
	WeeklyPriceID    string
	AnnualPriceID    string
	AutomaticTax     bool
}

// FirestoreConfig selects the Firestore project and credentials.
type FirestoreConfig struct {
	ProjectID       string
	CredentialsFile string
	EmulatorHost    string
	Collection      string
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	var errs []error
	duration := func(key, def string) time.Duration {
		raw := env.GetEnv(key, def)
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", key, raw))
			d, _ = time.ParseDuration(def)
		}
		return d
	}
	boolean := func(key string) bool {
		raw := env.GetEnv(key, "false")
		b, err := strconv.ParseBool(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid bool %q", key, raw))
		}
		return b
	}

	cfg := &Config{
		Host:         env.GetEnv("APP_HOST", "localhost"),
		Port:         env.GetEnv("APP_PORT", "4000"),
		AppEnv:       env.GetEnv("APP_ENV", "prod"),
		PublicDomain: strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/"),
		Stripe: StripeConfig{
			SecretKey:        env.GetEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret:    env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
			WebhookTolerance: duration("STRIPE_WEBHOOK_TOLERANCE", "5m"),
			WeeklyPriceID:    env.GetEnv("STRIPE_WEEKLY_PRICE_ID", ""),
			AnnualPriceID:    env.GetEnv("STRIPE_ANNUAL_PRICE_ID", ""),
			AutomaticTax:     boolean("STRIPE_AUTOMATIC_TAX"),
		},
		CheckoutTimeout:  duration("CHECKOUT_TIMEOUT", "10s"),
		WebhookTimeout:   duration("WEBHOOK_TIMEOUT", "15s"),
		EntitlementStore: strings.ToLower(env.GetEnv("ENTITLEMENT_STORE", StoreMySQL)),
		Firestore: FirestoreConfig{
			ProjectID:       env.GetEnv("FIRESTORE_PROJECT_ID", ""),
			CredentialsFile: env.GetEnv("FIRESTORE_CREDENTIALS_FILE", ""),
			EmulatorHost:    env.GetEnv("FIRESTORE_EMULATOR_HOST", ""),
			Collection:      env.GetEnv("FIRESTORE_COLLECTION", "users"),
		},
		CacheHost:      env.GetEnv("CACHE_HOST", ""),
		CachePort:      env.GetEnv("CACHE_PORT", "6379"),
		CachePassword:  env.GetEnv("CACHE_PASSWORD", ""),
		EventLockTTL:   duration("EVENT_LOCK_TTL", "30s"),
		ArchiveEnabled: boolean("ARCHIVE_ENABLED"),
		PollInterval:   duration("POLL_INTERVAL", "2s"),
		PollTimeout:    duration("POLL_TIMEOUT", "30s"),
	}

	switch cfg.EntitlementStore {
	case StoreMySQL, StoreMemory:
	case StoreFirestore:
		if cfg.Firestore.ProjectID == "" {
			errs = append(errs, errors.New("FIRESTORE_PROJECT_ID is required when ENTITLEMENT_STORE=firestore"))
		}
	default:
		errs = append(errs, fmt.Errorf("ENTITLEMENT_STORE: unknown backend %q", cfg.EntitlementStore))
	}
	if cfg.EntitlementStore == StoreMemory && cfg.AppEnv == "prod" {
		errs = append(errs, errors.New("ENTITLEMENT_STORE=memory is not allowed in prod"))
	}
	if cfg.Stripe.SecretKey == "" {
		errs = append(errs, errors.New("STRIPE_SECRET_KEY is required"))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// CacheEnabled reports whether a Redis host is configured.
func (c *Config) CacheEnabled() bool {
	return c.CacheHost != ""
}
