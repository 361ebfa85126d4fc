package services

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/custodia-labs/subanon/internal/core/domain"
	"github.com/custodia-labs/subanon/internal/core/ports/driven"
	"github.com/custodia-labs/subanon/internal/core/ports/driving"
)

// Ensure SettingsService implements the interface.
var _ driving.SettingsService = (*SettingsService)(nil)

// Config keys for settings storage.
const (
	keyConcurrency       = "transfer.concurrency"
	keyMaxAttempts       = "transfer.max_attempts"
	keyBaseDelay         = "transfer.base_delay"
	keyMaxDelay          = "transfer.max_delay"
	keyCooldown          = "transfer.cooldown"
	keyRequestsPerSecond = "transfer.requests_per_second"
	keyRateLimitRetries  = "transfer.rate_limit_retries"
	keyInFlightTimeout   = "transfer.in_flight_timeout"
	keyTokenPrefix       = "anonymise.token_prefix"
	keySalt              = "anonymise.salt"
	keyPlatformBaseURL   = "platform.base_url"
)

var settingKeys = []string{
	keyConcurrency, keyMaxAttempts, keyBaseDelay, keyMaxDelay, keyCooldown,
	keyRequestsPerSecond, keyRateLimitRetries, keyInFlightTimeout,
	keyTokenPrefix, keySalt, keyPlatformBaseURL,
}

// settingsEnv holds environment overrides. Unset variables leave fields nil.
type settingsEnv struct {
	Concurrency       *int           `env:"SUBANON_CONCURRENCY"`
	MaxAttempts       *int           `env:"SUBANON_MAX_ATTEMPTS"`
	BaseDelay         *time.Duration `env:"SUBANON_BASE_DELAY"`
	MaxDelay          *time.Duration `env:"SUBANON_MAX_DELAY"`
	Cooldown          *time.Duration `env:"SUBANON_COOLDOWN"`
	RequestsPerSecond *float64       `env:"SUBANON_REQUESTS_PER_SECOND"`
	RateLimitRetries  *int           `env:"SUBANON_RATE_LIMIT_RETRIES"`
	InFlightTimeout   *time.Duration `env:"SUBANON_IN_FLIGHT_TIMEOUT"`
	TokenPrefix       *string        `env:"SUBANON_TOKEN_PREFIX"`
	Salt              *string        `env:"SUBANON_SALT"`
	BaseURL           *string        `env:"SUBANON_BASE_URL"`
}

// SettingsService manages application settings.
// Values resolve as environment override, then config file, then default.
type SettingsService struct {
	configStore driven.ConfigStore
	environ     func() map[string]string
}

// NewSettingsService creates a new settings service.
func NewSettingsService(configStore driven.ConfigStore) *SettingsService {
	return &SettingsService{
		configStore: configStore,
		environ:     func() map[string]string { return env.ToMap(os.Environ()) },
	}
}

// Get retrieves current application settings.
func (s *SettingsService) Get() (*domain.AppSettings, error) {
	d := domain.DefaultAppSettings()

	settings := &domain.AppSettings{
		Transfer: domain.TransferSettings{
			Concurrency:       s.getInt(keyConcurrency, d.Transfer.Concurrency),
			MaxAttempts:       s.getInt(keyMaxAttempts, d.Transfer.MaxAttempts),
			BaseDelay:         s.getDuration(keyBaseDelay, d.Transfer.BaseDelay),
			MaxDelay:          s.getDuration(keyMaxDelay, d.Transfer.MaxDelay),
			Cooldown:          s.getDuration(keyCooldown, d.Transfer.Cooldown),
			RequestsPerSecond: s.getFloat(keyRequestsPerSecond, d.Transfer.RequestsPerSecond),
			RateLimitRetries:  s.getInt(keyRateLimitRetries, d.Transfer.RateLimitRetries),
			InFlightTimeout:   s.getDuration(keyInFlightTimeout, d.Transfer.InFlightTimeout),
		},
		Anonymise: domain.AnonymiseSettings{
			TokenPrefix: s.getString(keyTokenPrefix, d.Anonymise.TokenPrefix),
			Salt:        s.configStore.GetString(keySalt),
		},
		Platform: domain.PlatformSettings{
			BaseURL: s.getString(keyPlatformBaseURL, d.Platform.BaseURL),
		},
	}

	if err := s.applyEnv(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// applyEnv overlays SUBANON_* environment variables.
func (s *SettingsService) applyEnv(settings *domain.AppSettings) error {
	var e settingsEnv
	if err := env.ParseWithOptions(&e, env.Options{Environment: s.environ()}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	override(&settings.Transfer.Concurrency, e.Concurrency)
	override(&settings.Transfer.MaxAttempts, e.MaxAttempts)
	override(&settings.Transfer.BaseDelay, e.BaseDelay)
	override(&settings.Transfer.MaxDelay, e.MaxDelay)
	override(&settings.Transfer.Cooldown, e.Cooldown)
	override(&settings.Transfer.RequestsPerSecond, e.RequestsPerSecond)
	override(&settings.Transfer.RateLimitRetries, e.RateLimitRetries)
	override(&settings.Transfer.InFlightTimeout, e.InFlightTimeout)
	override(&settings.Anonymise.TokenPrefix, e.TokenPrefix)
	override(&settings.Anonymise.Salt, e.Salt)
	override(&settings.Platform.BaseURL, e.BaseURL)
	return nil
}

func override[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// Save persists application settings.
func (s *SettingsService) Save(settings *domain.AppSettings) error {
	if err := settings.Transfer.Validate(); err != nil {
		return err
	}

	values := map[string]any{
		keyConcurrency:       settings.Transfer.Concurrency,
		keyMaxAttempts:       settings.Transfer.MaxAttempts,
		keyBaseDelay:         settings.Transfer.BaseDelay.String(),
		keyMaxDelay:          settings.Transfer.MaxDelay.String(),
		keyCooldown:          settings.Transfer.Cooldown.String(),
		keyRequestsPerSecond: settings.Transfer.RequestsPerSecond,
		keyRateLimitRetries:  settings.Transfer.RateLimitRetries,
		keyInFlightTimeout:   settings.Transfer.InFlightTimeout.String(),
		keyTokenPrefix:       settings.Anonymise.TokenPrefix,
		keySalt:              settings.Anonymise.Salt,
		keyPlatformBaseURL:   settings.Platform.BaseURL,
	}
	for _, key := range settingKeys {
		if err := s.configStore.Set(key, values[key]); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return s.configStore.Save()
}

// Set updates one setting from its string form.
func (s *SettingsService) Set(key, value string) error {
	var typed any
	switch key {
	case keyConcurrency, keyMaxAttempts, keyRateLimitRetries:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: %s must be an integer", domain.ErrInvalidInput, key)
		}
		typed = n
	case keyBaseDelay, keyMaxDelay, keyCooldown, keyInFlightTimeout:
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%w: %s must be a duration like 2s", domain.ErrInvalidInput, key)
		}
		typed = d.String()
	case keyRequestsPerSecond:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%w: %s must be a number", domain.ErrInvalidInput, key)
		}
		typed = f
	case keyTokenPrefix, keySalt, keyPlatformBaseURL:
		typed = value
	default:
		return fmt.Errorf("%w: unknown setting %q", domain.ErrInvalidInput, key)
	}

	previous, hadPrevious := s.configStore.Get(key)
	if err := s.configStore.Set(key, typed); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}

	current, err := s.Get()
	if err == nil {
		err = current.Transfer.Validate()
	}
	if err != nil {
		if hadPrevious {
			_ = s.configStore.Set(key, previous)
		} else {
			_ = s.configStore.Set(key, nil)
		}
		return err
	}
	return s.configStore.Save()
}

// Keys returns the recognised setting keys.
func (s *SettingsService) Keys() []string {
	return slices.Clone(settingKeys)
}

// GetDefaults returns default settings.
func (s *SettingsService) GetDefaults() domain.AppSettings {
	return domain.DefaultAppSettings()
}

func (s *SettingsService) getString(key, defaultVal string) string {
	if v := s.configStore.GetString(key); v != "" {
		return v
	}
	return defaultVal
}

func (s *SettingsService) getInt(key string, defaultVal int) int {
	if _, ok := s.configStore.Get(key); !ok {
		return defaultVal
	}
	return s.configStore.GetInt(key)
}

func (s *SettingsService) getFloat(key string, defaultVal float64) float64 {
	if _, ok := s.configStore.Get(key); !ok {
		return defaultVal
	}
	return s.configStore.GetFloat(key)
}

func (s *SettingsService) getDuration(key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(s.configStore.GetString(key))
	if err != nil {
		return defaultVal
	}
	return d
}
