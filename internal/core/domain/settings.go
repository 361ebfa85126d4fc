package domain

import (
	"fmt"
	"time"
)

// Defaults for transfer behaviour.
const (
	DefaultConcurrency       = 4
	MaxConcurrency           = 8
	DefaultMaxAttempts       = 5
	DefaultBaseDelay         = time.Second
	DefaultMaxDelay          = 30 * time.Second
	DefaultCooldown          = 30 * time.Second
	DefaultRequestsPerSecond = 2.0
	DefaultRateLimitRetries  = 10
	DefaultInFlightTimeout   = 2 * time.Minute
	DefaultTokenPrefix       = "Anon"
	DefaultPlatformBaseURL   = "https://www.gradescope.com"
)

// TransferSettings controls concurrency, retries and backpressure.
type TransferSettings struct {
	// Concurrency is the number of submissions processed in parallel.
	Concurrency int

	// MaxAttempts is the number of tries for a transient remote failure.
	MaxAttempts int

	// BaseDelay is the first backoff delay; it doubles on every retry.
	BaseDelay time.Duration

	// MaxDelay caps a single backoff delay.
	MaxDelay time.Duration

	// Cooldown is the global pause after a rate limit signal without Retry-After.
	Cooldown time.Duration

	// RequestsPerSecond is the proactive request rate shared by all workers.
	RequestsPerSecond float64

	// RateLimitRetries bounds how many rate limit signals one operation tolerates.
	RateLimitRetries int

	// InFlightTimeout bounds a remote call that outlives a cancelled run.
	InFlightTimeout time.Duration
}

// Validate checks the settings are usable.
func (s TransferSettings) Validate() error {
	switch {
	case s.Concurrency < 1 || s.Concurrency > MaxConcurrency:
		return fmt.Errorf("%w: concurrency must be between 1 and %d", ErrInvalidInput, MaxConcurrency)
	case s.MaxAttempts < 1:
		return fmt.Errorf("%w: max attempts must be at least 1", ErrInvalidInput)
	case s.BaseDelay < 0 || s.MaxDelay < s.BaseDelay:
		return fmt.Errorf("%w: delays must satisfy 0 <= base <= max", ErrInvalidInput)
	case s.RequestsPerSecond <= 0:
		return fmt.Errorf("%w: requests per second must be positive", ErrInvalidInput)
	case s.InFlightTimeout <= 0:
		return fmt.Errorf("%w: in-flight timeout must be positive", ErrInvalidInput)
	}
	return nil
}

// AnonymiseSettings controls pseudonym generation.
type AnonymiseSettings struct {
	// TokenPrefix is the fixed prefix of destination names and filenames.
	TokenPrefix string

	// Salt seeds token generation. Empty means a fresh random salt per run.
	Salt string
}

// PlatformSettings configures the remote platform connector.
type PlatformSettings struct {
	// BaseURL is the platform root URL.
	BaseURL string
}

// AppSettings holds all application settings.
type AppSettings struct {
	Transfer  TransferSettings
	Anonymise AnonymiseSettings
	Platform  PlatformSettings
}

// DefaultAppSettings returns settings with sensible defaults.
func DefaultAppSettings() AppSettings {
	return AppSettings{
		Transfer: TransferSettings{
			Concurrency:       DefaultConcurrency,
			MaxAttempts:       DefaultMaxAttempts,
			BaseDelay:         DefaultBaseDelay,
			MaxDelay:          DefaultMaxDelay,
			Cooldown:          DefaultCooldown,
			RequestsPerSecond: DefaultRequestsPerSecond,
			RateLimitRetries:  DefaultRateLimitRetries,
			InFlightTimeout:   DefaultInFlightTimeout,
		},
		Anonymise: AnonymiseSettings{
			TokenPrefix: DefaultTokenPrefix,
		},
		Platform: PlatformSettings{
			BaseURL: DefaultPlatformBaseURL,
		},
	}
}
