package gradescope

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/custodia-labs/subanon/internal/core/domain"
)

const (
	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 60 * time.Second

	// DefaultUserAgent identifies the client to the platform.
	DefaultUserAgent = "subanon/1.0 (+https://github.com/custodia-labs/subanon)"
)

// Config holds the connector configuration.
type Config struct {
	// BaseURL is the platform root, e.g. https://www.gradescope.com.
	BaseURL string

	// Timeout bounds a single HTTP request.
	// Default: DefaultTimeout
	Timeout time.Duration

	// UserAgent is sent with every request.
	UserAgent string
}

// ConfigFromSettings builds a connector config from platform settings.
func ConfigFromSettings(s domain.PlatformSettings) Config {
	return Config{BaseURL: s.BaseURL}
}

// parse validates the config and fills in defaults.
func (c Config) parse() (*url.URL, Config, error) {
	if c.BaseURL == "" {
		c.BaseURL = domain.DefaultPlatformBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}

	base, err := url.Parse(strings.TrimRight(c.BaseURL, "/"))
	if err != nil {
		return nil, c, fmt.Errorf("%w: base url: %w", domain.ErrInvalidInput, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, c, fmt.Errorf("%w: base url %q must be http or https", domain.ErrInvalidInput, c.BaseURL)
	}
	return base, c, nil
}
