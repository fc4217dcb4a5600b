package billing

import (
	"errors"
	"strings"
)

// StripeConfig contains configuration for the Stripe processor.
type StripeConfig struct {
	// APIKey is the Stripe secret key (sk_test_... or sk_live_...)
	APIKey string

	// WebhookSecret is the webhook signing secret (whsec_...)
	// Used to verify webhook signatures from Stripe
	WebhookSecret string

	// MaxRetries is the number of network retries the Stripe client makes
	// before a call fails. Default: 2
	MaxRetries int

	// TimeoutSeconds is the HTTP timeout for Stripe API calls in seconds
	// Default: 30
	TimeoutSeconds int
}

// Validate checks that required configuration is present.
func (c *StripeConfig) Validate() error {
	if c.APIKey == "" {
		return errors.New("stripe: API key is required")
	}
	if c.WebhookSecret == "" {
		return errors.New("stripe: webhook secret is required")
	}
	if c.MaxRetries < 0 {
		return errors.New("stripe: max retries cannot be negative")
	}
	return nil
}

// IsTestMode returns true if using test mode API keys.
func (c *StripeConfig) IsTestMode() bool {
	return strings.HasPrefix(c.APIKey, "sk_test_")
}
