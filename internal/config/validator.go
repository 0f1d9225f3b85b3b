package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the config for missing credentials, unusable endpoints,
// and nonsensical retry bounds. All problems are reported at once so a
// misconfigured deployment fails fast with the full picture.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Webhook.SigningSecret == "" {
		errs = append(errs, "webhook.signing_secret is required (or STRIPE_WEBHOOK_SECRET)")
	}
	if cfg.Webhook.ToleranceSeconds < 0 {
		errs = append(errs, "webhook.tolerance_seconds must not be negative")
	}

	if cfg.Identity.AdminSecret == "" {
		errs = append(errs, "identity.admin_secret is required (or JWT_SECRET)")
	}
	if cfg.Identity.AdminEndpoint == "" {
		errs = append(errs, "identity.admin_endpoint is required (or derived from SITE_URL)")
	} else if !validURL(cfg.Identity.AdminEndpoint) {
		errs = append(errs, fmt.Sprintf("identity.admin_endpoint %q is not an absolute http(s) URL", cfg.Identity.AdminEndpoint))
	}
	if cfg.Identity.TokenTTLSeconds < 1 {
		errs = append(errs, "identity.token_ttl_seconds must be >= 1")
	}
	for i, role := range cfg.Identity.GrantRoles {
		if strings.TrimSpace(role) == "" {
			errs = append(errs, fmt.Sprintf("identity.grant_roles[%d] must not be blank", i))
		}
	}

	if cfg.Checkout.SecretKey == "" {
		errs = append(errs, "checkout.secret_key is required (or STRIPE_SECRET_KEY)")
	}
	if cfg.Checkout.SiteURL == "" {
		errs = append(errs, "checkout.site_url is required (or SITE_URL)")
	} else if !validURL(cfg.Checkout.SiteURL) {
		errs = append(errs, fmt.Sprintf("checkout.site_url %q is not an absolute http(s) URL", cfg.Checkout.SiteURL))
	}

	if cfg.Retry.MaxAttempts < 1 {
		errs = append(errs, "retry.max_attempts must be >= 1")
	}
	if cfg.Retry.BaseDelayMs < 0 {
		errs = append(errs, "retry.base_delay_ms must not be negative")
	}
	if cfg.Retry.MaxDelayMs > 0 && cfg.Retry.MaxDelayMs < cfg.Retry.BaseDelayMs {
		errs = append(errs, "retry.max_delay_ms must not be smaller than retry.base_delay_ms")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
