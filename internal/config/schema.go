package config

import "time"

// Config is the top-level YAML structure. Secrets may be left out of the
// file and supplied through the environment instead (see loader.go).
type Config struct {
	Webhook  WebhookConf  `yaml:"webhook"`
	Identity IdentityConf `yaml:"identity"`
	Checkout CheckoutConf `yaml:"checkout"`
	Retry    RetryConf    `yaml:"retry"`
}

// WebhookConf configures inbound delivery verification.
type WebhookConf struct {
	SigningSecret    string `yaml:"signing_secret"`
	ToleranceSeconds int    `yaml:"tolerance_seconds"`
}

// IdentityConf configures the identity store mutation target.
type IdentityConf struct {
	// AdminEndpoint is the base URL users are resolved under. If empty it
	// defaults to the site's identity admin API derived from SiteURL.
	AdminEndpoint   string   `yaml:"admin_endpoint"`
	AdminSecret     string   `yaml:"admin_secret"`
	TokenTTLSeconds int      `yaml:"token_ttl_seconds"`
	GrantRoles      []string `yaml:"grant_roles"`
}

// CheckoutConf configures checkout session initiation at the payment provider.
type CheckoutConf struct {
	ProviderBaseURL string `yaml:"provider_base_url"`
	SecretKey       string `yaml:"secret_key"`
	SiteURL         string `yaml:"site_url"`
}

// RetryConf holds the mutation retry policy constants.
type RetryConf struct {
	MaxAttempts int `yaml:"max_attempts"`
	BaseDelayMs int `yaml:"base_delay_ms"`
	MaxDelayMs  int `yaml:"max_delay_ms"`
}

// Tolerance returns the signature replay window as a duration.
func (w WebhookConf) Tolerance() time.Duration {
	return time.Duration(w.ToleranceSeconds) * time.Second
}

// TokenTTL returns the admin token lifetime as a duration.
func (i IdentityConf) TokenTTL() time.Duration {
	return time.Duration(i.TokenTTLSeconds) * time.Second
}

// BaseDelay returns the retry base delay as a duration.
func (r RetryConf) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMs) * time.Millisecond
}

// MaxDelay returns the retry delay cap as a duration.
func (r RetryConf) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMs) * time.Millisecond
}
