package identity

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TokenProvider returns a bearer token for the identity store's admin API.
// Decoupling the mutator from token issuance lets deployments swap between
// ad-hoc minted JWTs and long-lived service tokens.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenProvider returns a fixed bearer token.
type StaticTokenProvider string

func (t StaticTokenProvider) Token(context.Context) (string, error) {
	if strings.TrimSpace(string(t)) == "" {
		return "", errors.New("identity: static token is empty")
	}
	return string(t), nil
}

// DefaultTokenTTL keeps minted admin tokens short-lived; each mutation
// attempt mints a fresh one.
const DefaultTokenTTL = 60 * time.Second

// AdminJWTProvider mints short-lived HS256 tokens carrying the store's
// admin role claim, signed with the store's shared secret.
type AdminJWTProvider struct {
	secret string
	ttl    time.Duration
	now    func() time.Time
}

// JWTOption customises an AdminJWTProvider.
type JWTOption func(*AdminJWTProvider)

// WithTokenTTL overrides the token lifetime.
func WithTokenTTL(ttl time.Duration) JWTOption {
	return func(p *AdminJWTProvider) {
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

// WithTokenClock overrides the clock used for iat/exp claims.
func WithTokenClock(now func() time.Time) JWTOption {
	return func(p *AdminJWTProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// NewAdminJWTProvider constructs a minting provider for the given secret.
func NewAdminJWTProvider(secret string, opts ...JWTOption) (*AdminJWTProvider, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("identity: jwt signing secret is required")
	}
	p := &AdminJWTProvider{
		secret: secret,
		ttl:    DefaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Token mints a fresh admin JWT.
func (p *AdminJWTProvider) Token(context.Context) (string, error) {
	now := p.now().Unix()
	return signHS256(p.secret, map[string]any{
		"iat":         now,
		"exp":         now + int64(p.ttl/time.Second),
		"server_role": "admin",
	})
}

func signHS256(secret string, claims map[string]any) (string, error) {
	headerRaw, err := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	if err != nil {
		return "", fmt.Errorf("identity: marshal jwt header: %w", err)
	}
	claimsRaw, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("identity: marshal jwt claims: %w", err)
	}

	signed := base64.RawURLEncoding.EncodeToString(headerRaw) + "." + base64.RawURLEncoding.EncodeToString(claimsRaw)
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signed))
	return signed + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}
