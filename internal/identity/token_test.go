package identity_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gyaneshwarpardhi/rolegrant/internal/identity"
)

func TestAdminJWT_ClaimsAndSignature(t *testing.T) {
	now := time.Unix(1700000000, 0)
	p, err := identity.NewAdminJWTProvider("jwt-secret",
		identity.WithTokenTTL(60*time.Second),
		identity.WithTokenClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("NewAdminJWTProvider error: %v", err)
	}

	token, err := p.Token(context.Background())
	if err != nil {
		t.Fatalf("Token error: %v", err)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("token has %d segments, want 3", len(parts))
	}

	mac := hmac.New(sha256.New, []byte("jwt-secret"))
	mac.Write([]byte(parts[0] + "." + parts[1]))
	wantSig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	if parts[2] != wantSig {
		t.Error("signature does not verify against the signing secret")
	}

	headerRaw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	var header map[string]string
	if err := json.Unmarshal(headerRaw, &header); err != nil {
		t.Fatalf("parse header: %v", err)
	}
	if header["alg"] != "HS256" || header["typ"] != "JWT" {
		t.Errorf("header = %v, want alg HS256 typ JWT", header)
	}

	claimsRaw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode claims: %v", err)
	}
	var claims struct {
		Iat        int64  `json:"iat"`
		Exp        int64  `json:"exp"`
		ServerRole string `json:"server_role"`
	}
	if err := json.Unmarshal(claimsRaw, &claims); err != nil {
		t.Fatalf("parse claims: %v", err)
	}
	if claims.ServerRole != "admin" {
		t.Errorf("server_role = %q, want admin", claims.ServerRole)
	}
	if claims.Iat != now.Unix() {
		t.Errorf("iat = %d, want %d", claims.Iat, now.Unix())
	}
	if claims.Exp != now.Unix()+60 {
		t.Errorf("exp = %d, want %d", claims.Exp, now.Unix()+60)
	}
}

func TestAdminJWT_RequiresSecret(t *testing.T) {
	if _, err := identity.NewAdminJWTProvider("  "); err == nil {
		t.Fatal("expected an error for a blank secret")
	}
}
