package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/rolegrant/internal/event"
)

// ErrAuthentication marks any verification failure. Callers must treat it as
// terminal: a forged or mangled delivery never becomes valid by retrying.
var ErrAuthentication = errors.New("authentication failed")

// DefaultTolerance bounds how stale a signed timestamp may be before the
// delivery is rejected as a possible replay.
const DefaultTolerance = 5 * time.Minute

// Verifier checks a provider signature header against the raw request body
// and decodes the body into a typed Event.
//
// The signed payload is "<t>.<raw body>" where t comes from the header
// "t=<unix>,v1=<hex hmac-sha256>". Verification runs over the exact bytes
// received; re-serializing the body before verifying would break it.
type Verifier struct {
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

// Option customises a Verifier.
type Option func(*Verifier)

// WithTolerance overrides the replay tolerance window. Zero disables the
// timestamp check entirely.
func WithTolerance(d time.Duration) Option {
	return func(v *Verifier) { v.tolerance = d }
}

// WithClock overrides the clock used for the tolerance check. Useful for tests.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewVerifier creates a Verifier for the given shared signing secret.
func NewVerifier(secret string, opts ...Option) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("signature: signing secret is required")
	}
	v := &Verifier{
		secret:    secret,
		tolerance: DefaultTolerance,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify validates header against body and returns the decoded Event.
// Every failure wraps ErrAuthentication; the wrapped detail is safe to log
// but never includes the secret.
func (v *Verifier) Verify(body []byte, header string) (*event.Event, error) {
	ts, candidates, err := parseHeader(header)
	if err != nil {
		return nil, err
	}

	if v.tolerance > 0 {
		age := v.now().Sub(time.Unix(ts, 0))
		if age > v.tolerance || age < -v.tolerance {
			return nil, fmt.Errorf("%w: timestamp outside tolerance (age %s)", ErrAuthentication, age.Round(time.Second))
		}
	}

	mac := hmac.New(sha256.New, []byte(v.secret))
	_, _ = fmt.Fprintf(mac, "%d.", ts)
	_, _ = mac.Write(body)
	expected := mac.Sum(nil)

	matched := false
	for _, c := range candidates {
		sig, err := hex.DecodeString(c)
		if err != nil {
			continue
		}
		if subtle.ConstantTimeCompare(sig, expected) == 1 {
			matched = true
		}
	}
	if !matched {
		return nil, fmt.Errorf("%w: no matching v1 signature", ErrAuthentication)
	}

	var ev event.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: decode event envelope: %v", ErrAuthentication, err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("%w: event type is required", ErrAuthentication)
	}
	return &ev, nil
}

// parseHeader splits "t=1700000000,v1=abc,v1=def" into the timestamp and the
// v1 signature candidates. Unknown schemes are skipped so the provider can
// roll secrets without breaking older services.
func parseHeader(header string) (int64, []string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, nil, fmt.Errorf("%w: signature header is required", ErrAuthentication)
	}

	var (
		ts         int64
		tsSeen     bool
		candidates []string
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: malformed timestamp %q", ErrAuthentication, value)
			}
			ts = parsed
			tsSeen = true
		case "v1":
			if value != "" {
				candidates = append(candidates, value)
			}
		}
	}
	if !tsSeen {
		return 0, nil, fmt.Errorf("%w: signature header has no timestamp", ErrAuthentication)
	}
	if len(candidates) == 0 {
		return 0, nil, fmt.Errorf("%w: signature header has no v1 signature", ErrAuthentication)
	}
	return ts, candidates, nil
}
