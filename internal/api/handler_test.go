package api_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gyaneshwarpardhi/rolegrant/internal/api"
	"github.com/gyaneshwarpardhi/rolegrant/internal/checkout"
	"github.com/gyaneshwarpardhi/rolegrant/internal/classify"
	"github.com/gyaneshwarpardhi/rolegrant/internal/identity"
	"github.com/gyaneshwarpardhi/rolegrant/internal/reconciler"
	"github.com/gyaneshwarpardhi/rolegrant/internal/retry"
	"github.com/gyaneshwarpardhi/rolegrant/internal/signature"
)

const secret = "whsec_test"

var now = time.Unix(1700000000, 0)

func sign(t *testing.T, body []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", now.Unix())
	mac.Write(body)
	return fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

// newHandler wires a full handler against a fake identity store that
// returns the scripted statuses and a fake payment provider.
func newHandler(t *testing.T, storeStatuses []int, providerHandler http.Handler) (*api.Handler, *[]string) {
	t.Helper()

	var storePaths []string
	statuses := append([]int(nil), storeStatuses...)
	store := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		storePaths = append(storePaths, r.Method+" "+r.URL.Path)
		status := http.StatusOK
		if len(statuses) > 0 {
			status = statuses[0]
			statuses = statuses[1:]
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(store.Close)

	if providerHandler == nil {
		providerHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"id":"cs_1","url":"https://pay.example.com/cs_1"}`))
		})
	}
	provider := httptest.NewServer(providerHandler)
	t.Cleanup(provider.Close)

	verifier, err := signature.NewVerifier(secret, signature.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewVerifier error: %v", err)
	}
	classifier, err := classify.New([]string{"premium"})
	if err != nil {
		t.Fatalf("classify.New error: %v", err)
	}
	idClient, err := identity.NewClient(
		identity.BaseEndpointResolver(store.URL+"/admin/users"),
		identity.StaticTokenProvider("admin-token"),
	)
	if err != nil {
		t.Fatalf("identity.NewClient error: %v", err)
	}
	controller, err := retry.New(
		retry.Policy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 30 * time.Second},
		retry.WithSleep(func(context.Context, time.Duration) bool { return true }),
	)
	if err != nil {
		t.Fatalf("retry.New error: %v", err)
	}
	co, err := checkout.NewClient("sk_test", "https://example.com", checkout.WithBaseURL(provider.URL))
	if err != nil {
		t.Fatalf("checkout.NewClient error: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := reconciler.New(verifier, classifier, idClient, controller, logger)
	return api.New(rec, co), &storePaths
}

func postDelivery(t *testing.T, h http.Handler, body []byte, sigHeader string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/payment", strings.NewReader(string(body)))
	if sigHeader != "" {
		req.Header.Set(api.SignatureHeader, sigHeader)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestWebhook_EndToEndGrant(t *testing.T) {
	h, storePaths := newHandler(t, []int{http.StatusNotFound, http.StatusOK}, nil)

	body := []byte(fmt.Sprintf(`{"id":"evt_1","type":"checkout.session.completed","created":%d,"data":{"object":{"client_reference_id":"user-42"}}}`, now.Unix()))
	w := postDelivery(t, h, body, sign(t, body))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	var resp struct {
		Received bool `json:"received"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if !resp.Received {
		t.Error(`response lacks "received": true`)
	}
	if len(*storePaths) != 2 {
		t.Fatalf("store saw %d requests, want 2 (404 then 200)", len(*storePaths))
	}
	if (*storePaths)[0] != "PUT /admin/users/user-42" {
		t.Errorf("store request = %q, want PUT /admin/users/user-42", (*storePaths)[0])
	}
}

func TestWebhook_BadSignatureRejected(t *testing.T) {
	h, storePaths := newHandler(t, nil, nil)

	body := []byte(`{"id":"evt_1","type":"checkout.session.completed","created":1}`)
	w := postDelivery(t, h, body, "t=1,v1=deadbeef")

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if strings.Contains(w.Body.String(), secret) {
		t.Error("response leaked the signing secret")
	}
	if len(*storePaths) != 0 {
		t.Errorf("store saw %d requests, want 0", len(*storePaths))
	}
}

func TestWebhook_ExhaustionReturnsServerError(t *testing.T) {
	h, _ := newHandler(t, []int{404, 404, 404, 404, 404}, nil)

	body := []byte(fmt.Sprintf(`{"id":"evt_1","type":"checkout.session.completed","created":%d,"data":{"object":{"client_reference_id":"user-42"}}}`, now.Unix()))
	w := postDelivery(t, h, body, sign(t, body))

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502 so the source redelivers", w.Code)
	}
}

func TestWebhook_IgnoredEventAcked(t *testing.T) {
	h, storePaths := newHandler(t, nil, nil)

	body := []byte(fmt.Sprintf(`{"id":"evt_9","type":"customer.subscription.deleted","created":%d,"data":{"object":{}}}`, now.Unix()))
	w := postDelivery(t, h, body, sign(t, body))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(*storePaths) != 0 {
		t.Errorf("store saw %d requests, want 0", len(*storePaths))
	}
}

func TestCheckout_CreateSession(t *testing.T) {
	var captured url.Values
	provider := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		captured = r.PostForm
		_, _ = w.Write([]byte(`{"id":"cs_1","url":"https://pay.example.com/cs_1"}`))
	})
	h, _ := newHandler(t, nil, provider)

	req := httptest.NewRequest(http.MethodPost, "/v1/checkout/sessions",
		strings.NewReader(`{"user_id":"user-42","price_id":"price_1"}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if resp["redirect_url"] != "https://pay.example.com/cs_1" {
		t.Errorf("redirect_url = %q", resp["redirect_url"])
	}
	if captured.Get("client_reference_id") != "user-42" {
		t.Errorf("client_reference_id = %q, want user-42", captured.Get("client_reference_id"))
	}
}

func TestCheckout_MissingFields(t *testing.T) {
	h, _ := newHandler(t, nil, nil)
	cases := []struct {
		name string
		body string
	}{
		{"no user", `{"price_id":"price_1"}`},
		{"no price", `{"user_id":"user-42"}`},
		{"bad json", `{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/checkout/sessions", strings.NewReader(tc.body))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestHealthEndpoints(t *testing.T) {
	h, _ := newHandler(t, nil, nil)
	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", path, w.Code)
		}
	}
}
