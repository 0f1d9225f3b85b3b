package api

import (
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/rolegrant/internal/checkout"
	"github.com/gyaneshwarpardhi/rolegrant/internal/metrics"
	"github.com/gyaneshwarpardhi/rolegrant/internal/reconciler"
)

// SignatureHeader is where the event source puts the delivery signature.
const SignatureHeader = "Stripe-Signature"

// maxDeliveryBytes bounds inbound webhook bodies.
const maxDeliveryBytes = 1 << 20

// Handler holds all HTTP handler dependencies. The reconciler and checkout
// client are swappable so config hot-reloads take effect without dropping
// in-flight requests.
type Handler struct {
	rec      atomic.Pointer[reconciler.Reconciler]
	checkout atomic.Pointer[checkout.Client]
	root     http.Handler
}

// New creates an HTTP handler and registers all routes.
func New(rec *reconciler.Reconciler, co *checkout.Client) *Handler {
	h := &Handler{}
	h.rec.Store(rec)
	h.checkout.Store(co)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/webhooks/payment", h.handleDelivery)
	mux.HandleFunc("POST /v1/checkout/sessions", h.createCheckoutSession)
	mux.HandleFunc("GET /healthz", h.healthz)
	mux.HandleFunc("GET /readyz", h.readyz)
	mux.Handle("GET /metrics", promhttp.Handler())
	h.root = loggingMiddleware(mux)

	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.root.ServeHTTP(w, r)
}

// Swap replaces the live reconciler and checkout client (used on hot-reload).
func (h *Handler) Swap(rec *reconciler.Reconciler, co *checkout.Client) {
	h.rec.Store(rec)
	h.checkout.Store(co)
}

// POST /v1/webhooks/payment — signed event delivery from the payment provider.
//
// The body must reach the verifier byte-for-byte as transmitted, so it is
// read raw here and never decoded before verification.
func (h *Handler) handleDelivery(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDeliveryBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unable to read request body")
		return
	}

	deliveryID := uuid.New().String()
	rep := h.rec.Load().Process(r.Context(), deliveryID, body, r.Header.Get(SignatureHeader))

	switch rep.Disposition {
	case reconciler.Acked:
		writeJSON(w, http.StatusOK, receivedResponse{Received: true})
	case reconciler.Rejected:
		// Details stay in the logs; the response never describes what part
		// of the signature check failed.
		writeError(w, http.StatusBadRequest, "signature verification failed")
	default:
		writeError(w, http.StatusBadGateway, "entitlement reconciliation failed, retry delivery")
	}
}

type checkoutRequest struct {
	UserID  string `json:"user_id"`
	PriceID string `json:"price_id"`
	Mode    string `json:"mode"`
}

// POST /v1/checkout/sessions — start a payment flow for a signed-in user.
func (h *Handler) createCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.CheckoutSessions.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.UserID == "" {
		metrics.CheckoutSessions.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.PriceID == "" {
		metrics.CheckoutSessions.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusBadRequest, "price_id is required")
		return
	}

	session, err := h.checkout.Load().CreateSession(r.Context(), checkout.SessionRequest{
		UserID:  req.UserID,
		PriceID: req.PriceID,
		Mode:    req.Mode,
	})
	if err != nil {
		metrics.CheckoutSessions.WithLabelValues("error").Inc()
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	metrics.CheckoutSessions.WithLabelValues("created").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"redirect_url": session.URL})
}

// GET /healthz — always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz — 200 once a reconciler is installed.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.rec.Load() == nil || h.checkout.Load() == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
