package handlers

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clawpulse/syncrelay/internal/core/engine"
	apperrors "github.com/clawpulse/syncrelay/internal/errors"
)

// CFConnectingIPHeader carries the client address when fronted by Cloudflare.
const CFConnectingIPHeader = "CF-Connecting-IP"

// bodyOverhead covers the JSON framing and token around the payload.
const bodyOverhead = 64 << 10

// SyncHandler serves the relay operations over HTTP.
type SyncHandler struct {
	Relay           *engine.Relay
	MaxPayloadBytes int64

	// AttestationHeader names the header holding the platform token. Empty
	// when no verifier is configured.
	AttestationHeader   string
	TrustCFConnectingIP bool
}

// SyncUpload is the body of POST /sync.
type SyncUpload struct {
	Token   string `json:"token"`
	Payload string `json:"payload"`
}

// StatusResponse acknowledges a store or delete.
type StatusResponse struct {
	Status    string     `json:"status"`
	Message   string     `json:"message"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// SyncResponse returns a stored payload.
type SyncResponse struct {
	Payload   string    `json:"payload"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Routes mounts the sync endpoints.
func (h *SyncHandler) Routes(r chi.Router) {
	r.Post("/sync", h.Upload)
	r.Get("/sync/{token}", h.Fetch)
	r.Delete("/sync/{token}", h.Delete)
}

// Upload handles POST /sync.
func (h *SyncHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.MaxPayloadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, bodyLimit(h.MaxPayloadBytes))
	}

	var upload SyncUpload
	if err := json.NewDecoder(r.Body).Decode(&upload); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			envelope := apperrors.NewPayloadTooLargeError("Payload exceeds size limit")
			respondWithError(w, r, envelope)
			return
		}
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "Request body must be a JSON object with token and payload"))
		return
	}

	result, err := h.Relay.Store(r.Context(), engine.StoreRequest{
		Token:       upload.Token,
		Payload:     []byte(upload.Payload),
		ClientID:    ClientID(r, h.TrustCFConnectingIP),
		Attestation: h.attestation(r),
	})
	if err != nil {
		h.respondWithRelayError(w, r, err)
		return
	}

	updatedAt := result.UpdatedAt
	expiresAt := result.ExpiresAt
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:    "ok",
		Message:   fmt.Sprintf("Stored. Expires in %s.", formatTTL(result.TTL)),
		UpdatedAt: &updatedAt,
		ExpiresAt: &expiresAt,
	})
}

// Fetch handles GET /sync/{token}.
func (h *SyncHandler) Fetch(w http.ResponseWriter, r *http.Request) {
	token, ok := h.token(w, r)
	if !ok {
		return
	}

	result, err := h.Relay.Fetch(r.Context(), engine.FetchRequest{
		Token:       token,
		ClientID:    ClientID(r, h.TrustCFConnectingIP),
		Attestation: h.attestation(r),
	})
	if err != nil {
		h.respondWithRelayError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SyncResponse{
		Payload:   string(result.Payload),
		UpdatedAt: result.UpdatedAt,
	})
}

// Delete handles DELETE /sync/{token}. Absent tokens still succeed.
func (h *SyncHandler) Delete(w http.ResponseWriter, r *http.Request) {
	token, ok := h.token(w, r)
	if !ok {
		return
	}

	_, err := h.Relay.Delete(r.Context(), engine.DeleteRequest{
		Token:       token,
		ClientID:    ClientID(r, h.TrustCFConnectingIP),
		Attestation: h.attestation(r),
	})
	if err != nil {
		h.respondWithRelayError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok", Message: "Payload deleted."})
}

func (h *SyncHandler) token(w http.ResponseWriter, r *http.Request) (string, bool) {
	token, err := url.PathUnescape(chi.URLParam(r, "token"))
	if err != nil {
		respondWithError(w, r, apperrors.NewInvalidInputError("token is not valid path encoding"))
		return "", false
	}
	return token, true
}

func (h *SyncHandler) attestation(r *http.Request) string {
	if h.AttestationHeader == "" {
		return ""
	}
	return r.Header.Get(h.AttestationHeader)
}

// ClientID derives the rate limiting identity of a request. chi's RealIP
// middleware has already folded X-Forwarded-For/X-Real-IP into RemoteAddr.
func ClientID(r *http.Request, trustCF bool) string {
	if trustCF {
		if ip := strings.TrimSpace(r.Header.Get(CFConnectingIPHeader)); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// bodyLimit allows twice the payload limit, since JSON escaping can double
// a payload, plus framing. It saturates rather than overflowing.
func bodyLimit(maxPayloadBytes int64) int64 {
	if maxPayloadBytes > (math.MaxInt64-bodyOverhead)/2 {
		return math.MaxInt64
	}
	return 2*maxPayloadBytes + bodyOverhead
}

func formatTTL(ttl time.Duration) string {
	if ttl > 0 && ttl%time.Hour == 0 {
		return fmt.Sprintf("%dh", int64(ttl/time.Hour))
	}
	return ttl.String()
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
