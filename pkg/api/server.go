// Package api exposes the claims service over HTTP.
//
// Routes:
//
//	GET  /v1/status
//	GET  /v1/slots/{slot}
//	POST /v1/slots/{slot}/claim     {"counter": N}
//	POST /v1/slots/{slot}/enrich
//	GET  /v1/claimed?from=&to=
//	GET  /metrics
//
// Claims are evaluated against the server clock.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jiayi-1994/slotmap/pkg/allocator"
	"github.com/jiayi-1994/slotmap/pkg/claims"
	"github.com/jiayi-1994/slotmap/pkg/logging"
	"github.com/jiayi-1994/slotmap/pkg/metrics"
)

// Error codes carried in error responses
const (
	CodeBadRequest         = "bad_request"
	CodeAlreadyClaimed     = "already_claimed"
	CodeInvalidSlot        = "invalid_slot"
	CodeNotLive            = "not_live"
	CodeNotClaimed         = "not_claimed"
	CodeProvisioning       = "provisioning_error"
	CodeEnrichmentFailed   = "enrichment_failed"
	CodeEnrichmentDisabled = "enrichment_disabled"
	CodeInternal           = "internal"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failed request
type ErrorDetail struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ClaimRequest is the body of a claim request
type ClaimRequest struct {
	Counter *uint64 `json:"counter"`
}

// SlotResponse reports whether a slot is claimed
type SlotResponse struct {
	Slot    uint64 `json:"slot"`
	Claimed bool   `json:"claimed"`
}

// ClaimedResponse lists claimed slots in a range
type ClaimedResponse struct {
	From  uint64   `json:"from"`
	To    uint64   `json:"to"`
	Slots []uint64 `json:"slots"`
}

// Server serves the HTTP API
type Server struct {
	service *claims.Service
	now     func() time.Time
}

// Option configures a Server
type Option func(*Server)

// WithClock overrides the server clock used for claims
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// NewServer creates a server for service
func NewServer(service *claims.Service, opts ...Option) *Server {
	s := &Server{service: service, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the router with all routes registered
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/v1/status", s.status).Methods("GET")
	r.HandleFunc("/v1/slots/{slot}", s.getSlot).Methods("GET")
	r.HandleFunc("/v1/slots/{slot}/claim", s.claimSlot).Methods("POST")
	r.HandleFunc("/v1/slots/{slot}/enrich", s.enrichSlot).Methods("POST")
	r.HandleFunc("/v1/claimed", s.listClaimed).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods("GET")

	return r
}

// sendErrorResponse sends a standardized error response to the client.
func sendErrorResponse(w http.ResponseWriter, statusCode int, code, message string) {
	sendJSON(w, statusCode, ErrorResponse{Error: ErrorDetail{Message: message, Code: code}})
}

func sendJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// sendClaimError maps allocator and service errors to HTTP statuses
func sendClaimError(w http.ResponseWriter, err error) {
	var notLive *allocator.NotLiveError
	switch {
	case allocator.IsAlreadyClaimed(err):
		sendErrorResponse(w, http.StatusConflict, CodeAlreadyClaimed, err.Error())
	case allocator.IsInvalidSlot(err):
		sendErrorResponse(w, http.StatusBadRequest, CodeInvalidSlot, err.Error())
	case errors.As(err, &notLive):
		w.Header().Set("Retry-After", strconv.FormatInt(int64(notLive.GoLive.Sub(notLive.Now).Seconds())+1, 10))
		sendErrorResponse(w, http.StatusTooEarly, CodeNotLive, err.Error())
	case errors.Is(err, claims.ErrNotClaimed):
		sendErrorResponse(w, http.StatusNotFound, CodeNotClaimed, err.Error())
	case errors.Is(err, claims.ErrEnrichmentDisabled):
		sendErrorResponse(w, http.StatusServiceUnavailable, CodeEnrichmentDisabled, err.Error())
	case claims.IsEnrichmentError(err):
		sendErrorResponse(w, http.StatusBadGateway, CodeEnrichmentFailed, err.Error())
	case allocator.IsProvisioningError(err):
		sendErrorResponse(w, http.StatusInternalServerError, CodeProvisioning, err.Error())
	default:
		sendErrorResponse(w, http.StatusInternalServerError, CodeInternal, err.Error())
	}
}

func slotFromRequest(r *http.Request) (uint64, error) {
	raw := mux.Vars(r)["slot"]
	slot, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid slot %q: must be a non-negative integer", raw)
	}
	return slot, nil
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, s.service.Status())
}

func (s *Server) getSlot(w http.ResponseWriter, r *http.Request) {
	slot, err := slotFromRequest(r)
	if err != nil {
		sendErrorResponse(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	claimed, err := s.service.IsClaimed(slot)
	if err != nil {
		sendClaimError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, SlotResponse{Slot: slot, Claimed: claimed})
}

func (s *Server) claimSlot(w http.ResponseWriter, r *http.Request) {
	logger := logging.LoggerForRequest(r.Context(), r.Method, r.URL.Path)

	slot, err := slotFromRequest(r)
	if err != nil {
		sendErrorResponse(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	var req ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Debug("Invalid request body", "error", err.Error())
		sendErrorResponse(w, http.StatusBadRequest, CodeBadRequest,
			fmt.Sprintf("Invalid request format: %v", err))
		return
	}
	if req.Counter == nil {
		sendErrorResponse(w, http.StatusBadRequest, CodeBadRequest, "counter is required")
		return
	}

	ctx := logging.IntoContext(r.Context(), logger)
	receipt, err := s.service.Claim(ctx, slot, s.now(), *req.Counter)
	if err != nil && receipt == nil {
		sendClaimError(w, err)
		return
	}

	// The slot is claimed even when enrichment failed; the receipt says so
	sendJSON(w, http.StatusCreated, receipt)
}

func (s *Server) enrichSlot(w http.ResponseWriter, r *http.Request) {
	logger := logging.LoggerForRequest(r.Context(), r.Method, r.URL.Path)

	slot, err := slotFromRequest(r)
	if err != nil {
		sendErrorResponse(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	receipt, err := s.service.Reenrich(logging.IntoContext(r.Context(), logger), slot)
	if err != nil {
		sendClaimError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, receipt)
}

func (s *Server) listClaimed(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	from, err := parseBound(query.Get("from"), 0)
	if err != nil {
		sendErrorResponse(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	to, err := parseBound(query.Get("to"), s.service.Status().CapacityBits)
	if err != nil {
		sendErrorResponse(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	slots, err := s.service.ClaimedInRange(from, to)
	if err != nil {
		sendClaimError(w, err)
		return
	}
	if slots == nil {
		slots = []uint64{}
	}
	sendJSON(w, http.StatusOK, ClaimedResponse{From: from, To: to, Slots: slots})
}

func parseBound(raw string, fallback uint64) (uint64, error) {
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid range bound %q: must be a non-negative integer", raw)
	}
	return v, nil
}
