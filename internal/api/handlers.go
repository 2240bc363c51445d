package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/punchamoorthee/adauction/internal/domain"
	"github.com/punchamoorthee/adauction/internal/service"
)

const callerHeader = "X-Caller-Address"

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "auction_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

// Ledger is the part of the auction the handlers drive.
type Ledger interface {
	SubmitBid(ctx context.Context, caller domain.Address, req domain.BidRequest) (*domain.BidRecord, error)
	WithdrawFunds(ctx context.Context, caller domain.Address) (*domain.Withdrawal, error)
	State(ctx context.Context) (domain.Snapshot, error)
	History(ctx context.Context, q domain.HistoryQuery) ([]domain.BidRecord, error)
}

type Handler struct {
	ledger Ledger
	keys   service.IdempotencyStore
	logger *zap.Logger
}

func NewHandler(ledger Ledger, keys service.IdempotencyStore, logger *zap.Logger) *Handler {
	return &Handler{ledger: ledger, keys: keys, logger: logger}
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) GetAdHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("GET", "/ad"))
	defer timer.ObserveDuration()

	snap, err := h.ledger.State(r.Context())
	if err != nil {
		h.logFor(r).Error("state query failed", zap.Error(err))
		httpRequestsTotal.WithLabelValues("GET", "/ad", "500").Inc()
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	httpRequestsTotal.WithLabelValues("GET", "/ad", "200").Inc()
	respondWithJSON(w, http.StatusOK, snap)
}

func (h *Handler) SubmitBidHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/bids"))
	defer timer.ObserveDuration()

	// 1. Caller identity
	caller, err := domain.ParseAddress(r.Header.Get(callerHeader))
	if err != nil {
		httpRequestsTotal.WithLabelValues("POST", "/bids", "400").Inc()
		respondWithError(w, http.StatusBadRequest, "Missing or invalid "+callerHeader+" header")
		return
	}

	// 2. Read and Hash Body
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		httpRequestsTotal.WithLabelValues("POST", "/bids", "500").Inc()
		respondWithError(w, http.StatusInternalServerError, "Stream read error")
		return
	}
	r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

	var req domain.BidRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		httpRequestsTotal.WithLabelValues("POST", "/bids", "400").Inc()
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if err := domain.ValidateAmount(req.Amount); err != nil {
		httpRequestsTotal.WithLabelValues("POST", "/bids", "400").Inc()
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	// 3. Idempotency reservation, keyed on caller and body
	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey != "" {
		hash := sha256.Sum256(append([]byte(caller.String()+"\n"), bodyBytes...))
		existing, err := h.keys.ReserveKey(r.Context(), idempotencyKey, hex.EncodeToString(hash[:]))
		if err != nil {
			switch {
			case errors.Is(err, service.ErrIdempotencyConflict):
				httpRequestsTotal.WithLabelValues("POST", "/bids", "409").Inc()
				respondWithError(w, http.StatusConflict, "Request processing in progress")
			case errors.Is(err, service.ErrIdempotencyMismatch):
				httpRequestsTotal.WithLabelValues("POST", "/bids", "422").Inc()
				respondWithError(w, http.StatusUnprocessableEntity, "Key reuse with mismatched payload")
			default:
				h.logFor(r).Error("idempotency reservation failed", zap.Error(err))
				httpRequestsTotal.WithLabelValues("POST", "/bids", "500").Inc()
				respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
			}
			return
		}
		// Handle Idempotent Replay
		if existing != nil {
			httpRequestsTotal.WithLabelValues("POST", "/bids", strconv.Itoa(existing.ResponseStatus)).Inc()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(existing.ResponseStatus)
			w.Write(existing.ResponseBody)
			return
		}
	}

	// The key must be settled even if the client goes away mid-request.
	keyCtx := context.WithoutCancel(r.Context())

	// 4. Call Ledger
	record, err := h.ledger.SubmitBid(r.Context(), caller, req)
	if err != nil {
		if idempotencyKey != "" {
			if relErr := h.keys.ReleaseKey(keyCtx, idempotencyKey); relErr != nil {
				h.logFor(r).Warn("idempotency release failed", zap.Error(relErr))
			}
		}
		switch {
		case errors.Is(err, service.ErrInsufficientBid):
			httpRequestsTotal.WithLabelValues("POST", "/bids", "422").Inc()
			respondWithError(w, http.StatusUnprocessableEntity, "Your bid must be higher than the last bid")
		case errors.Is(err, service.ErrInvalidAmount):
			httpRequestsTotal.WithLabelValues("POST", "/bids", "400").Inc()
			respondWithError(w, http.StatusBadRequest, err.Error())
		default:
			h.logFor(r).Error("bid failed", zap.Error(err))
			httpRequestsTotal.WithLabelValues("POST", "/bids", "500").Inc()
			respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		}
		return
	}

	// 5. Finalize Idempotency
	if idempotencyKey != "" {
		body, err := json.Marshal(record)
		if err == nil {
			err = h.keys.CompleteKey(keyCtx, idempotencyKey, http.StatusCreated, body)
		}
		if err != nil {
			h.logFor(r).Warn("idempotency update failed", zap.Error(err))
		}
	}

	httpRequestsTotal.WithLabelValues("POST", "/bids", "201").Inc()
	w.Header().Set("Location", "/api/v1/bids?from="+strconv.FormatUint(record.SequenceID, 10)+"&limit=1")
	respondWithJSON(w, http.StatusCreated, record)
}

func (h *Handler) ListBidsHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("GET", "/bids"))
	defer timer.ObserveDuration()

	q, err := parseHistoryQuery(r)
	if err != nil {
		httpRequestsTotal.WithLabelValues("GET", "/bids", "400").Inc()
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	bids, err := h.ledger.History(r.Context(), q)
	if err != nil {
		h.logFor(r).Error("history query failed", zap.Error(err))
		httpRequestsTotal.WithLabelValues("GET", "/bids", "500").Inc()
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	httpRequestsTotal.WithLabelValues("GET", "/bids", "200").Inc()
	respondWithJSON(w, http.StatusOK, bids)
}

func (h *Handler) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/withdrawals"))
	defer timer.ObserveDuration()

	caller, err := domain.ParseAddress(r.Header.Get(callerHeader))
	if err != nil {
		httpRequestsTotal.WithLabelValues("POST", "/withdrawals", "400").Inc()
		respondWithError(w, http.StatusBadRequest, "Missing or invalid "+callerHeader+" header")
		return
	}

	withdrawal, err := h.ledger.WithdrawFunds(r.Context(), caller)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotOwner):
			httpRequestsTotal.WithLabelValues("POST", "/withdrawals", "403").Inc()
			respondWithError(w, http.StatusForbidden, "You are not the owner")
		case errors.Is(err, service.ErrNothingToWithdraw):
			httpRequestsTotal.WithLabelValues("POST", "/withdrawals", "422").Inc()
			respondWithError(w, http.StatusUnprocessableEntity, "There is nothing to withdraw")
		default:
			h.logFor(r).Error("withdrawal failed", zap.Error(err))
			httpRequestsTotal.WithLabelValues("POST", "/withdrawals", "500").Inc()
			respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		}
		return
	}

	httpRequestsTotal.WithLabelValues("POST", "/withdrawals", "200").Inc()
	respondWithJSON(w, http.StatusOK, withdrawal)
}

func parseHistoryQuery(r *http.Request) (domain.HistoryQuery, error) {
	var q domain.HistoryQuery
	values := r.URL.Query()
	var err error
	if v := values.Get("from"); v != "" {
		if q.From, err = strconv.ParseUint(v, 10, 64); err != nil {
			return q, errors.New("invalid from")
		}
	}
	if v := values.Get("to"); v != "" {
		if q.To, err = strconv.ParseUint(v, 10, 64); err != nil {
			return q, errors.New("invalid to")
		}
	}
	if v := values.Get("limit"); v != "" {
		if q.Limit, err = strconv.Atoi(v); err != nil || q.Limit < 0 {
			return q, errors.New("invalid limit")
		}
	}
	if v := values.Get("exclude_current"); v != "" {
		if q.ExcludeCurrent, err = strconv.ParseBool(v); err != nil {
			return q, errors.New("invalid exclude_current")
		}
	}
	return q, nil
}

func (h *Handler) logFor(r *http.Request) *zap.Logger {
	return h.logger.With(zap.String("request_id", RequestID(r.Context())))
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
