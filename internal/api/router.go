package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type ctxKey struct{}

// NewRouter wires the handlers. events serves the websocket notification
// stream and may be nil.
func NewRouter(h *Handler, events http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(h.requestID)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods("GET")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/ad", h.GetAdHandler).Methods("GET")
	apiV1.HandleFunc("/bids", h.SubmitBidHandler).Methods("POST")
	apiV1.HandleFunc("/bids", h.ListBidsHandler).Methods("GET")
	apiV1.HandleFunc("/withdrawals", h.WithdrawHandler).Methods("POST")
	if events != nil {
		apiV1.Handle("/events", events).Methods("GET")
	}
	return r
}

// requestID tags the request with the client's X-Request-ID or a new uuid.
func (h *Handler) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		start := time.Now()
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
		h.logger.Debug("request served",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	})
}

// RequestID returns the id assigned by the router, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
