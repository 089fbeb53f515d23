package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires the HTTP surface: health and metrics at the root, the
// ledger operations under /api/v1. Every routed request passes through the
// latency middleware.
func NewRouter(h *Handler) http.Handler {
	r := mux.NewRouter()
	r.Use(timingMiddleware)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/transactions", h.CreateTransaction).Methods("POST")
	apiV1.HandleFunc("/transactions/{id}", h.GetTransaction).Methods("GET")
	apiV1.HandleFunc("/transactions/{id}", h.DeleteTransaction).Methods("DELETE")
	apiV1.HandleFunc("/transactions/{id}/complete", h.CompleteTransaction).Methods("POST")
	apiV1.HandleFunc("/transactions/{id}/cancel", h.CancelTransaction).Methods("POST")
	apiV1.HandleFunc("/transactions/{id}/refund", h.RefundTransaction).Methods("POST")
	apiV1.HandleFunc("/accounts/{id}", h.GetAccount).Methods("GET")
	apiV1.HandleFunc("/accounts/{id}/transactions", h.ListAccountTransactions).Methods("GET")

	return r
}

// timingMiddleware samples request latency for every endpoint, labeled by the
// matched route template so path parameters do not blow up label cardinality.
func timingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tmpl
			}
		}
		timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(r.Method, endpoint))
		defer timer.ObserveDuration()
		next.ServeHTTP(w, r)
	})
}
