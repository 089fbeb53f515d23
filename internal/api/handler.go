package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/danharsa/billpay/internal/domain"
	"github.com/danharsa/billpay/internal/idempotency"
	"github.com/danharsa/billpay/internal/ledger"
	"github.com/danharsa/billpay/internal/store"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billpay_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "billpay_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

type Handler struct {
	store  store.Store
	ledger *ledger.Manager
	guard  *idempotency.Guard
	logger *zap.Logger
}

func NewHandler(s store.Store, m *ledger.Manager, g *idempotency.Guard, logger *zap.Logger) *Handler {
	return &Handler{store: s, ledger: m, guard: g, logger: logger}
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateTransaction is the idempotency-guarded purchase entry point. With an
// Idempotency-Key header the whole operation outcome (success or business
// failure) is captured and replayed verbatim on retry; a concurrent retry of
// an in-flight key gets 409.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/transactions")
		return
	}
	if req.AccountID == uuid.Nil || req.ProductID == uuid.Nil {
		h.respondError(w, http.StatusBadRequest, "account_id and product_id are required", "POST", "/transactions")
		return
	}
	if req.CustomerNumber == "" {
		h.respondError(w, http.StatusBadRequest, "customer_number is required", "POST", "/transactions")
		return
	}

	key := r.Header.Get("Idempotency-Key")
	resp, _, err := h.guard.Do(key, func() idempotency.Response {
		detail, err := h.ledger.Create(r.Context(), req)
		if err != nil {
			status, message := h.classify(err, "POST", "/transactions")
			body, _ := json.Marshal(map[string]string{"error": message})
			return idempotency.Response{Status: status, Body: body}
		}
		body, _ := json.Marshal(detail)
		return idempotency.Response{Status: http.StatusCreated, Body: body}
	})
	if errors.Is(err, idempotency.ErrDuplicateRequest) {
		h.respondError(w, http.StatusConflict, err.Error(), "POST", "/transactions")
		return
	}

	httpRequestsTotal.WithLabelValues("POST", "/transactions", statusLabel(resp.Status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "GET", "/transactions/{id}")
	if !ok {
		return
	}

	trx, err := h.store.GetTransaction(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "Transaction not found", "GET", "/transactions/{id}")
		return
	}
	if err != nil {
		h.respondUnexpected(w, err, "GET", "/transactions/{id}")
		return
	}
	h.respondJSON(w, http.StatusOK, trx, "GET", "/transactions/{id}")
}

func (h *Handler) CompleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "POST", "/transactions/{id}/complete")
	if !ok {
		return
	}

	trx, err := h.ledger.Complete(r.Context(), id)
	if err != nil {
		h.respondBusiness(w, err, "POST", "/transactions/{id}/complete")
		return
	}
	h.respondJSON(w, http.StatusOK, trx, "POST", "/transactions/{id}/complete")
}

func (h *Handler) CancelTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "POST", "/transactions/{id}/cancel")
	if !ok {
		return
	}

	result, err := h.ledger.Cancel(r.Context(), id)
	if err != nil {
		h.respondBusiness(w, err, "POST", "/transactions/{id}/cancel")
		return
	}
	h.respondJSON(w, http.StatusOK, result, "POST", "/transactions/{id}/cancel")
}

func (h *Handler) RefundTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "POST", "/transactions/{id}/refund")
	if !ok {
		return
	}

	result, err := h.ledger.Refund(r.Context(), id)
	if err != nil {
		h.respondBusiness(w, err, "POST", "/transactions/{id}/refund")
		return
	}
	h.respondJSON(w, http.StatusOK, result, "POST", "/transactions/{id}/refund")
}

func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "DELETE", "/transactions/{id}")
	if !ok {
		return
	}

	if err := h.ledger.Delete(r.Context(), id); err != nil {
		h.respondBusiness(w, err, "DELETE", "/transactions/{id}")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]bool{"deleted": true}, "DELETE", "/transactions/{id}")
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "GET", "/accounts/{id}")
	if !ok {
		return
	}

	account, err := h.store.GetAccount(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "Account not found", "GET", "/accounts/{id}")
		return
	}
	if err != nil {
		h.respondUnexpected(w, err, "GET", "/accounts/{id}")
		return
	}
	h.respondJSON(w, http.StatusOK, account, "GET", "/accounts/{id}")
}

func (h *Handler) ListAccountTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "GET", "/accounts/{id}/transactions")
	if !ok {
		return
	}

	if _, err := h.store.GetAccount(r.Context(), id); errors.Is(err, store.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "Account not found", "GET", "/accounts/{id}/transactions")
		return
	} else if err != nil {
		h.respondUnexpected(w, err, "GET", "/accounts/{id}/transactions")
		return
	}

	txs, err := h.store.ListAccountTransactions(r.Context(), id)
	if err != nil {
		h.respondUnexpected(w, err, "GET", "/accounts/{id}/transactions")
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	h.respondJSON(w, http.StatusOK, txs, "GET", "/accounts/{id}/transactions")
}

// classify maps a ledger error to an HTTP status and user-facing message.
// Business outcomes keep their specific message; anything else is logged in
// full and reduced to a generic failure.
func (h *Handler) classify(err error, method, endpoint string) (int, string) {
	switch {
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrTransactionNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrAlreadyCompleted),
		errors.Is(err, domain.ErrAlreadyCancelled),
		errors.Is(err, domain.ErrAlreadyRefunded):
		return http.StatusUnprocessableEntity, err.Error()
	default:
		h.logger.Error("unexpected ledger failure",
			zap.String("method", method),
			zap.String("endpoint", endpoint),
			zap.Error(err))
		return http.StatusInternalServerError, "Internal Server Error"
	}
}

func (h *Handler) respondBusiness(w http.ResponseWriter, err error, method, endpoint string) {
	status, message := h.classify(err, method, endpoint)
	h.respondError(w, status, message, method, endpoint)
}

func (h *Handler) respondUnexpected(w http.ResponseWriter, err error, method, endpoint string) {
	h.logger.Error("storage failure",
		zap.String("method", method),
		zap.String("endpoint", endpoint),
		zap.Error(err))
	h.respondError(w, http.StatusInternalServerError, "Internal Server Error", method, endpoint)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, method, endpoint string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid id", method, endpoint)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, statusLabel(code)).Inc()
	respondWithJSON(w, code, payload)
}

func (h *Handler) respondError(w http.ResponseWriter, code int, message, method, endpoint string) {
	h.respondJSON(w, code, map[string]string{"error": message}, method, endpoint)
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func statusLabel(code int) string {
	return strconv.Itoa(code)
}
