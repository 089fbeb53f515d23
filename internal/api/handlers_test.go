package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/danharsa/billpay/internal/api"
	"github.com/danharsa/billpay/internal/domain"
	"github.com/danharsa/billpay/internal/events"
	"github.com/danharsa/billpay/internal/idempotency"
	"github.com/danharsa/billpay/internal/ledger"
	"github.com/danharsa/billpay/internal/store"
)

type testServer struct {
	router  http.Handler
	store   *store.Memory
	account domain.Account
	product domain.Product
}

func newTestServer(t *testing.T, balance int64) *testServer {
	t.Helper()

	st := store.NewMemory()
	account := domain.Account{
		ID:        uuid.New(),
		Name:      "budi",
		Balance:   decimal.NewFromInt(balance),
		CreatedAt: time.Now(),
	}
	product := domain.Product{
		ID:       uuid.New(),
		Name:     "Airtime 10K",
		Price:    decimal.NewFromInt(10_000),
		IsActive: true,
	}
	st.PutAccount(account)
	st.PutProduct(product)

	logger := zap.NewNop()
	manager := ledger.NewManager(st, ledger.NewReceiptArchiver(logger), events.NewEmitter(nil, logger), logger, time.Hour)
	guard := idempotency.New(10*time.Minute, logger)
	handler := api.NewHandler(st, manager, guard, logger)

	return &testServer{
		router:  api.NewRouter(handler),
		store:   st,
		account: account,
		product: product,
	}
}

func (ts *testServer) createBody() []byte {
	body, _ := json.Marshal(domain.CreateTransactionRequest{
		AccountID:      ts.account.ID,
		ProductID:      ts.product.ID,
		CustomerNumber: "081234567890",
	})
	return body
}

func (ts *testServer) do(method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, 100_000)
	rec := ts.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateTransaction_Success(t *testing.T) {
	ts := newTestServer(t, 100_000)

	rec := ts.do(http.MethodPost, "/api/v1/transactions", ts.createBody(), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var detail domain.TransactionDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))

	assert.Equal(t, domain.StatusPending, detail.Status)
	assert.True(t, detail.Amount.Equal(decimal.NewFromInt(11_100)))
	assert.True(t, detail.Subtotal.Equal(decimal.NewFromInt(10_000)))
	assert.True(t, detail.Tax.Equal(decimal.NewFromInt(1_100)))
	assert.True(t, detail.TaxRate.Equal(decimal.RequireFromString("0.11")))

	// Balance already debited at creation.
	rec = ts.do(http.MethodGet, "/api/v1/accounts/"+ts.account.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var acc domain.Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acc))
	assert.True(t, acc.Balance.Equal(decimal.NewFromInt(88_900)))
}

func TestCreateTransaction_Validation(t *testing.T) {
	ts := newTestServer(t, 100_000)

	rec := ts.do(http.MethodPost, "/api/v1/transactions", []byte(`{not json`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, _ := json.Marshal(domain.CreateTransactionRequest{
		AccountID: ts.account.ID, ProductID: ts.product.ID,
	})
	rec = ts.do(http.MethodPost, "/api/v1/transactions", body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "customer_number is required")
}

func TestCreateTransaction_IdempotentReplay(t *testing.T) {
	// Two requests with the same key and body: one underlying transaction,
	// two identical responses.
	ts := newTestServer(t, 100_000)
	headers := map[string]string{"Idempotency-Key": "retry-abc"}

	first := ts.do(http.MethodPost, "/api/v1/transactions", ts.createBody(), headers)
	require.Equal(t, http.StatusCreated, first.Code)

	second := ts.do(http.MethodPost, "/api/v1/transactions", ts.createBody(), headers)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.Bytes(), second.Body.Bytes(), "replay must be byte-identical")

	txs, err := ts.store.ListAccountTransactions(context.Background(), ts.account.ID)
	require.NoError(t, err)
	assert.Len(t, txs, 1, "the retry must not create a second transaction")

	acc, err := ts.store.GetAccount(context.Background(), ts.account.ID)
	require.NoError(t, err)
	assert.True(t, acc.Balance.Equal(decimal.NewFromInt(88_900)), "the retry must not debit twice")
}

func TestCreateTransaction_InsufficientBalanceReplayed(t *testing.T) {
	// Balance 10,000 cannot cover an 11,100 purchase. The failure itself is
	// the canonical response for the key and replays on retry.
	ts := newTestServer(t, 10_000)
	headers := map[string]string{"Idempotency-Key": "retry-poor"}

	first := ts.do(http.MethodPost, "/api/v1/transactions", ts.createBody(), headers)
	require.Equal(t, http.StatusUnprocessableEntity, first.Code)
	assert.Contains(t, first.Body.String(), "insufficient balance")

	second := ts.do(http.MethodPost, "/api/v1/transactions", ts.createBody(), headers)
	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, first.Body.Bytes(), second.Body.Bytes())
}

func TestCreateTransaction_UnknownAccount(t *testing.T) {
	ts := newTestServer(t, 100_000)
	body, _ := json.Marshal(domain.CreateTransactionRequest{
		AccountID: uuid.New(), ProductID: ts.product.ID, CustomerNumber: "0812",
	})
	rec := ts.do(http.MethodPost, "/api/v1/transactions", body, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "account not found")
}

func TestCancelTransaction_ReturnsRefundInfo(t *testing.T) {
	ts := newTestServer(t, 100_000)

	rec := ts.do(http.MethodPost, "/api/v1/transactions", ts.createBody(), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var detail domain.TransactionDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))

	rec = ts.do(http.MethodPost, fmt.Sprintf("/api/v1/transactions/%s/cancel", detail.ID), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result domain.RefundResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, domain.StatusFailed, result.Transaction.Status)
	assert.True(t, result.RefundedAmount.Equal(decimal.NewFromInt(11_100)))
	assert.True(t, result.AccountBalance.Equal(decimal.NewFromInt(100_000)))
}

func TestRefundTransaction_InvalidTransition(t *testing.T) {
	ts := newTestServer(t, 100_000)

	rec := ts.do(http.MethodPost, "/api/v1/transactions", ts.createBody(), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var detail domain.TransactionDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))

	// Refund before completion: the transaction is PENDING, not SUCCESS.
	rec = ts.do(http.MethodPost, fmt.Sprintf("/api/v1/transactions/%s/refund", detail.ID), nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCompleteThenRefund(t *testing.T) {
	ts := newTestServer(t, 100_000)

	rec := ts.do(http.MethodPost, "/api/v1/transactions", ts.createBody(), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var detail domain.TransactionDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))

	rec = ts.do(http.MethodPost, fmt.Sprintf("/api/v1/transactions/%s/complete", detail.ID), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodPost, fmt.Sprintf("/api/v1/transactions/%s/refund", detail.ID), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result domain.RefundResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, domain.StatusRefunded, result.Transaction.Status)
	assert.True(t, result.AccountBalance.Equal(decimal.NewFromInt(100_000)))
}

func TestDeleteTransaction(t *testing.T) {
	ts := newTestServer(t, 100_000)

	rec := ts.do(http.MethodPost, "/api/v1/transactions", ts.createBody(), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var detail domain.TransactionDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))

	rec = ts.do(http.MethodDelete, "/api/v1/transactions/"+detail.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodGet, "/api/v1/transactions/"+detail.ID.String(), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTransaction_NotFound(t *testing.T) {
	ts := newTestServer(t, 100_000)
	rec := ts.do(http.MethodGet, "/api/v1/transactions/"+uuid.NewString(), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodGet, "/api/v1/transactions/not-a-uuid", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAccountTransactions(t *testing.T) {
	ts := newTestServer(t, 100_000)

	rec := ts.do(http.MethodGet, fmt.Sprintf("/api/v1/accounts/%s/transactions", ts.account.ID), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	first := ts.do(http.MethodPost, "/api/v1/transactions", ts.createBody(), nil)
	require.Equal(t, http.StatusCreated, first.Code)

	rec = ts.do(http.MethodGet, fmt.Sprintf("/api/v1/accounts/%s/transactions", ts.account.ID), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var txs []domain.Transaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &txs))
	assert.Len(t, txs, 1)
}
