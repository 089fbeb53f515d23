package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionStatus is the lifecycle state of a purchase. The literal values
// are persisted as-is and read directly by reporting consumers, so they must
// not change.
type TransactionStatus string

const (
	StatusPending  TransactionStatus = "PENDING"
	StatusSuccess  TransactionStatus = "SUCCESS"
	StatusFailed   TransactionStatus = "FAILED"
	StatusRefunded TransactionStatus = "REFUNDED"
)

// Account holds a user's spendable balance. The balance is only ever mutated
// by the ledger manager, under a row lock, inside the same storage
// transaction as the paired Transaction mutation.
type Account struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
}

// Product is a fixed-price virtual good (airtime, data, utility token). Price
// is the base, pre-tax amount. The ledger treats products as read-only input.
type Product struct {
	ID       uuid.UUID       `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	IsActive bool            `json:"is_active"`
}

// Transaction is the record of one purchase. Amount is the tax-inclusive
// total, fixed at creation; every later transition moves money by exactly
// this value, never by a re-derived one.
type Transaction struct {
	ID              uuid.UUID         `json:"id"`
	AccountID       uuid.UUID         `json:"account_id"`
	ProductID       uuid.UUID         `json:"product_id"`
	CustomerNumber  string            `json:"customer_number"`
	Amount          decimal.Decimal   `json:"amount"`
	Status          TransactionStatus `json:"status"`
	ReferenceNumber string            `json:"reference_number"`
	Notes           string            `json:"notes"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Receipt is a denormalized snapshot of a transaction's billing breakdown,
// keyed 1:1 by transaction. It is best-effort: a failed receipt write never
// rolls back the owning transaction.
type Receipt struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Tax           decimal.Decimal `json:"tax"`
	Total         decimal.Decimal `json:"total"`
	Content       string          `json:"content"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// CreateTransactionRequest is the payload for a new purchase.
type CreateTransactionRequest struct {
	AccountID      uuid.UUID `json:"account_id"`
	ProductID      uuid.UUID `json:"product_id"`
	CustomerNumber string    `json:"customer_number"`
}

// TransactionDetail is the create response: the transaction plus the billing
// breakdown attached for display.
type TransactionDetail struct {
	Transaction
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	TaxRate  decimal.Decimal `json:"tax_rate"`
}

// RefundResult is returned by cancel and refund: the updated transaction,
// the amount credited back, and the account balance after the credit.
type RefundResult struct {
	Transaction    Transaction     `json:"transaction"`
	RefundedAmount decimal.Decimal `json:"refunded_amount"`
	AccountBalance decimal.Decimal `json:"account_balance"`
}
