// Package store defines the persistence boundary of the ledger core and its
// two implementations: Postgres for production and an in-memory store for
// tests and local development.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/danharsa/billpay/internal/domain"
)

var (
	// ErrNotFound is returned when a requested row does not exist. Callers map
	// it onto the entity-specific domain error.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateReference is returned by InsertTransaction when the
	// reference number collides with an existing row. The ledger retries
	// creation with a fresh reference.
	ErrDuplicateReference = errors.New("reference number already exists")

	// ErrReceiptWriteFailed is produced by the Memory store when configured to
	// fail receipt writes.
	ErrReceiptWriteFailed = errors.New("receipt write failed")
)

// Store is the read side plus the atomic-unit entry point. The two
// completion primitives are deliberately single conditional statements so the
// one-shot timer, the reconciliation sweep and manual completion can race
// safely: whichever statement matches first wins, the rest are no-ops.
type Store interface {
	// WithinTx runs fn inside one storage transaction. fn returning an error
	// rolls the whole unit back.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	ListAccountTransactions(ctx context.Context, accountID uuid.UUID) ([]domain.Transaction, error)
	GetReceipt(ctx context.Context, transactionID uuid.UUID) (*domain.Receipt, error)

	// CompleteIfPending advances one transaction to SUCCESS only if it is
	// still PENDING. Returns whether a row was changed.
	CompleteIfPending(ctx context.Context, id uuid.UUID, note string) (bool, error)

	// AdvanceStalePending advances every PENDING transaction created at or
	// before cutoff to SUCCESS in one bulk conditional update. Returns the
	// number of rows changed.
	AdvanceStalePending(ctx context.Context, cutoff time.Time, note string) (int64, error)
}

// Tx is the set of operations available inside an atomic unit. Lock methods
// take an exclusive row lock held until the unit commits or rolls back.
type Tx interface {
	LockAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	UpdateAccountBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error
	GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	InsertTransaction(ctx context.Context, t *domain.Transaction) error
	LockTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)

	// UpdateTransactionStatus stamps the row and returns the persisted
	// updated_at so callers can echo the exact stored value.
	UpdateTransactionStatus(ctx context.Context, id uuid.UUID, status domain.TransactionStatus, notes string) (time.Time, error)
	DeleteTransaction(ctx context.Context, id uuid.UUID) error

	// Receipt writes are isolated from the enclosing unit: a failure returns
	// an error but leaves the unit committable, so callers may log and move
	// on without losing the money movement.
	UpsertReceipt(ctx context.Context, r *domain.Receipt) error
	UpdateReceiptStatus(ctx context.Context, transactionID uuid.UUID, status string) error
}
