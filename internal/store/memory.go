package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/danharsa/billpay/internal/domain"
)

// Memory is an in-process Store used by tests and local development. A single
// exclusive mutex stands in for row-level locking: every atomic unit holds it
// from begin to commit, which is coarser than Postgres but preserves the same
// serialization guarantees. Rollback is implemented by snapshotting state at
// unit start.
type Memory struct {
	mu           sync.Mutex
	accounts     map[uuid.UUID]domain.Account
	products     map[uuid.UUID]domain.Product
	transactions map[uuid.UUID]domain.Transaction
	receipts     map[uuid.UUID]domain.Receipt
	references   map[string]uuid.UUID

	// FailReceipts makes every receipt write fail, for exercising the
	// best-effort receipt path in tests.
	FailReceipts bool
}

func NewMemory() *Memory {
	return &Memory{
		accounts:     make(map[uuid.UUID]domain.Account),
		products:     make(map[uuid.UUID]domain.Product),
		transactions: make(map[uuid.UUID]domain.Transaction),
		receipts:     make(map[uuid.UUID]domain.Receipt),
		references:   make(map[string]uuid.UUID),
	}
}

// PutAccount seeds or replaces an account.
func (m *Memory) PutAccount(a domain.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.ID] = a
}

// PutProduct seeds or replaces a product.
func (m *Memory) PutProduct(p domain.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
}

func (m *Memory) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.clone()
	tx := &memTx{store: m}
	if err := fn(tx); err != nil {
		m.restore(snapshot)
		return err
	}
	// Mirror Postgres aborted-transaction behavior: a failed statement that fn
	// swallowed still sinks the commit. Receipt writes are exempt, matching
	// their savepoint isolation in the production store.
	if tx.aborted {
		m.restore(snapshot)
		return fmt.Errorf("tx commit failed: unit aborted by earlier statement error")
	}
	return nil
}

type memState struct {
	accounts     map[uuid.UUID]domain.Account
	transactions map[uuid.UUID]domain.Transaction
	receipts     map[uuid.UUID]domain.Receipt
	references   map[string]uuid.UUID
}

func (m *Memory) clone() memState {
	s := memState{
		accounts:     make(map[uuid.UUID]domain.Account, len(m.accounts)),
		transactions: make(map[uuid.UUID]domain.Transaction, len(m.transactions)),
		receipts:     make(map[uuid.UUID]domain.Receipt, len(m.receipts)),
		references:   make(map[string]uuid.UUID, len(m.references)),
	}
	for k, v := range m.accounts {
		s.accounts[k] = v
	}
	for k, v := range m.transactions {
		s.transactions[k] = v
	}
	for k, v := range m.receipts {
		s.receipts[k] = v
	}
	for k, v := range m.references {
		s.references[k] = v
	}
	return s
}

func (m *Memory) restore(s memState) {
	m.accounts = s.accounts
	m.transactions = s.transactions
	m.receipts = s.receipts
	m.references = s.references
}

func (m *Memory) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (m *Memory) GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *Memory) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (m *Memory) ListAccountTransactions(ctx context.Context, accountID uuid.UUID) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Transaction
	for _, t := range m.transactions {
		if t.AccountID == accountID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *Memory) GetReceipt(ctx context.Context, transactionID uuid.UUID) (*domain.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.receipts[transactionID]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *Memory) CompleteIfPending(ctx context.Context, id uuid.UUID, note string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[id]
	if !ok || t.Status != domain.StatusPending {
		return false, nil
	}
	t.Status = domain.StatusSuccess
	t.Notes = note
	t.UpdatedAt = time.Now()
	m.transactions[id] = t
	m.settleReceiptLocked(id)
	return true, nil
}

func (m *Memory) AdvanceStalePending(ctx context.Context, cutoff time.Time, note string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.transactions {
		if t.Status == domain.StatusPending && !t.CreatedAt.After(cutoff) {
			t.Status = domain.StatusSuccess
			t.Notes = note
			t.UpdatedAt = time.Now()
			m.transactions[id] = t
			m.settleReceiptLocked(id)
			n++
		}
	}
	return n, nil
}

// settleReceiptLocked moves the paired receipt to SUCCESS alongside an
// automatic settlement. Caller holds the mutex.
func (m *Memory) settleReceiptLocked(id uuid.UUID) {
	r, ok := m.receipts[id]
	if !ok {
		return
	}
	r.Status = string(domain.StatusSuccess)
	r.UpdatedAt = time.Now()
	m.receipts[id] = r
}

// memTx operates directly on the store maps; the store mutex is already held
// for the duration of the unit. aborted tracks statement errors that would
// poison a real database transaction; not-found lookups do not count, since a
// zero-row select or update is not a statement error.
type memTx struct {
	store   *Memory
	aborted bool
}

func (t *memTx) LockAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	a, ok := t.store.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (t *memTx) UpdateAccountBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	a, ok := t.store.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.Balance = balance
	t.store.accounts[id] = a
	return nil
}

func (t *memTx) GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	p, ok := t.store.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (t *memTx) InsertTransaction(ctx context.Context, tr *domain.Transaction) error {
	if _, exists := t.store.references[tr.ReferenceNumber]; exists {
		// A unique violation aborts the enclosing unit, like 23505 does.
		t.aborted = true
		return ErrDuplicateReference
	}
	t.store.transactions[tr.ID] = *tr
	t.store.references[tr.ReferenceNumber] = tr.ID
	return nil
}

func (t *memTx) LockTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	tr, ok := t.store.transactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &tr, nil
}

func (t *memTx) UpdateTransactionStatus(ctx context.Context, id uuid.UUID, status domain.TransactionStatus, notes string) (time.Time, error) {
	tr, ok := t.store.transactions[id]
	if !ok {
		return time.Time{}, ErrNotFound
	}
	tr.Status = status
	tr.Notes = notes
	tr.UpdatedAt = time.Now()
	t.store.transactions[id] = tr
	return tr.UpdatedAt, nil
}

func (t *memTx) DeleteTransaction(ctx context.Context, id uuid.UUID) error {
	tr, ok := t.store.transactions[id]
	if !ok {
		return ErrNotFound
	}
	delete(t.store.transactions, id)
	delete(t.store.references, tr.ReferenceNumber)
	delete(t.store.receipts, id)
	return nil
}

func (t *memTx) UpsertReceipt(ctx context.Context, r *domain.Receipt) error {
	if t.store.FailReceipts {
		return ErrReceiptWriteFailed
	}
	t.store.receipts[r.TransactionID] = *r
	return nil
}

func (t *memTx) UpdateReceiptStatus(ctx context.Context, transactionID uuid.UUID, status string) error {
	if t.store.FailReceipts {
		return ErrReceiptWriteFailed
	}
	r, ok := t.store.receipts[transactionID]
	if !ok {
		return nil
	}
	r.Status = status
	r.UpdatedAt = time.Now()
	t.store.receipts[transactionID] = r
	return nil
}
