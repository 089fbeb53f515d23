package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/danharsa/billpay/internal/domain"
)

// Postgres is the production Store backed by a pgx connection pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres builds a pool from a connection string and verifies it with a
// ping.
func NewPostgres(ctx context.Context, connString string, logger *zap.Logger) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Postgres{pool: pool, logger: logger}, nil
}

func (s *Postgres) Close() {
	s.pool.Close()
}

func (s *Postgres) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

func (s *Postgres) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	var a domain.Account
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, balance, created_at FROM accounts WHERE id = $1`, id,
	).Scan(&a.ID, &a.Name, &a.Balance, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Postgres) GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	var p domain.Product
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, price, is_active FROM products WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Price, &p.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

const transactionColumns = `id, account_id, product_id, customer_number, amount, status, reference_number, notes, created_at, updated_at`

func scanTransaction(row pgx.Row, t *domain.Transaction) error {
	return row.Scan(&t.ID, &t.AccountID, &t.ProductID, &t.CustomerNumber,
		&t.Amount, &t.Status, &t.ReferenceNumber, &t.Notes, &t.CreatedAt, &t.UpdatedAt)
}

func (s *Postgres) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	var t domain.Transaction
	err := scanTransaction(s.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id), &t)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Postgres) ListAccountTransactions(ctx context.Context, accountID uuid.UUID) ([]domain.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE account_id = $1 ORDER BY created_at DESC`,
		accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		if err := scanTransaction(rows, &t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Postgres) GetReceipt(ctx context.Context, transactionID uuid.UUID) (*domain.Receipt, error) {
	var r domain.Receipt
	err := s.pool.QueryRow(ctx,
		`SELECT transaction_id, subtotal, tax, total, content, status, created_at, updated_at
		 FROM receipts WHERE transaction_id = $1`, transactionID,
	).Scan(&r.TransactionID, &r.Subtotal, &r.Tax, &r.Total, &r.Content, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Postgres) CompleteIfPending(ctx context.Context, id uuid.UUID, note string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE transactions SET status = $1, notes = $2, updated_at = now()
		 WHERE id = $3 AND status = $4`,
		domain.StatusSuccess, note, id, domain.StatusPending)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	// Best effort: the transaction already settled, a receipt glitch must not
	// undo that. A lagging receipt is caught by the next sweep.
	if _, err := s.pool.Exec(ctx,
		`UPDATE receipts SET status = $1, updated_at = now() WHERE transaction_id = $2`,
		domain.StatusSuccess, id); err != nil {
		s.logger.Error("receipt status update failed after auto-completion",
			zap.String("transaction_id", id.String()),
			zap.Error(err))
	}
	return true, nil
}

func (s *Postgres) AdvanceStalePending(ctx context.Context, cutoff time.Time, note string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE transactions SET status = $1, notes = $2, updated_at = now()
		 WHERE status = $3 AND created_at <= $4`,
		domain.StatusSuccess, note, domain.StatusPending, cutoff)
	if err != nil {
		return 0, err
	}

	// Reconcile any receipt still marked PENDING whose transaction has
	// settled, including ones a crashed one-shot timer left behind.
	if _, err := s.pool.Exec(ctx,
		`UPDATE receipts r SET status = t.status, updated_at = now()
		 FROM transactions t
		 WHERE r.transaction_id = t.id AND t.status = $1 AND r.status = $2`,
		domain.StatusSuccess, domain.StatusPending); err != nil {
		s.logger.Error("receipt reconciliation failed after sweep", zap.Error(err))
	}
	return tag.RowsAffected(), nil
}

// pgTx adapts a pgx transaction to the Tx interface.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	var a domain.Account
	err := t.tx.QueryRow(ctx,
		`SELECT id, name, balance, created_at FROM accounts WHERE id = $1 FOR UPDATE`, id,
	).Scan(&a.ID, &a.Name, &a.Balance, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("account lock acquisition failed: %w", err)
	}
	return &a, nil
}

func (t *pgTx) UpdateAccountBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE accounts SET balance = $1 WHERE id = $2`, balance, id)
	return err
}

func (t *pgTx) GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	var p domain.Product
	err := t.tx.QueryRow(ctx,
		`SELECT id, name, price, is_active FROM products WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Price, &p.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, tr *domain.Transaction) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO transactions (`+transactionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		tr.ID, tr.AccountID, tr.ProductID, tr.CustomerNumber, tr.Amount,
		tr.Status, tr.ReferenceNumber, tr.Notes, tr.CreatedAt, tr.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "transactions_reference_number_key" {
			return ErrDuplicateReference
		}
		return fmt.Errorf("transaction insert failed: %w", err)
	}
	return nil
}

func (t *pgTx) LockTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	var tr domain.Transaction
	err := scanTransaction(t.tx.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id), &tr)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("transaction lock acquisition failed: %w", err)
	}
	return &tr, nil
}

func (t *pgTx) UpdateTransactionStatus(ctx context.Context, id uuid.UUID, status domain.TransactionStatus, notes string) (time.Time, error) {
	var updatedAt time.Time
	err := t.tx.QueryRow(ctx,
		`UPDATE transactions SET status = $1, notes = $2, updated_at = now()
		 WHERE id = $3 RETURNING updated_at`,
		status, notes, id).Scan(&updatedAt)
	if err != nil {
		return time.Time{}, err
	}
	return updatedAt, nil
}

func (t *pgTx) DeleteTransaction(ctx context.Context, id uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Receipt writes run inside a savepoint. A failed statement would otherwise
// put the enclosing transaction into an aborted state and sink the debit or
// status transition with it; rolling back only the savepoint keeps the unit
// committable, which is what lets callers treat receipts as best effort.
func (t *pgTx) UpsertReceipt(ctx context.Context, r *domain.Receipt) error {
	inner, err := t.tx.Begin(ctx)
	if err != nil {
		return err
	}
	if _, err := inner.Exec(ctx,
		`INSERT INTO receipts (transaction_id, subtotal, tax, total, content, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (transaction_id) DO UPDATE
		 SET subtotal = EXCLUDED.subtotal, tax = EXCLUDED.tax, total = EXCLUDED.total,
		     content = EXCLUDED.content, status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		r.TransactionID, r.Subtotal, r.Tax, r.Total, r.Content, r.Status, r.CreatedAt, r.UpdatedAt); err != nil {
		_ = inner.Rollback(ctx)
		return err
	}
	return inner.Commit(ctx)
}

func (t *pgTx) UpdateReceiptStatus(ctx context.Context, transactionID uuid.UUID, status string) error {
	inner, err := t.tx.Begin(ctx)
	if err != nil {
		return err
	}
	if _, err := inner.Exec(ctx,
		`UPDATE receipts SET status = $1, updated_at = now() WHERE transaction_id = $2`,
		status, transactionID); err != nil {
		_ = inner.Rollback(ctx)
		return err
	}
	return inner.Commit(ctx)
}
