// Package ledger owns the purchase transaction lifecycle and the paired
// account balance mutations. Every operation runs as one storage transaction
// that locks the rows it mutates first, so concurrent operations on the same
// account or transaction serialize at the storage layer while different
// accounts proceed in parallel.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/danharsa/billpay/internal/billing"
	"github.com/danharsa/billpay/internal/domain"
	"github.com/danharsa/billpay/internal/events"
	"github.com/danharsa/billpay/internal/store"
)

const (
	// maxReferenceAttempts bounds create retries when a generated reference
	// number collides with the unique index.
	maxReferenceAttempts = 3

	createdNote        = "transaction created"
	manualCompleteNote = "completed manually"
	autoCompleteNote   = "completed automatically after settlement delay"
	cancelledNote      = "cancelled, funds returned to account"
	refundedNote       = "refunded, funds returned to account"

	autoCompleteTimeout = 10 * time.Second
)

// Manager executes the transaction state machine. Amount is computed once at
// creation; every later transition moves money by exactly that stored value.
type Manager struct {
	store    store.Store
	archiver *ReceiptArchiver
	emitter  *events.Emitter
	logger   *zap.Logger

	// completionDelay is how long after creation the one-shot timer tries to
	// advance the transaction to SUCCESS. The reconciliation sweep covers
	// timers lost to a restart.
	completionDelay time.Duration
}

func NewManager(st store.Store, archiver *ReceiptArchiver, emitter *events.Emitter, logger *zap.Logger, completionDelay time.Duration) *Manager {
	return &Manager{
		store:           st,
		archiver:        archiver,
		emitter:         emitter,
		logger:          logger,
		completionDelay: completionDelay,
	}
}

// Create debits the account and inserts a PENDING transaction in one atomic
// unit: lock the account row, validate the product, compute the tax-inclusive
// amount, check the balance, debit, insert, best-effort receipt. On commit it
// schedules the one-shot completion timer.
func (m *Manager) Create(ctx context.Context, req domain.CreateTransactionRequest) (*domain.TransactionDetail, error) {
	var detail *domain.TransactionDetail

	for attempt := 0; attempt < maxReferenceAttempts; attempt++ {
		err := m.store.WithinTx(ctx, func(tx store.Tx) error {
			account, err := tx.LockAccount(ctx, req.AccountID)
			if errors.Is(err, store.ErrNotFound) {
				return domain.ErrAccountNotFound
			}
			if err != nil {
				return err
			}

			product, err := tx.GetProduct(ctx, req.ProductID)
			if errors.Is(err, store.ErrNotFound) {
				return domain.ErrProductNotFound
			}
			if err != nil {
				return err
			}
			if !product.IsActive {
				return domain.ErrProductNotFound
			}

			amount := billing.GrossAmount(product.Price)
			if account.Balance.LessThan(amount) {
				return domain.ErrInsufficientBalance
			}

			if err := tx.UpdateAccountBalance(ctx, account.ID, account.Balance.Sub(amount)); err != nil {
				return fmt.Errorf("account debit failed: %w", err)
			}

			now := time.Now()
			trx := domain.Transaction{
				ID:              uuid.New(),
				AccountID:       account.ID,
				ProductID:       product.ID,
				CustomerNumber:  req.CustomerNumber,
				Amount:          amount,
				Status:          domain.StatusPending,
				ReferenceNumber: billing.NewReferenceNumber(),
				Notes:           createdNote,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if err := tx.InsertTransaction(ctx, &trx); err != nil {
				return err
			}

			m.archiver.Archive(ctx, tx, &trx, product.Name)

			subtotal, tax := billing.Breakdown(amount)
			detail = &domain.TransactionDetail{
				Transaction: trx,
				Subtotal:    subtotal,
				Tax:         tax,
				TaxRate:     billing.TaxRate,
			}
			return nil
		})

		if errors.Is(err, store.ErrDuplicateReference) {
			m.logger.Warn("reference number collision, regenerating",
				zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, err
		}

		m.scheduleCompletion(detail.ID)
		m.emit(events.SubjectCreated, &detail.Transaction)
		return detail, nil
	}

	return nil, fmt.Errorf("could not allocate a unique reference number after %d attempts", maxReferenceAttempts)
}

// Complete advances a PENDING transaction to SUCCESS. Funds were already
// debited at creation, so no money moves.
func (m *Manager) Complete(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	var updated domain.Transaction

	err := m.store.WithinTx(ctx, func(tx store.Tx) error {
		trx, err := tx.LockTransaction(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return domain.ErrTransactionNotFound
		}
		if err != nil {
			return err
		}

		switch trx.Status {
		case domain.StatusSuccess:
			return domain.ErrAlreadyCompleted
		case domain.StatusFailed, domain.StatusRefunded:
			return domain.ErrInvalidTransition
		}

		updatedAt, err := tx.UpdateTransactionStatus(ctx, id, domain.StatusSuccess, manualCompleteNote)
		if err != nil {
			return err
		}
		m.archiver.MarkStatus(ctx, tx, id, domain.StatusSuccess)

		updated = *trx
		updated.Status = domain.StatusSuccess
		updated.Notes = manualCompleteNote
		updated.UpdatedAt = updatedAt
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.emit(events.SubjectCompleted, &updated)
	return &updated, nil
}

// Cancel moves a PENDING transaction to FAILED and credits the stored amount
// back to the account inside the same unit.
func (m *Manager) Cancel(ctx context.Context, id uuid.UUID) (*domain.RefundResult, error) {
	result, err := m.creditBack(ctx, id, creditBackParams{
		expectStatus: domain.StatusPending,
		toStatus:     domain.StatusFailed,
		note:         cancelledNote,
		rejectCurrent: func(trx *domain.Transaction) error {
			if trx.Status == domain.StatusFailed {
				if strings.Contains(trx.Notes, "cancelled") {
					return domain.ErrAlreadyCancelled
				}
				return domain.ErrInvalidTransition
			}
			return domain.ErrInvalidTransition
		},
	})
	if err != nil {
		return nil, err
	}
	m.emit(events.SubjectCancelled, &result.Transaction)
	return result, nil
}

// Refund moves a SUCCESS transaction to REFUNDED and credits the stored
// amount back to the account inside the same unit.
func (m *Manager) Refund(ctx context.Context, id uuid.UUID) (*domain.RefundResult, error) {
	result, err := m.creditBack(ctx, id, creditBackParams{
		expectStatus: domain.StatusSuccess,
		toStatus:     domain.StatusRefunded,
		note:         refundedNote,
		rejectCurrent: func(trx *domain.Transaction) error {
			if trx.Status == domain.StatusRefunded {
				return domain.ErrAlreadyRefunded
			}
			return domain.ErrInvalidTransition
		},
	})
	if err != nil {
		return nil, err
	}
	m.emit(events.SubjectRefunded, &result.Transaction)
	return result, nil
}

type creditBackParams struct {
	expectStatus  domain.TransactionStatus
	toStatus      domain.TransactionStatus
	note          string
	rejectCurrent func(*domain.Transaction) error
}

// creditBack is the shared cancel/refund unit: lock the transaction row,
// verify the precondition, lock the account, credit it by the stored amount,
// update status and notes, best-effort receipt status.
func (m *Manager) creditBack(ctx context.Context, id uuid.UUID, p creditBackParams) (*domain.RefundResult, error) {
	var result domain.RefundResult

	err := m.store.WithinTx(ctx, func(tx store.Tx) error {
		trx, err := tx.LockTransaction(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return domain.ErrTransactionNotFound
		}
		if err != nil {
			return err
		}

		if trx.Status != p.expectStatus {
			return p.rejectCurrent(trx)
		}

		account, err := tx.LockAccount(ctx, trx.AccountID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.ErrAccountNotFound
		}
		if err != nil {
			return err
		}

		newBalance := account.Balance.Add(trx.Amount)
		if err := tx.UpdateAccountBalance(ctx, account.ID, newBalance); err != nil {
			return fmt.Errorf("account credit failed: %w", err)
		}
		updatedAt, err := tx.UpdateTransactionStatus(ctx, id, p.toStatus, p.note)
		if err != nil {
			return err
		}
		m.archiver.MarkStatus(ctx, tx, id, p.toStatus)

		updated := *trx
		updated.Status = p.toStatus
		updated.Notes = p.note
		updated.UpdatedAt = updatedAt
		result = domain.RefundResult{
			Transaction:    updated,
			RefundedAmount: trx.Amount,
			AccountBalance: newBalance,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Delete removes the transaction record without reversing any prior money
// movement, regardless of status. Funds debited by a still-pending
// transaction are not returned; callers that need the money back must cancel
// or refund first. Deliberately kept as-is pending a decision on restricting
// deletion to terminal states.
func (m *Manager) Delete(ctx context.Context, id uuid.UUID) error {
	return m.store.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.LockTransaction(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.ErrTransactionNotFound
			}
			return err
		}
		return tx.DeleteTransaction(ctx, id)
	})
}

// scheduleCompletion arms the one-shot timer that advances the transaction to
// SUCCESS once the settlement delay elapses. The update is conditional on the
// row still being PENDING: a cancel, refund, manual complete or sweep that
// got there first makes this a no-op.
func (m *Manager) scheduleCompletion(id uuid.UUID) {
	time.AfterFunc(m.completionDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), autoCompleteTimeout)
		defer cancel()

		advanced, err := m.store.CompleteIfPending(ctx, id, autoCompleteNote)
		if err != nil {
			m.logger.Error("one-shot completion failed, sweep will retry",
				zap.String("transaction_id", id.String()),
				zap.Error(err))
			return
		}
		if !advanced {
			return
		}
		m.logger.Info("transaction auto-completed",
			zap.String("transaction_id", id.String()))

		if trx, err := m.store.GetTransaction(ctx, id); err == nil {
			m.emit(events.SubjectCompleted, trx)
		}
	})
}

func (m *Manager) emit(subject string, t *domain.Transaction) {
	m.emitter.Emit(subject, events.TransactionEvent{
		TransactionID:   t.ID,
		AccountID:       t.AccountID,
		ReferenceNumber: t.ReferenceNumber,
		Amount:          t.Amount,
		Status:          string(t.Status),
		OccurredAt:      time.Now(),
	})
}
