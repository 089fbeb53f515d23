package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/danharsa/billpay/internal/billing"
	"github.com/danharsa/billpay/internal/domain"
	"github.com/danharsa/billpay/internal/store"
)

// ReceiptArchiver writes a denormalized receipt snapshot next to each
// transaction. Writes run inside the owning atomic unit but are best-effort:
// a failure is logged and swallowed so it can never undo a successful debit.
type ReceiptArchiver struct {
	logger *zap.Logger
}

func NewReceiptArchiver(logger *zap.Logger) *ReceiptArchiver {
	return &ReceiptArchiver{logger: logger}
}

// Archive upserts the receipt for t. The breakdown is computed from the
// stored amount so the snapshot matches what was actually debited.
func (a *ReceiptArchiver) Archive(ctx context.Context, tx store.Tx, t *domain.Transaction, productName string) {
	subtotal, tax := billing.Breakdown(t.Amount)
	receipt := &domain.Receipt{
		TransactionID: t.ID,
		Subtotal:      subtotal,
		Tax:           tax,
		Total:         t.Amount,
		Content:       renderReceipt(t, productName),
		Status:        string(t.Status),
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
	if err := tx.UpsertReceipt(ctx, receipt); err != nil {
		a.logger.Error("receipt archive failed, continuing without receipt",
			zap.String("transaction_id", t.ID.String()),
			zap.Error(err))
	}
}

// MarkStatus updates the receipt's status to track a transition, best-effort.
func (a *ReceiptArchiver) MarkStatus(ctx context.Context, tx store.Tx, transactionID uuid.UUID, status domain.TransactionStatus) {
	if err := tx.UpdateReceiptStatus(ctx, transactionID, string(status)); err != nil {
		a.logger.Error("receipt status update failed, continuing",
			zap.String("transaction_id", transactionID.String()),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}

func renderReceipt(t *domain.Transaction, productName string) string {
	subtotal, tax := billing.Breakdown(t.Amount)
	return fmt.Sprintf(
		"===== BILLPAY RECEIPT =====\n"+
			"Ref       : %s\n"+
			"Date      : %s\n"+
			"Product   : %s\n"+
			"Customer  : %s\n"+
			"Subtotal  : %s\n"+
			"Tax (11%%) : %s\n"+
			"Total     : %s\n"+
			"===========================\n",
		t.ReferenceNumber,
		t.CreatedAt.Format(time.RFC3339),
		productName,
		t.CustomerNumber,
		subtotal.StringFixed(2),
		tax.StringFixed(2),
		t.Amount.StringFixed(2),
	)
}
