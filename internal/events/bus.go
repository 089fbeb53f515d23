// Package events publishes transaction lifecycle events for downstream
// consumers (notifications, analytics). Publishing is fire-and-forget: the
// ledger never fails an operation because an event could not be sent.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	SubjectCreated   = "transactions.created"
	SubjectCompleted = "transactions.completed"
	SubjectCancelled = "transactions.cancelled"
	SubjectRefunded  = "transactions.refunded"
)

// Publisher is the minimal bus surface the ledger depends on.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// TransactionEvent is the wire payload for every lifecycle subject.
type TransactionEvent struct {
	TransactionID   uuid.UUID       `json:"transaction_id"`
	AccountID       uuid.UUID       `json:"account_id"`
	ReferenceNumber string          `json:"reference_number"`
	Amount          decimal.Decimal `json:"amount"`
	Status          string          `json:"status"`
	OccurredAt      time.Time       `json:"occurred_at"`
}

// Emitter wraps a Publisher with JSON encoding and error swallowing. A nil
// Publisher disables emission entirely.
type Emitter struct {
	bus    Publisher
	logger *zap.Logger
}

func NewEmitter(bus Publisher, logger *zap.Logger) *Emitter {
	return &Emitter{bus: bus, logger: logger}
}

// Emit publishes ev on subject. Failures are logged and dropped.
func (e *Emitter) Emit(subject string, ev TransactionEvent) {
	if e == nil || e.bus == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		e.logger.Error("failed to encode transaction event", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := e.bus.Publish(subject, data); err != nil {
		e.logger.Error("failed to publish transaction event",
			zap.String("subject", subject),
			zap.String("transaction_id", ev.TransactionID.String()),
			zap.Error(err))
	}
}

// NATSBus adapts a NATS connection to the Publisher interface.
type NATSBus struct {
	conn *nats.Conn
}

func ConnectNATS(url string) (*NATSBus, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &NATSBus{conn: nc}, nil
}

func (b *NATSBus) Publish(subject string, data []byte) error {
	return b.conn.Publish(subject, data)
}

func (b *NATSBus) Close() {
	b.conn.Close()
}
