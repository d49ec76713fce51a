package fulfillment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StageChangedEvent is emitted after a stage transition commits. Toast and
// alert-center collaborators consume it; nothing is published from inside
// the transaction.
type StageChangedEvent struct {
	EventID       uuid.UUID `json:"event_id"`
	OrderID       int64     `json:"order_id"`
	InvoiceNumber string    `json:"invoice_number"`
	From          Stage     `json:"from"`
	To            Stage     `json:"to"`
	ActorID       int64     `json:"actor_id"`
	Note          string    `json:"note,omitempty"`
	At            time.Time `json:"at"`
}

// PaymentRecordedEvent is emitted after a payment commits.
type PaymentRecordedEvent struct {
	EventID       uuid.UUID       `json:"event_id"`
	OrderID       int64           `json:"order_id"`
	InvoiceNumber string          `json:"invoice_number"`
	Amount        float64         `json:"amount"`
	Method        PaymentMethod   `json:"method"`
	Status        FinancialStatus `json:"financial_status"`
	At            time.Time       `json:"at"`
}

// ProofReviewedEvent is emitted after a proof upload or review commits.
type ProofReviewedEvent struct {
	EventID       uuid.UUID     `json:"event_id"`
	OrderID       int64         `json:"order_id"`
	InvoiceNumber string        `json:"invoice_number"`
	State         ApprovalState `json:"approval_state"`
	ReviewerID    int64         `json:"reviewer_id"`
	At            time.Time     `json:"at"`
}

// EventPublisher fans events out to notification collaborators. Publishing
// is best effort and happens strictly after commit.
type EventPublisher interface {
	PublishStageChanged(ctx context.Context, evt StageChangedEvent)
	PublishPaymentRecorded(ctx context.Context, evt PaymentRecordedEvent)
	PublishProofReviewed(ctx context.Context, evt ProofReviewedEvent)
}
