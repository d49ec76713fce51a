// Package jobs runs post-commit notification fan-out on asynq so order
// transactions never block on delivery channels.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sweetline-erp/sweetline-erp/internal/fulfillment"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskStageChanged notifies collaborators about a stage transition.
	TaskStageChanged = "order:stage_changed"
	// TaskPaymentRecorded notifies about a recorded payment.
	TaskPaymentRecorded = "order:payment_recorded"
	// TaskProofReviewed notifies about a proof upload or review outcome.
	TaskProofReviewed = "order:proof_reviewed"
)

// NewStageChangedTask wraps the event in an asynq task.
func NewStageChangedTask(evt fulfillment.StageChangedEvent) (*asynq.Task, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStageChanged, data), nil
}

// NewPaymentRecordedTask wraps the event in an asynq task.
func NewPaymentRecordedTask(evt fulfillment.PaymentRecordedEvent) (*asynq.Task, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPaymentRecorded, data), nil
}

// NewProofReviewedTask wraps the event in an asynq task.
func NewProofReviewedTask(evt fulfillment.ProofReviewedEvent) (*asynq.Task, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskProofReviewed, data), nil
}

// HandleStageChangedTask pushes the transition toast to the alert center.
// TODO: replace the log sink with the websocket hub once the UI lands.
func HandleStageChangedTask(ctx context.Context, t *asynq.Task) error {
	var evt fulfillment.StageChangedEvent
	if err := json.Unmarshal(t.Payload(), &evt); err != nil {
		return asynq.SkipRetry
	}
	slog.InfoContext(ctx, "order stage changed",
		"invoice_number", evt.InvoiceNumber,
		"from", string(evt.From),
		"to", string(evt.To),
		"actor_id", evt.ActorID,
	)
	return nil
}

// HandlePaymentRecordedTask announces the payment with a formatted amount.
func HandlePaymentRecordedTask(ctx context.Context, t *asynq.Task) error {
	var evt fulfillment.PaymentRecordedEvent
	if err := json.Unmarshal(t.Payload(), &evt); err != nil {
		return asynq.SkipRetry
	}
	slog.InfoContext(ctx, "payment recorded",
		"invoice_number", evt.InvoiceNumber,
		"amount", FormatAmount(evt.Amount),
		"method", string(evt.Method),
		"financial_status", string(evt.Status),
	)
	return nil
}

// HandleProofReviewedTask announces a proof state change.
func HandleProofReviewedTask(ctx context.Context, t *asynq.Task) error {
	var evt fulfillment.ProofReviewedEvent
	if err := json.Unmarshal(t.Payload(), &evt); err != nil {
		return asynq.SkipRetry
	}
	slog.InfoContext(ctx, "payment proof reviewed",
		"invoice_number", evt.InvoiceNumber,
		"approval_state", string(evt.State),
		"reviewer_id", evt.ReviewerID,
	)
	return nil
}

// FormatAmount renders a currency amount for notification text.
func FormatAmount(amount float64) string {
	p := message.NewPrinter(language.English)
	return p.Sprintf("%v", currency.Symbol(currency.USD.Amount(amount)))
}
