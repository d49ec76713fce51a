package jobs

import (
	"context"
	"log/slog"

	"github.com/sweetline-erp/sweetline-erp/internal/fulfillment"
)

// Notifier publishes fulfillment events onto the queue. Enqueue failures are
// logged and dropped; the owning transaction has already committed.
type Notifier struct {
	client *Client
	logger *slog.Logger
}

// NewNotifier wraps the queue client as an event publisher.
func NewNotifier(client *Client, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{client: client, logger: logger}
}

var _ fulfillment.EventPublisher = (*Notifier)(nil)

func (n *Notifier) PublishStageChanged(ctx context.Context, evt fulfillment.StageChangedEvent) {
	if _, err := n.client.EnqueueStageChanged(ctx, evt); err != nil {
		n.logger.WarnContext(ctx, "enqueue stage-changed", "order_id", evt.OrderID, "error", err)
	}
}

func (n *Notifier) PublishPaymentRecorded(ctx context.Context, evt fulfillment.PaymentRecordedEvent) {
	if _, err := n.client.EnqueuePaymentRecorded(ctx, evt); err != nil {
		n.logger.WarnContext(ctx, "enqueue payment-recorded", "order_id", evt.OrderID, "error", err)
	}
}

func (n *Notifier) PublishProofReviewed(ctx context.Context, evt fulfillment.ProofReviewedEvent) {
	if _, err := n.client.EnqueueProofReviewed(ctx, evt); err != nil {
		n.logger.WarnContext(ctx, "enqueue proof-reviewed", "order_id", evt.OrderID, "error", err)
	}
}
