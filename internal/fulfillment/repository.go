package fulfillment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sweetline-erp/sweetline-erp/internal/inventory"
)

// Repository is the read side plus the transaction entry point.
type Repository interface {
	// WithTx runs fn inside a repeatable-read transaction. A transient
	// serialization or connection failure is retried once with a fresh
	// transaction before the error surfaces.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error

	GetOrder(ctx context.Context, id int64) (*Order, error)
	GetOrderByInvoice(ctx context.Context, invoiceNumber string) (*Order, error)
	List(ctx context.Context, req ListRequest) ([]Order, int, error)
	History(ctx context.Context, orderID int64) ([]StageLog, error)
	ListByStage(ctx context.Context, stage Stage) ([]Order, error)
}

// TxRepository exposes the write operations available inside one
// transaction. Stock gives access to inventory effects so reservations
// commit or roll back together with the order rows.
type TxRepository interface {
	GetOrderForUpdate(ctx context.Context, id int64) (*Order, error)

	NextInvoiceNumber(ctx context.Context) (string, error)
	InsertOrder(ctx context.Context, o *Order) error
	InsertItems(ctx context.Context, orderID int64, items []Item) ([]Item, error)

	// UpdateStage persists a transition conditionally on the stage the
	// caller read. Zero affected rows means a concurrent writer moved the
	// order first and surfaces as ErrStaleStage.
	UpdateStage(ctx context.Context, o *Order, from Stage) error

	// ClaimForDriver is the pickup arbiter: one conditional UPDATE that
	// assigns the driver only while the order is still unclaimed. The
	// boolean reports whether this call won the claim.
	ClaimForDriver(ctx context.Context, orderID, driverID int64, at time.Time) (bool, error)
	ResetDriver(ctx context.Context, orderID int64) error

	SaveFinancial(ctx context.Context, o *Order) error
	UpdateDeliveredQty(ctx context.Context, itemID int64, qty float64) error
	InsertReturn(ctx context.Context, r *ReturnLine) error
	InsertPayment(ctx context.Context, p *Payment) error
	UpsertProof(ctx context.Context, p *Proof) error
	InsertStageLog(ctx context.Context, log *StageLog) error

	GetClientBalanceForUpdate(ctx context.Context, clientID int64) (float64, error)
	AdjustClientBalance(ctx context.Context, clientID int64, delta float64) error

	// RecordAdjustment inserts the idempotency marker for a delivered-items
	// adjustment. False means the id was already used and the adjustment
	// must not be applied again.
	RecordAdjustment(ctx context.Context, adjustmentID uuid.UUID, orderID, actorID int64) (bool, error)

	Stock() inventory.TxRepository
}
