// Package fulfillment carries a customer order from creation through
// production, courier pickup, delivery, returns, payment and closure while
// keeping stock counts and client balances consistent.
package fulfillment

import (
	"time"
)

// Stage represents the production/delivery lifecycle position of an order.
type Stage string

const (
	StageOrderPlaced      Stage = "order_placed"
	StageProductionQueue  Stage = "production_queue"
	StageInProduction     Stage = "in_production"
	StageReadyForDelivery Stage = "ready_for_delivery"
	StageOutForDelivery   Stage = "out_for_delivery"
	StageDelivered        Stage = "delivered"
	StageSettlement       Stage = "settlement"
	StageCompleted        Stage = "completed"
)

// IsValid checks if the stage is one of the closed set.
func (s Stage) IsValid() bool {
	switch s {
	case StageOrderPlaced, StageProductionQueue, StageInProduction,
		StageReadyForDelivery, StageOutForDelivery, StageDelivered,
		StageSettlement, StageCompleted:
		return true
	default:
		return false
	}
}

// FinancialStatus is the derived payment completeness of an order. It is
// produced exclusively by the settlement calculator.
type FinancialStatus string

const (
	FinancialPending FinancialStatus = "Pending"
	FinancialSettled FinancialStatus = "Settled"
	FinancialPaid    FinancialStatus = "Paid"
)

// PaymentMethod enumerates how the client intends to pay.
type PaymentMethod string

const (
	PayNow    PaymentMethod = "PAY_NOW"
	LaterCash PaymentMethod = "LATER_CASH"
	LaterBank PaymentMethod = "LATER_BANK"
)

// IsValid checks the method against the closed set.
func (m PaymentMethod) IsValid() bool {
	switch m {
	case PayNow, LaterCash, LaterBank:
		return true
	default:
		return false
	}
}

// ApprovalState tracks the review state of a proof of payment.
type ApprovalState string

const (
	ProofAwaitingConfirmation ApprovalState = "awaiting_confirmation"
	ProofApproved             ApprovalState = "approved"
	ProofRejected             ApprovalState = "rejected"
)

// Badge is the payment indicator consumed by UI cards.
type Badge string

const (
	BadgePaid     Badge = "paid"
	BadgeAwaiting Badge = "awaiting_confirmation"
	BadgeUnpaid   Badge = "unpaid"
)

// Item is one order line. Items are immutable once the order is placed;
// delivery adjustments override DeliveredQty, never Quantity.
type Item struct {
	ID           int64   `json:"id" db:"id"`
	OrderID      int64   `json:"order_id" db:"order_id"`
	ProductID    int64   `json:"product_id" db:"product_id"`
	Quantity     float64 `json:"quantity" db:"quantity"`
	DeliveredQty float64 `json:"delivered_qty" db:"delivered_qty"`
	UnitPrice    float64 `json:"unit_price" db:"unit_price"`
	LineOrder    int     `json:"line_order" db:"line_order"`
}

// ReturnLine is a returned quantity for one product.
type ReturnLine struct {
	ID        int64     `json:"id" db:"id"`
	OrderID   int64     `json:"order_id" db:"order_id"`
	ProductID int64     `json:"product_id" db:"product_id"`
	Qty       float64   `json:"qty" db:"qty"`
	Reason    *string   `json:"reason,omitempty" db:"reason"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Payment is one recorded payment against the order.
type Payment struct {
	ID        int64         `json:"id" db:"id"`
	OrderID   int64         `json:"order_id" db:"order_id"`
	PaidAt    time.Time     `json:"paid_at" db:"paid_at"`
	Amount    float64       `json:"amount" db:"amount"`
	Method    PaymentMethod `json:"method" db:"method"`
	Reference *string       `json:"reference,omitempty" db:"reference"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
}

// Proof is an uploaded artifact asserting an out-of-band payment.
type Proof struct {
	OrderID     int64         `json:"order_id" db:"order_id"`
	FilePath    string        `json:"file_path" db:"file_path"`
	Mime        string        `json:"mime" db:"mime"`
	Size        int64         `json:"size" db:"size"`
	Note        *string       `json:"note,omitempty" db:"note"`
	AutoApprove bool          `json:"auto_approve" db:"auto_approve"`
	State       ApprovalState `json:"approval_state" db:"approval_state"`
	Fingerprint string        `json:"-" db:"fingerprint"`
	UploadedBy  int64         `json:"uploaded_by" db:"uploaded_by"`
	UploadedAt  time.Time     `json:"uploaded_at" db:"uploaded_at"`
	ReviewedBy  *int64        `json:"reviewed_by,omitempty" db:"reviewed_by"`
	ReviewedAt  *time.Time    `json:"reviewed_at,omitempty" db:"reviewed_at"`
}

// StageLog records one committed transition with its audit note.
type StageLog struct {
	ID        int64     `json:"id" db:"id"`
	OrderID   int64     `json:"order_id" db:"order_id"`
	FromStage Stage     `json:"from_stage" db:"from_stage"`
	ToStage   Stage     `json:"to_stage" db:"to_stage"`
	ActorID   int64     `json:"actor_id" db:"actor_id"`
	Note      *string   `json:"note,omitempty" db:"note"`
	At        time.Time `json:"at" db:"at"`
}

// Order is the aggregate root.
type Order struct {
	ID            int64  `json:"id" db:"id"`
	InvoiceNumber string `json:"invoice_number" db:"invoice_number"`
	ClientID      int64  `json:"client_id" db:"client_id"`

	OrderDate      time.Time       `json:"order_date" db:"order_date"`
	Stage          Stage           `json:"workflow_stage" db:"workflow_stage"`
	AssignedDriver *int64          `json:"assigned_driver,omitempty" db:"assigned_driver"`
	PaymentMethod  *PaymentMethod  `json:"payment_method,omitempty" db:"payment_method"`
	Financial      FinancialStatus `json:"financial_status" db:"financial_status"`

	PreviousInvoiceBalance float64 `json:"previous_invoice_balance" db:"previous_invoice_balance"`
	ReturnsDeducted        float64 `json:"returns_deducted" db:"returns_deducted"`

	Notes *string `json:"notes,omitempty" db:"notes"`

	ProductionStartedAt   *time.Time `json:"production_started_at,omitempty" db:"production_started_at"`
	ProductionCompletedAt *time.Time `json:"production_completed_at,omitempty" db:"production_completed_at"`
	PickedUpAt            *time.Time `json:"picked_up_at,omitempty" db:"picked_up_at"`
	DeliveredAt           *time.Time `json:"delivered_at,omitempty" db:"delivered_at"`
	CompletedAt           *time.Time `json:"completed_at,omitempty" db:"completed_at"`

	CreatedBy int64     `json:"created_by" db:"created_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	Items    []Item       `json:"items,omitempty" db:"-"`
	Returns  []ReturnLine `json:"returns,omitempty" db:"-"`
	Payments []Payment    `json:"payments,omitempty" db:"-"`
	Proof    *Proof       `json:"proof_of_payment,omitempty" db:"-"`
}

// ReadOnly reports whether the order can no longer be mutated outside the
// admin escape hatch.
func (o *Order) ReadOnly() bool {
	return o.Stage == StageCompleted && o.Financial == FinancialPaid
}

// ReturnedQty sums returned quantity for one product.
func (o *Order) ReturnedQty(productID int64) float64 {
	var total float64
	for _, r := range o.Returns {
		if r.ProductID == productID {
			total += r.Qty
		}
	}
	return total
}

// DeliveredQty returns the effective delivered quantity for one product.
func (o *Order) DeliveredQty(productID int64) float64 {
	var total float64
	for _, it := range o.Items {
		if it.ProductID == productID {
			total += it.DeliveredQty
		}
	}
	return total
}

// HeldBy reports whether the driver currently holds the order.
func (o *Order) HeldBy(driverID int64) bool {
	return o.AssignedDriver != nil && *o.AssignedDriver == driverID
}
