package fulfillment

import (
	"time"

	"github.com/google/uuid"
)

// CreateOrderRequest creates a new order for a client.
type CreateOrderRequest struct {
	ClientID  int64             `json:"client_id" validate:"required,gt=0"`
	OrderDate time.Time         `json:"order_date" validate:"required"`
	Items     []CreateItemReq   `json:"items" validate:"required,min=1,dive"`
	Notes     *string           `json:"notes,omitempty" validate:"omitempty,max=500"`
}

// CreateItemReq is one requested order line.
type CreateItemReq struct {
	ProductID int64   `json:"product_id" validate:"required,gt=0"`
	Quantity  float64 `json:"quantity" validate:"required,gt=0"`
	UnitPrice float64 `json:"unit_price" validate:"gte=0"`
}

// ProductionStageRequest advances the order among production stages.
type ProductionStageRequest struct {
	Stage Stage   `json:"stage" validate:"required"`
	Note  *string `json:"note,omitempty" validate:"omitempty,max=500"`
}

// PickupRequest claims the order for a courier.
type PickupRequest struct {
	DriverID int64 `json:"driver_id" validate:"required,gt=0"`
}

// DeliveredItemReq overrides the delivered quantity for one product.
type DeliveredItemReq struct {
	ProductID    int64   `json:"product_id" validate:"required,gt=0"`
	DeliveredQty float64 `json:"delivered_qty" validate:"gte=0"`
}

// AdjustDeliveredRequest overrides delivered quantities before settlement.
// AdjustmentID makes the operation idempotent under retry.
type AdjustDeliveredRequest struct {
	AdjustmentID uuid.UUID          `json:"adjustment_id" validate:"required"`
	Items        []DeliveredItemReq `json:"items" validate:"required,min=1,dive"`
	Reason       *string            `json:"reason,omitempty" validate:"omitempty,max=500"`
}

// ReturnLineReq is one returned quantity.
type ReturnLineReq struct {
	ProductID int64   `json:"product_id" validate:"required,gt=0"`
	Qty       float64 `json:"qty" validate:"required,gt=0"`
	Reason    *string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

// ApplyReturnsRequest appends returns to the order.
type ApplyReturnsRequest struct {
	Returns []ReturnLineReq `json:"returns" validate:"required,min=1,dive"`
	Note    *string         `json:"note,omitempty" validate:"omitempty,max=500"`
}

// PaymentMethodRequest records the chosen payment method.
type PaymentMethodRequest struct {
	Method PaymentMethod `json:"method" validate:"required"`
}

// RecordPaymentRequest appends one payment.
type RecordPaymentRequest struct {
	Amount    float64       `json:"amount" validate:"required,gt=0"`
	Method    PaymentMethod `json:"method" validate:"required"`
	Reference *string       `json:"reference,omitempty" validate:"omitempty,max=200"`
}

// UploadProofRequest stores a proof-of-payment record.
type UploadProofRequest struct {
	FilePath    string  `json:"file_path" validate:"required,max=500"`
	Mime        string  `json:"mime" validate:"required,max=100"`
	Size        int64   `json:"size" validate:"required,gt=0"`
	Note        *string `json:"note,omitempty" validate:"omitempty,max=500"`
	AutoApprove bool    `json:"auto_approve"`
}

// ResetDriverRequest is the audited admin escape hatch.
type ResetDriverRequest struct {
	Reason string `json:"reason" validate:"required,min=5,max=500"`
}

// ListRequest filters the order list.
type ListRequest struct {
	ClientID *int64           `json:"client_id,omitempty"`
	Stage    *Stage           `json:"stage,omitempty"`
	Status   *FinancialStatus `json:"financial_status,omitempty"`
	DateFrom *time.Time       `json:"date_from,omitempty"`
	DateTo   *time.Time       `json:"date_to,omitempty"`
	Search   *string          `json:"search,omitempty"`
	Limit    int              `json:"limit" validate:"gte=0,lte=1000"`
	Offset   int              `json:"offset" validate:"gte=0"`
}

// Snapshot is the order card consumed by UI collaborators: the order plus
// its freshly recomputed settlement.
type Snapshot struct {
	Order        Order            `json:"order"`
	Settlement   Settlement       `json:"settlement"`
	ProductNames map[int64]string `json:"product_names,omitempty"`
}

// NewSnapshot pairs an order with its settlement.
func NewSnapshot(o *Order) Snapshot {
	return Snapshot{Order: *o, Settlement: Settle(o)}
}

// ListResponse is the paginated order list.
type ListResponse struct {
	Orders []Snapshot `json:"orders"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}
