package fulfillment

import "errors"

// Domain errors for the fulfillment engine.
var (
	// ErrOrderNotFound indicates an unknown order id or invoice number.
	ErrOrderNotFound = errors.New("order not found")

	// Transition errors.
	ErrIllegalTransition = errors.New("illegal stage transition")
	ErrStaleStage        = errors.New("order stage changed concurrently")
	ErrRoleNotAllowed    = errors.New("role not permitted for this operation")
	ErrOrderReadOnly     = errors.New("order is completed and paid")

	// Courier arbitration.
	ErrDriverConflict = errors.New("order no longer available for pickup")
	ErrNotOrderHolder = errors.New("order is held by another driver")
	ErrDriverAssigned = errors.New("order already has an assigned driver")
	ErrDriverMismatch = errors.New("couriers may only claim orders for themselves")

	// Validation errors.
	ErrEmptyItems       = errors.New("at least one item is required")
	ErrInvalidQuantity  = errors.New("quantity must be greater than zero")
	ErrInvalidUnitPrice = errors.New("unit price must not be negative")
	ErrOverReturn       = errors.New("returned quantity exceeds delivered quantity")
	ErrInvalidPayment   = errors.New("payment amount must be greater than zero")
	ErrInvalidMethod    = errors.New("unknown payment method")
	ErrUnknownItem      = errors.New("product not part of this order")
	ErrDuplicateItem    = errors.New("duplicate product line")
	ErrOverDelivery     = errors.New("delivered quantity exceeds ordered quantity")
	ErrUnderReturned    = errors.New("delivered quantity below already returned quantity")

	// Proof of payment.
	ErrDuplicateProof   = errors.New("identical proof already submitted")
	ErrNoProof          = errors.New("no proof of payment on this order")
	ErrProofNotAwaiting = errors.New("proof is not awaiting confirmation")
)
