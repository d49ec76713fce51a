package fulfillment

import "math"

// Epsilon is the floating-point payment tolerance, in currency units.
// Slight overpayment is tolerated; balance due never reports negative.
const Epsilon = 0.01

// Settlement is the pure derivation of an order's financial position from
// its items, returns and payments. No other component may compute
// financial status.
type Settlement struct {
	NetAmount  float64         `json:"net_amount"`
	PaidAmount float64         `json:"paid_amount"`
	BalanceDue float64         `json:"balance_due"`
	Status     FinancialStatus `json:"financial_status"`
	Badge      Badge           `json:"badge"`
}

// Settle recomputes the settlement from current order data. An approved or
// auto-approved proof of payment forces Paid regardless of balance, since
// the proof can represent an out-of-band transfer not yet reflected as a
// payment record.
func Settle(o *Order) Settlement {
	var net float64
	for _, item := range o.Items {
		sold := item.DeliveredQty - o.returnedForItem(item)
		if sold < 0 {
			sold = 0
		}
		net += sold * item.UnitPrice
	}

	var paid float64
	for _, p := range o.Payments {
		paid += p.Amount
	}

	balance := math.Max(net-paid, 0)

	status := FinancialPending
	switch {
	case proofForcesPaid(o.Proof):
		status = FinancialPaid
	case balance <= Epsilon:
		status = FinancialPaid
	case len(o.Payments) > 0 || len(o.Returns) > 0:
		status = FinancialSettled
	}

	return Settlement{
		NetAmount:  net,
		PaidAmount: paid,
		BalanceDue: balance,
		Status:     status,
		Badge:      badgeFor(status, o.Proof),
	}
}

// returnedForItem attributes returns to an item. Orders carry at most one
// line per product, so the product sum is the item's returned quantity.
func (o *Order) returnedForItem(item Item) float64 {
	return o.ReturnedQty(item.ProductID)
}

func proofForcesPaid(p *Proof) bool {
	return p != nil && p.State == ProofApproved
}

// badgeFor derives the payment indicator shown on UI cards: green when
// paid, amber while a proof awaits confirmation, red with an attach-proof
// call to action otherwise.
func badgeFor(status FinancialStatus, proof *Proof) Badge {
	if status == FinancialPaid {
		return BadgePaid
	}
	if proof != nil && proof.State == ProofAwaitingConfirmation {
		return BadgeAwaiting
	}
	return BadgeUnpaid
}
