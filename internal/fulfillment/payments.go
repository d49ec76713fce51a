package fulfillment

import (
	"context"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/sweetline-erp/sweetline-erp/internal/inventory"
	"github.com/sweetline-erp/sweetline-erp/internal/shared"
)

// adjustableStages are the stages in which delivered quantities and returns
// may still change.
var adjustableStages = map[Stage]bool{
	StageOutForDelivery: true,
	StageDelivered:      true,
	StageSettlement:     true,
}

// ChoosePaymentMethod records how the client intends to pay.
func (s *Service) ChoosePaymentMethod(ctx context.Context, actor shared.Actor, orderID int64, method PaymentMethod) (*Snapshot, error) {
	if err := s.authorize(actor, shared.PermPaymentMethod); err != nil {
		return nil, err
	}
	if !method.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMethod, method)
	}

	var order *Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.ReadOnly() {
			return ErrOrderReadOnly
		}
		o.PaymentMethod = &method
		o.Financial = Settle(o).Status
		if err := tx.SaveFinancial(ctx, o); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actor, "order.payment_method", orderID, map[string]any{"method": string(method)})
	snap := s.snapshot(ctx, order)
	return &snap, nil
}

// AdjustDeliveredItems overrides delivered quantities when the courier could
// not hand over the full order. Stock moves by the delta in the same
// transaction. The adjustment id makes retries safe: a replayed id returns
// the committed order without touching anything.
func (s *Service) AdjustDeliveredItems(ctx context.Context, actor shared.Actor, orderID int64, req AdjustDeliveredRequest) (*Snapshot, error) {
	if err := s.authorize(actor, shared.PermDeliveryAdjust); err != nil {
		return nil, err
	}
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}
	if req.AdjustmentID == uuid.Nil {
		return nil, fmt.Errorf("%w: adjustment id required", ErrInvalidQuantity)
	}

	var order *Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		applied, err := tx.RecordAdjustment(ctx, req.AdjustmentID, orderID, actor.ID)
		if err != nil {
			return err
		}
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !applied {
			order = o
			return nil
		}
		if o.ReadOnly() {
			return ErrOrderReadOnly
		}
		if !adjustableStages[o.Stage] {
			return fmt.Errorf("%w: stage %s", ErrIllegalTransition, o.Stage)
		}
		if err := s.requireHolder(actor, o); err != nil {
			return err
		}

		ref := inventory.MovementRef{
			ActorID:   actor.ID,
			RefModule: "fulfillment",
			RefID:     o.InvoiceNumber,
			Note:      "delivery adjustment",
		}
		for _, adj := range req.Items {
			item := findItem(o, adj.ProductID)
			if item == nil {
				return fmt.Errorf("%w: product %d", ErrUnknownItem, adj.ProductID)
			}
			if adj.DeliveredQty < 0 {
				return fmt.Errorf("%w: product %d", ErrInvalidQuantity, adj.ProductID)
			}
			if adj.DeliveredQty > item.Quantity {
				return fmt.Errorf("%w: product %d delivered %.2f of %.2f ordered",
					ErrOverDelivery, adj.ProductID, adj.DeliveredQty, item.Quantity)
			}
			if adj.DeliveredQty < o.ReturnedQty(adj.ProductID) {
				return fmt.Errorf("%w: product %d", ErrUnderReturned, adj.ProductID)
			}

			delta := adj.DeliveredQty - item.DeliveredQty
			switch {
			case delta < 0:
				if err := s.ledger.Release(ctx, tx.Stock(), adj.ProductID, -delta, ref); err != nil {
					return err
				}
			case delta > 0:
				if err := s.ledger.Reserve(ctx, tx.Stock(), adj.ProductID, delta, ref); err != nil {
					return err
				}
			}
			if err := tx.UpdateDeliveredQty(ctx, item.ID, adj.DeliveredQty); err != nil {
				return err
			}
			item.DeliveredQty = adj.DeliveredQty
		}

		o.Financial = Settle(o).Status
		if err := tx.SaveFinancial(ctx, o); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actor, "order.adjust_delivered", orderID, map[string]any{
		"adjustment_id": req.AdjustmentID.String(),
		"items":         len(req.Items),
		"reason":        req.Reason,
	})
	snap := s.snapshot(ctx, order)
	return &snap, nil
}

// ApplyReturns appends returned quantities, releases the stock and deducts
// the return value from the client's carried-over balance, capped at what
// remains of it.
func (s *Service) ApplyReturns(ctx context.Context, actor shared.Actor, orderID int64, req ApplyReturnsRequest) (*Snapshot, error) {
	if err := s.authorize(actor, shared.PermReturnsApply); err != nil {
		return nil, err
	}
	if len(req.Returns) == 0 {
		return nil, ErrEmptyItems
	}

	var order *Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.ReadOnly() {
			return ErrOrderReadOnly
		}
		if !adjustableStages[o.Stage] {
			return fmt.Errorf("%w: stage %s", ErrIllegalTransition, o.Stage)
		}

		ref := inventory.MovementRef{
			ActorID:   actor.ID,
			RefModule: "fulfillment",
			RefID:     o.InvoiceNumber,
			Note:      "customer return",
		}
		var returnValue float64
		for _, line := range req.Returns {
			item := findItem(o, line.ProductID)
			if item == nil {
				return fmt.Errorf("%w: product %d", ErrUnknownItem, line.ProductID)
			}
			if line.Qty <= 0 {
				return fmt.Errorf("%w: product %d", ErrInvalidQuantity, line.ProductID)
			}
			if o.ReturnedQty(line.ProductID)+line.Qty > item.DeliveredQty {
				return fmt.Errorf("%w: product %d", ErrOverReturn, line.ProductID)
			}

			ret := &ReturnLine{
				OrderID:   o.ID,
				ProductID: line.ProductID,
				Qty:       line.Qty,
				Reason:    line.Reason,
			}
			if err := tx.InsertReturn(ctx, ret); err != nil {
				return err
			}
			o.Returns = append(o.Returns, *ret)

			if err := s.ledger.Release(ctx, tx.Stock(), line.ProductID, line.Qty, ref); err != nil {
				return err
			}
			returnValue += line.Qty * item.UnitPrice
		}

		if remaining := o.PreviousInvoiceBalance - o.ReturnsDeducted; remaining > 0 {
			deduct := math.Min(returnValue, remaining)
			if deduct > 0 {
				o.ReturnsDeducted += deduct
				if err := tx.AdjustClientBalance(ctx, o.ClientID, -deduct); err != nil {
					return err
				}
			}
		}

		o.Financial = Settle(o).Status
		if err := tx.SaveFinancial(ctx, o); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actor, "order.returns", orderID, map[string]any{
		"lines":            len(req.Returns),
		"returns_deducted": order.ReturnsDeducted,
	})
	snap := s.snapshot(ctx, order)
	return &snap, nil
}

// RecordPayment appends one payment and recomputes the financial status.
func (s *Service) RecordPayment(ctx context.Context, actor shared.Actor, orderID int64, req RecordPaymentRequest) (*Snapshot, error) {
	if err := s.authorize(actor, shared.PermPaymentRecord); err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, ErrInvalidPayment
	}
	if !req.Method.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMethod, req.Method)
	}

	var order *Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.ReadOnly() {
			return ErrOrderReadOnly
		}

		p := &Payment{
			OrderID:   o.ID,
			PaidAt:    s.now(),
			Amount:    req.Amount,
			Method:    req.Method,
			Reference: req.Reference,
		}
		if err := tx.InsertPayment(ctx, p); err != nil {
			return err
		}
		o.Payments = append(o.Payments, *p)

		o.Financial = Settle(o).Status
		if err := tx.SaveFinancial(ctx, o); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actor, "order.payment", orderID, map[string]any{
		"amount": req.Amount,
		"method": string(req.Method),
	})
	if s.events != nil {
		s.events.PublishPaymentRecorded(ctx, PaymentRecordedEvent{
			EventID:       uuid.New(),
			OrderID:       order.ID,
			InvoiceNumber: order.InvoiceNumber,
			Amount:        req.Amount,
			Method:        req.Method,
			Status:        order.Financial,
			At:            s.now(),
		})
	}
	snap := s.snapshot(ctx, order)
	return &snap, nil
}

// UploadProof stores a proof-of-payment artifact. Resubmitting the identical
// artifact is rejected unless the previous one was rejected in review.
// Auto-approved proofs immediately force the order to Paid.
func (s *Service) UploadProof(ctx context.Context, actor shared.Actor, orderID int64, req UploadProofRequest) (*Snapshot, error) {
	if err := s.authorize(actor, shared.PermProofUpload); err != nil {
		return nil, err
	}

	fingerprint := proofFingerprint(req.FilePath, req.Mime, req.Size)

	var order *Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.ReadOnly() {
			return ErrOrderReadOnly
		}
		if o.Proof != nil && o.Proof.Fingerprint == fingerprint && o.Proof.State != ProofRejected {
			return ErrDuplicateProof
		}

		now := s.now()
		proof := &Proof{
			OrderID:     o.ID,
			FilePath:    req.FilePath,
			Mime:        req.Mime,
			Size:        req.Size,
			Note:        req.Note,
			AutoApprove: req.AutoApprove,
			State:       ProofAwaitingConfirmation,
			Fingerprint: fingerprint,
			UploadedBy:  actor.ID,
			UploadedAt:  now,
		}
		if req.AutoApprove {
			proof.State = ProofApproved
			proof.ReviewedAt = &now
		}
		if err := tx.UpsertProof(ctx, proof); err != nil {
			return err
		}
		o.Proof = proof

		o.Financial = Settle(o).Status
		if err := tx.SaveFinancial(ctx, o); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actor, "order.proof_upload", orderID, map[string]any{
		"auto_approve": req.AutoApprove,
		"mime":         req.Mime,
	})
	if req.AutoApprove {
		s.metrics.ObserveProofReview("auto_approved")
	}
	s.publishProof(ctx, order, actor.ID)
	snap := s.snapshot(ctx, order)
	return &snap, nil
}

// ApproveProof confirms an awaiting proof and forces the order to Paid.
func (s *Service) ApproveProof(ctx context.Context, actor shared.Actor, orderID int64) (*Snapshot, error) {
	return s.reviewProof(ctx, actor, orderID, ProofApproved)
}

// RejectProof declines an awaiting proof; the order falls back to whatever
// the calculator derives from payments alone, and a new upload is allowed.
func (s *Service) RejectProof(ctx context.Context, actor shared.Actor, orderID int64) (*Snapshot, error) {
	return s.reviewProof(ctx, actor, orderID, ProofRejected)
}

func (s *Service) reviewProof(ctx context.Context, actor shared.Actor, orderID int64, outcome ApprovalState) (*Snapshot, error) {
	if err := s.authorize(actor, shared.PermProofReview); err != nil {
		return nil, err
	}

	var order *Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Proof == nil {
			return ErrNoProof
		}
		if o.Proof.State != ProofAwaitingConfirmation {
			return ErrProofNotAwaiting
		}

		now := s.now()
		o.Proof.State = outcome
		o.Proof.ReviewedBy = &actor.ID
		o.Proof.ReviewedAt = &now
		if err := tx.UpsertProof(ctx, o.Proof); err != nil {
			return err
		}

		o.Financial = Settle(o).Status
		if err := tx.SaveFinancial(ctx, o); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actor, "order.proof_review", orderID, map[string]any{"outcome": string(outcome)})
	s.metrics.ObserveProofReview(string(outcome))
	s.publishProof(ctx, order, actor.ID)
	snap := s.snapshot(ctx, order)
	return &snap, nil
}

func (s *Service) publishProof(ctx context.Context, o *Order, reviewerID int64) {
	if s.events == nil || o.Proof == nil {
		return
	}
	s.events.PublishProofReviewed(ctx, ProofReviewedEvent{
		EventID:       uuid.New(),
		OrderID:       o.ID,
		InvoiceNumber: o.InvoiceNumber,
		State:         o.Proof.State,
		ReviewerID:    reviewerID,
		At:            s.now(),
	})
}

// proofFingerprint hashes the artifact identity so identical resubmissions
// can be detected without comparing file contents.
func proofFingerprint(filePath, mime string, size int64) string {
	sum := blake2b.Sum256([]byte(fmt.Sprintf("%s|%s|%d", filePath, mime, size)))
	return hex.EncodeToString(sum[:])
}

func findItem(o *Order, productID int64) *Item {
	for i := range o.Items {
		if o.Items[i].ProductID == productID {
			return &o.Items[i]
		}
	}
	return nil
}
