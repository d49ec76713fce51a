package fulfillment

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sweetline-erp/sweetline-erp/internal/inventory"
)

func TestChoosePaymentMethod(t *testing.T) {
	f := newFixture(t)
	o := f.seedOrderAt(StageSettlement, &driverActor.ID)

	snap, err := f.svc.ChoosePaymentMethod(context.Background(), driverActor, o.ID, LaterBank)
	require.NoError(t, err)
	require.NotNil(t, snap.Order.PaymentMethod)
	require.Equal(t, LaterBank, *snap.Order.PaymentMethod)

	_, err = f.svc.ChoosePaymentMethod(context.Background(), driverActor, o.ID, PaymentMethod("CRYPTO"))
	require.ErrorIs(t, err, ErrInvalidMethod)

	_, err = f.svc.ChoosePaymentMethod(context.Background(), productionActor, o.ID, PayNow)
	require.ErrorIs(t, err, ErrRoleNotAllowed)
}

func TestRecordPaymentProgression(t *testing.T) {
	f := newFixture(t)
	o := f.seedOrderAt(StageSettlement, &driverActor.ID)

	// net is 65: partial payment settles, the rest pays off
	snap, err := f.svc.RecordPayment(context.Background(), driverActor, o.ID, RecordPaymentRequest{Amount: 40, Method: LaterCash})
	require.NoError(t, err)
	require.Equal(t, FinancialSettled, snap.Order.Financial)
	require.InDelta(t, 25.0, snap.Settlement.BalanceDue, 1e-9)

	snap, err = f.svc.RecordPayment(context.Background(), driverActor, o.ID, RecordPaymentRequest{Amount: 25, Method: LaterCash})
	require.NoError(t, err)
	require.Equal(t, FinancialPaid, snap.Order.Financial)
	require.Zero(t, snap.Settlement.BalanceDue)

	require.Len(t, f.events.payments, 2)
}

func TestRecordPaymentValidation(t *testing.T) {
	f := newFixture(t)
	o := f.seedOrderAt(StageSettlement, &driverActor.ID)

	_, err := f.svc.RecordPayment(context.Background(), driverActor, o.ID, RecordPaymentRequest{Amount: 0, Method: LaterCash})
	require.ErrorIs(t, err, ErrInvalidPayment)

	_, err = f.svc.RecordPayment(context.Background(), driverActor, o.ID, RecordPaymentRequest{Amount: 10, Method: PaymentMethod("IOU")})
	require.ErrorIs(t, err, ErrInvalidMethod)
}

func TestRecordPaymentOnClosedOrder(t *testing.T) {
	f := newFixture(t)
	o := f.seedOrderAt(StageCompleted, nil)
	o.Financial = FinancialPaid
	f.repo.seedOrder(o)

	_, err := f.svc.RecordPayment(context.Background(), adminActor, o.ID, RecordPaymentRequest{Amount: 10, Method: LaterCash})
	require.ErrorIs(t, err, ErrOrderReadOnly)
}

func TestApplyReturnsReleasesStockAndDeducts(t *testing.T) {
	f := newFixture(t)
	f.repo.seedStock(100, 0)
	f.repo.seedClient(1, 6)
	o := f.seedOrderAt(StageSettlement, &driverActor.ID)
	o.PreviousInvoiceBalance = 6
	f.repo.seedOrder(o)

	snap, err := f.svc.ApplyReturns(context.Background(), driverActor, o.ID, ApplyReturnsRequest{
		Returns: []ReturnLineReq{{ProductID: 100, Qty: 4}},
	})
	require.NoError(t, err)

	// return value is 10, carried-over balance only 6: deduction caps there
	require.InDelta(t, 6.0, snap.Order.ReturnsDeducted, 1e-9)
	require.Zero(t, f.repo.clientBalance(1))
	require.InDelta(t, 4.0, f.repo.stockQty(100), 1e-9)
	require.Equal(t, FinancialSettled, snap.Order.Financial)
	require.InDelta(t, 55.0, snap.Settlement.NetAmount, 1e-9)
}

func TestApplyReturnsSecondBatchIsAdditive(t *testing.T) {
	f := newFixture(t)
	f.repo.seedStock(100, 0)
	f.repo.seedClient(1, 100)
	o := f.seedOrderAt(StageSettlement, &driverActor.ID)
	o.PreviousInvoiceBalance = 100
	f.repo.seedOrder(o)

	_, err := f.svc.ApplyReturns(context.Background(), driverActor, o.ID, ApplyReturnsRequest{
		Returns: []ReturnLineReq{{ProductID: 100, Qty: 2}},
	})
	require.NoError(t, err)

	snap, err := f.svc.ApplyReturns(context.Background(), driverActor, o.ID, ApplyReturnsRequest{
		Returns: []ReturnLineReq{{ProductID: 100, Qty: 3}},
	})
	require.NoError(t, err)

	require.Len(t, snap.Order.Returns, 2)
	require.InDelta(t, 12.5, snap.Order.ReturnsDeducted, 1e-9)
	require.InDelta(t, 87.5, f.repo.clientBalance(1), 1e-9)
	require.InDelta(t, 5.0, f.repo.stockQty(100), 1e-9)
}

func TestApplyReturnsOverReturnRejected(t *testing.T) {
	f := newFixture(t)
	f.repo.seedStock(100, 0)
	o := f.seedOrderAt(StageSettlement, &driverActor.ID)

	_, err := f.svc.ApplyReturns(context.Background(), driverActor, o.ID, ApplyReturnsRequest{
		Returns: []ReturnLineReq{{ProductID: 100, Qty: 11}},
	})
	require.ErrorIs(t, err, ErrOverReturn)

	// cumulative cap across batches
	_, err = f.svc.ApplyReturns(context.Background(), driverActor, o.ID, ApplyReturnsRequest{
		Returns: []ReturnLineReq{{ProductID: 100, Qty: 7}},
	})
	require.NoError(t, err)
	_, err = f.svc.ApplyReturns(context.Background(), driverActor, o.ID, ApplyReturnsRequest{
		Returns: []ReturnLineReq{{ProductID: 100, Qty: 4}},
	})
	require.ErrorIs(t, err, ErrOverReturn)
	require.InDelta(t, 7.0, f.repo.stockQty(100), 1e-9)
}

func TestApplyReturnsUnknownProduct(t *testing.T) {
	f := newFixture(t)
	o := f.seedOrderAt(StageSettlement, &driverActor.ID)

	_, err := f.svc.ApplyReturns(context.Background(), driverActor, o.ID, ApplyReturnsRequest{
		Returns: []ReturnLineReq{{ProductID: 999, Qty: 1}},
	})
	require.ErrorIs(t, err, ErrUnknownItem)
}

func TestAdjustDeliveredItemsMovesStock(t *testing.T) {
	f := newFixture(t)
	f.repo.seedStock(100, 0)
	o := f.seedOrderAt(StageDelivered, &driverActor.ID)

	snap, err := f.svc.AdjustDeliveredItems(context.Background(), driverActor, o.ID, AdjustDeliveredRequest{
		AdjustmentID: uuid.New(),
		Items:        []DeliveredItemReq{{ProductID: 100, DeliveredQty: 6}},
	})
	require.NoError(t, err)

	require.InDelta(t, 6.0, snap.Order.Items[0].DeliveredQty, 1e-9)
	// 4 undelivered units go back to stock
	require.InDelta(t, 4.0, f.repo.stockQty(100), 1e-9)
	// 6 * 2.5 + 4 * 10
	require.InDelta(t, 55.0, snap.Settlement.NetAmount, 1e-9)
}

func TestAdjustDeliveredItemsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.repo.seedStock(100, 0)
	o := f.seedOrderAt(StageDelivered, &driverActor.ID)

	adjustmentID := uuid.New()
	req := AdjustDeliveredRequest{
		AdjustmentID: adjustmentID,
		Items:        []DeliveredItemReq{{ProductID: 100, DeliveredQty: 6}},
	}

	_, err := f.svc.AdjustDeliveredItems(context.Background(), driverActor, o.ID, req)
	require.NoError(t, err)

	// replay with the same id applies nothing
	snap, err := f.svc.AdjustDeliveredItems(context.Background(), driverActor, o.ID, req)
	require.NoError(t, err)
	require.InDelta(t, 6.0, snap.Order.Items[0].DeliveredQty, 1e-9)
	require.InDelta(t, 4.0, f.repo.stockQty(100), 1e-9)
}

func TestAdjustDeliveredItemsBounds(t *testing.T) {
	f := newFixture(t)
	f.repo.seedStock(100, 0)
	o := f.seedOrderAt(StageDelivered, &driverActor.ID)

	_, err := f.svc.AdjustDeliveredItems(context.Background(), driverActor, o.ID, AdjustDeliveredRequest{
		AdjustmentID: uuid.New(),
		Items:        []DeliveredItemReq{{ProductID: 100, DeliveredQty: 12}},
	})
	require.ErrorIs(t, err, ErrOverDelivery)

	_, err = f.svc.ApplyReturns(context.Background(), driverActor, o.ID, ApplyReturnsRequest{
		Returns: []ReturnLineReq{{ProductID: 100, Qty: 5}},
	})
	require.NoError(t, err)

	// delivered cannot drop below what was already returned
	_, err = f.svc.AdjustDeliveredItems(context.Background(), driverActor, o.ID, AdjustDeliveredRequest{
		AdjustmentID: uuid.New(),
		Items:        []DeliveredItemReq{{ProductID: 100, DeliveredQty: 3}},
	})
	require.ErrorIs(t, err, ErrUnderReturned)
}

func TestAdjustDeliveredRequiresHolder(t *testing.T) {
	f := newFixture(t)
	o := f.seedOrderAt(StageDelivered, &driverActor.ID)

	_, err := f.svc.AdjustDeliveredItems(context.Background(), otherDriver, o.ID, AdjustDeliveredRequest{
		AdjustmentID: uuid.New(),
		Items:        []DeliveredItemReq{{ProductID: 100, DeliveredQty: 6}},
	})
	require.ErrorIs(t, err, ErrNotOrderHolder)
}

func TestUploadProofAwaitingConfirmation(t *testing.T) {
	f := newFixture(t)
	o := f.seedOrderAt(StageSettlement, &driverActor.ID)

	snap, err := f.svc.UploadProof(context.Background(), driverActor, o.ID, UploadProofRequest{
		FilePath: "/uploads/transfer.jpg",
		Mime:     "image/jpeg",
		Size:     52311,
	})
	require.NoError(t, err)
	require.NotNil(t, snap.Order.Proof)
	require.Equal(t, ProofAwaitingConfirmation, snap.Order.Proof.State)
	require.Equal(t, FinancialPending, snap.Order.Financial)
	require.Equal(t, BadgeAwaiting, snap.Settlement.Badge)
}

func TestUploadProofAutoApproveForcesPaid(t *testing.T) {
	f := newFixture(t)
	o := f.seedOrderAt(StageSettlement, &driverActor.ID)

	snap, err := f.svc.UploadProof(context.Background(), driverActor, o.ID, UploadProofRequest{
		FilePath:    "/uploads/transfer.jpg",
		Mime:        "image/jpeg",
		Size:        52311,
		AutoApprove: true,
	})
	require.NoError(t, err)
	require.Equal(t, ProofApproved, snap.Order.Proof.State)
	require.Equal(t, FinancialPaid, snap.Order.Financial)
	require.Equal(t, BadgePaid, snap.Settlement.Badge)
}

func TestUploadProofDuplicateRejected(t *testing.T) {
	f := newFixture(t)
	o := f.seedOrderAt(StageSettlement, &driverActor.ID)

	req := UploadProofRequest{FilePath: "/uploads/transfer.jpg", Mime: "image/jpeg", Size: 52311}
	_, err := f.svc.UploadProof(context.Background(), driverActor, o.ID, req)
	require.NoError(t, err)

	_, err = f.svc.UploadProof(context.Background(), driverActor, o.ID, req)
	require.ErrorIs(t, err, ErrDuplicateProof)

	// a different artifact replaces the pending one
	req.Size = 99
	_, err = f.svc.UploadProof(context.Background(), driverActor, o.ID, req)
	require.NoError(t, err)
}

func TestProofReviewFlow(t *testing.T) {
	f := newFixture(t)
	o := f.seedOrderAt(StageSettlement, &driverActor.ID)

	req := UploadProofRequest{FilePath: "/uploads/transfer.jpg", Mime: "image/jpeg", Size: 52311}
	_, err := f.svc.UploadProof(context.Background(), driverActor, o.ID, req)
	require.NoError(t, err)

	// review is admin territory
	_, err = f.svc.ApproveProof(context.Background(), driverActor, o.ID)
	require.ErrorIs(t, err, ErrRoleNotAllowed)

	snap, err := f.svc.ApproveProof(context.Background(), adminActor, o.ID)
	require.NoError(t, err)
	require.Equal(t, ProofApproved, snap.Order.Proof.State)
	require.Equal(t, FinancialPaid, snap.Order.Financial)
	require.NotNil(t, snap.Order.Proof.ReviewedBy)
	require.Equal(t, adminActor.ID, *snap.Order.Proof.ReviewedBy)

	// a reviewed proof cannot be re-reviewed
	_, err = f.svc.RejectProof(context.Background(), adminActor, o.ID)
	require.ErrorIs(t, err, ErrProofNotAwaiting)
}

func TestProofRejectionAllowsResubmission(t *testing.T) {
	f := newFixture(t)
	o := f.seedOrderAt(StageSettlement, &driverActor.ID)

	req := UploadProofRequest{FilePath: "/uploads/transfer.jpg", Mime: "image/jpeg", Size: 52311}
	_, err := f.svc.UploadProof(context.Background(), driverActor, o.ID, req)
	require.NoError(t, err)

	snap, err := f.svc.RejectProof(context.Background(), adminActor, o.ID)
	require.NoError(t, err)
	require.Equal(t, ProofRejected, snap.Order.Proof.State)
	require.Equal(t, FinancialPending, snap.Order.Financial)
	require.Equal(t, BadgeUnpaid, snap.Settlement.Badge)

	// the identical artifact may come back after a rejection
	snap, err = f.svc.UploadProof(context.Background(), driverActor, o.ID, req)
	require.NoError(t, err)
	require.Equal(t, ProofAwaitingConfirmation, snap.Order.Proof.State)
}

func TestReviewWithoutProof(t *testing.T) {
	f := newFixture(t)
	o := f.seedOrderAt(StageSettlement, &driverActor.ID)

	_, err := f.svc.ApproveProof(context.Background(), adminActor, o.ID)
	require.ErrorIs(t, err, ErrNoProof)
}

func TestReturnsRollbackOnFailure(t *testing.T) {
	f := newFixture(t)
	f.repo.seedStock(100, 0)
	o := f.seedOrderAt(StageSettlement, &driverActor.ID)

	// second line over-returns: the whole batch must roll back
	_, err := f.svc.ApplyReturns(context.Background(), driverActor, o.ID, ApplyReturnsRequest{
		Returns: []ReturnLineReq{
			{ProductID: 100, Qty: 2},
			{ProductID: 200, Qty: 5},
		},
	})
	require.ErrorIs(t, err, ErrOverReturn)

	stored := f.repo.storedOrder(o.ID)
	require.Empty(t, stored.Returns)
	require.Zero(t, f.repo.stockQty(100))
	var movements int
	for _, m := range f.repo.movements {
		if m.Type == inventory.MovementRelease {
			movements++
		}
	}
	require.Zero(t, movements)
}
