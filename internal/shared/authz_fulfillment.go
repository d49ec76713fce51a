package shared

// Fulfillment permissions declared for the role permission table.
const (
	PermOrderView   = "fulfillment.order.view"
	PermOrderCreate = "fulfillment.order.create"

	PermStageProduction = "fulfillment.stage.production"
	PermStagePickup     = "fulfillment.stage.pickup"
	PermStageDeliver    = "fulfillment.stage.deliver"
	PermStageComplete   = "fulfillment.stage.complete"

	PermDeliveryAdjust = "fulfillment.delivery.adjust"
	PermReturnsApply   = "fulfillment.returns.apply"

	PermPaymentMethod = "fulfillment.payment.method"
	PermPaymentRecord = "fulfillment.payment.record"
	PermProofUpload   = "fulfillment.proof.upload"
	PermProofReview   = "fulfillment.proof.review"

	PermAdminOverride = "fulfillment.admin.override"

	PermStockAdjust = "inventory.stock.adjust"
	PermStockView   = "inventory.stock.view"
)
