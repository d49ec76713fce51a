package fulfillment

import "github.com/sweetline-erp/sweetline-erp/internal/shared"

// transitionKey identifies one edge of the lifecycle graph.
type transitionKey struct {
	from Stage
	to   Stage
}

// transitions is the legal forward order with the permission gating each
// edge. Role checks happen against this table, never against scattered role
// string comparisons.
var transitions = map[transitionKey]string{
	{StageOrderPlaced, StageProductionQueue}:     shared.PermOrderCreate,
	{StageProductionQueue, StageInProduction}:    shared.PermStageProduction,
	{StageInProduction, StageReadyForDelivery}:   shared.PermStageProduction,
	{StageReadyForDelivery, StageOutForDelivery}: shared.PermStagePickup,
	{StageOutForDelivery, StageDelivered}:        shared.PermStageDeliver,
	{StageDelivered, StageSettlement}:            shared.PermStageDeliver,
	{StageSettlement, StageCompleted}:            shared.PermStageComplete,
}

// RequiredPermission returns the permission gating the transition and
// whether the transition is legal at all.
func RequiredPermission(from, to Stage) (string, bool) {
	perm, ok := transitions[transitionKey{from: from, to: to}]
	return perm, ok
}

// productionStages are the targets SetProductionStage may advance to.
var productionStages = map[Stage]bool{
	StageInProduction:     true,
	StageReadyForDelivery: true,
}

// IsProductionTarget reports whether the stage is reachable via the
// production operation.
func IsProductionTarget(s Stage) bool {
	return productionStages[s]
}
