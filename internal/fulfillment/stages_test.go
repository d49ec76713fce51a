package fulfillment

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sweetline-erp/sweetline-erp/internal/rbac"
	"github.com/sweetline-erp/sweetline-erp/internal/shared"
)

func TestLifecycleChainIsLegal(t *testing.T) {
	chain := []Stage{
		StageOrderPlaced, StageProductionQueue, StageInProduction,
		StageReadyForDelivery, StageOutForDelivery, StageDelivered,
		StageSettlement, StageCompleted,
	}
	for i := 0; i < len(chain)-1; i++ {
		_, ok := RequiredPermission(chain[i], chain[i+1])
		require.True(t, ok, "%s -> %s should be legal", chain[i], chain[i+1])
	}
}

func TestSkippingStagesIsIllegal(t *testing.T) {
	cases := []struct{ from, to Stage }{
		{StageOrderPlaced, StageInProduction},
		{StageProductionQueue, StageReadyForDelivery},
		{StageInProduction, StageOutForDelivery},
		{StageReadyForDelivery, StageDelivered},
		{StageDelivered, StageCompleted},
	}
	for _, c := range cases {
		_, ok := RequiredPermission(c.from, c.to)
		require.False(t, ok, "%s -> %s must not be legal", c.from, c.to)
	}
}

func TestBackwardTransitionsAreIllegal(t *testing.T) {
	chain := []Stage{
		StageOrderPlaced, StageProductionQueue, StageInProduction,
		StageReadyForDelivery, StageOutForDelivery, StageDelivered,
		StageSettlement, StageCompleted,
	}
	for i := 1; i < len(chain); i++ {
		_, ok := RequiredPermission(chain[i], chain[i-1])
		require.False(t, ok, "%s -> %s must not be legal", chain[i], chain[i-1])
	}
}

func TestCompletedIsTerminal(t *testing.T) {
	for _, to := range []Stage{
		StageOrderPlaced, StageProductionQueue, StageInProduction,
		StageReadyForDelivery, StageOutForDelivery, StageDelivered,
		StageSettlement,
	} {
		_, ok := RequiredPermission(StageCompleted, to)
		require.False(t, ok)
	}
}

func TestTransitionPermissionsMatchRoles(t *testing.T) {
	perm, ok := RequiredPermission(StageProductionQueue, StageInProduction)
	require.True(t, ok)
	require.True(t, rbac.Can(shared.RoleProduction, perm))
	require.False(t, rbac.Can(shared.RoleSales, perm))
	require.False(t, rbac.Can(shared.RoleDelivery, perm))

	perm, ok = RequiredPermission(StageReadyForDelivery, StageOutForDelivery)
	require.True(t, ok)
	require.True(t, rbac.Can(shared.RoleDelivery, perm))
	require.False(t, rbac.Can(shared.RoleProduction, perm))

	perm, ok = RequiredPermission(StageSettlement, StageCompleted)
	require.True(t, ok)
	require.True(t, rbac.Can(shared.RoleDelivery, perm))
	require.True(t, rbac.Can(shared.RoleAdmin, perm))
	require.False(t, rbac.Can(shared.RoleSales, perm))
}

func TestIsProductionTarget(t *testing.T) {
	require.True(t, IsProductionTarget(StageInProduction))
	require.True(t, IsProductionTarget(StageReadyForDelivery))
	require.False(t, IsProductionTarget(StageOutForDelivery))
	require.False(t, IsProductionTarget(StageOrderPlaced))
}
