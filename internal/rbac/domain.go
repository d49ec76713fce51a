// Package rbac maps the closed role set onto per-operation permissions.
//
// Authentication and role resolution happen in the upstream gateway; the
// engine receives an already-resolved (actor id, role) pair and only decides
// whether that role may perform the requested operation.
package rbac

import "github.com/sweetline-erp/sweetline-erp/internal/shared"

// rolePermissions is the static permission table. Roles are a closed set,
// so the table lives in code rather than in the database.
var rolePermissions = map[shared.Role][]string{
	shared.RoleSales: {
		shared.PermOrderView,
		shared.PermOrderCreate,
		shared.PermPaymentMethod,
	},
	shared.RoleProduction: {
		shared.PermOrderView,
		shared.PermStageProduction,
	},
	shared.RoleDelivery: {
		shared.PermOrderView,
		shared.PermStagePickup,
		shared.PermStageDeliver,
		shared.PermStageComplete,
		shared.PermDeliveryAdjust,
		shared.PermReturnsApply,
		shared.PermPaymentMethod,
		shared.PermPaymentRecord,
		shared.PermProofUpload,
	},
	shared.RoleAdmin: {
		shared.PermOrderView,
		shared.PermStageComplete,
		shared.PermReturnsApply,
		shared.PermPaymentRecord,
		shared.PermProofReview,
		shared.PermAdminOverride,
		shared.PermStockAdjust,
		shared.PermStockView,
	},
}

// Permissions returns the permission set granted to a role.
func Permissions(role shared.Role) []string {
	perms := rolePermissions[role]
	out := make([]string, len(perms))
	copy(out, perms)
	return out
}

// Can reports whether the role holds the permission.
func Can(role shared.Role, perm string) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}
