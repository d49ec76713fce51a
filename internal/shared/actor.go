package shared

import (
	"errors"
	"strings"
)

// Role is the closed set of actor roles the engine recognises. Role
// resolution happens upstream; the engine only consumes the result.
type Role string

const (
	RoleSales      Role = "sales"
	RoleProduction Role = "production"
	RoleDelivery   Role = "delivery"
	RoleAdmin      Role = "admin"
)

// ErrUnknownRole indicates a role outside the closed set.
var ErrUnknownRole = errors.New("unknown role")

// ParseRole normalises and validates a role tag.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleSales:
		return RoleSales, nil
	case RoleProduction:
		return RoleProduction, nil
	case RoleDelivery:
		return RoleDelivery, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", ErrUnknownRole
	}
}

// Actor is the authenticated caller as resolved by the external auth
// provider: an id plus one role tag.
type Actor struct {
	ID   int64
	Role Role
}

// Known reports whether the actor carries a resolved identity.
func (a Actor) Known() bool {
	return a.ID > 0 && a.Role != ""
}
