package domain

import "context"

// Permission is a named capability. Each mutating engine operation declares
// the permission it requires; principals carry a flat capability set with no
// inheritance.
type Permission string

const (
	PermAdmin         Permission = "admin"
	PermOracleManager Permission = "oracle.manage"
	PermFeeManager    Permission = "fee.manage"
	PermRiskManager   Permission = "risk.manage"
	PermStaker        Permission = "fee.staker" // grants the staking fee discount
)

// RoleProvider answers whether a principal holds a capability.
type RoleProvider interface {
	HasPermission(ctx context.Context, principal string, perm Permission) bool
}
