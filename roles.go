package accounts

import (
	"fmt"
	"strings"
)

// PermissionLevel is the role tag stored with each account. The service
// stores it but does not enforce it.
type PermissionLevel string

const (
	// PermissionGuest is a guest role (ie. view)
	PermissionGuest PermissionLevel = "guest"
	// PermissionMember is a member (i.e. view, edit)
	PermissionMember PermissionLevel = "member"
	// PermissionAdmin is an admin role (i.e. view, edit, create)
	PermissionAdmin PermissionLevel = "admin"
	// PermissionOwner is an owner role (i.e. view, edit, create, delete)
	PermissionOwner PermissionLevel = "owner"
)

// PermissionLevels lists every valid permission level, lowest first
func PermissionLevels() []PermissionLevel {
	return []PermissionLevel{PermissionGuest, PermissionMember, PermissionAdmin, PermissionOwner}
}

// IsValid checks if the level is one of the predefined levels
func (p PermissionLevel) IsValid() bool {
	switch p {
	case PermissionGuest, PermissionMember, PermissionAdmin, PermissionOwner:
		return true
	default:
		return false
	}
}

// IsAtLeast checks if this level meets the minimum required level
func (p PermissionLevel) IsAtLeast(min PermissionLevel) bool {
	hierarchy := map[PermissionLevel]int{
		PermissionGuest:  0,
		PermissionMember: 1,
		PermissionAdmin:  2,
		PermissionOwner:  3,
	}

	current, ok := hierarchy[p]
	if !ok {
		return false
	}

	required, ok := hierarchy[min]
	if !ok {
		return false
	}

	return current >= required
}

func (p PermissionLevel) String() string {
	return string(p)
}

// ParsePermissionLevel normalizes a raw tag into a PermissionLevel
func ParsePermissionLevel(raw string) (PermissionLevel, error) {
	level := PermissionLevel(strings.ToLower(strings.TrimSpace(raw)))
	if !level.IsValid() {
		return "", fmt.Errorf("unknown permission level %q", raw)
	}
	return level, nil
}
