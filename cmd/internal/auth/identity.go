package auth

import "strings"

// Roles recognized in the "role" claim.
const (
	RoleUser       = "user"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "superadmin"
)

// Identity is who a connection acts as. The zero value is anonymous.
type Identity struct {
	UserID string
	Role   string
}

// Anonymous reports whether no user is attached.
func (id Identity) Anonymous() bool { return id.UserID == "" }

// IsAdmin reports whether the identity carries a privileged role (admin or superadmin).
func (id Identity) IsAdmin() bool {
	if id.Anonymous() {
		return false
	}
	switch id.Role {
	case RoleAdmin, RoleSuperAdmin:
		return true
	default:
		return false
	}
}

func normalizeRole(role string) string {
	switch r := strings.ToLower(strings.TrimSpace(role)); r {
	case RoleAdmin, RoleSuperAdmin:
		return r
	default:
		return RoleUser
	}
}
