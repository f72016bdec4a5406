package rbac

// Role names. Keep these stable; they are part of token contracts.
const (
	// RoleClient may request probes for its own messages.
	RoleClient = "client"
	// RoleOperator may additionally inspect and purge the result cache.
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

func IsKnownRole(role string) bool {
	switch role {
	case RoleClient, RoleOperator, RoleAdmin:
		return true
	}
	return false
}
