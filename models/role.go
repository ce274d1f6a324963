package models

// Role is stored as its integer value and embedded as role_value in tokens.
type Role int

const (
	RoleGuest    Role = 1
	RoleBanned   Role = 2
	RoleUser     Role = 3
	RoleAdmin    Role = 4
	RoleHighUser Role = 5
)

// Members are the roles allowed to use dialogs.
var Members = []Role{RoleUser, RoleAdmin, RoleHighUser}

func (r Role) String() string {
	switch r {
	case RoleGuest:
		return "guest"
	case RoleBanned:
		return "banned"
	case RoleUser:
		return "user"
	case RoleAdmin:
		return "admin"
	case RoleHighUser:
		return "high_user"
	default:
		return "unknown"
	}
}

// In reports whether r is one of roles.
func (r Role) In(roles ...Role) bool {
	for _, allowed := range roles {
		if r == allowed {
			return true
		}
	}
	return false
}
