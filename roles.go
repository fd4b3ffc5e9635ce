package admission

// UserRole is the user's role
type UserRole = string

const (
	// RoleAdmin administers an org, approves its users
	RoleAdmin UserRole = "admin"
	// RoleUser is a regular member of an org
	RoleUser UserRole = "user"
	// RoleGuest is what an anonymous session holds
	RoleGuest UserRole = "guest"
)

// IsValidRole checks if the role can be assigned to an identity
func IsValidRole(r UserRole) bool {
	switch r {
	case RoleAdmin, RoleUser:
		return true
	default:
		return false
	}
}

// IsAdmin checks if the role can manage an org
func IsAdmin(r UserRole) bool {
	return r == RoleAdmin
}
