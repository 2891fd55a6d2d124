package domain

import "time"

// Role is the role carried by an authenticated principal.
type Role string

const (
	RoleUser     Role = "user"
	RoleMechanic Role = "mechanic"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleMechanic, RoleAdmin:
		return true
	}
	return false
}

// Principal is the verified identity attached to a request or connection.
type Principal struct {
	ID     string `json:"id"`
	Role   Role   `json:"role"`
	Name   string `json:"name,omitempty"`
	Active bool   `json:"active"`
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// User is the persisted account record behind a principal.
type User struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// Principal returns the identity view of the user.
func (u *User) Principal() Principal {
	return Principal{ID: u.ID, Role: u.Role, Name: u.Name, Active: u.Active}
}
