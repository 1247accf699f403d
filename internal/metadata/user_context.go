package metadata

import "slices"

// UserContext is the caller identity placed in request locals by the auth
// middleware. With auth disabled every request runs as SystemUser.
type UserContext struct {
	ID    string   `json:"id"`
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles"`
}

// SystemUser is used by the CLI and when auth is disabled.
var SystemUser = &UserContext{ID: "system", Roles: []string{"admin"}}

func (u *UserContext) HasRole(role string) bool {
	return slices.Contains(u.Roles, role)
}

// HasAnyRole reports whether the user holds at least one of roles.
func (u *UserContext) HasAnyRole(roles []string) bool {
	for _, r := range roles {
		if u.HasRole(r) {
			return true
		}
	}
	return false
}

func (u *UserContext) IsAdmin() bool {
	return u.HasRole("admin")
}
