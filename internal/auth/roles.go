package auth

import "strings"

// Role is a role definition as returned by the IdP.
type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// RoleSet holds the two roles this service interprets. Any other role a
// subject holds is passed through untouched.
type RoleSet struct {
	Admin Role
	User  Role
}

func NewRoleSet(adminID, adminName, userID, userName string) RoleSet {
	return RoleSet{
		Admin: Role{ID: adminID, Name: adminName},
		User:  Role{ID: userID, Name: userName},
	}
}

// IsAdmin reports whether r is the admin role, matching on ID or on a
// case-insensitive name.
func (s RoleSet) IsAdmin(r Role) bool {
	return matches(s.Admin, r)
}

// Recognized reports whether r is either of the two interpreted roles.
func (s RoleSet) Recognized(r Role) bool {
	return matches(s.Admin, r) || matches(s.User, r)
}

// Resolve maps a role ID or name (case-insensitive) to a recognized role.
func (s RoleSet) Resolve(idOrName string) (Role, bool) {
	probe := Role{ID: idOrName, Name: idOrName}
	switch {
	case matches(s.Admin, probe):
		return s.Admin, true
	case matches(s.User, probe):
		return s.User, true
	default:
		return Role{}, false
	}
}

// Filter returns the recognized roles of roles, preserving order.
func (s RoleSet) Filter(roles []Role) []Role {
	var out []Role
	for _, r := range roles {
		if s.Recognized(r) {
			out = append(out, r)
		}
	}
	return out
}

func matches(want, got Role) bool {
	if want.ID != "" && got.ID == want.ID {
		return true
	}
	return want.Name != "" && strings.EqualFold(strings.TrimSpace(got.Name), want.Name)
}
