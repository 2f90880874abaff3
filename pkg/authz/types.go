// Package authz provides identity extraction and role-based authorization
// for the datasite server. Identities are established by an external auth
// collaborator and referenced here by id only; this package maps requests
// to a Principal and enforces minimum-role checks.
package authz

// Role is a principal's access level on the datasite.
type Role string

const (
	// RoleGuest can discover the API surface and read mock data.
	RoleGuest Role = "guest"

	// RoleDataScientist can browse datasets and submit jobs.
	RoleDataScientist Role = "data_scientist"

	// RoleDataOwner can publish datasets and decide association requests.
	RoleDataOwner Role = "data_owner"

	// RoleAdmin can do everything, including server administration.
	RoleAdmin Role = "admin"
)

// roleLevels orders roles from least to most privileged.
var roleLevels = map[Role]int{
	RoleGuest:         0,
	RoleDataScientist: 1,
	RoleDataOwner:     2,
	RoleAdmin:         3,
}

// Level returns the privilege level for ordering comparisons.
// Unknown roles rank below guest.
func (r Role) Level() int {
	if lvl, ok := roleLevels[r]; ok {
		return lvl
	}
	return -1
}

// AtLeast reports whether r grants at least the privileges of required.
func (r Role) AtLeast(required Role) bool {
	return r.Level() >= required.Level()
}

// ParseRole maps a string to a Role, defaulting to guest for anything
// unrecognized. Deny by default for privileged access.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleDataScientist, RoleDataOwner, RoleAdmin:
		return Role(s)
	default:
		return RoleGuest
	}
}

// Principal is the authenticated identity making a request.
type Principal struct {
	User string
	Role Role
}
