package controllers

// Valid reviewer-surface roles. "reviewer" watches sessions; "admin" can
// also manage users and override sessions.
var validRoles = map[string]struct{}{
	"admin":    {},
	"reviewer": {},
}

func IsValidRole(role string) bool {
	_, ok := validRoles[role]
	return ok
}
