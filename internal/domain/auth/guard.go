package auth

import "slices"

// HasRole reports whether user holds one of the required roles.
// A nil user or an empty requirement never matches. It is a UX gate only;
// servers must re-check authorization themselves.
func HasRole(user *User, required ...Role) bool {
	if user == nil {
		return false
	}
	return slices.Contains(required, user.Role)
}
