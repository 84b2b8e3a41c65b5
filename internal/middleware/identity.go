package middleware

// identity.go reads the caller identity that JWTAuth stored in the Echo
// context.

import "github.com/labstack/echo/v4"

// Subject returns the authenticated user id.
func Subject(c echo.Context) (string, bool) {
	s, ok := c.Get(ContextUserID).(string)
	return s, ok && s != ""
}

// Role returns the authenticated role.
func Role(c echo.Context) (string, bool) {
	r, ok := c.Get(ContextRole).(string)
	return r, ok && r != ""
}

// CanActFor reports whether the caller may act on behalf of borrowerID.
// Librarians act for anyone; borrowers only for themselves. Requests that
// carry no identity (auth disabled) are allowed.
func CanActFor(c echo.Context, borrowerID string) bool {
	role, ok := Role(c)
	if !ok {
		return true
	}
	if role == RoleLibrarian {
		return true
	}
	sub, _ := Subject(c)
	return role == RoleBorrower && sub == borrowerID
}

// userID is the rate limiter's view of the caller.
func userID(c echo.Context) string {
	if s, ok := Subject(c); ok {
		return s
	}
	return "anon"
}
