package shared

// Principal describes the authenticated actor of a request.
type Principal struct {
	UserID   int64
	Username string
	Roles    []string
	// TokenID is set when the principal was resolved from a bearer token.
	TokenID string
}

// Anonymous is the identity of a request with no valid session or token.
// Compare with IsAnonymous rather than by value.
var Anonymous = &Principal{}

// IsAnonymous reports whether p represents "no authenticated user".
func (p *Principal) IsAnonymous() bool {
	return p == nil || p == Anonymous || p.UserID == 0
}
