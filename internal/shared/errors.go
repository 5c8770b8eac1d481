package shared

import "errors"

var (
	// ErrInvalidInput indicates a field failed validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrDuplicateIdentity indicates a username or email is already taken.
	ErrDuplicateIdentity = errors.New("duplicate identity")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken indicates a malformed, unknown or revoked auth token.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken indicates an auth token past its expiry.
	ErrExpiredToken = errors.New("expired token")
	// ErrInvalidHierarchy indicates a role parent assignment would form a cycle.
	ErrInvalidHierarchy = errors.New("invalid role hierarchy")
	// ErrUnauthenticated indicates no valid identity is attached to the request.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden indicates the identity lacks the required role or permission.
	ErrForbidden = errors.New("forbidden")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)
