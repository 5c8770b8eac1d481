package auth

import (
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/users"
)

// Token purposes.
const (
	PurposeAPI     = "api"
	PurposeSession = "session"
)

// UserLogin is one authentication attempt. UserID is nil when the identifier
// matched no account.
type UserLogin struct {
	ID          int64     `json:"id"`
	UserID      *int64    `json:"user_id,omitempty"`
	Identifier  string    `json:"identifier"`
	Success     bool      `json:"success"`
	IP          string    `json:"ip,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
	AttemptedAt time.Time `json:"attempted_at"`
}

// AuthToken is the stored form of an issued token. Only the SHA-256 digest
// of the raw value is kept.
type AuthToken struct {
	ID        uuid.UUID  `json:"id"`
	UserID    int64      `json:"user_id"`
	TokenHash string     `json:"-"`
	Purpose   string     `json:"purpose"`
	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// ClientMeta describes the caller of an authentication attempt.
type ClientMeta struct {
	IP        string
	UserAgent string
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	User      *users.User `json:"user"`
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// SignupInput is the self-service registration payload.
type SignupInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}
