package users

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Argon2id parameters.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 1
	argonKeyLen  = 32
	argonSaltLen = 16
)

var errMalformedHash = errors.New("users: malformed password hash")

// HashPassword hashes plaintext with Argon2id and a fresh random salt,
// returning the PHC string $argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>.
func HashPassword(plaintext string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("users: generating salt: %w", err)
	}
	key := argon2.IDKey([]byte(plaintext), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifyPassword reports whether plaintext matches storedHash. Argon2id and
// legacy bcrypt hashes are accepted; anything else never matches.
func VerifyPassword(plaintext, storedHash string) bool {
	if isBcrypt(storedHash) {
		return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(plaintext)) == nil
	}
	params, salt, key, err := decodeArgon(storedHash)
	if err != nil {
		return false
	}
	candidate := argon2.IDKey([]byte(plaintext), salt, params.time, params.memory, params.threads, uint32(len(key)))
	return subtle.ConstantTimeCompare(key, candidate) == 1
}

// NeedsRehash reports whether storedHash should be replaced by a fresh
// HashPassword result, e.g. bcrypt seeds or weaker Argon2 parameters.
func NeedsRehash(storedHash string) bool {
	if isBcrypt(storedHash) {
		return true
	}
	params, _, key, err := decodeArgon(storedHash)
	if err != nil {
		return true
	}
	return params.time < argonTime || params.memory < argonMemory || len(key) < argonKeyLen
}

// dummyHash is verified against when no account matches, keeping the cost of
// a failed lookup close to a failed password check.
var dummyHash = sync.OnceValue(func() string {
	h, err := HashPassword("odyssey-dummy-password")
	if err != nil {
		return ""
	}
	return h
})

// BurnVerification spends the same work as VerifyPassword on a throwaway hash.
func BurnVerification(plaintext string) {
	_ = VerifyPassword(plaintext, dummyHash())
}

type argonParams struct {
	time    uint32
	memory  uint32
	threads uint8
}

func isBcrypt(hash string) bool {
	return strings.HasPrefix(hash, "$2a$") || strings.HasPrefix(hash, "$2b$") || strings.HasPrefix(hash, "$2y$")
}

func decodeArgon(encoded string) (argonParams, []byte, []byte, error) {
	var params argonParams
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return params, nil, nil, errMalformedHash
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return params, nil, nil, errMalformedHash
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.memory, &params.time, &params.threads); err != nil {
		return params, nil, nil, errMalformedHash
	}
	// argon2.IDKey panics on zero rounds or threads.
	if params.memory == 0 || params.time == 0 || params.threads == 0 {
		return params, nil, nil, errMalformedHash
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return params, nil, nil, errMalformedHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return params, nil, nil, errMalformedHash
	}
	return params, salt, key, nil
}
