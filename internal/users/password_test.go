package users

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=3,p=1$"))
	require.True(t, VerifyPassword("correct horse", hash))
	require.False(t, VerifyPassword("correct horsE", hash))
	require.False(t, NeedsRehash(hash))
}

func TestHashPasswordSaltsEveryCall(t *testing.T) {
	a, err := HashPassword("same-secret")
	require.NoError(t, err)
	b, err := HashPassword("same-secret")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestVerifyPasswordLegacyBcrypt(t *testing.T) {
	legacy, err := bcrypt.GenerateFromPassword([]byte("seeded-pass"), bcrypt.MinCost)
	require.NoError(t, err)
	require.True(t, VerifyPassword("seeded-pass", string(legacy)))
	require.False(t, VerifyPassword("other", string(legacy)))
	require.True(t, NeedsRehash(string(legacy)))
}

func TestVerifyPasswordMalformed(t *testing.T) {
	for _, h := range []string{"", "plain", "$argon2id$v=19$m=1$x$y", "$argon2i$v=19$m=65536,t=3,p=1$AAAA$AAAA"} {
		require.False(t, VerifyPassword("anything", h), h)
		require.True(t, NeedsRehash(h), h)
	}
}

func TestBurnVerificationUsesDummyHash(t *testing.T) {
	BurnVerification("whatever")
	require.NotEmpty(t, dummyHash())
	require.False(t, VerifyPassword("whatever", dummyHash()))
}

func TestVerifyPasswordRejectsZeroCostParams(t *testing.T) {
	for _, params := range []string{"m=0,t=3,p=1", "m=65536,t=0,p=1", "m=65536,t=3,p=0"} {
		h := "$argon2id$v=19$" + params + "$c2FsdHNhbHRzYWx0c2FsdA$a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5"
		require.NotPanics(t, func() {
			require.False(t, VerifyPassword("anything", h), params)
		})
		require.True(t, NeedsRehash(h), params)
	}
}
