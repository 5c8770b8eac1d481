package users

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

func TestValidateUserDataAccepts(t *testing.T) {
	err := ValidateUserData(CreateUserInput{Username: "alice.b", Email: "alice@example.com", Password: "s3cret-pass"})
	require.NoError(t, err)
}

func TestValidateUserDataReportsEveryField(t *testing.T) {
	err := ValidateUserData(CreateUserInput{Username: "a b", Email: "nope", Password: "short"})
	require.Error(t, err)
	require.True(t, errors.Is(err, shared.ErrInvalidInput))

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Contains(t, verr.Fields, FieldUsername)
	require.Contains(t, verr.Fields, FieldEmail)
	require.Contains(t, verr.Fields, FieldPassword)
	require.Equal(t, "must be at least 8 characters", verr.Fields[FieldPassword])
}

func TestValidateUserDataRequired(t *testing.T) {
	var verr *ValidationError
	require.ErrorAs(t, ValidateUserData(CreateUserInput{}), &verr)
	require.Equal(t, "is required", verr.Fields[FieldUsername])
	require.Equal(t, "is required", verr.Fields[FieldEmail])
}

func TestValidateUpdateIgnoresNilFields(t *testing.T) {
	require.NoError(t, ValidateUpdate(UpdateUserInput{}))
	bad := "x"
	var verr *ValidationError
	require.ErrorAs(t, ValidateUpdate(UpdateUserInput{Username: &bad}), &verr)
	require.Contains(t, verr.Fields, FieldUsername)
}

func TestIdentityKeyFolds(t *testing.T) {
	require.Equal(t, IdentityKey("Alice"), IdentityKey("  ALICE "))
	require.Equal(t, IdentityKey("ａｌｉｃｅ"), IdentityKey("alice"))
	require.Equal(t, IdentityKey("Ａｌｉｃｅ"), IdentityKey("alice"))
	require.NotEqual(t, IdentityKey("alice"), IdentityKey("alicia"))
}

func TestNormaliseRoles(t *testing.T) {
	require.Equal(t, []string{"admin", "viewer"}, normaliseRoles([]string{" viewer", "admin", "viewer", ""}))
}
