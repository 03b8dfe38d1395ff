package services

import (
	"context"
	"errors"
	"testing"

	"orgtask-backend/pkg/database"
	"orgtask-backend/pkg/models"
	"orgtask-backend/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func newAccounts(t *testing.T) (*AccountService, *utils.JWTService) {
	t.Helper()
	jwtService := utils.NewJWTService("test-secret")
	accounts := NewAccountService(database.NewMemoryDatabase(), jwtService, Options{Logger: zap.NewNop()})
	accounts.cost = bcrypt.MinCost
	return accounts, jwtService
}

func TestSignupAndSignin(t *testing.T) {
	ctx := context.Background()
	accounts, jwtService := newAccounts(t)

	resp, err := accounts.Signup(ctx, models.UserSignupRequest{
		Email:    " Alice@Example.com",
		Password: "secret1",
		FullName: "Alice Liddell",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", resp.User.Email)
	assert.Nil(t, resp.User.OrgID)
	assert.NotEmpty(t, resp.RefreshToken)

	claims, err := jwtService.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, claims.UserID)
	assert.Equal(t, "access", claims.Type)

	signedIn, err := accounts.Signin(ctx, models.UserSigninRequest{Email: "alice@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, signedIn.User.ID)

	user, err := accounts.GetUser(ctx, resp.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice Liddell", user.FullName)
}

func TestSignup_Validation(t *testing.T) {
	ctx := context.Background()
	accounts, _ := newAccounts(t)

	cases := []struct {
		name  string
		req   models.UserSignupRequest
		field string
	}{
		{"bad email", models.UserSignupRequest{Email: "not-an-email", Password: "secret1", FullName: "Al"}, "email"},
		{"display name form", models.UserSignupRequest{Email: "Al <al@example.com>", Password: "secret1", FullName: "Al"}, "email"},
		{"short password", models.UserSignupRequest{Email: "al@example.com", Password: "12345", FullName: "Al"}, "password"},
		{"short name", models.UserSignupRequest{Email: "al@example.com", Password: "secret1", FullName: " A "}, "full_name"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := accounts.Signup(ctx, tc.req)
			e, ok := models.AsError(err)
			require.True(t, ok)
			assert.Equal(t, models.KindValidation, e.Kind)
			assert.Equal(t, tc.field, e.Field)
		})
	}
}

func TestSignup_DuplicateEmail(t *testing.T) {
	ctx := context.Background()
	accounts, _ := newAccounts(t)
	req := models.UserSignupRequest{Email: "bob@example.com", Password: "secret1", FullName: "Bob"}

	_, err := accounts.Signup(ctx, req)
	require.NoError(t, err)

	req.Email = "BOB@example.com"
	_, err = accounts.Signup(ctx, req)
	assert.True(t, errors.Is(err, models.ErrConflict))
}

func TestSignin_InvalidCredentials(t *testing.T) {
	ctx := context.Background()
	accounts, _ := newAccounts(t)
	_, err := accounts.Signup(ctx, models.UserSignupRequest{Email: "bob@example.com", Password: "secret1", FullName: "Bob"})
	require.NoError(t, err)

	_, err = accounts.Signin(ctx, models.UserSigninRequest{Email: "bob@example.com", Password: "wrong!!"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = accounts.Signin(ctx, models.UserSigninRequest{Email: "nobody@example.com", Password: "secret1"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = accounts.Signin(ctx, models.UserSigninRequest{})
	assert.True(t, errors.Is(err, models.ErrValidation))
}
