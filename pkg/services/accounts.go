package services

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"orgtask-backend/pkg/database"
	"orgtask-backend/pkg/models"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned by Signin for an unknown email or a wrong password.
var ErrInvalidCredentials = errors.New("invalid email or password")

// TokenIssuer signs access/refresh token pairs.
type TokenIssuer interface {
	GenerateTokenPair(userID, email string) (accessToken, refreshToken string, expiresIn int64, err error)
}

// AccountService handles signup, signin and profile lookup.
type AccountService struct {
	*core
	tokens TokenIssuer
	cost   int
}

// NewAccountService builds an AccountService over db.
func NewAccountService(db database.DatabaseInterface, tokens TokenIssuer, opts Options) *AccountService {
	return &AccountService{core: newCore(db, opts), tokens: tokens, cost: bcrypt.DefaultCost}
}

// Signup registers a new user and returns the user with a fresh token pair.
func (a *AccountService) Signup(ctx context.Context, req models.UserSignupRequest) (*models.UserLoginResponse, error) {
	email := normalizeEmail(req.Email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, models.Validation("email", "please enter a valid email")
	}
	if len(req.Password) < 6 {
		return nil, models.Validation("password", "password must be at least 6 characters")
	}
	fullName := strings.TrimSpace(req.FullName)
	if len(fullName) < 2 {
		return nil, models.Validation("full_name", "please enter your full name")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), a.cost)
	if err != nil {
		return nil, models.StoreFailure("hash password", false, err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: string(hash),
		FullName:     fullName,
	}
	if err := insert(ctx, a.direct(), "create user", func(db database.DatabaseInterface) error {
		return db.CreateUser(ctx, user)
	}, func(db database.DatabaseInterface) error {
		_, err := db.GetUserByID(ctx, user.ID)
		return err
	}); err != nil {
		return nil, err
	}

	a.log.Info("user signed up", zap.String("user_id", user.ID))
	return a.loginResponse(user)
}

// Signin checks credentials and returns the user with a fresh token pair.
func (a *AccountService) Signin(ctx context.Context, req models.UserSigninRequest) (*models.UserLoginResponse, error) {
	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return nil, models.Validation("email", "email and password are required")
	}

	user, err := call(ctx, a.direct(), "get user by email", func(db database.DatabaseInterface) (*models.User, error) {
		return db.GetUserByEmail(ctx, email)
	})
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return a.loginResponse(user)
}

// GetUser returns the profile of userID.
func (a *AccountService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	return call(ctx, a.direct(), "get user", func(db database.DatabaseInterface) (*models.User, error) {
		return db.GetUserByID(ctx, userID)
	})
}

func (a *AccountService) loginResponse(user *models.User) (*models.UserLoginResponse, error) {
	access, refresh, expiresIn, err := a.tokens.GenerateTokenPair(user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	return &models.UserLoginResponse{
		User:         *user,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    expiresIn,
	}, nil
}
