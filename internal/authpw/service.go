// Package authpw provides email/password authentication for accounts.
package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"courseware/api/internal/store"
	"courseware/api/internal/util"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
)

// AccountStore defines the storage interface for auth
type AccountStore interface {
	GetAccountByEmail(ctx context.Context, email string) (store.Account, error)
	CreateAccount(ctx context.Context, account store.Account) error
}

type Service struct {
	store AccountStore
}

func NewService(accountStore AccountStore) *Service {
	return &Service{store: accountStore}
}

// SignUpRequest contains sign-up parameters
type SignUpRequest struct {
	Email       string
	Password    string
	DisplayName string
}

// SignUp creates a new account with a bcrypt-hashed password.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.Account, error) {
	if req.Email == "" || req.Password == "" || req.DisplayName == "" {
		return store.Account{}, errors.New("email, password, and display name are required")
	}
	if len(req.Password) < 8 {
		return store.Account{}, errors.New("password must be at least 8 characters")
	}

	_, err := s.store.GetAccountByEmail(ctx, req.Email)
	if err == nil {
		return store.Account{}, ErrEmailTaken
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.Account{}, fmt.Errorf("check email: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.Account{}, fmt.Errorf("hash password: %w", err)
	}

	account := store.Account{
		ID:           util.NewTimeID(),
		DisplayName:  req.DisplayName,
		Email:        req.Email,
		PasswordHash: string(hash),
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return store.Account{}, fmt.Errorf("create account: %w", err)
	}
	return account, nil
}

// SignIn verifies the password against the stored hash. A missing account and
// a wrong password return the same error.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.Account, error) {
	if email == "" || password == "" {
		return store.Account{}, errors.New("email and password are required")
	}

	account, err := s.store.GetAccountByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Account{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.Account{}, fmt.Errorf("lookup account: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return store.Account{}, ErrInvalidCredentials
	}
	return account, nil
}
