// Package app wires the HTTP surface: sessions, the annotation and
// permission read paths, and the RTM upgrade endpoint.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"courseware/api/internal/auth"
	"courseware/api/internal/authpw"
	"courseware/api/internal/store"
	"courseware/api/internal/util"
)

// Session is the authenticated caller extracted from an access token.
type Session struct {
	AccountID string
	Name      string
	TokenID   string
}

// SessionTokens is issued on sign-in and refresh.
type SessionTokens struct {
	Token        string
	RefreshToken string
	AccountID    string
	Name         string
}

type Store interface {
	Ping(ctx context.Context) error
	GetAccountByID(ctx context.Context, accountID string) (store.Account, error)
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, accountID, displayName string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.Account, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	store      Store
	sessions   SessionStore
	passwords  *authpw.Service
	jwtSecret  []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	log        zerolog.Logger
}

func NewService(dataStore Store, sessions SessionStore, passwords *authpw.Service, jwtSecret string, accessTTL, refreshTTL time.Duration, log zerolog.Logger) *Service {
	return &Service{
		store:      dataStore,
		sessions:   sessions,
		passwords:  passwords,
		jwtSecret:  []byte(jwtSecret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		log:        log.With().Str("component", "app").Logger(),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// GetAccount looks an account up by id; sql.ErrNoRows passes through for
// unknown ids.
func (s *Service) GetAccount(ctx context.Context, accountID string) (store.Account, error) {
	return s.store.GetAccountByID(ctx, accountID)
}

// SignUp registers an account and opens a session for it.
func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (SessionTokens, error) {
	account, err := s.passwords.SignUp(ctx, req)
	if err != nil {
		return SessionTokens{}, err
	}
	return s.issueSession(ctx, account)
}

// SignIn checks credentials and opens a session.
func (s *Service) SignIn(ctx context.Context, email, password string) (SessionTokens, error) {
	account, err := s.passwords.SignIn(ctx, email, password)
	if err != nil {
		return SessionTokens{}, err
	}
	return s.issueSession(ctx, account)
}

func (s *Service) issueSession(ctx context.Context, account store.Account) (SessionTokens, error) {
	jti := util.NewTimeID()
	token, err := auth.IssueToken(s.jwtSecret, account.ID, account.DisplayName, jti, time.Now().Add(s.accessTTL))
	if err != nil {
		return SessionTokens{}, err
	}

	refreshToken := util.NewTimeID() + util.NewTimeID()
	refreshExpiry := time.Now().Add(s.refreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refreshToken), account.ID, account.DisplayName, refreshExpiry); err != nil {
		return SessionTokens{}, fmt.Errorf("save refresh session: %w", err)
	}

	return SessionTokens{
		Token:        token,
		RefreshToken: refreshToken,
		AccountID:    account.ID,
		Name:         account.DisplayName,
	}, nil
}

// Refresh rotates the refresh token: the presented token is revoked and a new
// pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (SessionTokens, error) {
	if refreshToken == "" {
		return SessionTokens{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	account, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return SessionTokens{}, auth.ErrInvalidToken
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return SessionTokens{}, fmt.Errorf("rotate refresh session: %w", err)
	}
	return s.issueSession(ctx, account)
}

// SessionFromToken parses and verifies an access token, rejecting revoked
// token ids.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken(s.jwtSecret, token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}
	return Session{
		AccountID: claims.Subject,
		Name:      claims.Name,
		TokenID:   claims.ID,
	}, nil
}

// Logout revokes the access token id and the refresh token. Both revocations
// are best-effort: logging out with a dead token still succeeds.
func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.TokenID != "" {
		if err := s.store.RevokeAccessToken(ctx, session.TokenID, time.Now().Add(s.accessTTL)); err != nil {
			s.log.Warn().Err(err).Msg("access token revoke failed")
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.log.Warn().Err(err).Msg("refresh token revoke failed")
		}
	}
	return nil
}
