package auth

import (
	"context"
	"errors"
	"time"

	"github.com/school-funds/school_funds/internal/config"
	"github.com/school-funds/school_funds/internal/identity"
)

var ErrTokenRevoked = errors.New("token version invalidated")

// Service issues and verifies token pairs.
type Service struct {
	cfg    config.Config
	idRepo identity.Repository
	now    func() time.Time
}

func NewService(cfg config.Config, idRepo identity.Repository) *Service {
	return &Service{cfg: cfg, idRepo: idRepo, now: time.Now}
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Login issues tokens for an already authenticated user.
func (s *Service) Login(user identity.User) (TokenPair, error) {
	now := s.now()
	access, accessExp, err := signToken(user, tokenAccess, s.cfg.JWTSecret, s.cfg.AccessTokenTTL, now)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, _, err := signToken(user, tokenRefresh, s.cfg.RefreshSecret, s.cfg.RefreshTokenTTL, now)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: int64(accessExp.Sub(now).Seconds())}, nil
}

// Refresh verifies the refresh token and returns a new access token if valid.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, int64, error) {
	claims, err := parseToken(refreshToken, tokenRefresh, s.cfg.RefreshSecret)
	if err != nil {
		return "", 0, err
	}
	user, err := s.current(ctx, claims)
	if err != nil {
		return "", 0, err
	}
	signed, _, err := signToken(user, tokenAccess, s.cfg.JWTSecret, s.cfg.AccessTokenTTL, s.now())
	if err != nil {
		return "", 0, err
	}
	return signed, int64(s.cfg.AccessTokenTTL.Seconds()), nil
}

// Verify checks an access token and that it has not been revoked by a logout.
func (s *Service) Verify(ctx context.Context, accessToken string) (identity.User, error) {
	claims, err := parseToken(accessToken, tokenAccess, s.cfg.JWTSecret)
	if err != nil {
		return identity.User{}, err
	}
	return s.current(ctx, claims)
}

// Logout increments token version so older tokens become invalid.
func (s *Service) Logout(ctx context.Context, userID string) error {
	user, err := s.idRepo.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	return s.idRepo.UpdateTokenVersion(ctx, user.ID, user.TokenVersion+1)
}

func (s *Service) current(ctx context.Context, claims *Claims) (identity.User, error) {
	user, err := s.idRepo.FindByID(ctx, claims.Subject)
	if err != nil {
		return identity.User{}, ErrInvalidToken
	}
	if user.TokenVersion != claims.Version {
		return identity.User{}, ErrTokenRevoked
	}
	return user, nil
}
