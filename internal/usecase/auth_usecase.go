package usecase

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"jobpulse/internal/pkg/jwt"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrRefreshTokenExpired = errors.New("refresh token expired")
	ErrInternal            = errors.New("internal error")
)

type LoginInput struct {
	Username string
	Password string
}

type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type AuthUsecase interface {
	Login(ctx context.Context, in LoginInput) (Tokens, error)
	Refresh(ctx context.Context, refreshToken string) (Tokens, error)
}

// Auth guards the admin surface with a single configured operator account.
type Auth struct {
	username     string
	passwordHash []byte
	jwt          jwt.Service
}

func NewAuthUsecase(username, passwordHash string, jwtSvc jwt.Service) *Auth {
	return &Auth{
		username:     strings.TrimSpace(username),
		passwordHash: []byte(strings.TrimSpace(passwordHash)),
		jwt:          jwtSvc,
	}
}

func (u *Auth) Login(_ context.Context, in LoginInput) (Tokens, error) {
	name := strings.TrimSpace(in.Username)
	if name == "" || in.Password == "" {
		return Tokens{}, ErrInvalidCredentials
	}
	// bcrypt runs on every attempt, whether or not the username matches.
	hashErr := bcrypt.CompareHashAndPassword(u.passwordHash, []byte(in.Password))
	nameOK := subtle.ConstantTimeCompare([]byte(name), []byte(u.username)) == 1
	if !nameOK || hashErr != nil {
		return Tokens{}, ErrInvalidCredentials
	}
	return u.issue(u.username)
}

func (u *Auth) Refresh(_ context.Context, refreshToken string) (Tokens, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Tokens{}, ErrUnauthorized
	}

	claims, err := u.jwt.ValidateToken(refreshToken)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Tokens{}, ErrRefreshTokenExpired
		}
		return Tokens{}, ErrInvalidRefreshToken
	}
	if !u.jwt.IsRefreshToken(claims) || claims.Username != u.username {
		return Tokens{}, ErrInvalidRefreshToken
	}
	return u.issue(claims.Username)
}

func (u *Auth) issue(username string) (Tokens, error) {
	access, err := u.jwt.GenerateAccessToken(username, jwt.RoleAdmin)
	if err != nil {
		return Tokens{}, ErrInternal
	}
	refresh, err := u.jwt.GenerateRefreshToken(username, jwt.RoleAdmin)
	if err != nil {
		return Tokens{}, ErrInternal
	}
	return Tokens{AccessToken: access, RefreshToken: refresh}, nil
}
