package jwt

import (
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"

	RoleAdmin = "admin"

	issuer = "jobpulse"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

type Claims struct {
	Username  string `json:"username"`
	Role      string `json:"role"`
	TokenType string `json:"token_type"`

	jwtlib.RegisteredClaims
}

type Service interface {
	GenerateAccessToken(username, role string) (string, error)
	GenerateRefreshToken(username, role string) (string, error)
	ValidateToken(tokenString string) (Claims, error)
	IsRefreshToken(claims Claims) bool
}

// signingKey pairs a token type with its own secret and lifetime. A token
// signed with one key never validates as the other type.
type signingKey struct {
	tokenType string
	secret    []byte
	ttl       time.Duration
}

func (k signingKey) usable() bool { return len(k.secret) > 0 && k.ttl > 0 }

type HMACService struct {
	keys []signingKey
	now  func() time.Time
}

func NewHMACService(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *HMACService {
	return &HMACService{
		keys: []signingKey{
			{tokenType: TokenTypeAccess, secret: []byte(accessSecret), ttl: accessTTL},
			{tokenType: TokenTypeRefresh, secret: []byte(refreshSecret), ttl: refreshTTL},
		},
		now: time.Now,
	}
}

func (s *HMACService) GenerateAccessToken(username, role string) (string, error) {
	return s.sign(TokenTypeAccess, username, role)
}

func (s *HMACService) GenerateRefreshToken(username, role string) (string, error) {
	return s.sign(TokenTypeRefresh, username, role)
}

// ValidateToken tries every key. Expiry wins over other failures so callers
// can ask for a refresh instead of a new login.
func (s *HMACService) ValidateToken(tokenString string) (Claims, error) {
	expired := false
	for _, k := range s.keys {
		if !k.usable() {
			continue
		}
		c, err := s.parse(tokenString, k)
		if err == nil {
			return c, nil
		}
		if errors.Is(err, ErrTokenExpired) {
			expired = true
		}
	}
	if expired {
		return Claims{}, ErrTokenExpired
	}
	return Claims{}, ErrTokenInvalid
}

func (s *HMACService) IsRefreshToken(claims Claims) bool {
	return claims.TokenType == TokenTypeRefresh
}

func (s *HMACService) key(tokenType string) (signingKey, bool) {
	for _, k := range s.keys {
		if k.tokenType == tokenType && k.usable() {
			return k, true
		}
	}
	return signingKey{}, false
}

func (s *HMACService) sign(tokenType, username, role string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", ErrTokenInvalid
	}
	k, ok := s.key(tokenType)
	if !ok {
		return "", ErrTokenInvalid
	}

	now := s.now().UTC()
	c := Claims{
		Username:  username,
		Role:      role,
		TokenType: tokenType,
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(k.ttl)),
		},
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, c).SignedString(k.secret)
}

func (s *HMACService) parse(tokenString string, k signingKey) (Claims, error) {
	p := jwtlib.NewParser(
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithIssuer(issuer),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(s.now),
	)

	var c Claims
	tok, err := p.ParseWithClaims(tokenString, &c, func(*jwtlib.Token) (any, error) {
		return k.secret, nil
	})
	switch {
	case errors.Is(err, jwtlib.ErrTokenExpired):
		return Claims{}, ErrTokenExpired
	case err != nil, tok == nil, !tok.Valid:
		return Claims{}, ErrTokenInvalid
	case c.TokenType != k.tokenType:
		return Claims{}, ErrTokenInvalid
	}
	return c, nil
}
