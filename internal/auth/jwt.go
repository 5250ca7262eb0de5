// Package auth validates bearer tokens issued by the external identity service.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
)

// clockSkew tolerated between this service and the identity service.
const clockSkew = 30 * time.Second

// Claims is what the identity service puts in a viewer token. Subscription tier is not
// carried here; it is read from the users table on every playback request so upgrades
// and downgrades apply without waiting for a new token.
type Claims struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email"`
	jwt.RegisteredClaims
}

// JWTService validates viewer tokens. Generate exists for tooling and tests; production
// tokens are minted by the identity service with the same shared secret.
type JWTService struct {
	secret      []byte
	expireHours int
	issuer      string
}

// Option configures a JWTService.
type Option func(*JWTService)

// WithIssuer requires tokens to carry iss. Empty disables the check.
func WithIssuer(iss string) Option {
	return func(s *JWTService) { s.issuer = iss }
}

// NewJWTService creates a JWT service.
func NewJWTService(secret string, expireHours int, opts ...Option) *JWTService {
	s := &JWTService{
		secret:      []byte(secret),
		expireHours: expireHours,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate creates a viewer token for userID.
func (s *JWTService) Generate(userID uuid.UUID, email string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(s.expireHours) * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Validate parses a viewer token. Any failure, including a token without a user, is ErrInvalidToken.
func (s *JWTService) Validate(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil || !token.Valid || claims.UserID == uuid.Nil {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}
