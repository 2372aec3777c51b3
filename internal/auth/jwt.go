package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"clinic-cti/internal/config"
)

var ErrInvalidToken = errors.New("auth: invalid token")

// Verifier checks HS256 access tokens for the read API.
type Verifier struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
}

func NewVerifier(cfg config.AuthConfig) (*Verifier, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	return &Verifier{
		secret:   []byte(cfg.JWTSecret),
		issuer:   cfg.JWTIssuer,
		audience: cfg.JWTAudience,
		leeway:   30 * time.Second,
	}, nil
}

// Verify parses tokenString and validates it as of now.
// Every failure wraps ErrInvalidToken.
func (v *Verifier) Verify(tokenString string, now time.Time) (Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(v.leeway),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	var claims Claims
	_, err := jwt.NewParser(opts...).ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.TokenType != "" && claims.TokenType != tokenTypeAccess {
		return Claims{}, fmt.Errorf("%w: token_type %q", ErrInvalidToken, claims.TokenType)
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return Claims{}, fmt.Errorf("%w: user_id missing", ErrInvalidToken)
	}
	if claims.Role == "" {
		return Claims{}, fmt.Errorf("%w: role missing", ErrInvalidToken)
	}
	return claims, nil
}
