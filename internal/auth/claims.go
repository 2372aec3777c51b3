package auth

import "github.com/golang-jwt/jwt/v5"

// Claims is the access token shape issued by the clinic admin system.
// This service only verifies; it never mints tokens.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	TokenType string `json:"token_type"`
}

const tokenTypeAccess = "access"
