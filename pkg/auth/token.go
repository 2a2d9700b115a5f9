package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/dmlopezc/bizgate-backend/pkg/config"
	"github.com/golang-jwt/jwt/v5"
)

var jwtSigningMethod = jwt.SigningMethodHS256

// EmailTokenClaims is the signed payload binding a verification token to an
// email address.
type EmailTokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// MintEmailToken issues a signed token embedding the email with the configured
// TTL (2 days by default).
func MintEmailToken(cfg config.TokenConfig, now time.Time, email string) (string, error) {
	if cfg.Secret == "" {
		return "", fmt.Errorf("token secret is required")
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return "", fmt.Errorf("email is required")
	}

	claims := EmailTokenClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TTL())),
		},
	}

	token := jwt.NewWithClaims(jwtSigningMethod, claims)
	signed, err := token.SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ParseEmailToken validates the token string and returns its typed claims.
// Expired tokens are rejected.
func ParseEmailToken(cfg config.TokenConfig, tokenString string) (*EmailTokenClaims, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("token secret is required")
	}

	claims := &EmailTokenClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwtSigningMethod {
				return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
			}
			return []byte(cfg.Secret), nil
		},
		jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
	)
	if err != nil {
		return nil, err
	}

	return claims, nil
}
