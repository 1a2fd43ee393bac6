package token

import (
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Claims is the session token payload. Tokens are issued by the identity
// service; this package only parses and validates them.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	jwtlib.RegisteredClaims
}

// Generate issues a signed session token. Used by tests and tooling; the
// production issuer lives in the identity service.
func Generate(userID, email, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    "siteforge",
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	tok := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return tok.SignedString([]byte(secret))
}

// Parse validates a session token and extracts its claims.
func Parse(tok string, secret string) (*Claims, error) {
	parsed, err := jwtlib.ParseWithClaims(tok, &Claims{}, func(t *jwtlib.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwtlib.ErrTokenInvalidClaims
	}
	return claims, nil
}
