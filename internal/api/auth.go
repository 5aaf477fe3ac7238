package api

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims Hearth issues and accepts. Only the
// registered claims are used; Subject identifies the caller and flows
// into event contexts as the user ID.
type Claims struct {
	jwt.RegisteredClaims
}

// tokenIssuer is the iss claim on tokens Hearth issues.
const tokenIssuer = "hearth"

// IssueToken signs an HS256 bearer token for a subject.
//
// Parameters:
//   - secret: The shared signing secret from security.jwt.secret
//   - subject: Caller identity recorded in the sub claim
//   - ttl: Token lifetime
//
// Returns:
//   - string: Signed compact JWT
//   - error: Signing failure
func IssueToken(secret, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// validateToken parses and verifies a compact HS256 token.
// Expiry and not-before are enforced by the parser.
func validateToken(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(secret), nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
	)
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}
	return claims, nil
}
