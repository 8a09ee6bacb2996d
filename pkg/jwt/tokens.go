package jwt

import (
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Issuer is stamped on every token minted by the orchestrator.
const Issuer = "agentic-orchestrator"

// ErrEmptySecret is returned when signing or verifying without a secret.
var ErrEmptySecret = errors.New("jwt secret is empty")

// Claims defines the API token payload.
type Claims struct {
	Client    string `json:"client"`
	Namespace string `json:"namespace,omitempty"`
	jwtlib.RegisteredClaims
}

// AllowsNamespace reports whether the token may deploy into namespace.
// Tokens without a namespace are unrestricted.
func (c *Claims) AllowsNamespace(namespace string) bool {
	if c == nil {
		return false
	}
	if c.Namespace == "" {
		return true
	}
	return strings.EqualFold(c.Namespace, namespace)
}

// GenerateToken issues a signed JWT with provided secret and ttl.
func GenerateToken(client, namespace, secret string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	now := time.Now()
	claims := Claims{
		Client:    client,
		Namespace: namespace,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   client,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// Parse validates and extracts claims from token.
func Parse(token string, secret string) (*Claims, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	parsed, err := jwtlib.ParseWithClaims(token, &Claims{}, func(t *jwtlib.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}), jwtlib.WithIssuer(Issuer))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwtlib.ErrTokenInvalidClaims
	}
	return claims, nil
}
