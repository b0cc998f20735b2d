package observer

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// TokenValidator authenticates the connect-time token query parameter.
// A nil TokenValidator (the zero value used by NewWebSocketHandler without
// WithTokenValidator) disables auth, matching the handler's historical,
// test-covered behavior.
type TokenValidator func(token string) bool

// NewJWTTokenValidator returns a TokenValidator that accepts an HS256 token
// signed with secret and rejects everything else (expired, malformed,
// wrong algorithm, wrong secret). A single bearer-token check: the
// engine's streaming endpoint has no session/refresh model of its own.
func NewJWTTokenValidator(secret string) TokenValidator {
	key := []byte(secret)
	return func(token string) bool {
		if token == "" {
			return false
		}
		parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return key, nil
		})
		return err == nil && parsed.Valid
	}
}
