package middleware

import (
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

var (
	// ErrTokenExpired is returned when JWT validation fails due to expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid is returned for signature and format failures.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenMissingClaim is returned when the token has no subject.
	ErrTokenMissingClaim = errors.New("token missing required claim")
)

const (
	minSecretLength = 32
	acceptableSkew  = 30 * time.Second
)

// Validator turns a bearer token into the recipient id it was issued for.
type Validator interface {
	Validate(tokenString string) (string, error)
}

// JWTValidator verifies HS256 tokens signed with the service secret.
type JWTValidator struct {
	secret []byte
}

var _ Validator = (*JWTValidator)(nil)

// NewJWTValidator creates a validator for secret.
func NewJWTValidator(secret string) (*JWTValidator, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("JWT secret must be at least %d characters long", minSecretLength)
	}
	return &JWTValidator{secret: []byte(secret)}, nil
}

// Validate checks signature, expiry and not-before, and returns the subject.
func (v *JWTValidator) Validate(tokenString string) (string, error) {
	token, err := jwt.Parse([]byte(tokenString),
		jwt.WithKey(jwa.HS256, v.secret),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(acceptableSkew),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired()) {
			return "", fmt.Errorf("%w: %w", ErrTokenExpired, err)
		}
		return "", fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	sub := token.Subject()
	if sub == "" {
		return "", ErrTokenMissingClaim
	}
	return sub, nil
}
