// Package auth implements the four authentication methods of spec §6: node
// tokens, user cookies, API tokens, and a super token, all carried as signed
// JWT bearer tokens rather than the teacher's mTLS certificate hierarchy
// (see DESIGN.md for why mTLS/CA issuance was dropped).
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Method is one of the four accepted auth carriers (spec §6).
type Method string

const (
	MethodNode   Method = "node"
	MethodCookie Method = "cookie"
	MethodToken  Method = "token"
	MethodSuper  Method = "super"
)

// ErrInvalidToken is returned for any token that fails signature or claim
// validation.
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims is the JWT payload pacemaker issues and verifies.
type Claims struct {
	Method  Method `json:"method"`
	Subject string `json:"subject"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies bearer tokens for a single process's auth
// secret. A coordinator and its heart nodes must share the same secret for
// node-token auth to verify across processes.
type Issuer struct {
	secret []byte
}

// NewIssuer creates an Issuer over secret. The secret is typically loaded
// from Config.AuthSecret.
func NewIssuer(secret string) *Issuer {
	return &Issuer{secret: []byte(secret)}
}

// Issue mints a bearer token for subject authenticating via method, valid
// for ttl (zero means no expiry, used for long-lived node tokens).
func (i *Issuer) Issue(method Method, subject string, ttl time.Duration) (string, error) {
	claims := Claims{
		Method:  method,
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a bearer token, returning its claims. The
// caller is responsible for checking claims.Method against what the
// endpoint requires; pkg/stream and pkg/coordinator's admin surface both
// accept any of the four.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// Allows reports whether a token authenticated via claims.Method satisfies
// one of the required methods for an operation. A super token always
// satisfies every requirement.
func Allows(claims *Claims, required ...Method) bool {
	if claims.Method == MethodSuper {
		return true
	}
	for _, m := range required {
		if claims.Method == m {
			return true
		}
	}
	return false
}
