// Package authjwt verifies the Bearer token the HTTP front-end requires on
// /run and /judge. It implements the minimal HS256, exp-only verifier the
// original server/jwt.rs specifies (Algorithm::HS256 + an exp claim and
// nothing else), not the teacher's heavier RSA/session/RBAC verifier in
// pkg/auth — that machinery has no counterpart in SPEC_FULL.md, which
// explicitly delegates "JWT verification middleware" to an external
// collaborator beyond this minimal contract.
package authjwt

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var ErrMissingHeader = errors.New("authjwt: missing or malformed Authorization header")

// Verifier validates a Bearer token against a single shared HS256 secret,
// checking only the exp claim (matching the original's minimal Claims{exp}
// struct).
type Verifier struct {
	secret []byte
}

func New(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Valid reports whether token is a well-formed, unexpired HS256 JWT signed
// with the configured secret.
func (v *Verifier) Valid(token string) bool {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	return err == nil && parsed.Valid
}

// TokenFromRequest extracts the bearer token from an Authorization header
// of the form "Bearer <token>", mirroring the original's
// key.replace("Bearer ", "") extraction.
func TokenFromRequest(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingHeader
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrMissingHeader
	}
	return parts[1], nil
}

// Middleware wraps next, rejecting requests (401) whose Authorization
// header is missing or carries an invalid/expired token.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := TokenFromRequest(r)
		if err != nil || !v.Valid(token) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
