package authjwt

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func sign(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return signed
}

func TestValidAcceptsUnexpiredToken(t *testing.T) {
	v := New("shh")
	token := sign(t, "shh", jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	if !v.Valid(token) {
		t.Fatal("expected valid token to be accepted")
	}
}

func TestValidRejectsExpiredToken(t *testing.T) {
	v := New("shh")
	token := sign(t, "shh", jwt.MapClaims{"exp": time.Now().Add(-time.Hour).Unix()})
	if v.Valid(token) {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestValidRejectsWrongSecret(t *testing.T) {
	v := New("shh")
	token := sign(t, "different", jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	if v.Valid(token) {
		t.Fatal("expected token signed with the wrong secret to be rejected")
	}
}

func TestTokenFromRequestRequiresBearerScheme(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/validate", nil)
	req.Header.Set("Authorization", "Basic foo")
	if _, err := TokenFromRequest(req); err != ErrMissingHeader {
		t.Fatalf("expected ErrMissingHeader for non-Bearer scheme, got %v", err)
	}
}

func TestMiddlewareRejectsMissingHeader(t *testing.T) {
	v := New("shh")
	handlerCalled := false
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/run", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if handlerCalled {
		t.Error("inner handler must not run without a valid token")
	}
}

func TestMiddlewareAcceptsValidToken(t *testing.T) {
	v := New("shh")
	token := sign(t, "shh", jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	handlerCalled := false
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/run", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if !handlerCalled {
		t.Error("inner handler should run for a valid token")
	}
}
