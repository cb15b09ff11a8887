package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/telecare/telecare/internal/platform/apperr"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func newHMACVerifier(t *testing.T) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier(JWTConfig{SigningKey: testSigningKey})
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	return v
}

func runMiddleware(t *testing.T, v Verifier, header string, handler echo.HandlerFunc) error {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return RequireAuth(v)(handler)(c)
}

func okHandler(c echo.Context) error { return c.String(http.StatusOK, "ok") }

func TestRequireAuth_MissingHeader(t *testing.T) {
	err := runMiddleware(t, newHMACVerifier(t), "", okHandler)
	if !apperr.Is(err, apperr.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestRequireAuth_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runMiddleware(t, newHMACVerifier(t), tt.header, okHandler)
			if !apperr.Is(err, apperr.KindUnauthorized) {
				t.Fatalf("expected unauthorized, got %v", err)
			}
		})
	}
}

func TestRequireAuth_ValidToken(t *testing.T) {
	tokenStr := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Email: "ana@example.com",
	}, testSigningKey)

	var gotUID, gotEmail string
	err := runMiddleware(t, newHMACVerifier(t), "Bearer "+tokenStr, func(c echo.Context) error {
		gotUID = UserIDFromContext(c.Request().Context())
		gotEmail = EmailFromContext(c.Request().Context())
		return c.String(http.StatusOK, "ok")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotUID != "user-123" {
		t.Errorf("expected user-123, got %q", gotUID)
	}
	if gotEmail != "ana@example.com" {
		t.Errorf("expected email on context, got %q", gotEmail)
	}
}

func TestRequireAuth_ExpiredToken(t *testing.T) {
	tokenStr := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
	}, testSigningKey)

	err := runMiddleware(t, newHMACVerifier(t), "Bearer "+tokenStr, okHandler)
	if !apperr.Is(err, apperr.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

type failingVerifier struct{ err error }

func (f failingVerifier) Verify(context.Context, string) (*Identity, error) { return nil, f.err }

func TestRequireAuth_VerifierUnavailable(t *testing.T) {
	err := runMiddleware(t, failingVerifier{err: ErrKeySourceUnavailable}, "Bearer x", okHandler)
	if apperr.KindOf(err) != apperr.KindInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestDevVerifier(t *testing.T) {
	id, err := DevVerifier{}.Verify(context.Background(), "patient-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.UserID != "patient-1" {
		t.Errorf("expected patient-1, got %s", id.UserID)
	}
	if _, err := (DevVerifier{}).Verify(context.Background(), ""); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for empty token, got %v", err)
	}
}

func TestChainVerifier(t *testing.T) {
	chain := ChainVerifier{failingVerifier{err: ErrInvalidToken}, DevVerifier{}}
	id, err := chain.Verify(context.Background(), "doctor-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.UserID != "doctor-1" {
		t.Errorf("expected doctor-1, got %s", id.UserID)
	}

	chain = ChainVerifier{failingVerifier{err: ErrKeySourceUnavailable}, failingVerifier{err: ErrInvalidToken}}
	if _, err := chain.Verify(context.Background(), "x"); !errors.Is(err, ErrKeySourceUnavailable) {
		t.Errorf("expected unavailability to surface, got %v", err)
	}
}
