package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestDisabledAuthAllowsAll(t *testing.T) {
	a := &PanelAuthenticator{}
	if a.Enabled() {
		t.Fatalf("expected auth disabled")
	}

	r := httptest.NewRequest("GET", "/api/requests", nil)
	claims, err := a.Authenticate(r)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if claims.Subject != "anonymous" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
}

func TestOperatorToken(t *testing.T) {
	a := &PanelAuthenticator{OperatorToken: "secret"}

	r := httptest.NewRequest("GET", "/api/requests", nil)
	if _, err := a.Authenticate(r); err != ErrMissingBearer {
		t.Fatalf("expected ErrMissingBearer, got %v", err)
	}

	r.Header.Set("Authorization", "Bearer secret")
	claims, err := a.Authenticate(r)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if claims.Subject != "operator" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}

	r.Header.Set("Authorization", "Bearer wrong")
	if _, err := a.Authenticate(r); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	r.Header.Set("Authorization", "Basic secret")
	if _, err := a.Authenticate(r); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for non-bearer scheme, got %v", err)
	}
}

func TestJWT(t *testing.T) {
	secret := []byte("panel-secret")
	a := &PanelAuthenticator{JWTSecret: secret}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	r := httptest.NewRequest("GET", "/api/requests", nil)
	r.Header.Set("Authorization", "Bearer "+signed)
	claims, err := a.Authenticate(r)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if claims.Subject != "alice" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
}

func TestJWTRejectsBadSignatureAndMissingSubject(t *testing.T) {
	a := &PanelAuthenticator{JWTSecret: []byte("panel-secret")}

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "alice"})
	signed, err := forged.SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	r := httptest.NewRequest("GET", "/api/requests", nil)
	r.Header.Set("Authorization", "Bearer "+signed)
	if _, err := a.Authenticate(r); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	anonymous := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err = anonymous.SignedString([]byte("panel-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	r.Header.Set("Authorization", "Bearer "+signed)
	if _, err := a.Authenticate(r); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for missing subject, got %v", err)
	}
}
