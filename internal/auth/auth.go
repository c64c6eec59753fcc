// Package auth authenticates the panel operator. Two credentials are
// accepted: the static operator token from configuration, or an HS256 JWT
// minted with the configured shared secret. With neither configured, auth
// is disabled and every request passes, which is how the panel runs on a
// trusted local network.
package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingBearer = errors.New("missing bearer token")
	ErrInvalidToken  = errors.New("invalid token")
)

type Claims struct {
	Subject string
}

type Authenticator interface {
	Authenticate(r *http.Request) (Claims, error)
}

type PanelAuthenticator struct {
	OperatorToken string
	JWTSecret     []byte
}

// Enabled reports whether any credential is configured.
func (a *PanelAuthenticator) Enabled() bool {
	return a.OperatorToken != "" || len(a.JWTSecret) > 0
}

func (a *PanelAuthenticator) Authenticate(r *http.Request) (Claims, error) {
	if !a.Enabled() {
		return Claims{Subject: "anonymous"}, nil
	}

	bearer, err := extractBearer(r)
	if err != nil {
		return Claims{}, err
	}

	if a.OperatorToken != "" && bearer == a.OperatorToken {
		return Claims{Subject: "operator"}, nil
	}

	if len(a.JWTSecret) > 0 {
		if claims, err := a.authenticateJWT(bearer); err == nil {
			return claims, nil
		}
	}

	return Claims{}, ErrInvalidToken
}

func (a *PanelAuthenticator) authenticateJWT(token string) (Claims, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))

	claims := &jwt.RegisteredClaims{}
	_, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return a.JWTSecret, nil
	})
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return Claims{}, ErrInvalidToken
	}
	return Claims{Subject: claims.Subject}, nil
}

func extractBearer(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingBearer
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", ErrInvalidToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", ErrInvalidToken
	}
	return token, nil
}
