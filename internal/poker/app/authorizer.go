package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenCookieName = "pd_token"
	tokenQueryParam = "token"
)

// Identity is the resolved participant behind a websocket connection.
type Identity struct {
	UserID string
	Name   string
}

// Authorizer resolves an access token into a participant identity.
type Authorizer interface {
	Authenticate(ctx context.Context, accessToken string) (Identity, error)
}

type jwtAuthorizer struct {
	secret []byte
}

// NewJWTAuthorizer verifies HS256 tokens signed with the shared secret. The
// subject claim carries the user id and the name claim the display name.
func NewJWTAuthorizer(secret []byte) Authorizer {
	return &jwtAuthorizer{secret: secret}
}

func (a *jwtAuthorizer) Authenticate(_ context.Context, accessToken string) (Identity, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return Identity{}, errors.New("access token is required")
	}

	token, err := jwt.Parse(accessToken, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return Identity{}, fmt.Errorf("parse access token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, errors.New("unexpected token claims")
	}
	subject, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(subject) == "" {
		return Identity{}, errors.New("token subject is required")
	}

	name, _ := claims["name"].(string)
	name = strings.TrimSpace(name)
	if name == "" {
		name = subject
	}

	return Identity{UserID: strings.TrimSpace(subject), Name: name}, nil
}

func accessTokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if cookie, err := r.Cookie(tokenCookieName); err == nil {
		if token := strings.TrimSpace(cookie.Value); token != "" {
			return token
		}
	}
	return strings.TrimSpace(r.URL.Query().Get(tokenQueryParam))
}

// devIdentityFromRequest reads the identity from plain query parameters.
// Only the auth-disabled constructor uses it.
func devIdentityFromRequest(r *http.Request) Identity {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		userID = "participant"
	}
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		name = userID
	}
	return Identity{UserID: userID, Name: name}
}
