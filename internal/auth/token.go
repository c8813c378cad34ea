package auth

import (
	"errors"
	"net/http"
	"strings"
)

var (
	ErrMissingAuthorization   = errors.New("authorization header is missing")
	ErrMalformedAuthorization = errors.New("authorization header format must be 'Bearer {token}'")
)

// ExtractTokenFromRequest returns the bearer token from the Authorization
// header.
func ExtractTokenFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrMissingAuthorization
	}

	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrMalformedAuthorization
	}

	return parts[1], nil
}
