// Package auth resolves bearer credentials to a caller identity.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

var ErrUnauthorized = errors.New("unauthorized")

// Identity is an authenticated caller. ChannelKey is stable for the caller's
// lifetime and scopes their progress notifications.
type Identity struct {
	ChannelKey string
}

// StaticAuthenticator checks tokens against a fixed token -> channel key table.
type StaticAuthenticator struct {
	tokens map[string]uuid.UUID
}

func NewStaticAuthenticator(tokens map[string]string) (*StaticAuthenticator, error) {
	table := make(map[string]uuid.UUID, len(tokens))
	for token, key := range tokens {
		if token == "" {
			return nil, errors.New("empty token in auth table")
		}
		id, err := uuid.Parse(key)
		if err != nil {
			return nil, fmt.Errorf("channel key for token %q is not a uuid: %w", mask(token), err)
		}
		table[token] = id
	}
	return &StaticAuthenticator{tokens: table}, nil
}

func (a *StaticAuthenticator) Resolve(token string) (Identity, error) {
	id, ok := a.tokens[token]
	if !ok || token == "" {
		return Identity{}, ErrUnauthorized
	}
	return Identity{ChannelKey: id.String()}, nil
}

// Authenticate reads the credential from the Authorization header, or from
// the token query parameter for clients that cannot set headers.
func (a *StaticAuthenticator) Authenticate(r *http.Request) (Identity, error) {
	return a.Resolve(BearerToken(r))
}

func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		const prefix = "bearer "
		if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
			return strings.TrimSpace(h[len(prefix):])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func mask(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "****"
}
