// Package auth extracts bridge API keys from requests.
package auth

import (
	"context"
	"net/http"
	"strings"
)

// QueryParamAPIKey carries the key on websocket upgrades, where browsers
// cannot set an Authorization header.
const QueryParamAPIKey = "api_key"

type Principal struct {
	APIKey string
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok && p != nil
}

func ParseBearer(r *http.Request) (string, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

// APIKeyFrom returns the bearer token, falling back to the api_key query
// parameter.
func APIKeyFrom(r *http.Request) (string, bool) {
	if token, ok := ParseBearer(r); ok {
		return token, true
	}
	key := strings.TrimSpace(r.URL.Query().Get(QueryParamAPIKey))
	return key, key != ""
}
