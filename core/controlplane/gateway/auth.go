package gateway

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/identity"
)

type authContextKey struct{}

// authContext is the verified caller plus the raw token it presented.
type authContext struct {
	Identity *identity.Identity
	Token    string
}

func authFromRequest(r *http.Request) *authContext {
	if r == nil {
		return nil
	}
	if raw := r.Context().Value(authContextKey{}); raw != nil {
		if auth, ok := raw.(*authContext); ok {
			return auth
		}
	}
	return nil
}

// authMiddleware verifies a presented bearer token and injects the caller.
// Requests without a token pass through anonymous; handlers decide.
func (s *server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}
		token := bearerToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		id, err := s.review.Authenticate(r.Context(), token)
		if err != nil {
			writeStatusError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), authContextKey{}, &authContext{Identity: id, Token: token})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireUser returns the caller or writes 401.
func requireUser(w http.ResponseWriter, r *http.Request) (*authContext, bool) {
	auth := authFromRequest(r)
	if auth == nil || auth.Identity == nil {
		writeErrorJSON(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
		return nil, false
	}
	return auth, true
}

func requireAdmin(w http.ResponseWriter, r *http.Request) (*authContext, bool) {
	auth, ok := requireUser(w, r)
	if !ok {
		return nil, false
	}
	if !auth.Identity.Admin() {
		writeErrorJSON(w, http.StatusForbidden, "permission_denied", "admin role required")
		return nil, false
	}
	return auth, true
}

// tokenFromRequest returns the raw token for operations that run the gate themselves.
func tokenFromRequest(r *http.Request) string {
	if auth := authFromRequest(r); auth != nil {
		return auth.Token
	}
	return ""
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return tokenFromWebSocket(r)
}

// tokenFromWebSocket reads "registry-token, <b64url token>" from the
// subprotocol list, since browsers cannot set headers on upgrades.
func tokenFromWebSocket(r *http.Request) string {
	protocols := websocket.Subprotocols(r)
	for i, protocol := range protocols {
		if strings.EqualFold(protocol, wsTokenProtocol) && i+1 < len(protocols) {
			return decodeWSToken(protocols[i+1])
		}
	}
	return ""
}

func decodeWSToken(raw string) string {
	raw = strings.TrimSpace(raw)
	if decoded, err := base64.RawURLEncoding.DecodeString(raw); err == nil {
		return string(decoded)
	}
	return raw
}
