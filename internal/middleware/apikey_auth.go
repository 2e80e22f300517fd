package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

type contextKey string

const (
	ctxIntegrationKey contextKey = "integration"
	ctxClaimsKey      contextKey = "claims"
)

// APIKeyAuth authenticates webhook callers by hashing the Bearer token (SHA-256) and
// comparing it with the configured digests. On success the digest is stored in the
// request context so later middleware can key on the caller.
func APIKeyAuth(keyHashes []string) func(http.Handler) http.Handler {
	allowed := make([][]byte, 0, len(keyHashes))
	for _, h := range keyHashes {
		if b, err := hex.DecodeString(strings.TrimSpace(strings.ToLower(h))); err == nil && len(b) == sha256.Size {
			allowed = append(allowed, b)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				http.Error(w, `{"error":"missing or malformed Authorization header"}`, http.StatusUnauthorized)
				return
			}
			sum := sha256.Sum256([]byte(raw))
			match := false
			for _, a := range allowed {
				if subtle.ConstantTimeCompare(sum[:], a) == 1 {
					match = true
				}
			}
			if !match {
				http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), ctxIntegrationKey, hex.EncodeToString(sum[:]))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IntegrationFromCtx returns the key digest of the authenticated integration, or "".
func IntegrationFromCtx(ctx context.Context) string {
	s, _ := ctx.Value(ctxIntegrationKey).(string)
	return s
}

// HashKey returns the hex SHA-256 digest under which an integration key is configured.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
