// Package auth resolves the opaque caller identity for HTTP requests and
// rate-limits callers. The chat core itself never authenticates; it consumes
// the identity this package resolves.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"avatarchat/pkg/errs"
	"avatarchat/pkg/logger"
	"avatarchat/pkg/utils"
)

// SecConfig drives identity verification and rate limiting.
type SecConfig struct {
	// SigningKeys verify X-User-Signature; empty disables signature checks.
	SigningKeys map[string]struct{}
	RPS         float64
	Burst       int
}

type ctxCallerKey struct{}

// CallerID returns the verified caller id or "".
func CallerID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxCallerKey{}).(string); ok {
		return v
	}
	return ""
}

// Middleware resolves the caller from the X-User-ID header, optionally
// verifies its HMAC-SHA256 signature, applies per-caller rate limiting and
// injects the identity into the request context. Requests without a
// resolvable identity are rejected before any handler runs.
func Middleware(cfg SecConfig) func(http.Handler) http.Handler {
	limiters := newLimiterPool(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
			if userID == "" {
				logger.Log.Warn("missing_identity", zap.String("path", r.URL.Path), zap.String("remote", r.RemoteAddr))
				utils.JSONError(w, http.StatusUnauthorized, "missing caller identity")
				return
			}

			if len(cfg.SigningKeys) > 0 {
				sig := strings.TrimSpace(r.Header.Get("X-User-Signature"))
				if sig == "" {
					logger.Log.Warn("missing_signature", zap.String("path", r.URL.Path), zap.String("user", userID))
					utils.JSONError(w, http.StatusUnauthorized, "missing signature header")
					return
				}
				if !verifySignature(cfg.SigningKeys, userID, sig) {
					logger.Log.Warn("invalid_signature", zap.String("user", userID))
					utils.JSONError(w, http.StatusUnauthorized, "invalid signature")
					return
				}
			}

			if !limiters.Allow(userID) {
				utils.JSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			ctx := context.WithValue(r.Context(), ctxCallerKey{}, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// verifySignature accepts the signature when any configured key matches.
func verifySignature(keys map[string]struct{}, userID, sig string) bool {
	for k := range keys {
		mac := hmac.New(sha256.New, []byte(k))
		mac.Write([]byte(userID))
		expected := hex.EncodeToString(mac.Sum(nil))
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return true
		}
	}
	return false
}

// RequireCaller is a helper for handlers that need the identity directly.
func RequireCaller(ctx context.Context) (string, error) {
	id := CallerID(ctx)
	if id == "" {
		return "", errs.Unauthenticated("no caller identity")
	}
	return id, nil
}
