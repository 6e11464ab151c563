package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/JonMunkholm/importer/internal/config"
	"github.com/JonMunkholm/importer/internal/core"
)

type subjectKey struct{}

// Subject returns the authenticated subject stored by Auth, or "".
func Subject(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}

// Auth accepts a request carrying either a configured X-API-Key or an HS256
// bearer token signed with the JWT secret. Browsers cannot set headers on
// WebSocket and EventSource requests, so the token may also come in the
// "token" query parameter. With RequireAuth off every request passes.
func Auth(cfg *config.SecurityConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.RequireAuth {
				next.ServeHTTP(w, r)
				return
			}

			subject, err := authenticate(cfg, r)
			if err != nil {
				slog.Warn("auth: rejected request",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
					"reason", err,
				)
				unauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), subjectKey{}, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authenticate(cfg *config.SecurityConfig, r *http.Request) (string, error) {
	if key := r.Header.Get("X-API-Key"); key != "" {
		if !isValidAPIKey(key, cfg.APIKeys) {
			return "", errors.New("invalid API key")
		}
		return "api-key", nil
	}

	token := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); h != "" {
		var ok bool
		token, ok = strings.CutPrefix(h, "Bearer ")
		if !ok {
			return "", errors.New("unsupported authorization scheme")
		}
	}
	if token == "" {
		return "", errors.New("missing credentials")
	}
	if cfg.JWTSecret == "" {
		return "", errors.New("bearer tokens are not enabled")
	}
	return ParseToken(token, []byte(cfg.JWTSecret))
}

// ParseToken validates an HS256 token and returns its subject.
func ParseToken(token string, secret []byte) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

func unauthorized(w http.ResponseWriter) {
	msg := core.MapError(core.ErrUnauthorized)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   msg.Message,
		"message": msg.Message,
		"action":  msg.Action,
		"code":    msg.Code,
	})
}

// isValidAPIKey compares key against every configured key in constant time.
func isValidAPIKey(key string, validKeys []string) bool {
	valid := 0
	for _, validKey := range validKeys {
		valid |= subtle.ConstantTimeCompare([]byte(key), []byte(validKey))
	}
	return valid == 1
}
