package filecache

import (
	"errors"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// requireToken rejects requests without a valid, unexpired HS256 bearer
// token. The token may also be passed as ?token= for EventSource and
// websocket clients, which cannot set headers. With no secret configured
// every request passes; the daemon only allows that in insecure mode.
func (h *Handlers) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(h.secret) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			raw = r.URL.Query().Get("token")
		}
		if raw == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}

		_, err := jwt.Parse(raw, func(*jwt.Token) (any, error) {
			return h.secret, nil
		},
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		)
		if err != nil {
			sub("auth").Warn("token rejected", "url", r.URL.Path, "err", err)
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireNonSimple rejects state-changing requests a browser could send
// cross-site without a CORS preflight: those with no Authorization header
// and no Content-Type, or one of the form/text types.
func requireNonSimple(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			next.ServeHTTP(w, r)
			return
		}
		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		switch mediaType {
		case "", "text/plain", "application/x-www-form-urlencoded", "multipart/form-data":
			sub("auth").Warn("simple request refused", "method", r.Method, "url", r.URL.Path, "contentType", mediaType)
			http.Error(w, "send Content-Type: application/json or an Authorization header", http.StatusUnsupportedMediaType)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IssueToken signs an HS256 token for subject that expires after ttl.
func IssueToken(secret, subject string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", errors.New("token ttl must be positive")
	}
	now := nowFunc()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}).SignedString([]byte(secret))
}
