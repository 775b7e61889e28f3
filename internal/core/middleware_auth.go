package core

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"reviewsms/internal/config"
	"reviewsms/internal/types"
)

// APIKeyHeader carries the pre-shared credential.
const APIKeyHeader = "X-API-Key"

var authPublicPaths = map[string]bool{
	"/health": true,
}

// KeyVerifier checks a presented API key.
type KeyVerifier interface {
	Verify(key string) bool
}

// StaticKeyVerifier compares against a plaintext key in constant time.
type StaticKeyVerifier struct {
	key []byte
}

func (v StaticKeyVerifier) Verify(key string) bool {
	return subtle.ConstantTimeCompare([]byte(key), v.key) == 1
}

// BcryptKeyVerifier compares against a bcrypt hash of the key.
type BcryptKeyVerifier struct {
	hash []byte
}

func (v BcryptKeyVerifier) Verify(key string) bool {
	return bcrypt.CompareHashAndPassword(v.hash, []byte(key)) == nil
}

// NewKeyVerifier prefers API_KEY_HASH over API_KEY. It returns an error when
// neither is configured.
func NewKeyVerifier(cfg config.ServerConfig) (KeyVerifier, error) {
	if err := cfg.RequireAPIKey(); err != nil {
		return nil, err
	}
	if !cfg.APIKeyHash.IsEmpty() {
		return BcryptKeyVerifier{hash: []byte(cfg.APIKeyHash.Unmask())}, nil
	}
	return StaticKeyVerifier{key: []byte(cfg.APIKey.Unmask())}, nil
}

// APIKeyMiddleware rejects requests without a valid X-API-Key before any
// handler runs. Public paths are exempt.
func (s *Server) APIKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Keys == nil || authPublicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "X-API-Key header is required", nil))
			return
		}
		if !s.Keys.Verify(key) {
			s.Logger.Warn("authentication failed: invalid api key",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
			)
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "Invalid API key", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}
