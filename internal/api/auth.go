package api

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	tokenHashSaltLength = 16
	tokenHashKeyLength  = 32
	tokenHashIterations = 120000
)

// ErrInvalidToken is returned when a presented bearer token does not match
// the configured API token.
var ErrInvalidToken = errors.New("invalid api token")

// TokenGuard verifies bearer tokens against a salted PBKDF2 hash of the
// configured API token. The plaintext token is discarded after hashing, so a
// process memory dump never exposes it directly.
type TokenGuard struct {
	encodedHash string
}

// NewTokenGuard hashes the configured token. An empty token disables the
// guard entirely.
func NewTokenGuard(token string) (*TokenGuard, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return &TokenGuard{}, nil
	}
	hash, err := hashToken(token)
	if err != nil {
		return nil, err
	}
	return &TokenGuard{encodedHash: hash}, nil
}

// Enabled reports whether requests must carry a bearer token.
func (g *TokenGuard) Enabled() bool {
	return g != nil && g.encodedHash != ""
}

// Authorize checks the request's Authorization header against the configured
// token. It is a no-op when the guard is disabled.
func (g *TokenGuard) Authorize(r *http.Request) error {
	if !g.Enabled() {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return errors.New("missing bearer token")
	}
	return verifyToken(g.encodedHash, strings.TrimSpace(header[len(prefix):]))
}

// Middleware rejects unauthorized requests with a JSON 401.
func (g *TokenGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := g.Authorize(r); err != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func hashToken(token string) (string, error) {
	salt := make([]byte, tokenHashSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(token), salt, tokenHashIterations, tokenHashKeyLength, sha256.New)
	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedKey := base64.RawStdEncoding.EncodeToString(derived)
	return fmt.Sprintf("pbkdf2$sha256$%d$%s$%s", tokenHashIterations, encodedSalt, encodedKey), nil
}

func verifyToken(encodedHash, candidate string) error {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 5 {
		return fmt.Errorf("verify token: invalid hash format")
	}
	if parts[0] != "pbkdf2" || parts[1] != "sha256" {
		return fmt.Errorf("verify token: unsupported hash identifier")
	}
	iterations, err := strconv.Atoi(parts[2])
	if err != nil || iterations <= 0 {
		return fmt.Errorf("verify token: invalid iteration count")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return fmt.Errorf("verify token: decode salt: %w", err)
	}
	storedKey, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("verify token: decode hash: %w", err)
	}
	derived := pbkdf2.Key([]byte(candidate), salt, iterations, len(storedKey), sha256.New)
	if len(derived) != len(storedKey) || subtle.ConstantTimeCompare(derived, storedKey) != 1 {
		return ErrInvalidToken
	}
	return nil
}
