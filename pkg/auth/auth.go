// Package auth guards the HTTP API with bearer API keys.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMissingToken = errors.New("missing Authorization header")
	ErrInvalidToken = errors.New("invalid API key")
)

// KeyRing checks presented keys against configured entries. An entry that looks
// like a bcrypt hash is compared with bcrypt; anything else is a plain key.
type KeyRing struct {
	hashes []string
	plain  []string

	mu       sync.RWMutex
	verified map[string]struct{}
}

// NewKeyRing builds a ring from configured keys or bcrypt hashes
func NewKeyRing(entries []string) *KeyRing {
	kr := &KeyRing{verified: make(map[string]struct{})}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		switch {
		case e == "":
		case isBcryptHash(e):
			kr.hashes = append(kr.hashes, e)
		default:
			kr.plain = append(kr.plain, e)
		}
	}
	return kr
}

// Len returns the number of usable entries
func (kr *KeyRing) Len() int {
	return len(kr.hashes) + len(kr.plain)
}

// Validate returns nil if key matches any entry
func (kr *KeyRing) Validate(key string) error {
	if key == "" {
		return ErrMissingToken
	}
	for _, p := range kr.plain {
		if SecureCompare(key, p) {
			return nil
		}
	}

	// bcrypt is slow on purpose, so remember keys that already passed
	kr.mu.RLock()
	_, ok := kr.verified[key]
	kr.mu.RUnlock()
	if ok {
		return nil
	}

	for _, h := range kr.hashes {
		if bcrypt.CompareHashAndPassword([]byte(h), []byte(key)) == nil {
			kr.mu.Lock()
			kr.verified[key] = struct{}{}
			kr.mu.Unlock()
			return nil
		}
	}
	return ErrInvalidToken
}

// Middleware requires "Authorization: Bearer <key>" on every path not listed in open
func (kr *KeyRing) Middleware(open ...string) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(open))
	for _, p := range open {
		skip[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			token, found := strings.CutPrefix(header, "Bearer ")
			if !found {
				token = ""
			}
			if err := kr.Validate(strings.TrimSpace(token)); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("WWW-Authenticate", `Bearer realm="physician"`)
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"detail": err.Error()})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GenerateAPIKey returns a new random key
func GenerateAPIKey() (string, error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", fmt.Errorf("failed to generate API key: %w", err)
	}
	return base64.URLEncoding.EncodeToString(keyBytes), nil
}

// HashAPIKey returns the bcrypt hash to put in server.auth.api_keys
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}
	return string(hash), nil
}

// SecureCompare performs constant-time comparison
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func isBcryptHash(s string) bool {
	_, err := bcrypt.Cost([]byte(s))
	return err == nil
}
