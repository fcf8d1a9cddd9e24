// Package auth guards the local HTTP surface with static bearer tokens.
// Only bcrypt hashes of the tokens are configured; a verified token is
// remembered by its SHA-256 digest so bcrypt runs once per token.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// TokenPrefix marks relay access tokens.
const TokenPrefix = "nr_"

// GenerateToken returns a new random access token.
func GenerateToken() string {
	return TokenPrefix + RandomHex(24)
}

// RandomHex returns byteLen random bytes hex-encoded.
func RandomHex(byteLen int) string {
	b := make([]byte, byteLen)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// HashToken returns the bcrypt hash to configure for token.
func HashToken(token string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing token: %w", err)
	}
	return string(h), nil
}

// ValidateHash reports whether h is a usable bcrypt hash.
func ValidateHash(h string) error {
	if _, err := bcrypt.Cost([]byte(h)); err != nil {
		return fmt.Errorf("invalid token hash: %w", err)
	}
	return nil
}

// Verifier checks presented tokens against the configured hashes.
type Verifier struct {
	hashes [][]byte

	mu       sync.RWMutex
	verified map[[sha256.Size]byte]struct{}
}

func NewVerifier(hashes []string) *Verifier {
	v := &Verifier{verified: make(map[[sha256.Size]byte]struct{})}
	for _, h := range hashes {
		if h != "" {
			v.hashes = append(v.hashes, []byte(h))
		}
	}
	return v
}

// Enabled reports whether any hash is configured.
func (v *Verifier) Enabled() bool {
	return len(v.hashes) > 0
}

// Verify reports whether token matches one of the configured hashes.
func (v *Verifier) Verify(token string) bool {
	if token == "" {
		return false
	}

	digest := sha256.Sum256([]byte(token))

	v.mu.RLock()
	_, ok := v.verified[digest]
	v.mu.RUnlock()

	if ok {
		return true
	}

	for _, h := range v.hashes {
		if bcrypt.CompareHashAndPassword(h, []byte(token)) == nil {
			v.mu.Lock()
			v.verified[digest] = struct{}{}
			v.mu.Unlock()

			return true
		}
	}

	return false
}
