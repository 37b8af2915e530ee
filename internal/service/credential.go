package service

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const deviceTokenBytes = 32

// PasscodeHasher hashes and verifies teacher passwords and student passcodes with bcrypt.
// Secrets are reduced to a fixed-width SHA-256 digest first, so bcrypt's 72-byte input limit
// never applies to class names or long passwords.
type PasscodeHasher struct {
	cost  int
	decoy []byte
}

// NewPasscodeHasher constructs a hasher. Out-of-range costs fall back to bcrypt.DefaultCost.
func NewPasscodeHasher(cost int) *PasscodeHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	decoy, err := bcrypt.GenerateFromPassword(prepare("decoy-secret"), cost)
	if err != nil {
		decoy = nil
	}
	return &PasscodeHasher{cost: cost, decoy: decoy}
}

// Hash returns a salted digest of secret.
func (h *PasscodeHasher) Hash(secret string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword(prepare(secret), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(digest), nil
}

// Verify reports whether secret matches digest. Malformed digests simply do not match.
func (h *PasscodeHasher) Verify(secret, digest string) bool {
	if digest == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), prepare(secret)) == nil
}

// Burn spends the same work as a real verification so missing accounts are not observable by timing.
func (h *PasscodeHasher) Burn(secret string) {
	if h.decoy != nil {
		_ = bcrypt.CompareHashAndPassword(h.decoy, prepare(secret))
	}
}

// UnusableHash returns the digest of a random secret nobody knows. Teacher proxies carry one.
func (h *PasscodeHasher) UnusableHash() (string, error) {
	secret, err := randomToken(24)
	if err != nil {
		return "", err
	}
	return h.Hash(secret)
}

// prepare maps any secret to 44 bytes of base64 text. The encoding keeps NUL bytes out of bcrypt's input.
func prepare(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sum)))
	base64.StdEncoding.Encode(out, sum[:])
	return out
}

func randomToken(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// isMintedToken reports whether s has the exact shape randomToken(size) produces.
func isMintedToken(s string, size int) bool {
	if len(s) != base64.RawURLEncoding.EncodedLen(size) {
		return false
	}
	raw, err := base64.RawURLEncoding.Strict().DecodeString(s)
	return err == nil && len(raw) == size
}

func sameToken(a, b string) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
