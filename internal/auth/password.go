package auth

import (
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"hrgate.org/internal/obs"
)

const (
	// DefaultHashCost is the bcrypt work factor used when none is configured.
	DefaultHashCost = 10
	// MinPasswordLength is the shortest plaintext accepted by password changes.
	MinPasswordLength = 8
	// bcrypt ignores input beyond 72 bytes; longer passwords are rejected instead of truncated.
	maxPasswordBytes = 72
)

// Hasher hashes and verifies passwords with bcrypt. It is immutable after construction.
type Hasher struct {
	cost  int
	dummy []byte
}

// NewHasher returns a Hasher using cost, or DefaultHashCost when cost is zero.
func NewHasher(cost int) (*Hasher, error) {
	if cost == 0 {
		cost = DefaultHashCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("%w: hash cost %d outside [%d, %d]", ErrValidation, cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("hrgate-timing-equalizer"), cost)
	if err != nil {
		return nil, fmt.Errorf("auth: prepare hasher: %w", err)
	}
	return &Hasher{cost: cost, dummy: dummy}, nil
}

// Cost reports the configured work factor.
func (h *Hasher) Cost() int { return h.cost }

// Hash returns a salted digest of plaintext. Two calls never return the same digest.
func (h *Hasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("%w: password is empty", ErrValidation)
	}
	if len(plaintext) > maxPasswordBytes {
		return "", fmt.Errorf("%w: password longer than %d bytes", ErrValidation, maxPasswordBytes)
	}
	start := time.Now()
	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	obs.ObservePasswordHash(time.Since(start))
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(digest), nil
}

// Verify reports whether plaintext matches digest. A malformed digest yields false.
func (h *Hasher) Verify(plaintext, digest string) bool {
	if digest == "" {
		return false
	}
	start := time.Now()
	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext))
	obs.ObservePasswordHash(time.Since(start))
	return err == nil
}

// burn runs a comparison against a fixed digest so unknown accounts cost the same as known ones.
func (h *Hasher) burn(plaintext string) {
	start := time.Now()
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(plaintext))
	obs.ObservePasswordHash(time.Since(start))
}

// ValidateNewPassword enforces the password policy for changes.
func ValidateNewPassword(plaintext string) error {
	if len([]rune(plaintext)) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrValidation, MinPasswordLength)
	}
	if len(plaintext) > maxPasswordBytes {
		return fmt.Errorf("%w: password must be at most %d bytes", ErrValidation, maxPasswordBytes)
	}
	return nil
}
