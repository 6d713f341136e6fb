package auth

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func newTestHasher(t testing.TB) *Hasher {
	t.Helper()
	h, err := NewHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	return h
}

func TestHashIsSaltedPerCall(t *testing.T) {
	h := newTestHasher(t)
	first, err := h.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	second, err := h.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct digests, got %s twice", first)
	}
	if !h.Verify("correct horse battery", first) || !h.Verify("correct horse battery", second) {
		t.Fatal("expected both digests to verify")
	}
	if h.Verify("correct horse battery!", first) {
		t.Fatal("expected wrong password to fail")
	}
}

func TestVerifyMalformedDigest(t *testing.T) {
	h := newTestHasher(t)
	for _, digest := range []string{"", "plain", "$2a$04$short", strings.Repeat("$", 60)} {
		if h.Verify("whatever", digest) {
			t.Fatalf("expected malformed digest %q to fail", digest)
		}
	}
}

func TestNewHasherCost(t *testing.T) {
	if _, err := NewHasher(bcrypt.MaxCost + 1); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	h, err := NewHasher(0)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	if h.Cost() != DefaultHashCost {
		t.Fatalf("expected default cost %d, got %d", DefaultHashCost, h.Cost())
	}
	digest, err := newTestHasher(t).Hash("password1")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	cost, err := bcrypt.Cost([]byte(digest))
	if err != nil || cost != bcrypt.MinCost {
		t.Fatalf("expected digest cost %d, got %d (%v)", bcrypt.MinCost, cost, err)
	}
}

func TestValidateNewPassword(t *testing.T) {
	if err := ValidateNewPassword("short"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if err := ValidateNewPassword("12345678"); err != nil {
		t.Fatalf("expected 8 characters to pass, got %v", err)
	}
	if err := ValidateNewPassword(strings.Repeat("x", 80)); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected overlong password to fail, got %v", err)
	}
}
