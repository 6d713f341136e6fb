package ids

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	return NewAt(time.Now())
}

// NewAt returns an identifier whose time component is t. Identifiers minted within the
// same millisecond stay ordered.
func NewAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// WithPrefix returns a prefixed identifier such as "aud_01J...".
func WithPrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return New()
	}
	return prefix + "_" + New()
}

// Valid reports whether raw parses as a ULID, optionally behind a "prefix_" tag.
func Valid(raw string) bool {
	if i := strings.LastIndexByte(raw, '_'); i >= 0 {
		raw = raw[i+1:]
	}
	_, err := ulid.ParseStrict(raw)
	return err == nil
}
