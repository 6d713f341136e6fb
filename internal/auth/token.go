package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultIssuer is the iss claim used when none is configured.
	DefaultIssuer = "hrgate"
	// DefaultTokenTTL bounds how long an issued access token stays usable.
	DefaultTokenTTL = 15 * time.Minute
	// MinSecretBytes is the shortest accepted HS256 signing secret.
	MinSecretBytes = 32
)

// ErrInvalidToken indicates the token failed validation.
var ErrInvalidToken = errors.New("auth: invalid token")

// Token rejection reasons.
const (
	ReasonMalformed = "malformed"
	ReasonSignature = "signature"
	ReasonExpired   = "expired"
	ReasonClaims    = "claims"
)

// InvalidTokenError describes why a token was rejected. It matches ErrInvalidToken.
type InvalidTokenError struct {
	Reason string
	Err    error
}

func (e *InvalidTokenError) Error() string {
	if e.Err == nil {
		return ErrInvalidToken.Error() + ": " + e.Reason
	}
	return ErrInvalidToken.Error() + ": " + e.Reason + ": " + e.Err.Error()
}

func (e *InvalidTokenError) Is(target error) bool { return target == ErrInvalidToken }

func (e *InvalidTokenError) Unwrap() error { return e.Err }

func invalid(reason string, err error) error {
	return &InvalidTokenError{Reason: reason, Err: err}
}

// Claims is the verified content of a token. Only PrincipalID and ExpiresAt are
// trusted for authorization; Role is informational.
type Claims struct {
	PrincipalID string
	Role        Role
	TokenID     string
	Issuer      string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

type wireClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Codec issues and parses HS256 tokens with a single shared secret.
type Codec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// CodecOption configures a Codec.
type CodecOption func(*Codec) error

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) CodecOption {
	return func(c *Codec) error {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			c.issuer = issuer
		}
		return nil
	}
}

// WithClock overrides the time source used for issued-at and expiry checks.
func WithClock(fn func() time.Time) CodecOption {
	return func(c *Codec) error {
		if fn != nil {
			c.now = fn
		}
		return nil
	}
}

// NewCodec constructs a Codec. The secret is copied and never mutated afterwards.
func NewCodec(secret []byte, opts ...CodecOption) (*Codec, error) {
	if len(secret) < MinSecretBytes {
		return nil, fmt.Errorf("%w: signing secret must be at least %d bytes", ErrValidation, MinSecretBytes)
	}
	c := &Codec{
		secret: append([]byte(nil), secret...),
		issuer: DefaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Now returns the codec's current time.
func (c *Codec) Now() time.Time { return c.now() }

// Issue signs a token for principalID valid until expiresAt.
func (c *Codec) Issue(principalID string, role Role, expiresAt time.Time) (string, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return "", fmt.Errorf("%w: principal id is required", ErrValidation)
	}
	if !role.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}
	if expiresAt.IsZero() {
		return "", fmt.Errorf("%w: expiry is required", ErrValidation)
	}
	now := c.now().UTC()
	claims := wireClaims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   principalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt.UTC()),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies the signature, issuer and expiry of token and returns its claims.
// Every failure is an *InvalidTokenError.
func (c *Codec) Parse(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, invalid(ReasonMalformed, nil)
	}
	var wc wireClaims
	parsed, err := jwt.ParseWithClaims(token, &wc, func(*jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return Claims{}, classify(err)
	}
	if !parsed.Valid {
		return Claims{}, invalid(ReasonSignature, nil)
	}
	if strings.TrimSpace(wc.Subject) == "" {
		return Claims{}, invalid(ReasonClaims, errors.New("subject missing"))
	}
	out := Claims{
		PrincipalID: wc.Subject,
		Role:        Role(wc.Role),
		TokenID:     wc.ID,
		Issuer:      wc.Issuer,
		ExpiresAt:   wc.ExpiresAt.Time,
	}
	if wc.IssuedAt != nil {
		out.IssuedAt = wc.IssuedAt.Time
	}
	return out, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return invalid(ReasonExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return invalid(ReasonSignature, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return invalid(ReasonMalformed, err)
	case errors.Is(err, jwt.ErrTokenInvalidClaims),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing),
		errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenNotValidYet),
		errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return invalid(ReasonClaims, err)
	default:
		return invalid(ReasonMalformed, err)
	}
}
