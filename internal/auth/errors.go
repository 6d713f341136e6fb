package auth

import "errors"

var (
	// ErrUnauthenticated is the single refusal surfaced for missing, invalid, expired or
	// revoked credentials and for principals that are gone or inactive.
	ErrUnauthenticated = errors.New("auth: not authenticated")
	// ErrForbidden is returned when an authenticated caller fails a scope rule.
	ErrForbidden = errors.New("auth: access denied")
	// ErrValidation marks user-correctable input problems.
	ErrValidation = errors.New("auth: invalid input")
	// ErrStoreFailure marks credential store or audit sink failures; fatal to the request.
	ErrStoreFailure = errors.New("auth: store failure")
	// ErrNotFound is returned by stores when a principal or scope does not exist.
	ErrNotFound = errors.New("auth: not found")
	// ErrConflict is returned by stores on uniqueness violations.
	ErrConflict = errors.New("auth: conflict")
)

// Refusal is an authentication refusal carrying the internal reason for logs and metrics.
// It matches ErrUnauthenticated under errors.Is; the reason never reaches the caller.
type Refusal struct {
	Reason string
	Err    error
}

func (r *Refusal) Error() string {
	if r.Err != nil {
		return ErrUnauthenticated.Error() + " (" + r.Reason + "): " + r.Err.Error()
	}
	return ErrUnauthenticated.Error() + " (" + r.Reason + ")"
}

func (r *Refusal) Is(target error) bool { return target == ErrUnauthenticated }

func (r *Refusal) Unwrap() error { return r.Err }

// Refusal reasons.
const (
	ReasonMissingCredential = "missing_credential"
	ReasonBadScheme         = "bad_scheme"
	ReasonPrincipalMissing  = "principal_missing"
	ReasonPrincipalInactive = "principal_inactive"
	ReasonRevoked           = "revoked"
	ReasonBadCredentials    = "bad_credentials"
)

func refuse(reason string, err error) error {
	return &Refusal{Reason: reason, Err: err}
}

// RefusalReason returns the internal reason of an authentication refusal, or "" when err
// is not one.
func RefusalReason(err error) string {
	var r *Refusal
	if errors.As(err, &r) {
		return r.Reason
	}
	var inv *InvalidTokenError
	if errors.As(err, &inv) {
		return "token_" + inv.Reason
	}
	return ""
}
