package gateway

import "errors"

// ErrUnauthenticated is returned when the peer certificate is absent,
// unverified, or its CN does not resolve to an ACTIVE client identity.
var ErrUnauthenticated = errors.New("gateway: unauthenticated")

// ErrValidation wraps a submission payload failure (§4.5 Validation).
type ErrValidation struct {
	Field  string
	Reason string
}

func (e *ErrValidation) Error() string {
	return "gateway: validation failed on " + e.Field + ": " + e.Reason
}
