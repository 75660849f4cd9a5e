package domain

import (
	"github.com/cockroachdb/errors"
)

// Error kinds. Every error returned by the core carries exactly one of these
// markers so callers can branch with errors.Is regardless of wrapping.
var (
	ErrValidation             = errors.New("validation error")
	ErrNotFound               = errors.New("not found")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrPaymentProcessor       = errors.New("payment processor error")
	ErrPartialFailure         = errors.New("partial failure")
	ErrDuplicateNotification  = errors.New("duplicate notification")
)

// kindError tags a cause with one of the kinds above. Both the standard
// errors.Is and cockroachdb/errors.Is see the kind through its Is method.
type kindError struct {
	cause error
	kind  error
}

func (e *kindError) Error() string        { return e.cause.Error() }
func (e *kindError) Unwrap() error        { return e.cause }
func (e *kindError) Is(target error) bool { return target == e.kind }

func withKind(err, kind error) error {
	return &kindError{cause: err, kind: kind}
}

func Validationf(format string, args ...any) error {
	return withKind(errors.Newf(format, args...), ErrValidation)
}

func NotFoundf(format string, args ...any) error {
	return withKind(errors.Newf(format, args...), ErrNotFound)
}

func Unauthorizedf(format string, args ...any) error {
	return withKind(errors.Newf(format, args...), ErrUnauthorized)
}

func InvalidTransitionf(from, to string) error {
	return withKind(errors.Newf("cannot move booking from %s to %s", from, to), ErrInvalidTransition)
}

// InvalidStatef reports an operation the current booking or intent status does not allow.
func InvalidStatef(format string, args ...any) error {
	return withKind(errors.Newf(format, args...), ErrInvalidTransition)
}

func ConcurrentModificationf(format string, args ...any) error {
	return withKind(errors.Newf(format, args...), ErrConcurrentModification)
}

// ProcessorError wraps a failure reported by, or while reaching, the payment processor.
func ProcessorError(err error, op string) error {
	return withKind(errors.Wrapf(err, "payment processor %s", op), ErrPaymentProcessor)
}

// PartialFailureError wraps a local persistence failure that happened after
// money already moved at the processor.
func PartialFailureError(err error, detail string) error {
	return withKind(errors.WithDetail(errors.Wrap(err, "local state not updated after processor success"), detail), ErrPartialFailure)
}

// Kind returns the outermost kind carried by err, or nil for unclassified
// errors. A partial failure caused by a conflict is a partial failure.
func Kind(err error) error {
	for c := err; c != nil; c = errors.UnwrapOnce(c) {
		if ke, ok := c.(*kindError); ok {
			return ke.kind
		}
	}
	if errors.Is(err, ErrDuplicateNotification) {
		return ErrDuplicateNotification
	}
	return nil
}
