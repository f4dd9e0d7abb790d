package core

import "errors"

// Common errors
var (
	ErrViewNotFound       = errors.New("feature view not found")
	ErrViewExists         = errors.New("feature view already exists")
	ErrCompanyNotFound    = errors.New("company not found")
	ErrInvalidRecord      = errors.New("invalid feature record")
	ErrDimensionMismatch  = errors.New("culture vector dimension mismatch")
	ErrOutOfOrderWrite    = errors.New("write timestamp older than stored record")
	ErrBatchTooLarge      = errors.New("batch size exceeds configured maximum")
	ErrInvalidTimeRange   = errors.New("invalid time range")
	ErrModelNotFound      = errors.New("model version not found")
	ErrModelExists        = errors.New("model version already registered")
	ErrModelAlreadyActive = errors.New("model version already active")
	ErrModelRetired       = errors.New("model version is retired")
	ErrNoActiveModel      = errors.New("no active model version")
	ErrStoreUnavailable   = errors.New("feature storage unavailable")
	ErrTimeout            = errors.New("request deadline exceeded")
)

// ErrorKind classifies errors for retry and surfacing decisions.
type ErrorKind int

const (
	// KindClient marks malformed input. Never retried.
	KindClient ErrorKind = iota
	// KindNotFound marks lookups of unknown companies or models. Never retried.
	KindNotFound
	// KindConflict marks out-of-order writes. The ingestion caller decides
	// whether to retry with corrected data.
	KindConflict
	// KindTransient marks storage or cache unavailability and timeouts.
	// Readers may retry with backoff and then degrade.
	KindTransient
	// KindFatal marks conditions that must block an operation outright,
	// such as a model/data dimension disagreement at activation time.
	KindFatal
	// KindInternal is everything else.
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindClient:
		return "client"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "internal"
	}
}

// Classify maps an error to its kind. Wrapped errors are unwrapped via
// errors.Is, so callers can annotate freely with fmt.Errorf("...: %w", err).
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrViewNotFound),
		errors.Is(err, ErrViewExists),
		errors.Is(err, ErrInvalidRecord),
		errors.Is(err, ErrBatchTooLarge),
		errors.Is(err, ErrInvalidTimeRange),
		errors.Is(err, ErrModelExists),
		errors.Is(err, ErrModelAlreadyActive),
		errors.Is(err, ErrModelRetired):
		return KindClient
	case errors.Is(err, ErrCompanyNotFound),
		errors.Is(err, ErrModelNotFound),
		errors.Is(err, ErrNoActiveModel):
		return KindNotFound
	case errors.Is(err, ErrOutOfOrderWrite):
		return KindConflict
	case errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrTimeout):
		return KindTransient
	case errors.Is(err, ErrDimensionMismatch):
		return KindFatal
	default:
		return KindInternal
	}
}

// IsRetryable reports whether a read may be retried before degrading.
func IsRetryable(err error) bool {
	return Classify(err) == KindTransient
}
