// Package brokererrors defines the error taxonomy shared by every core
// component. Kinds are distinguished with errors.Is, not with type
// switches, so wrapping with fmt.Errorf("%w", ...) keeps working end to end.
package brokererrors

import "errors"

var (
	// ErrInvalidArgument marks caller input the Registry rejects outright.
	// Never retried.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotAvailable is the Engine's "none" sentinel. Not an error in the
	// exceptional sense — callers are expected to check for it.
	ErrNotAvailable = errors.New("no key available")

	// ErrQueueTimeout marks a wait-queue job or requester deadline elapsing.
	ErrQueueTimeout = errors.New("queue timeout")

	// ErrStoreTransient marks a store/queue call that failed for reasons
	// expected to clear on retry (network hiccup, lock contention).
	ErrStoreTransient = errors.New("store transient error")

	// ErrStoreFatal marks a corrupted document or schema mismatch. The
	// caller should skip the offending record, not crash.
	ErrStoreFatal = errors.New("store fatal error")
)

// Kind classifies an error against the taxonomy above. Unrecognized errors
// classify as KindUnknown.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidArgument
	KindNotAvailable
	KindQueueTimeout
	KindStoreTransient
	KindStoreFatal
)

func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrNotAvailable):
		return KindNotAvailable
	case errors.Is(err, ErrQueueTimeout):
		return KindQueueTimeout
	case errors.Is(err, ErrStoreTransient):
		return KindStoreTransient
	case errors.Is(err, ErrStoreFatal):
		return KindStoreFatal
	default:
		return KindUnknown
	}
}

// Code returns a short, stable string naming err's Kind, suitable for
// wire formats (JSON, Redis) that can't round-trip the error interface
// itself. Empty string means no error.
func Code(err error) string {
	switch Classify(err) {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindNotAvailable:
		return "not_available"
	case KindQueueTimeout:
		return "queue_timeout"
	case KindStoreTransient:
		return "store_transient"
	case KindStoreFatal:
		return "store_fatal"
	case KindUnknown:
		if err == nil {
			return ""
		}
		return "unknown"
	default:
		return "unknown"
	}
}

// FromCode reverses Code, mapping a wire code back to the matching
// sentinel error. An unrecognized non-empty code maps to ErrStoreFatal
// rather than being silently dropped.
func FromCode(code string) error {
	switch code {
	case "":
		return nil
	case "invalid_argument":
		return ErrInvalidArgument
	case "not_available":
		return ErrNotAvailable
	case "queue_timeout":
		return ErrQueueTimeout
	case "store_transient":
		return ErrStoreTransient
	case "store_fatal":
		return ErrStoreFatal
	default:
		return ErrStoreFatal
	}
}
