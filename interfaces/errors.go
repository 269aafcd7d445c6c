package interfaces

import (
	"errors"
	"fmt"
)

// Error kinds. Lower layers wrap one of these with %w and never retry; callers
// branch with errors.Is.
var (
	// ErrConfiguration is returned when an algorithm or provider is not registered.
	// It is fatal and never retryable.
	ErrConfiguration = errors.New("configuration error")

	// ErrKeyNotFound is returned when a provider's public key is not present on the
	// on-chain account.
	ErrKeyNotFound = errors.New("key not found on account")

	// ErrDecryption is returned when a blob cannot be opened or the decrypted seed
	// phrase fails validation (typically a wrong PIN).
	ErrDecryption = errors.New("decryption failed")

	// ErrNotFound is returned when a remote file or a backup record is absent.
	ErrNotFound = errors.New("not found")

	// ErrIO is returned for network or storage failures.
	ErrIO = errors.New("i/o failure")

	// ErrProtocolRejection is returned when the network rejects a transaction,
	// e.g. for insufficient key weight or a stale sequence number.
	ErrProtocolRejection = errors.New("rejected by protocol")

	// ErrNotReady is returned when a voucher is submitted without an envelope signature.
	ErrNotReady = errors.New("transaction not ready to submit")

	// ErrNoTransactionID is returned when the network accepts a transaction without
	// returning its id.
	ErrNoTransactionID = errors.New("no transaction id returned")
)

// SourceError records which provider, backend or endpoint an error came from.
type SourceError struct {
	Source string
	Op     string
	Err    error
}

// NewSourceError wraps err with its origin.
func NewSourceError(source, op string, err error) *SourceError {
	return &SourceError{Source: source, Op: op, Err: err}
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Op, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the failure can be resolved by retrying, prompting the
// user again, or collecting another share.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrConfiguration), errors.Is(err, ErrKeyNotFound):
		return false
	case errors.Is(err, ErrIO), errors.Is(err, ErrDecryption), errors.Is(err, ErrProtocolRejection):
		return true
	default:
		return false
	}
}

// Kind returns the error kind sentinel err wraps, or nil when unclassified.
func Kind(err error) error {
	for _, kind := range []error{
		ErrConfiguration,
		ErrKeyNotFound,
		ErrDecryption,
		ErrNotFound,
		ErrIO,
		ErrProtocolRejection,
		ErrNotReady,
		ErrNoTransactionID,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
