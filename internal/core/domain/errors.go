package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrBatchNotFound    = errors.New("batch not found")
	ErrJobNotFound      = errors.New("job not found")
	ErrRequestNotFound  = errors.New("request not found")
	ErrInvalidInput     = errors.New("invalid input")

	// ErrBatchConflict: the document already has a non-terminal batch.
	ErrBatchConflict = errors.New("active batch exists")

	// ErrClaimLost: a conditional claim matched no row, another worker
	// holds the job or it already reached a terminal state.
	ErrClaimLost = errors.New("claim not acquired")

	// ErrTemporary drives the retry/backoff path.
	ErrTemporary = errors.New("temporary failure")

	// ErrPermanent skips remaining retries.
	ErrPermanent = errors.New("permanent failure")

	ErrCanceled = errors.New("processing canceled")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
