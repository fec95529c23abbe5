package mineru

import (
	"context"
	"errors"

	"github.com/akulikov/kbdoc/internal/core/domain"
	"github.com/akulikov/kbdoc/internal/infrastructure/resilience"
)

// classifyTransport drives the in-call retry and breaker. Temporary
// transport failures retry inside the call; permanent provider answers
// return immediately and do not trip the breaker, since the provider is
// healthy and just said no.
func classifyTransport(err error) resilience.ErrorClassification {
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	case domain.IsKind(err, domain.ErrPermanent):
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	case domain.IsKind(err, domain.ErrTemporary):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	default:
		// Unclassified transport errors (connection reset, EOF) are
		// worth one in-call retry.
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
}
