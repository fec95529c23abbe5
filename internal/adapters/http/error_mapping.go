package httpadapter

import (
	"net/http"

	"github.com/akulikov/kbdoc/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrDocumentNotFound),
		domain.IsKind(err, domain.ErrRequestNotFound),
		domain.IsKind(err, domain.ErrBatchNotFound),
		domain.IsKind(err, domain.ErrJobNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrBatchConflict),
		domain.IsKind(err, domain.ErrCanceled):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
