package pdf

import (
	"errors"
	"fmt"
	"net/http"

	perrors "github.com/jmgilman/go/errors"

	"github.com/richardartoul/docpdf/pkg/document"
)

// Sentinels for the failures of GetOrConvert. Errors returned by the Service
// are platform errors carrying a code and the document as context, and match
// one of these with errors.Is.
var (
	ErrUnsupportedFiletype = errors.New("file type not supported")
	ErrRepositoryNotFound  = errors.New("repository not found")
	ErrFileNotFound        = errors.New("file not found")
	ErrConversionServer    = errors.New("conversion server error")
	ErrStorage             = errors.New("storage failure")
	ErrInvariant           = errors.New("internal invariant violated")
)

func refContext(ref document.Ref) map[string]interface{} {
	return map[string]interface{}{
		"namespace": ref.Namespace,
		"name":      ref.Name,
		"revision":  ref.Revision,
		"path":      ref.Path,
	}
}

// newError builds the platform error for kind. cause may be nil.
func newError(kind error, code perrors.ErrorCode, ref document.Ref, message string, cause error) error {
	inner := kind
	if cause != nil {
		inner = fmt.Errorf("%w: %w", kind, cause)
	}
	return perrors.WrapWithContext(inner, code, message, refContext(ref))
}

func unsupportedError(ref document.Ref, message string) error {
	return newError(ErrUnsupportedFiletype, perrors.CodeInvalidInput, ref, message, nil)
}

func storageError(ref document.Ref, message string, cause error) error {
	return newError(ErrStorage, perrors.CodeInternal, ref, message, cause)
}

// conversionError is never retried here, so it is marked permanent although
// SERVICE_UNAVAILABLE is retryable by default.
func conversionError(ref document.Ref, statusCode int, cause error) error {
	err := newError(ErrConversionServer, perrors.CodeUnavailable, ref, cause.Error(), cause)
	if statusCode != 0 {
		err = perrors.WithContext(err, "status", statusCode)
	}
	return perrors.WithClassification(err, perrors.ClassificationPermanent)
}

// StatusCode maps an error returned by the Service to an HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrUnsupportedFiletype):
		return http.StatusBadRequest
	case errors.Is(err, ErrRepositoryNotFound), errors.Is(err, ErrFileNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConversionServer):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
