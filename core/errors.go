package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorBadInput           = "REVERIFY_BAD_INPUT"
	ErrorVerifierNotFound   = "REVERIFY_VERIFIER_NOT_FOUND"
	ErrorRunNotFound        = "REVERIFY_RUN_NOT_FOUND"
	ErrorRunFailed          = "REVERIFY_RUN_FAILED"
	ErrorRunTimeout         = "REVERIFY_RUN_TIMEOUT"
	ErrorRunConflict        = "REVERIFY_RUN_CONFLICT"
	ErrorRateLimited        = "REVERIFY_RATE_LIMITED"
	ErrorUnauthorized       = "REVERIFY_UNAUTHORIZED"
	ErrorForbidden          = "REVERIFY_FORBIDDEN"
	ErrorVerificationFailed = "REVERIFY_VERIFICATION_FAILED"
	ErrorExternalFailure    = "REVERIFY_EXTERNAL_FAILURE"
	ErrorInternal           = "REVERIFY_INTERNAL_ERROR"
)

// MapError converts any error into a go-errors envelope carrying a text code
// and an HTTP status.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrInvalidTier), errors.Is(err, ErrInvalidIdentityKind):
		return NewError(err.Error(), goerrors.CategoryBadInput, ErrorBadInput)
	case errors.Is(err, ErrVerifierNotFound):
		return NewError(err.Error(), goerrors.CategoryNotFound, ErrorVerifierNotFound)
	case errors.Is(err, ErrRunNotFound):
		return NewError(err.Error(), goerrors.CategoryNotFound, ErrorRunNotFound)
	case errors.Is(err, ErrRunTimedOut):
		return NewError(err.Error(), goerrors.CategoryOperation, ErrorRunTimeout)
	case errors.Is(err, ErrRunFailed):
		return NewError(err.Error(), goerrors.CategoryOperation, ErrorRunFailed)
	case errors.Is(err, ErrTierRunAlreadyActive):
		return NewError(err.Error(), goerrors.CategoryConflict, ErrorRunConflict)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return NewError(err.Error(), goerrors.CategoryRateLimit, ErrorRateLimited)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return NewError(err.Error(), goerrors.CategoryBadInput, ErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureErrorEnvelope(mapped)
}

func NewError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureErrorEnvelope(goerrors.New(message, category).WithTextCode(textCode))
}

func WrapError(source error, category goerrors.Category, message string, textCode string) *goerrors.Error {
	if source == nil {
		return NewError(message, category, textCode)
	}
	return ensureErrorEnvelope(goerrors.Wrap(source, category, message).WithTextCode(textCode))
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = HTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = TextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func TextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorRunNotFound
	case goerrors.CategoryAuth:
		return ErrorUnauthorized
	case goerrors.CategoryAuthz:
		return ErrorForbidden
	case goerrors.CategoryConflict:
		return ErrorRunConflict
	case goerrors.CategoryRateLimit:
		return ErrorRateLimited
	case goerrors.CategoryOperation:
		return ErrorRunFailed
	case goerrors.CategoryExternal:
		return ErrorExternalFailure
	default:
		return ErrorInternal
	}
}

func HTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// IsRetryable reports whether a failed verifier call may be attempted again.
// Input, lookup and credential errors are permanent; everything else,
// including plain errors, is presumed transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var classified interface{ Retryable() bool }
	if errors.As(err, &classified) {
		return classified.Retryable()
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch richErr.Category {
		case goerrors.CategoryBadInput,
			goerrors.CategoryValidation,
			goerrors.CategoryNotFound,
			goerrors.CategoryAuth,
			goerrors.CategoryAuthz:
			return false
		}
	}
	return !errors.Is(err, ErrVerifierNotFound)
}
