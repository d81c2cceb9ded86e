package transport

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-reverify/core"
)

func transportError(
	message string,
	category goerrors.Category,
	code int,
	metadata map[string]any,
) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(transportTextCode(category))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func transportWrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	metadata map[string]any,
) error {
	if source == nil {
		return transportError(message, category, code, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(transportTextCode(category))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func transportTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return core.ErrorBadInput
	case goerrors.CategoryAuth:
		return core.ErrorUnauthorized
	case goerrors.CategoryAuthz:
		return core.ErrorForbidden
	case goerrors.CategoryRateLimit:
		return core.ErrorRateLimited
	case goerrors.CategoryNotFound:
		return core.ErrorVerificationFailed
	case goerrors.CategoryExternal:
		return core.ErrorExternalFailure
	default:
		return core.ErrorInternal
	}
}

// StatusError classifies a non-2xx response. It returns nil for 2xx and 3xx
// status codes.
func StatusError(res core.TransportResponse, target string) error {
	if res.StatusCode >= 200 && res.StatusCode < 400 {
		return nil
	}
	metadata := map[string]any{"status_code": res.StatusCode, "url": strings.TrimSpace(target)}
	message := fmt.Sprintf("transport: %s returned status %d", strings.TrimSpace(target), res.StatusCode)
	switch {
	case res.StatusCode == http.StatusUnauthorized:
		return transportError(message, goerrors.CategoryAuth, res.StatusCode, metadata)
	case res.StatusCode == http.StatusForbidden:
		return transportError(message, goerrors.CategoryAuthz, res.StatusCode, metadata)
	case res.StatusCode == http.StatusNotFound, res.StatusCode == http.StatusGone:
		return transportError(message, goerrors.CategoryNotFound, res.StatusCode, metadata)
	case res.StatusCode == http.StatusTooManyRequests:
		if delay, ok := RetryAfter(res.Headers, time.Now().UTC()); ok {
			metadata["retry_after_ms"] = delay.Milliseconds()
		}
		return transportError(message, goerrors.CategoryRateLimit, res.StatusCode, metadata)
	case res.StatusCode >= 500:
		return transportError(message, goerrors.CategoryExternal, http.StatusBadGateway, metadata)
	default:
		return transportError(message, goerrors.CategoryBadInput, res.StatusCode, metadata)
	}
}

// RetryAfter reads a Retry-After header expressed either in seconds or as an
// HTTP date.
func RetryAfter(headers map[string]string, now time.Time) (time.Duration, bool) {
	raw := ""
	for key, value := range headers {
		if strings.EqualFold(strings.TrimSpace(key), "Retry-After") {
			raw = strings.TrimSpace(value)
			break
		}
	}
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	at, err := http.ParseTime(raw)
	if err != nil {
		return 0, false
	}
	delay := at.Sub(now)
	if delay < 0 {
		delay = 0
	}
	return delay, true
}
