// Package errors maps internal failures to HTTP statuses and messages that
// are safe to show API callers.
package errors

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"cryptofx/api_gateway/internal/keystore"
	"cryptofx/api_gateway/internal/marketdata"
)

const defaultPublicMessage = "request failed"

type rule struct {
	target  error
	status  int
	message string
	// passthrough exposes the error text itself; only for errors built
	// from caller input.
	passthrough bool
}

var rules = []rule{
	{target: marketdata.ErrInvalidRequest, status: http.StatusBadRequest, passthrough: true},
	{target: marketdata.ErrUnsupportedCurrency, status: http.StatusBadRequest, passthrough: true},
	{target: marketdata.ErrUpstreamFetchFailed, status: http.StatusServiceUnavailable, message: "market data provider temporarily unavailable"},
	{target: keystore.ErrNotFound, status: http.StatusNotFound, message: "resource not found"},
	{target: context.DeadlineExceeded, status: http.StatusGatewayTimeout, message: "request timed out"},
}

// Classify returns the HTTP status and public message for err. Unknown
// errors map to 500 with fallback.
func Classify(err error, fallback string) (int, string) {
	if err == nil {
		return http.StatusInternalServerError, fallbackMessage(fallback)
	}
	for _, r := range rules {
		if !errors.Is(err, r.target) {
			continue
		}
		if r.passthrough {
			return r.status, SanitizeMessage(err.Error(), fallback, []string{r.target.Error()})
		}
		return r.status, r.message
	}
	return http.StatusInternalServerError, fallbackMessage(fallback)
}

// SanitizeMessage returns message when it contains one of the allowed
// substrings and fallback otherwise.
func SanitizeMessage(message, fallback string, allowed []string) string {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return fallbackMessage(fallback)
	}
	lowered := strings.ToLower(trimmed)
	for _, allow := range allowed {
		if allow == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(allow)) {
			return trimmed
		}
	}
	return fallbackMessage(fallback)
}

func fallbackMessage(fallback string) string {
	if fallback == "" {
		return defaultPublicMessage
	}
	return fallback
}
