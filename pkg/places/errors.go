package places

import (
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies an upstream failure for display and HTTP mapping.
type Kind string

// Failure kinds.
const (
	KindQuota       Kind = "quota"
	KindRateLimited Kind = "rate_limited"
	KindAuth        Kind = "auth"
	KindPermission  Kind = "permission"
	KindMalformed   Kind = "malformed_request"
	KindNotFound    Kind = "not_found"
	KindUnavailable Kind = "unavailable"
	KindUnknown     Kind = "unknown"
)

// Endpoint names used in errors and metrics.
const (
	EndpointSearch = "search"
	EndpointDetail = "detail"
)

// UpstreamError is a classified Places API failure. Status is the API-level
// status string when the body carried one.
type UpstreamError struct {
	Endpoint   string
	Kind       Kind
	HTTPStatus int
	Status     string
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "places %s failed (%s)", e.Endpoint, e.Kind)
	if e.Status != "" {
		fmt.Fprintf(&b, ": %s", e.Status)
	} else if e.HTTPStatus != 0 {
		fmt.Fprintf(&b, ": http %d", e.HTTPStatus)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Hint returns a corrective suggestion for the caller, or "" when none applies.
func (e *UpstreamError) Hint() string {
	switch e.Kind {
	case KindQuota:
		return "The Places API quota for this key is exhausted. Raise the quota or wait for the daily reset in Google Cloud Console."
	case KindRateLimited:
		return "Too many requests were sent with this key. Wait a moment and try again."
	case KindAuth:
		return "The API key was rejected. Check that it was copied correctly and has not been deleted or regenerated."
	case KindPermission:
		return "Enable the Places API and billing for this key's project in Google Cloud Console, and check the key's API and referrer restrictions."
	case KindMalformed:
		return "The search could not be understood. Check the keyword and location."
	case KindUnavailable:
		return "The Places API is temporarily unavailable. Try again shortly."
	default:
		return ""
	}
}

// classifyStatus maps an API-level status and its message to a Kind.
func classifyStatus(status, message string) Kind {
	msg := strings.ToLower(message)
	switch status {
	case "OVER_QUERY_LIMIT":
		if strings.Contains(msg, "rate") || strings.Contains(msg, "per second") || strings.Contains(msg, "per minute") {
			return KindRateLimited
		}
		return KindQuota
	case "REQUEST_DENIED":
		switch {
		case strings.Contains(msg, "invalid"), strings.Contains(msg, "expired"), strings.Contains(msg, "must use an api key"):
			return KindAuth
		default:
			return KindPermission
		}
	case "INVALID_REQUEST":
		return KindMalformed
	case "NOT_FOUND":
		return KindNotFound
	case "UNKNOWN_ERROR":
		return KindUnavailable
	default:
		return KindUnknown
	}
}

// classifyHTTP maps a transport-level status code to a Kind.
func classifyHTTP(code int) Kind {
	switch {
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusUnauthorized:
		return KindAuth
	case code == http.StatusForbidden:
		return KindPermission
	case code == http.StatusBadRequest:
		return KindMalformed
	case code == http.StatusNotFound:
		return KindNotFound
	case code >= 500:
		return KindUnavailable
	default:
		return KindUnknown
	}
}
