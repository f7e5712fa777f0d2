package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/JakeFAU/leadfinder/internal/enrich"
	"github.com/JakeFAU/leadfinder/internal/ledger"
	"github.com/JakeFAU/leadfinder/pkg/places"
)

const (
	hintInvalid      = "Fill in keyword, location and apiKey."
	hintNoCredit     = "This key has no credit left. Top up to continue searching."
	hintTimeout      = "The search took too long. Try a narrower keyword or location."
	msgInternalError = "internal error"
)

// classify maps a pipeline error to an HTTP status and response body.
func classify(err error) (int, errorBody) {
	var upstream *places.UpstreamError
	switch {
	case errors.Is(err, enrich.ErrInvalidRequest):
		return http.StatusBadRequest, errorBody{Error: err.Error(), Hint: hintInvalid}
	case errors.Is(err, ledger.ErrInsufficientCredit):
		return http.StatusPaymentRequired, errorBody{Error: "insufficient credit", Hint: hintNoCredit}
	case errors.Is(err, enrich.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorBody{Error: "request timed out", Hint: hintTimeout}
	case errors.As(err, &upstream):
		return upstreamStatus(upstream.Kind), errorBody{Error: upstream.Error(), Hint: upstream.Hint()}
	default:
		return http.StatusInternalServerError, errorBody{Error: msgInternalError}
	}
}

func upstreamStatus(kind places.Kind) int {
	switch kind {
	case places.KindQuota, places.KindRateLimited:
		return http.StatusTooManyRequests
	case places.KindAuth, places.KindPermission:
		return http.StatusForbidden
	default:
		return http.StatusBadGateway
	}
}
