package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sufrahq/sufra/internal/delivery"
	"github.com/sufrahq/sufra/internal/ksatime"
	ledgerdomain "github.com/sufrahq/sufra/internal/ledger/domain"
	"github.com/sufrahq/sufra/internal/order"
	paymentdomain "github.com/sufrahq/sufra/internal/payment/domain"
	"github.com/sufrahq/sufra/internal/salad"
	subdomain "github.com/sufrahq/sufra/internal/subscription/domain"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not_found")
	ErrRateLimited  = errors.New("rate_limited")
)

type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string { return e.Code }

func invalidRequestError() error {
	return &apiError{Status: http.StatusBadRequest, Code: "invalid_request", Message: "request body is malformed"}
}

func newValidationError(code, message string) error {
	return &apiError{Status: http.StatusUnprocessableEntity, Code: code, Message: message}
}

var notFoundErrors = []error{
	ErrNotFound,
	subdomain.ErrSubscriptionNotFound,
	subdomain.ErrPlanNotFound,
	subdomain.ErrDayNotFound,
	paymentdomain.ErrPaymentNotFound,
	order.ErrOrderNotFound,
	delivery.ErrDeliveryNotFound,
}

var conflictErrors = []error{
	subdomain.ErrCutoffPassed,
	subdomain.ErrDayLocked,
	subdomain.ErrDayFulfilled,
	subdomain.ErrDaySkipped,
	subdomain.ErrInvalidTransition,
	ledgerdomain.ErrInsufficientCredits,
	ledgerdomain.ErrInsufficientPremium,
}

var unprocessableErrors = []error{
	subdomain.ErrSubscriptionInactive,
	subdomain.ErrSubscriptionExpired,
	subdomain.ErrPlanInactive,
	subdomain.ErrInvalidDate,
	subdomain.ErrMealNotFound,
	subdomain.ErrMealTypeMismatch,
	subdomain.ErrAddonNotFound,
	subdomain.ErrDailyCapExceeded,
	subdomain.ErrInvalidWindow,
	subdomain.ErrNotPickupMode,
	subdomain.ErrNotDeliveryMode,
	subdomain.ErrMissingAddress,
	subdomain.ErrInvalidDeliveryMode,
	ledgerdomain.ErrInvalidAmount,
	salad.ErrEmptySalad,
	salad.ErrInvalidQuantity,
	salad.ErrUnknownIngredient,
	salad.ErrInactiveIngredient,
	salad.ErrQuantityExceeded,
	ksatime.ErrInvalidCutoff,
}

func matchAny(err error, targets []error) error {
	for _, target := range targets {
		if errors.Is(err, target) {
			return target
		}
	}
	return nil
}

// AbortWithError translates a domain error into the HTTP response. Unknown
// errors become opaque 500s so internals never leak to clients.
func AbortWithError(c *gin.Context, err error) {
	var ae *apiError
	if errors.As(err, &ae) {
		c.AbortWithStatusJSON(ae.Status, gin.H{"error": gin.H{"code": ae.Code, "message": ae.Message}})
		return
	}

	status := http.StatusInternalServerError
	code := "internal_error"

	switch {
	case matchAny(err, notFoundErrors) != nil:
		status, code = http.StatusNotFound, err.Error()
	case matchAny(err, conflictErrors) != nil:
		status, code = http.StatusConflict, err.Error()
	case matchAny(err, unprocessableErrors) != nil:
		status, code = http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, paymentdomain.ErrInvalidSignature), errors.Is(err, ErrUnauthorized):
		status, code = http.StatusUnauthorized, err.Error()
	case errors.Is(err, paymentdomain.ErrInvalidPayload), errors.Is(err, paymentdomain.ErrInvalidEvent):
		status, code = http.StatusBadRequest, err.Error()
	case errors.Is(err, ErrRateLimited):
		status, code = http.StatusTooManyRequests, err.Error()
	}

	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"code": code}})
}
