package domain

import "errors"

var (
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrPlanNotFound         = errors.New("plan_not_found")
	ErrDayNotFound          = errors.New("day_not_found")

	ErrSubscriptionInactive = errors.New("subscription_inactive")
	ErrSubscriptionExpired  = errors.New("subscription_expired")

	ErrInvalidDate         = errors.New("invalid_date")
	ErrMealNotFound        = errors.New("meal_not_found")
	ErrMealTypeMismatch    = errors.New("meal_type_mismatch")
	ErrAddonNotFound       = errors.New("addon_not_found")
	ErrPlanInactive        = errors.New("plan_inactive")
	ErrCutoffPassed        = errors.New("cutoff_passed")
	ErrDayLocked           = errors.New("day_locked")
	ErrDayFulfilled        = errors.New("day_fulfilled")
	ErrDaySkipped          = errors.New("day_skipped")
	ErrInvalidTransition   = errors.New("invalid_transition")
	ErrDailyCapExceeded    = errors.New("daily_cap_exceeded")
	ErrInvalidWindow       = errors.New("invalid_delivery_window")
	ErrNotPickupMode       = errors.New("not_pickup_subscription")
	ErrNotDeliveryMode     = errors.New("not_delivery_subscription")
	ErrMissingAddress      = errors.New("missing_delivery_address")
	ErrInvalidDeliveryMode = errors.New("invalid_delivery_mode")
)
