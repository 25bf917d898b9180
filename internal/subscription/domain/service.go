package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sufrahq/sufra/internal/salad"
	"gorm.io/gorm"
)

// SkipOutcome distinguishes a skip that took effect from one that found the
// day already skipped. Both are success responses.
type SkipOutcome string

const (
	SkipOutcomeSkipped        SkipOutcome = "skipped"
	SkipOutcomeAlreadySkipped SkipOutcome = "already_skipped"
)

type SkipResult struct {
	Outcome         SkipOutcome
	Day             *SubscriptionDay
	CompensatedDate string
}

// CheckoutInput is what a client submits to buy a plan. Recurring add-ons are
// referenced by ID and captured by value during checkout.
type CheckoutInput struct {
	UserID         snowflake.ID
	PlanID         snowflake.ID
	DeliveryMode   DeliveryMode
	Address        *Address
	DeliveryWindow string
	AddonIDs       []snowflake.ID
}

// Quote is a priced checkout preview. Amounts are in halalas.
type Quote struct {
	PlanID      snowflake.ID `json:"plan_id"`
	PlanName    string       `json:"plan_name"`
	PlanPrice   int64        `json:"plan_price"`
	DaysCount   int          `json:"days_count"`
	MealsPerDay int          `json:"meals_per_day"`
	Addons      []AddonRef   `json:"addons"`
	AddonsTotal int64        `json:"addons_total"`
	Total       int64        `json:"total"`
	Currency    string       `json:"currency"`
}

type CheckoutResult struct {
	Subscription *Subscription
	Quote        *Quote
}

// Service is the subscriber-facing lifecycle surface: checkout, the editable
// pre-cutoff day window, skips with compensation, and pickup preparation.
type Service interface {
	Preview(ctx context.Context, input CheckoutInput) (*Quote, error)
	Checkout(ctx context.Context, input CheckoutInput) (*CheckoutResult, error)

	// Activate flips a pending subscription to active and generates its day
	// calendar. It reports false without error when the subscription was
	// already activated, so payment webhook replays are harmless.
	Activate(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, now time.Time) (bool, error)

	Get(ctx context.Context, subscriptionID snowflake.ID) (*Subscription, error)
	Days(ctx context.Context, subscriptionID snowflake.ID) ([]SubscriptionDay, error)

	SkipDay(ctx context.Context, subscriptionID snowflake.ID, date string) (*SkipResult, error)
	SkipRange(ctx context.Context, subscriptionID snowflake.ID, from, to string) ([]SkipResult, error)

	// ApplySkipForDate is the transactional core of a skip. The db handle must
	// be a transaction; a failed credit debit aborts it wholesale.
	ApplySkipForDate(ctx context.Context, db *gorm.DB, sub *Subscription, plan *Plan, date string, allowLocked bool) (*SkipResult, error)

	UpdateDaySelections(ctx context.Context, subscriptionID snowflake.ID, date string, selections, premiumSelections []snowflake.ID) (*SubscriptionDay, error)
	SetDayAddons(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, date string, addonIDs []snowflake.ID) (*SubscriptionDay, error)
	AttachCustomSalad(ctx context.Context, subscriptionID snowflake.ID, date string, items []salad.Item) (*SubscriptionDay, error)

	PreparePickup(ctx context.Context, subscriptionID snowflake.ID, date string) (*SubscriptionDay, error)

	// EnsureLockedSnapshot captures the day's billable content exactly once.
	// Concurrent callers converge on whichever snapshot won the write.
	EnsureLockedSnapshot(ctx context.Context, db *gorm.DB, sub *Subscription, plan *Plan, day *SubscriptionDay) (*SubscriptionDay, error)

	UpdateDeliveryDetails(ctx context.Context, subscriptionID snowflake.ID, address *Address, window string) (*Subscription, error)
	UpdateDayDelivery(ctx context.Context, subscriptionID snowflake.ID, date string, address *Address, window string) (*SubscriptionDay, error)
}
