package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Repository is the storage surface for subscriptions and their days. Every
// method takes an explicit db handle so callers can compose repository calls
// into a larger transaction.
//
// Methods returning (bool, error) are conditional updates: false means the
// guard did not hold and nothing was written.
type Repository interface {
	CreateSubscription(ctx context.Context, db *gorm.DB, sub *Subscription) error
	FindSubscription(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindPlan(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Plan, error)

	// ActivateSubscription flips pending_payment to active and sets the
	// validity dates; false when the subscription was not pending.
	ActivateSubscription(ctx context.Context, db *gorm.DB, id snowflake.ID, start, end time.Time) (bool, error)
	ExtendValidity(ctx context.Context, db *gorm.DB, id snowflake.ID, newEnd time.Time) error
	IncrementSkippedCount(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	UpdateDeliveryDetails(ctx context.Context, db *gorm.DB, id snowflake.ID, address datatypes.JSON, window string) error

	CreateDay(ctx context.Context, db *gorm.DB, day *SubscriptionDay) error
	CreateDays(ctx context.Context, db *gorm.DB, days []SubscriptionDay) error
	CountDays(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (int64, error)
	FindDay(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, date string) (*SubscriptionDay, error)
	FindDayByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*SubscriptionDay, error)
	ListDays(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]SubscriptionDay, error)
	ListOpenDaysForDate(ctx context.Context, db *gorm.DB, date string) ([]SubscriptionDay, error)
	ListDaysForDate(ctx context.Context, db *gorm.DB, date string, statuses []DayStatus) ([]SubscriptionDay, error)

	// MarkSkipped moves a day to skipped keyed on its previously observed
	// status: when fromOpenOnly, the guard is status = open; otherwise
	// status <> fulfilled.
	MarkSkipped(ctx context.Context, db *gorm.DB, dayID snowflake.ID, fromOpenOnly bool) (bool, error)

	// TransitionStatus performs a compare-and-swap status move.
	TransitionStatus(ctx context.Context, db *gorm.DB, dayID snowflake.ID, from, to DayStatus) (bool, error)

	// SetLockedSnapshot writes the snapshot once; false when a snapshot was
	// already present.
	SetLockedSnapshot(ctx context.Context, db *gorm.DB, dayID snowflake.ID, snapshot datatypes.JSON, lockedAt time.Time) (bool, error)

	// MarkFulfilled sets fulfilled state and snapshot conditioned on the day
	// not being fulfilled yet.
	MarkFulfilled(ctx context.Context, db *gorm.DB, dayID snowflake.ID, snapshot datatypes.JSON, at time.Time) (bool, error)

	// MarkLockedForPickup locks an open day and latches credits_deducted in
	// one conditional write.
	MarkLockedForPickup(ctx context.Context, db *gorm.DB, dayID snowflake.ID) (bool, error)

	UpdateDaySelections(ctx context.Context, db *gorm.DB, dayID snowflake.ID, selections, premiumSelections datatypes.JSON) error
	UpdateDayAddons(ctx context.Context, db *gorm.DB, dayID snowflake.ID, addons datatypes.JSON) (bool, error)
	UpdateDayCustomSalads(ctx context.Context, db *gorm.DB, dayID snowflake.ID, salads datatypes.JSON) (bool, error)
	UpdateDayDeliveryOverride(ctx context.Context, db *gorm.DB, dayID snowflake.ID, address datatypes.JSON, window string) (bool, error)
	MarkAssignedByKitchen(ctx context.Context, db *gorm.DB, dayID snowflake.ID, selections datatypes.JSON) error
}
