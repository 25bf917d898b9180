package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sufrahq/sufra/internal/subscription/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Repository struct{}

func Provide() domain.Repository {
	return &Repository{}
}

func (r *Repository) CreateSubscription(ctx context.Context, db *gorm.DB, sub *domain.Subscription) error {
	return db.WithContext(ctx).Create(sub).Error
}

func (r *Repository) FindSubscription(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := db.WithContext(ctx).First(&sub, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (r *Repository) FindPlan(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Plan, error) {
	var plan domain.Plan
	err := db.WithContext(ctx).First(&plan, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPlanNotFound
		}
		return nil, err
	}
	return &plan, nil
}

func (r *Repository) ActivateSubscription(ctx context.Context, db *gorm.DB, id snowflake.ID, start, end time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, start_date = ?, end_date = ?, validity_end_date = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.SubscriptionStatusActive,
		start,
		end,
		end,
		time.Now().UTC(),
		id,
		domain.SubscriptionStatusPendingPayment,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *Repository) ExtendValidity(ctx context.Context, db *gorm.DB, id snowflake.ID, newEnd time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET validity_end_date = ?, end_date = ?, updated_at = ?
		 WHERE id = ?`,
		newEnd,
		newEnd,
		time.Now().UTC(),
		id,
	).Error
}

func (r *Repository) IncrementSkippedCount(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET skipped_count = skipped_count + 1, updated_at = ?
		 WHERE id = ?`,
		time.Now().UTC(),
		id,
	).Error
}

func (r *Repository) UpdateDeliveryDetails(ctx context.Context, db *gorm.DB, id snowflake.ID, address datatypes.JSON, window string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET delivery_address = ?, delivery_window = ?, updated_at = ?
		 WHERE id = ?`,
		address,
		window,
		time.Now().UTC(),
		id,
	).Error
}

func (r *Repository) CreateDay(ctx context.Context, db *gorm.DB, day *domain.SubscriptionDay) error {
	return db.WithContext(ctx).Create(day).Error
}

func (r *Repository) CreateDays(ctx context.Context, db *gorm.DB, days []domain.SubscriptionDay) error {
	if len(days) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&days).Error
}

func (r *Repository) CountDays(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.SubscriptionDay{}).
		Where("subscription_id = ?", subscriptionID).
		Count(&count).Error
	return count, err
}

func (r *Repository) FindDay(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, date string) (*domain.SubscriptionDay, error) {
	var day domain.SubscriptionDay
	err := db.WithContext(ctx).First(&day, "subscription_id = ? AND date = ?", subscriptionID, date).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrDayNotFound
		}
		return nil, err
	}
	return &day, nil
}

func (r *Repository) FindDayByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.SubscriptionDay, error) {
	var day domain.SubscriptionDay
	err := db.WithContext(ctx).First(&day, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrDayNotFound
		}
		return nil, err
	}
	return &day, nil
}

func (r *Repository) ListDays(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]domain.SubscriptionDay, error) {
	var days []domain.SubscriptionDay
	err := db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("date ASC").
		Find(&days).Error
	return days, err
}

func (r *Repository) ListOpenDaysForDate(ctx context.Context, db *gorm.DB, date string) ([]domain.SubscriptionDay, error) {
	var days []domain.SubscriptionDay
	err := db.WithContext(ctx).
		Where("date = ? AND status = ?", date, domain.DayStatusOpen).
		Order("id ASC").
		Find(&days).Error
	return days, err
}

func (r *Repository) ListDaysForDate(ctx context.Context, db *gorm.DB, date string, statuses []domain.DayStatus) ([]domain.SubscriptionDay, error) {
	query := db.WithContext(ctx).Where("date = ?", date)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	var days []domain.SubscriptionDay
	err := query.Order("id ASC").Find(&days).Error
	return days, err
}

func (r *Repository) MarkSkipped(ctx context.Context, db *gorm.DB, dayID snowflake.ID, fromOpenOnly bool) (bool, error) {
	guard := `status <> ?`
	guardArg := any(domain.DayStatusFulfilled)
	if fromOpenOnly {
		guard = `status = ?`
		guardArg = domain.DayStatusOpen
	}
	result := db.WithContext(ctx).Exec(
		`UPDATE subscription_days
		 SET status = ?, credits_deducted = ?, updated_at = ?
		 WHERE id = ? AND `+guard,
		domain.DayStatusSkipped,
		true,
		time.Now().UTC(),
		dayID,
		guardArg,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *Repository) TransitionStatus(ctx context.Context, db *gorm.DB, dayID snowflake.ID, from, to domain.DayStatus) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE subscription_days
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		to,
		time.Now().UTC(),
		dayID,
		from,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *Repository) SetLockedSnapshot(ctx context.Context, db *gorm.DB, dayID snowflake.ID, snapshot datatypes.JSON, lockedAt time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE subscription_days
		 SET locked_snapshot = ?, locked_at = ?, updated_at = ?
		 WHERE id = ? AND locked_snapshot IS NULL`,
		snapshot,
		lockedAt,
		time.Now().UTC(),
		dayID,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkFulfilled settles a day only from the dispatch statuses; a concurrent
// skip or an earlier fulfillment leaves the row untouched.
func (r *Repository) MarkFulfilled(ctx context.Context, db *gorm.DB, dayID snowflake.ID, snapshot datatypes.JSON, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE subscription_days
		 SET status = ?, fulfilled_at = ?, credits_deducted = ?, fulfilled_snapshot = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		domain.DayStatusFulfilled,
		at,
		true,
		snapshot,
		time.Now().UTC(),
		dayID,
		domain.DayStatusOutForDelivery,
		domain.DayStatusReadyForPickup,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *Repository) MarkLockedForPickup(ctx context.Context, db *gorm.DB, dayID snowflake.ID) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE subscription_days
		 SET status = ?, pickup_requested = ?, credits_deducted = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.DayStatusLocked,
		true,
		true,
		time.Now().UTC(),
		dayID,
		domain.DayStatusOpen,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *Repository) UpdateDaySelections(ctx context.Context, db *gorm.DB, dayID snowflake.ID, selections, premiumSelections datatypes.JSON) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscription_days
		 SET selections = ?, premium_selections = ?, updated_at = ?
		 WHERE id = ?`,
		selections,
		premiumSelections,
		time.Now().UTC(),
		dayID,
	).Error
}

func (r *Repository) UpdateDayAddons(ctx context.Context, db *gorm.DB, dayID snowflake.ID, addons datatypes.JSON) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE subscription_days
		 SET addons_one_time = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		addons,
		time.Now().UTC(),
		dayID,
		domain.DayStatusOpen,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *Repository) UpdateDayCustomSalads(ctx context.Context, db *gorm.DB, dayID snowflake.ID, salads datatypes.JSON) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE subscription_days
		 SET custom_salads = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		salads,
		time.Now().UTC(),
		dayID,
		domain.DayStatusOpen,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *Repository) UpdateDayDeliveryOverride(ctx context.Context, db *gorm.DB, dayID snowflake.ID, address datatypes.JSON, window string) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE subscription_days
		 SET delivery_address_override = ?, delivery_window_override = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		address,
		window,
		time.Now().UTC(),
		dayID,
		domain.DayStatusOpen,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *Repository) MarkAssignedByKitchen(ctx context.Context, db *gorm.DB, dayID snowflake.ID, selections datatypes.JSON) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscription_days
		 SET selections = ?, assigned_by_kitchen = ?, updated_at = ?
		 WHERE id = ?`,
		selections,
		true,
		time.Now().UTC(),
		dayID,
	).Error
}
