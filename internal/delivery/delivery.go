// Package delivery tracks the courier leg of a delivery-mode day.
package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Status string

const (
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
)

var ErrDeliveryNotFound = errors.New("delivery_not_found")

// Delivery is one courier run for one subscription day. The day_id unique
// index makes creation idempotent under dispatch retries.
type Delivery struct {
	ID             snowflake.ID   `gorm:"primaryKey"`
	SubscriptionID snowflake.ID   `gorm:"not null"`
	DayID          snowflake.ID   `gorm:"not null;uniqueIndex:ux_deliveries_day"`
	Address        datatypes.JSON `gorm:"type:jsonb"`
	Window         string         `gorm:"type:text;not null;default:''"`
	Status         Status         `gorm:"type:text;not null;default:out_for_delivery"`
	DeliveredAt    *time.Time
	CreatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Delivery) TableName() string { return "deliveries" }

type Repository struct{}

func Provide() *Repository { return &Repository{} }

var Module = fx.Module("delivery",
	fx.Provide(Provide),
)

// Create inserts the courier run, keeping the existing row when one was
// already dispatched for the day.
func (r *Repository) Create(ctx context.Context, db *gorm.DB, d *Delivery) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO deliveries (id, subscription_id, day_id, address, window, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (day_id) DO NOTHING`,
		d.ID,
		d.SubscriptionID,
		d.DayID,
		d.Address,
		d.Window,
		StatusOutForDelivery,
		time.Now().UTC(),
		time.Now().UTC(),
	).Error
}

func (r *Repository) FindByDay(ctx context.Context, db *gorm.DB, dayID snowflake.ID) (*Delivery, error) {
	var d Delivery
	err := db.WithContext(ctx).First(&d, "day_id = ?", dayID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeliveryNotFound
		}
		return nil, err
	}
	return &d, nil
}

// SetStatus moves the courier run between statuses with a compare-and-swap.
func (r *Repository) SetStatus(ctx context.Context, db *gorm.DB, dayID snowflake.ID, from, to Status, deliveredAt *time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE deliveries
		 SET status = ?, delivered_at = ?, updated_at = ?
		 WHERE day_id = ? AND status = ?`,
		to,
		deliveredAt,
		time.Now().UTC(),
		dayID,
		from,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
