// Package order holds one-time purchases that settle through the payment
// webhook rather than a subscription balance.
package order

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Status string

const (
	StatusCreated   Status = "created"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

var ErrOrderNotFound = errors.New("order_not_found")

type Order struct {
	ID                snowflake.ID  `gorm:"primaryKey"`
	UserID            snowflake.ID  `gorm:"not null"`
	Status            Status        `gorm:"type:text;not null;default:created"`
	PaymentStatus     PaymentStatus `gorm:"type:text;not null;default:pending"`
	PaymentID         *snowflake.ID
	ProviderInvoiceID *string   `gorm:"type:text"`
	ProviderPaymentID *string   `gorm:"type:text"`
	Total             int64     `gorm:"not null;default:0"`
	ConfirmedAt       *time.Time
	CreatedAt         time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Order) TableName() string { return "orders" }

type Repository struct{}

func Provide() *Repository { return &Repository{} }

var Module = fx.Module("order",
	fx.Provide(Provide),
)

func (r *Repository) Create(ctx context.Context, db *gorm.DB, o *Order) error {
	return db.WithContext(ctx).Create(o).Error
}

func (r *Repository) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error) {
	var o Order
	err := db.WithContext(ctx).First(&o, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &o, nil
}

// Confirm settles the order once; false means it already left the created
// state.
func (r *Repository) Confirm(ctx context.Context, db *gorm.DB, id, paymentID snowflake.ID, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET status = ?, payment_status = ?, payment_id = ?, confirmed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		StatusConfirmed,
		PaymentPaid,
		paymentID,
		at,
		time.Now().UTC(),
		id,
		StatusCreated,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkPaymentFailed records a failed charge without cancelling the order, so
// the user can retry payment.
func (r *Repository) MarkPaymentFailed(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET payment_status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		PaymentFailed,
		time.Now().UTC(),
		id,
		StatusCreated,
	).Error
}
