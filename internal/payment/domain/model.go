package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Type says which effect a paid payment produces.
type Type string

const (
	TypeSubscriptionActivation Type = "subscription_activation"
	TypePremiumTopup           Type = "premium_topup"
	TypeOneTimeAddon           Type = "one_time_addon"
	TypeOneTimeOrder           Type = "one_time_order"
)

type Status string

const (
	StatusInitiated Status = "initiated"
	StatusPaid      Status = "paid"
	StatusFailed    Status = "failed"
)

// Payment is the application ledger row for one provider charge. The applied
// flag is the idempotency latch: effects run exactly once per payment no
// matter how often the provider retries the webhook.
type Payment struct {
	ID                snowflake.ID   `gorm:"primaryKey"`
	Provider          string         `gorm:"type:text;not null"`
	Type              Type           `gorm:"type:text;not null"`
	Status            Status         `gorm:"type:text;not null;default:initiated"`
	Amount            int64          `gorm:"not null"`
	Currency          string         `gorm:"type:text;not null;default:SAR"`
	UserID            *snowflake.ID
	SubscriptionID    *snowflake.ID
	OrderID           *snowflake.ID
	ProviderInvoiceID *string        `gorm:"type:text"`
	ProviderPaymentID *string        `gorm:"type:text"`
	Metadata          datatypes.JSON `gorm:"type:jsonb"`
	Applied           bool           `gorm:"not null;default:false"`
	PaidAt            *time.Time
	CreatedAt         time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Payment) TableName() string { return "payments" }

// WebhookEvent is the provider-independent form of a webhook call, carrying
// the charge identity, its settled state and the effect routing fields the
// checkout flow planted in the invoice metadata.
type WebhookEvent struct {
	ProviderPaymentID string
	ProviderInvoiceID string
	Status            Status
	Amount            int64
	Currency          string

	Type           Type
	UserID         snowflake.ID
	SubscriptionID snowflake.ID
	OrderID        snowflake.ID
	Date           string
	AddonIDs       []snowflake.ID
	PremiumCount   int
}
