package domain

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type SubscriptionStatus string

const (
	SubscriptionStatusPendingPayment SubscriptionStatus = "pending_payment"
	SubscriptionStatusActive         SubscriptionStatus = "active"
	SubscriptionStatusExpired        SubscriptionStatus = "expired"
)

type DeliveryMode string

const (
	DeliveryModeDelivery DeliveryMode = "delivery"
	DeliveryModePickup   DeliveryMode = "pickup"
)

// Address is stored by value on subscriptions, day overrides and snapshots.
type Address struct {
	Line1 string `json:"line1"`
	Line2 string `json:"line2,omitempty"`
	City  string `json:"city"`
	Notes string `json:"notes,omitempty"`
}

// AddonRef is a recurring add-on captured by value at checkout time so later
// catalog edits cannot change what a subscriber bought.
type AddonRef struct {
	AddonID snowflake.ID `json:"addon_id"`
	Name    string       `json:"name"`
	Price   int64        `json:"price"`
	Type    string       `json:"type"`
}

// Plan is the purchasable meal plan definition.
type Plan struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	Name          string       `gorm:"type:text;not null"`
	DaysCount     int          `gorm:"not null"`
	MealsPerDay   int          `gorm:"not null"`
	Grams         int          `gorm:"not null;default:0"`
	Price         int64        `gorm:"not null"`
	SkipAllowance int          `gorm:"not null;default:0"`
	IsActive      bool         `gorm:"not null;default:true"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Plan) TableName() string { return "plans" }

// Subscription owns the meal-credit balances. Once active, balances and
// status move only through the ledger and the skip/fulfillment flows.
type Subscription struct {
	ID                 snowflake.ID       `gorm:"primaryKey"`
	UserID             snowflake.ID       `gorm:"not null;index"`
	PlanID             snowflake.ID       `gorm:"not null"`
	Status             SubscriptionStatus `gorm:"type:text;not null;default:pending_payment"`
	StartDate          *time.Time
	EndDate            *time.Time
	ValidityEndDate    *time.Time
	TotalMeals         int            `gorm:"not null"`
	RemainingMeals     int            `gorm:"not null"`
	PremiumRemaining   int            `gorm:"not null;default:0"`
	PremiumPrice       int64          `gorm:"not null;default:0"`
	AddonSubscriptions datatypes.JSON `gorm:"type:jsonb"`
	DeliveryMode       DeliveryMode   `gorm:"type:text;not null"`
	DeliveryAddress    datatypes.JSON `gorm:"type:jsonb"`
	DeliveryWindow     string         `gorm:"type:text;not null;default:''"`
	SkippedCount       int            `gorm:"not null;default:0"`
	CreatedAt          time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Subscription) TableName() string { return "subscriptions" }

// Addons decodes the by-value recurring add-on list.
func (s *Subscription) Addons() []AddonRef {
	var refs []AddonRef
	if len(s.AddonSubscriptions) > 0 {
		_ = json.Unmarshal(s.AddonSubscriptions, &refs)
	}
	return refs
}

// Address decodes the default delivery address, nil when unset.
func (s *Subscription) Address() *Address {
	if len(s.DeliveryAddress) == 0 {
		return nil
	}
	var addr Address
	if err := json.Unmarshal(s.DeliveryAddress, &addr); err != nil {
		return nil
	}
	return &addr
}

// ValidityEnd is the effective last date of the subscription, favoring the
// compensation-extended validity end over the original end date.
func (s *Subscription) ValidityEnd() *time.Time {
	if s.ValidityEndDate != nil {
		return s.ValidityEndDate
	}
	return s.EndDate
}

// SubscriptionDay is one calendar date's record for one subscription.
// History is append-only; days are never deleted.
type SubscriptionDay struct {
	ID                      snowflake.ID   `gorm:"primaryKey"`
	SubscriptionID          snowflake.ID   `gorm:"not null;uniqueIndex:ux_subscription_days_sub_date,priority:1"`
	Date                    string         `gorm:"type:text;not null;uniqueIndex:ux_subscription_days_sub_date,priority:2"`
	Status                  DayStatus      `gorm:"type:text;not null;default:open"`
	Selections              datatypes.JSON `gorm:"type:jsonb"`
	PremiumSelections       datatypes.JSON `gorm:"type:jsonb"`
	AddonsOneTime           datatypes.JSON `gorm:"type:jsonb"`
	CustomSalads            datatypes.JSON `gorm:"type:jsonb"`
	AssignedByKitchen       bool           `gorm:"not null;default:false"`
	PickupRequested         bool           `gorm:"not null;default:false"`
	CreditsDeducted         bool           `gorm:"not null;default:false"`
	DeliveryAddressOverride datatypes.JSON `gorm:"type:jsonb"`
	DeliveryWindowOverride  string         `gorm:"type:text;not null;default:''"`
	LockedSnapshot          datatypes.JSON `gorm:"type:jsonb"`
	FulfilledSnapshot       datatypes.JSON `gorm:"type:jsonb"`
	LockedAt                *time.Time
	FulfilledAt             *time.Time
	CreatedAt               time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt               time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (SubscriptionDay) TableName() string { return "subscription_days" }

// SelectionIDs decodes the regular meal selections.
func (d *SubscriptionDay) SelectionIDs() []snowflake.ID {
	return decodeIDs(d.Selections)
}

// PremiumSelectionIDs decodes the premium meal selections.
func (d *SubscriptionDay) PremiumSelectionIDs() []snowflake.ID {
	return decodeIDs(d.PremiumSelections)
}

// AddonOneTimeIDs decodes the one-time add-on list.
func (d *SubscriptionDay) AddonOneTimeIDs() []snowflake.ID {
	return decodeIDs(d.AddonsOneTime)
}

// AddressOverride decodes the day-level address override, nil when unset.
func (d *SubscriptionDay) AddressOverride() *Address {
	if len(d.DeliveryAddressOverride) == 0 {
		return nil
	}
	var addr Address
	if err := json.Unmarshal(d.DeliveryAddressOverride, &addr); err != nil {
		return nil
	}
	if addr == (Address{}) {
		return nil
	}
	return &addr
}

func decodeIDs(raw datatypes.JSON) []snowflake.ID {
	var ids []snowflake.ID
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &ids)
	}
	return ids
}

// EncodeIDs serializes an ID list for a JSON column.
func EncodeIDs(ids []snowflake.ID) datatypes.JSON {
	if ids == nil {
		ids = []snowflake.ID{}
	}
	raw, _ := json.Marshal(ids)
	return raw
}

// EffectiveDelivery resolves the day-level override against the subscription
// defaults.
func EffectiveDelivery(sub *Subscription, day *SubscriptionDay) (*Address, string) {
	addr := sub.Address()
	window := sub.DeliveryWindow
	if day != nil {
		if override := day.AddressOverride(); override != nil {
			addr = override
		}
		if day.DeliveryWindowOverride != "" {
			window = day.DeliveryWindowOverride
		}
	}
	return addr, window
}

// PricingRef pins the prices in force when a day was locked.
type PricingRef struct {
	PlanID       snowflake.ID `json:"plan_id"`
	PremiumPrice int64        `json:"premium_price"`
	Addons       []AddonRef   `json:"addons"`
}

// LockedSnapshotData is the immutable billable content of a day, captured by
// value at lock time. It is the single source of truth for kitchen
// preparation and fulfillment billing.
type LockedSnapshotData struct {
	Selections         []snowflake.ID  `json:"selections"`
	PremiumSelections  []snowflake.ID  `json:"premium_selections"`
	AddonsOneTime      []snowflake.ID  `json:"addons_one_time"`
	CustomSalads       json.RawMessage `json:"custom_salads,omitempty"`
	SubscriptionAddons []AddonRef      `json:"subscription_addons"`
	Address            *Address        `json:"address"`
	DeliveryWindow     string          `json:"delivery_window"`
	Pricing            PricingRef      `json:"pricing"`
	MealsPerDay        int             `json:"meals_per_day"`
}

// FulfilledSnapshotData records exactly what was delivered and how many
// credits the fulfillment deducted, making repeat fulfillment calls
// side-effect-free.
type FulfilledSnapshotData struct {
	Selections        []snowflake.ID `json:"selections"`
	PremiumSelections []snowflake.ID `json:"premium_selections"`
	AddonsOneTime     []snowflake.ID `json:"addons_one_time"`
	DeductedCredits   int            `json:"deducted_credits"`
}

// DecodeFulfilledSnapshot parses the stored fulfilled snapshot, nil when the
// day was never fulfilled through the engine.
func (d *SubscriptionDay) DecodeFulfilledSnapshot() *FulfilledSnapshotData {
	if len(d.FulfilledSnapshot) == 0 {
		return nil
	}
	var snap FulfilledSnapshotData
	if err := json.Unmarshal(d.FulfilledSnapshot, &snap); err != nil {
		return nil
	}
	return &snap
}

// DecodeLockedSnapshot parses the stored locked snapshot, nil when the day is
// not locked yet.
func (d *SubscriptionDay) DecodeLockedSnapshot() *LockedSnapshotData {
	if len(d.LockedSnapshot) == 0 {
		return nil
	}
	var snap LockedSnapshotData
	if err := json.Unmarshal(d.LockedSnapshot, &snap); err != nil {
		return nil
	}
	return &snap
}
