package catalog

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

const (
	MealTypeRegular = "regular"
	MealTypePremium = "premium"
)

const (
	AddonTypeSubscription = "subscription"
	AddonTypeOneTime      = "one_time"
)

type Meal struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	Name      string       `gorm:"type:text;not null"`
	Type      string       `gorm:"type:text;not null;default:regular"`
	IsActive  bool         `gorm:"not null;default:true"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Meal) TableName() string { return "meals" }

func (m *Meal) IsPremium() bool { return m.Type == MealTypePremium }

// Addon prices are in halalas.
type Addon struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	Name      string       `gorm:"type:text;not null"`
	Type      string       `gorm:"type:text;not null"`
	Price     int64        `gorm:"not null"`
	IsActive  bool         `gorm:"not null;default:true"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Addon) TableName() string { return "addons" }

type SaladIngredient struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	NameEn      string       `gorm:"column:name_en;type:text;not null"`
	NameAr      string       `gorm:"column:name_ar;type:text;not null;default:''"`
	Price       int64        `gorm:"not null;default:0"`
	Calories    int          `gorm:"not null;default:0"`
	MaxQuantity int          `gorm:"not null;default:0"`
	IsActive    bool         `gorm:"not null;default:true"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (SaladIngredient) TableName() string { return "salad_ingredients" }

// Repository is the read surface over the menu catalog.
type Repository struct{}

func Provide() *Repository { return &Repository{} }

var Module = fx.Module("catalog",
	fx.Provide(Provide),
)

// FindMeals loads the given meals, active or not. Selections reference meals
// by value, so an inactive meal on an already-chosen day still resolves.
func (r *Repository) FindMeals(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]Meal, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var meals []Meal
	err := db.WithContext(ctx).Where("id IN ?", ids).Find(&meals).Error
	return meals, err
}

func (r *Repository) ListActiveMeals(ctx context.Context, db *gorm.DB) ([]Meal, error) {
	var meals []Meal
	err := db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("id ASC").
		Find(&meals).Error
	return meals, err
}

// DefaultMealIDs returns up to count active regular meals, used when the
// cutoff sweep must fill a day the subscriber never chose.
func (r *Repository) DefaultMealIDs(ctx context.Context, db *gorm.DB, count int) ([]snowflake.ID, error) {
	if count <= 0 {
		return nil, nil
	}
	var meals []Meal
	err := db.WithContext(ctx).
		Where("is_active = ? AND type = ?", true, MealTypeRegular).
		Order("id ASC").
		Limit(count).
		Find(&meals).Error
	if err != nil {
		return nil, err
	}
	ids := make([]snowflake.ID, 0, len(meals))
	for _, meal := range meals {
		ids = append(ids, meal.ID)
	}
	return ids, nil
}

func (r *Repository) FindAddons(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]Addon, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var addons []Addon
	err := db.WithContext(ctx).Where("id IN ?", ids).Find(&addons).Error
	return addons, err
}

func (r *Repository) ListActiveAddons(ctx context.Context, db *gorm.DB) ([]Addon, error) {
	var addons []Addon
	err := db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("id ASC").
		Find(&addons).Error
	return addons, err
}

func (r *Repository) FindIngredients(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]SaladIngredient, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var ingredients []SaladIngredient
	err := db.WithContext(ctx).Where("id IN ?", ids).Find(&ingredients).Error
	return ingredients, err
}

func (r *Repository) ListActiveIngredients(ctx context.Context, db *gorm.DB) ([]SaladIngredient, error) {
	var ingredients []SaladIngredient
	err := db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("id ASC").
		Find(&ingredients).Error
	return ingredients, err
}
