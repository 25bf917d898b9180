// Package seed bootstraps an empty database with the default runtime
// settings and a starter catalog so a fresh install is usable immediately.
// Every step is idempotent; seeding an already-populated database is a no-op.
package seed

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sufrahq/sufra/internal/catalog"
	"github.com/sufrahq/sufra/internal/settings"
	subdomain "github.com/sufrahq/sufra/internal/subscription/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var defaultSettings = map[string]any{
	settings.KeyCutoffTime:           "21:00",
	settings.KeyDeliveryWindows:      []string{"08:00-11:00", "12:00-15:00", "17:00-20:00"},
	settings.KeySkipAllowance:        3,
	settings.KeyPremiumPrice:         20.0,
	settings.KeyOneTimeMealPrice:     25.0,
	settings.KeyCustomSaladBasePrice: 0.0,
}

// EnsureDefaults seeds settings and the starter catalog.
func EnsureDefaults(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureSettings(ctx, tx); err != nil {
			return err
		}
		if err := ensurePlans(ctx, tx, node); err != nil {
			return err
		}
		if err := ensureMeals(ctx, tx, node); err != nil {
			return err
		}
		if err := ensureAddons(ctx, tx, node); err != nil {
			return err
		}
		return ensureIngredients(ctx, tx, node)
	})
}

func ensureSettings(ctx context.Context, tx *gorm.DB) error {
	for key, value := range defaultSettings {
		raw, err := json.Marshal(value)
		if err != nil {
			return err
		}
		err = tx.WithContext(ctx).Exec(
			`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT (key) DO NOTHING`,
			key,
			datatypes.JSON(raw),
			time.Now().UTC(),
		).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func ensurePlans(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	var count int64
	if err := tx.WithContext(ctx).Model(&subdomain.Plan{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	plans := []subdomain.Plan{
		{ID: node.Generate(), Name: "Lite 20", DaysCount: 20, MealsPerDay: 1, Grams: 150, Price: 60000, SkipAllowance: 3, IsActive: true},
		{ID: node.Generate(), Name: "Balance 26", DaysCount: 26, MealsPerDay: 2, Grams: 150, Price: 130000, SkipAllowance: 4, IsActive: true},
		{ID: node.Generate(), Name: "Athlete 26", DaysCount: 26, MealsPerDay: 3, Grams: 200, Price: 190000, SkipAllowance: 4, IsActive: true},
	}
	return tx.WithContext(ctx).Create(&plans).Error
}

func ensureMeals(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	var count int64
	if err := tx.WithContext(ctx).Model(&catalog.Meal{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	meals := []catalog.Meal{
		{ID: node.Generate(), Name: "Grilled Chicken & Rice", Type: catalog.MealTypeRegular, IsActive: true},
		{ID: node.Generate(), Name: "Beef Kabsa", Type: catalog.MealTypeRegular, IsActive: true},
		{ID: node.Generate(), Name: "Baked Salmon", Type: catalog.MealTypePremium, IsActive: true},
		{ID: node.Generate(), Name: "Shrimp Saleeg", Type: catalog.MealTypePremium, IsActive: true},
	}
	return tx.WithContext(ctx).Create(&meals).Error
}

func ensureAddons(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	var count int64
	if err := tx.WithContext(ctx).Model(&catalog.Addon{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	addons := []catalog.Addon{
		{ID: node.Generate(), Name: "Daily Salad", Type: catalog.AddonTypeSubscription, Price: 800, IsActive: true},
		{ID: node.Generate(), Name: "Daily Juice", Type: catalog.AddonTypeSubscription, Price: 600, IsActive: true},
		{ID: node.Generate(), Name: "Protein Bar", Type: catalog.AddonTypeOneTime, Price: 1200, IsActive: true},
		{ID: node.Generate(), Name: "Fruit Box", Type: catalog.AddonTypeOneTime, Price: 1500, IsActive: true},
	}
	return tx.WithContext(ctx).Create(&addons).Error
}

func ensureIngredients(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	var count int64
	if err := tx.WithContext(ctx).Model(&catalog.SaladIngredient{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	ingredients := []catalog.SaladIngredient{
		{ID: node.Generate(), NameEn: "Lettuce", NameAr: "خس", Price: 200, Calories: 15, MaxQuantity: 2, IsActive: true},
		{ID: node.Generate(), NameEn: "Cherry Tomato", NameAr: "طماطم كرزية", Price: 300, Calories: 20, MaxQuantity: 3, IsActive: true},
		{ID: node.Generate(), NameEn: "Grilled Chicken", NameAr: "دجاج مشوي", Price: 900, Calories: 120, MaxQuantity: 2, IsActive: true},
		{ID: node.Generate(), NameEn: "Feta Cheese", NameAr: "جبنة فيتا", Price: 500, Calories: 80, MaxQuantity: 2, IsActive: true},
		{ID: node.Generate(), NameEn: "Olives", NameAr: "زيتون", Price: 300, Calories: 40, MaxQuantity: 2, IsActive: true},
	}
	return tx.WithContext(ctx).Create(&ingredients).Error
}
