// Package salad builds priced custom-salad snapshots from the ingredient
// catalog. The snapshot is stored by value on the day so later price or
// availability edits cannot change what the subscriber composed.
package salad

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/sufrahq/sufra/internal/catalog"
	"github.com/sufrahq/sufra/internal/settings"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var (
	ErrEmptySalad         = errors.New("empty_salad")
	ErrInvalidQuantity    = errors.New("invalid_quantity")
	ErrUnknownIngredient  = errors.New("unknown_ingredient")
	ErrInactiveIngredient = errors.New("inactive_ingredient")
	ErrQuantityExceeded   = errors.New("quantity_exceeded")
)

// Item is one client-chosen ingredient line.
type Item struct {
	IngredientID snowflake.ID `json:"ingredient_id"`
	Quantity     int          `json:"quantity"`
}

// Line is the priced, named form of an Item. Amounts are in halalas.
type Line struct {
	IngredientID snowflake.ID `json:"ingredient_id"`
	NameEn       string       `json:"name_en"`
	NameAr       string       `json:"name_ar"`
	Quantity     int          `json:"quantity"`
	UnitPrice    int64        `json:"unit_price"`
	LineTotal    int64        `json:"line_total"`
	Calories     int          `json:"calories"`
}

type Snapshot struct {
	Items     []Line `json:"items"`
	BasePrice int64  `json:"base_price"`
	Total     int64  `json:"total"`
	Calories  int    `json:"calories"`
}

type Builder struct {
	catalog  *catalog.Repository
	settings *settings.Service
}

type Params struct {
	fx.In

	Catalog  *catalog.Repository
	Settings *settings.Service
}

func NewBuilder(p Params) *Builder {
	return &Builder{catalog: p.Catalog, settings: p.Settings}
}

var Module = fx.Module("salad",
	fx.Provide(NewBuilder),
)

// Build normalizes the item list (merging duplicate ingredients), checks each
// ingredient is active and within its max quantity, and prices the salad.
func (b *Builder) Build(ctx context.Context, db *gorm.DB, items []Item) (*Snapshot, error) {
	if len(items) == 0 {
		return nil, ErrEmptySalad
	}

	quantities := make(map[snowflake.ID]int, len(items))
	order := make([]snowflake.ID, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		if _, seen := quantities[item.IngredientID]; !seen {
			order = append(order, item.IngredientID)
		}
		quantities[item.IngredientID] += item.Quantity
	}

	ingredients, err := b.catalog.FindIngredients(ctx, db, order)
	if err != nil {
		return nil, err
	}
	byID := make(map[snowflake.ID]catalog.SaladIngredient, len(ingredients))
	for _, ing := range ingredients {
		byID[ing.ID] = ing
	}

	snapshot := &Snapshot{
		Items:     make([]Line, 0, len(order)),
		BasePrice: int64(b.settings.GetFloat(ctx, settings.KeyCustomSaladBasePrice, 0) * 100),
	}
	snapshot.Total = snapshot.BasePrice

	for _, id := range order {
		ing, ok := byID[id]
		if !ok {
			return nil, ErrUnknownIngredient
		}
		if !ing.IsActive {
			return nil, ErrInactiveIngredient
		}
		qty := quantities[id]
		if ing.MaxQuantity > 0 && qty > ing.MaxQuantity {
			return nil, ErrQuantityExceeded
		}
		line := Line{
			IngredientID: ing.ID,
			NameEn:       ing.NameEn,
			NameAr:       ing.NameAr,
			Quantity:     qty,
			UnitPrice:    ing.Price,
			LineTotal:    ing.Price * int64(qty),
			Calories:     ing.Calories * qty,
		}
		snapshot.Items = append(snapshot.Items, line)
		snapshot.Total += line.LineTotal
		snapshot.Calories += line.Calories
	}

	return snapshot, nil
}
