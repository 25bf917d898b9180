package server

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/sufrahq/sufra/internal/catalog"
	subdomain "github.com/sufrahq/sufra/internal/subscription/domain"
)

// Snowflake IDs travel as strings on the wire; int64 precision does not
// survive JSON number parsing in browser clients.
func idStrings(ids []snowflake.ID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func parseID(s string) (snowflake.ID, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return snowflake.ID(n), true
}

func parseIDs(raw []string) ([]snowflake.ID, bool) {
	ids := make([]snowflake.ID, 0, len(raw))
	for _, s := range raw {
		id, ok := parseID(s)
		if !ok {
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}

func idParam(c *gin.Context, name string) (snowflake.ID, bool) {
	id, ok := parseID(c.Param(name))
	if !ok {
		AbortWithError(c, invalidRequestError())
		return 0, false
	}
	return id, true
}

func subscriptionJSON(s *subdomain.Subscription) gin.H {
	if s == nil {
		return nil
	}
	h := gin.H{
		"id":                s.ID.String(),
		"user_id":           s.UserID.String(),
		"plan_id":           s.PlanID.String(),
		"status":            s.Status,
		"total_meals":       s.TotalMeals,
		"remaining_meals":   s.RemainingMeals,
		"premium_remaining": s.PremiumRemaining,
		"premium_price":     s.PremiumPrice,
		"addons":            s.Addons(),
		"delivery_mode":     s.DeliveryMode,
		"delivery_window":   s.DeliveryWindow,
		"skipped_count":     s.SkippedCount,
	}
	if s.StartDate != nil {
		h["start_date"] = s.StartDate
	}
	if s.EndDate != nil {
		h["end_date"] = s.EndDate
	}
	if end := s.ValidityEnd(); end != nil {
		h["validity_end"] = end
	}
	if addr := s.Address(); addr != nil {
		h["delivery_address"] = addr
	}
	return h
}

func dayJSON(d *subdomain.SubscriptionDay) gin.H {
	if d == nil {
		return nil
	}
	h := gin.H{
		"id":                       d.ID.String(),
		"subscription_id":          d.SubscriptionID.String(),
		"date":                     d.Date,
		"status":                   d.Status,
		"selections":               idStrings(d.SelectionIDs()),
		"premium_selections":       idStrings(d.PremiumSelectionIDs()),
		"addons_one_time":          idStrings(d.AddonOneTimeIDs()),
		"assigned_by_kitchen":      d.AssignedByKitchen,
		"pickup_requested":         d.PickupRequested,
		"credits_deducted":         d.CreditsDeducted,
		"delivery_window_override": d.DeliveryWindowOverride,
	}
	if addr := d.AddressOverride(); addr != nil {
		h["delivery_address_override"] = addr
	}
	if len(d.CustomSalads) > 0 {
		h["custom_salads"] = json.RawMessage(d.CustomSalads)
	}
	if len(d.LockedSnapshot) > 0 {
		h["locked_snapshot"] = json.RawMessage(d.LockedSnapshot)
	}
	if len(d.FulfilledSnapshot) > 0 {
		h["fulfilled_snapshot"] = json.RawMessage(d.FulfilledSnapshot)
	}
	if d.LockedAt != nil {
		h["locked_at"] = d.LockedAt
	}
	if d.FulfilledAt != nil {
		h["fulfilled_at"] = d.FulfilledAt
	}
	return h
}

func daysJSON(days []subdomain.SubscriptionDay) []gin.H {
	out := make([]gin.H, 0, len(days))
	for i := range days {
		out = append(out, dayJSON(&days[i]))
	}
	return out
}

func skipJSON(r *subdomain.SkipResult) gin.H {
	if r == nil {
		return nil
	}
	h := gin.H{
		"outcome": r.Outcome,
		"day":     dayJSON(r.Day),
	}
	if r.CompensatedDate != "" {
		h["compensated_date"] = r.CompensatedDate
	}
	return h
}

func planJSON(p *subdomain.Plan) gin.H {
	return gin.H{
		"id":             p.ID.String(),
		"name":           p.Name,
		"days_count":     p.DaysCount,
		"meals_per_day":  p.MealsPerDay,
		"grams":          p.Grams,
		"price":          p.Price,
		"skip_allowance": p.SkipAllowance,
	}
}

func mealJSON(m *catalog.Meal) gin.H {
	return gin.H{
		"id":   m.ID.String(),
		"name": m.Name,
		"type": m.Type,
	}
}

func addonJSON(a *catalog.Addon) gin.H {
	return gin.H{
		"id":    a.ID.String(),
		"name":  a.Name,
		"type":  a.Type,
		"price": a.Price,
	}
}

func ingredientJSON(i *catalog.SaladIngredient) gin.H {
	return gin.H{
		"id":           i.ID.String(),
		"name_en":      i.NameEn,
		"name_ar":      i.NameAr,
		"price":        i.Price,
		"calories":     i.Calories,
		"max_quantity": i.MaxQuantity,
	}
}
