package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sufrahq/sufra/internal/ksatime"
	"github.com/sufrahq/sufra/internal/salad"
	subdomain "github.com/sufrahq/sufra/internal/subscription/domain"
)

// ListPlans godoc
// @Summary List purchasable plans
// @Produce json
// @Router /api/plans [get]
func (s *Server) ListPlans(c *gin.Context) {
	ctx := c.Request.Context()
	var plans []subdomain.Plan
	err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("price ASC").
		Find(&plans).Error
	if err != nil {
		AbortWithError(c, err)
		return
	}
	out := make([]gin.H, 0, len(plans))
	for i := range plans {
		out = append(out, planJSON(&plans[i]))
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

// ListMeals godoc
// @Summary List the active menu
// @Produce json
// @Router /api/meals [get]
func (s *Server) ListMeals(c *gin.Context) {
	meals, err := s.catalog.ListActiveMeals(c.Request.Context(), s.db)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	out := make([]gin.H, 0, len(meals))
	for i := range meals {
		out = append(out, mealJSON(&meals[i]))
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (s *Server) ListAddons(c *gin.Context) {
	addons, err := s.catalog.ListActiveAddons(c.Request.Context(), s.db)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	out := make([]gin.H, 0, len(addons))
	for i := range addons {
		out = append(out, addonJSON(&addons[i]))
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (s *Server) ListIngredients(c *gin.Context) {
	ingredients, err := s.catalog.ListActiveIngredients(c.Request.Context(), s.db)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	out := make([]gin.H, 0, len(ingredients))
	for i := range ingredients {
		out = append(out, ingredientJSON(&ingredients[i]))
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

type checkoutRequest struct {
	UserID         string             `json:"user_id" binding:"required"`
	PlanID         string             `json:"plan_id" binding:"required"`
	DeliveryMode   string             `json:"delivery_mode" binding:"required"`
	Address        *subdomain.Address `json:"address"`
	DeliveryWindow string             `json:"delivery_window"`
	AddonIDs       []string           `json:"addon_ids"`
}

func (r *checkoutRequest) toInput() (subdomain.CheckoutInput, bool) {
	userID, ok := parseID(r.UserID)
	if !ok {
		return subdomain.CheckoutInput{}, false
	}
	planID, ok := parseID(r.PlanID)
	if !ok {
		return subdomain.CheckoutInput{}, false
	}
	addonIDs, ok := parseIDs(r.AddonIDs)
	if !ok {
		return subdomain.CheckoutInput{}, false
	}
	return subdomain.CheckoutInput{
		UserID:         userID,
		PlanID:         planID,
		DeliveryMode:   subdomain.DeliveryMode(strings.TrimSpace(r.DeliveryMode)),
		Address:        r.Address,
		DeliveryWindow: strings.TrimSpace(r.DeliveryWindow),
		AddonIDs:       addonIDs,
	}, true
}

// PreviewSubscription godoc
// @Summary Price a checkout without committing it
// @Accept json
// @Produce json
// @Router /api/subscriptions/preview [post]
func (s *Server) PreviewSubscription(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	input, ok := req.toInput()
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	quote, err := s.subs.Preview(c.Request.Context(), input)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": quote})
}

// CheckoutSubscription godoc
// @Summary Create a pending subscription and its payment invoice
// @Accept json
// @Produce json
// @Router /api/subscriptions/checkout [post]
func (s *Server) CheckoutSubscription(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	input, ok := req.toInput()
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	result, err := s.subs.Checkout(ctx, input)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	invoice, err := s.createInvoice(c, result.Quote.Total,
		"Sufra subscription: "+result.Quote.PlanName,
		map[string]string{
			"payment_type":    "subscription_activation",
			"subscription_id": result.Subscription.ID.String(),
			"user_id":         result.Subscription.UserID.String(),
		})
	if err != nil {
		return
	}

	s.activity.Record(ctx, "subscription", result.Subscription.ID, "checkout", "user",
		&result.Subscription.UserID, map[string]any{"total": result.Quote.Total})
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"subscription": subscriptionJSON(result.Subscription),
		"quote":        result.Quote,
		"invoice_id":   invoice.ID,
		"payment_url":  invoice.URL,
	}})
}

func (s *Server) GetSubscription(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	sub, err := s.subs.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": subscriptionJSON(sub)})
}

func (s *Server) ListSubscriptionDays(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	days, err := s.subs.Days(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": daysJSON(days)})
}

func (s *Server) dayByDate(c *gin.Context, date string) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	days, err := s.subs.Days(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	for i := range days {
		if days[i].Date == date {
			c.JSON(http.StatusOK, gin.H{"data": dayJSON(&days[i])})
			return
		}
	}
	AbortWithError(c, subdomain.ErrDayNotFound)
}

func (s *Server) GetSubscriptionDay(c *gin.Context) {
	s.dayByDate(c, c.Param("date"))
}

// GetTodayDay godoc
// @Summary Fetch the day record for the current KSA date
// @Produce json
// @Router /api/subscriptions/{id}/today [get]
func (s *Server) GetTodayDay(c *gin.Context) {
	s.dayByDate(c, ksatime.Today(s.clock.Now()))
}

// SkipDay godoc
// @Summary Skip one upcoming day, refunding a credit and extending validity
// @Produce json
// @Router /api/subscriptions/{id}/days/{date}/skip [post]
func (s *Server) SkipDay(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	date := c.Param("date")
	ctx := c.Request.Context()

	result, err := s.subs.SkipDay(ctx, id, date)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.activity.Record(ctx, "subscription", id, "skip_day", "user", nil,
		map[string]any{"date": date, "outcome": string(result.Outcome)})
	c.JSON(http.StatusOK, gin.H{"data": skipJSON(result)})
}

type skipRangeRequest struct {
	From string `json:"from" binding:"required"`
	To   string `json:"to" binding:"required"`
}

func (s *Server) SkipRange(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req skipRangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	ctx := c.Request.Context()

	results, err := s.subs.SkipRange(ctx, id, req.From, req.To)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	out := make([]gin.H, 0, len(results))
	for i := range results {
		out = append(out, skipJSON(&results[i]))
	}
	s.activity.Record(ctx, "subscription", id, "skip_range", "user", nil,
		map[string]any{"from": req.From, "to": req.To, "count": len(results)})
	c.JSON(http.StatusOK, gin.H{"data": out})
}

type selectionsRequest struct {
	Selections        []string `json:"selections"`
	PremiumSelections []string `json:"premium_selections"`
}

// UpdateDaySelections godoc
// @Summary Choose meals for an open day before cutoff
// @Accept json
// @Produce json
// @Router /api/subscriptions/{id}/days/{date}/selections [put]
func (s *Server) UpdateDaySelections(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req selectionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	selections, ok := parseIDs(req.Selections)
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	premium, ok := parseIDs(req.PremiumSelections)
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}

	day, err := s.subs.UpdateDaySelections(c.Request.Context(), id, c.Param("date"), selections, premium)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": dayJSON(day)})
}

type customSaladRequest struct {
	Items []saladItemRequest `json:"items" binding:"required"`
}

type saladItemRequest struct {
	IngredientID string `json:"ingredient_id" binding:"required"`
	Quantity     int    `json:"quantity" binding:"required"`
}

func (s *Server) AttachCustomSalad(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req customSaladRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	items := make([]salad.Item, 0, len(req.Items))
	for _, item := range req.Items {
		ingredientID, ok := parseID(item.IngredientID)
		if !ok {
			AbortWithError(c, invalidRequestError())
			return
		}
		items = append(items, salad.Item{IngredientID: ingredientID, Quantity: item.Quantity})
	}

	day, err := s.subs.AttachCustomSalad(c.Request.Context(), id, c.Param("date"), items)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": dayJSON(day)})
}

// PreparePickup godoc
// @Summary Flag an upcoming day for branch pickup
// @Produce json
// @Router /api/subscriptions/{id}/days/{date}/pickup [post]
func (s *Server) PreparePickup(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	day, err := s.subs.PreparePickup(c.Request.Context(), id, c.Param("date"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": dayJSON(day)})
}

type deliveryDetailsRequest struct {
	Address *subdomain.Address `json:"address"`
	Window  string             `json:"window"`
}

func (s *Server) UpdateDeliveryDetails(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req deliveryDetailsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	sub, err := s.subs.UpdateDeliveryDetails(c.Request.Context(), id, req.Address, strings.TrimSpace(req.Window))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": subscriptionJSON(sub)})
}

func (s *Server) UpdateDayDelivery(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req deliveryDetailsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	day, err := s.subs.UpdateDayDelivery(c.Request.Context(), id, c.Param("date"), req.Address, strings.TrimSpace(req.Window))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": dayJSON(day)})
}
