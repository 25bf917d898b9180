package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sufrahq/sufra/internal/ksatime"
	subdomain "github.com/sufrahq/sufra/internal/subscription/domain"
)

// KitchenBoard godoc
// @Summary List a date's days for the kitchen and courier board
// @Produce json
// @Router /kitchen/board [get]
func (s *Server) KitchenBoard(c *gin.Context) {
	date := strings.TrimSpace(c.Query("date"))
	if date == "" {
		date = ksatime.Today(s.clock.Now())
	}

	var statuses []subdomain.DayStatus
	if raw := strings.TrimSpace(c.Query("statuses")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				statuses = append(statuses, subdomain.DayStatus(part))
			}
		}
	}

	days, err := s.fulfill.Board(c.Request.Context(), date, statuses)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": daysJSON(days)})
}

type transitionRequest struct {
	To string `json:"to" binding:"required"`
}

// TransitionDay godoc
// @Summary Move a day along the preparation and delivery path
// @Accept json
// @Produce json
// @Router /kitchen/days/{id}/transition [post]
func (s *Server) TransitionDay(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	ctx := c.Request.Context()

	day, err := s.fulfill.TransitionDay(ctx, id, subdomain.DayStatus(strings.TrimSpace(req.To)))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.activity.Record(ctx, "subscription_day", id, "transition:"+req.To, roleOf(c), nil, nil)
	c.JSON(http.StatusOK, gin.H{"data": dayJSON(day)})
}

type assignMealsRequest struct {
	MealIDs []string `json:"meal_ids" binding:"required"`
}

// AssignMeals godoc
// @Summary Fill a day's meals on behalf of a subscriber who never chose
// @Accept json
// @Produce json
// @Router /kitchen/days/{id}/assign [post]
func (s *Server) AssignMeals(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req assignMealsRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.MealIDs) == 0 {
		AbortWithError(c, invalidRequestError())
		return
	}
	mealIDs, ok := parseIDs(req.MealIDs)
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	ctx := c.Request.Context()

	day, err := s.fulfill.AssignMeals(ctx, id, mealIDs)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.activity.Record(ctx, "subscription_day", id, "assign_meals", roleOf(c), nil,
		map[string]any{"meals": len(mealIDs)})
	c.JSON(http.StatusOK, gin.H{"data": dayJSON(day)})
}

// FulfillDay godoc
// @Summary Settle a day: terminal status plus the credit deduction
// @Produce json
// @Router /kitchen/days/{id}/fulfill [post]
func (s *Server) FulfillDay(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	day, err := s.fulfill.FulfillDay(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.activity.Record(ctx, "subscription_day", id, "fulfilled", roleOf(c), nil, nil)
	c.JSON(http.StatusOK, gin.H{"data": dayJSON(day)})
}

// CourierDeliveries godoc
// @Summary List a date's dispatched courier runs with their day records
// @Produce json
// @Router /courier/deliveries [get]
func (s *Server) CourierDeliveries(c *gin.Context) {
	date := strings.TrimSpace(c.Query("date"))
	if date == "" {
		date = ksatime.Today(s.clock.Now())
	}
	ctx := c.Request.Context()

	days, err := s.fulfill.Board(ctx, date, []subdomain.DayStatus{subdomain.DayStatusOutForDelivery})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	out := make([]gin.H, 0, len(days))
	for i := range days {
		entry := gin.H{"day": dayJSON(&days[i])}
		run, err := s.deliveries.FindByDay(ctx, s.db, days[i].ID)
		if err == nil {
			entry["delivery"] = gin.H{
				"id":     run.ID.String(),
				"status": run.Status,
				"window": run.Window,
			}
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

// CancelDelivery godoc
// @Summary Abort a dispatched delivery, skipping the day with compensation
// @Produce json
// @Router /courier/days/{id}/cancelled [post]
func (s *Server) CancelDelivery(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	result, err := s.fulfill.CancelDelivery(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.activity.Record(ctx, "subscription_day", id, "cancel_delivery", roleOf(c), nil, nil)
	c.JSON(http.StatusOK, gin.H{"data": skipJSON(result)})
}
