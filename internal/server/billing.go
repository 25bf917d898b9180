package server

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sufrahq/sufra/internal/catalog"
	"github.com/sufrahq/sufra/internal/order"
	"github.com/sufrahq/sufra/internal/payment/moyasar"
	"github.com/sufrahq/sufra/internal/settings"
	subdomain "github.com/sufrahq/sufra/internal/subscription/domain"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// createInvoice wraps the provider call; on failure it aborts the request so
// callers can just return.
func (s *Server) createInvoice(c *gin.Context, amount int64, description string, metadata map[string]string) (*moyasar.Invoice, error) {
	invoice, err := s.moyasar.CreateInvoice(c.Request.Context(), moyasar.InvoiceRequest{
		Amount:      amount,
		Description: description,
		Metadata:    metadata,
	})
	if err != nil {
		s.log.Error("invoice creation failed", zap.Error(err))
		AbortWithError(c, &apiError{
			Status:  http.StatusBadGateway,
			Code:    "payment_provider_unavailable",
			Message: "could not create the payment invoice",
		})
		return nil, err
	}
	return invoice, nil
}

type topupRequest struct {
	Count int `json:"count" binding:"required"`
}

// CreateTopupInvoice godoc
// @Summary Buy premium meal credits for an active subscription
// @Accept json
// @Produce json
// @Router /api/subscriptions/{id}/topup [post]
func (s *Server) CreateTopupInvoice(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req topupRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Count <= 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	sub, err := s.subs.Get(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if sub.Status != subdomain.SubscriptionStatusActive {
		AbortWithError(c, subdomain.ErrSubscriptionInactive)
		return
	}

	unit := sub.PremiumPrice
	if unit <= 0 {
		unit = int64(s.settings.GetFloat(ctx, settings.KeyPremiumPrice, 20) * 100)
	}
	amount := unit * int64(req.Count)

	invoice, err := s.createInvoice(c, amount,
		"Sufra premium top-up x"+strconv.Itoa(req.Count),
		map[string]string{
			"payment_type":    "premium_topup",
			"subscription_id": sub.ID.String(),
			"user_id":         sub.UserID.String(),
			"premium_count":   strconv.Itoa(req.Count),
		})
	if err != nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"invoice_id":  invoice.ID,
		"payment_url": invoice.URL,
		"amount":      amount,
	}})
}

type addonPurchaseRequest struct {
	AddonIDs []string `json:"addon_ids" binding:"required"`
}

// CreateAddonInvoice godoc
// @Summary Buy one-time add-ons for a specific upcoming day
// @Accept json
// @Produce json
// @Router /api/subscriptions/{id}/days/{date}/addons [post]
func (s *Server) CreateAddonInvoice(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req addonPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.AddonIDs) == 0 {
		AbortWithError(c, invalidRequestError())
		return
	}
	addonIDs, ok := parseIDs(req.AddonIDs)
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	sub, err := s.subs.Get(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	addons, err := s.catalog.FindAddons(ctx, s.db, addonIDs)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if len(addons) != len(addonIDs) {
		AbortWithError(c, subdomain.ErrAddonNotFound)
		return
	}
	var amount int64
	for _, addon := range addons {
		if !addon.IsActive || addon.Type != catalog.AddonTypeOneTime {
			AbortWithError(c, subdomain.ErrAddonNotFound)
			return
		}
		amount += addon.Price
	}

	date := c.Param("date")
	invoice, err := s.createInvoice(c, amount,
		"Sufra add-ons for "+date,
		map[string]string{
			"payment_type":    "one_time_addon",
			"subscription_id": sub.ID.String(),
			"user_id":         sub.UserID.String(),
			"date":            date,
			"addon_ids":       strings.Join(req.AddonIDs, ","),
		})
	if err != nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"invoice_id":  invoice.ID,
		"payment_url": invoice.URL,
		"amount":      amount,
	}})
}

type createOrderRequest struct {
	UserID  string   `json:"user_id" binding:"required"`
	MealIDs []string `json:"meal_ids" binding:"required"`
}

// CreateOrder godoc
// @Summary Create a one-time meal order and its payment invoice
// @Accept json
// @Produce json
// @Router /api/orders [post]
func (s *Server) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.MealIDs) == 0 {
		AbortWithError(c, invalidRequestError())
		return
	}
	userID, ok := parseID(req.UserID)
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	mealIDs, ok := parseIDs(req.MealIDs)
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	meals, err := s.catalog.FindMeals(ctx, s.db, mealIDs)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if len(meals) != len(mealIDs) {
		AbortWithError(c, subdomain.ErrMealNotFound)
		return
	}
	for _, meal := range meals {
		if !meal.IsActive {
			AbortWithError(c, subdomain.ErrMealNotFound)
			return
		}
	}

	unit := int64(s.settings.GetFloat(ctx, settings.KeyOneTimeMealPrice, 25) * 100)
	total := unit * int64(len(mealIDs))
	o := &order.Order{
		ID:     s.node.Generate(),
		UserID: userID,
		Total:  total,
	}
	if err := s.orders.Create(ctx, s.db, o); err != nil {
		AbortWithError(c, err)
		return
	}

	invoice, err := s.createInvoice(c, total,
		"Sufra one-time order",
		map[string]string{
			"payment_type": "one_time_order",
			"order_id":     o.ID.String(),
			"user_id":      userID.String(),
		})
	if err != nil {
		return
	}
	err = s.db.WithContext(ctx).Model(&order.Order{}).
		Where("id = ?", o.ID).
		Updates(map[string]any{"provider_invoice_id": invoice.ID, "updated_at": time.Now().UTC()}).Error
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.activity.Record(ctx, "order", o.ID, "created", "user", &userID,
		map[string]any{"total": total, "meals": len(mealIDs)})
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"order_id":    o.ID.String(),
		"total":       total,
		"invoice_id":  invoice.ID,
		"payment_url": invoice.URL,
	}})
}

// MoyasarWebhook godoc
// @Summary Ingest a Moyasar payment webhook
// @Accept json
// @Produce json
// @Router /webhooks/moyasar [post]
func (s *Server) MoyasarWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if err := s.payments.IngestWebhook(c.Request.Context(), moyasar.SecretToken(payload), payload); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"received": true}})
}
