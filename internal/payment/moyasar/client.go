// Package moyasar is the Moyasar payment-provider adapter: invoice creation
// over the REST API and webhook payload parsing.
package moyasar

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sufrahq/sufra/internal/config"
	"github.com/sufrahq/sufra/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	Provider       = "moyasar"
	defaultBaseURL = "https://api.moyasar.com/v1"
)

type Client struct {
	http          *http.Client
	baseURL       string
	secretKey     string
	webhookSecret string
	callbackURL   string
	log           *zap.Logger
}

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

func NewClient(p Params) *Client {
	return &Client{
		http:          &http.Client{Timeout: 15 * time.Second},
		baseURL:       defaultBaseURL,
		secretKey:     p.Cfg.MoyasarSecretKey,
		webhookSecret: p.Cfg.MoyasarWebhookSecret,
		callbackURL:   strings.TrimRight(p.Cfg.AppURL, "/") + "/webhooks/moyasar",
		log:           p.Log.Named("moyasar"),
	}
}

var Module = fx.Module("moyasar",
	fx.Provide(NewClient),
)

// InvoiceRequest creates a hosted-payment invoice. Amount is in halalas.
type InvoiceRequest struct {
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description"`
	CallbackURL string            `json:"callback_url"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type Invoice struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	URL      string `json:"url"`
}

func (c *Client) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	if req.Currency == "" {
		req.Currency = "SAR"
	}
	if req.CallbackURL == "" {
		req.CallbackURL = c.callbackURL
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/invoices", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.SetBasicAuth(c.secretKey, "")
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Warn("invoice creation refused",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", raw),
		)
		return nil, fmt.Errorf("moyasar invoice: status %d", resp.StatusCode)
	}

	var invoice Invoice
	if err := json.Unmarshal(raw, &invoice); err != nil {
		return nil, err
	}
	return &invoice, nil
}

// VerifySecretToken checks the webhook's shared secret in constant time.
func (c *Client) VerifySecretToken(token string) error {
	if c.webhookSecret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(c.webhookSecret)) != 1 {
		return domain.ErrInvalidSignature
	}
	return nil
}

// webhookBody is the envelope Moyasar posts; data carries the invoice or
// payment object depending on the event type.
type webhookBody struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	SecretToken string          `json:"secret_token"`
	Data        json.RawMessage `json:"data"`
}

type webhookObject struct {
	ID        string            `json:"id"`
	Status    string            `json:"status"`
	Amount    int64             `json:"amount"`
	Currency  string            `json:"currency"`
	InvoiceID string            `json:"invoice_id"`
	Metadata  map[string]string `json:"metadata"`
}

// SecretToken extracts the shared secret from the raw payload without
// trusting anything else in it.
func SecretToken(payload []byte) string {
	var body webhookBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return ""
	}
	return body.SecretToken
}

// ParseWebhook maps a Moyasar webhook call onto the provider-independent
// event. The effect routing fields travel in the object metadata, planted
// there when the invoice was created.
func ParseWebhook(payload []byte) (*domain.WebhookEvent, error) {
	if !json.Valid(payload) {
		return nil, domain.ErrInvalidPayload
	}
	var body webhookBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	var obj webhookObject
	if len(body.Data) > 0 {
		if err := json.Unmarshal(body.Data, &obj); err != nil {
			return nil, domain.ErrInvalidPayload
		}
	}
	if obj.ID == "" {
		return nil, domain.ErrInvalidEvent
	}

	event := &domain.WebhookEvent{
		Status:   normalizeStatus(obj.Status),
		Amount:   obj.Amount,
		Currency: strings.ToUpper(obj.Currency),
	}
	if event.Currency == "" {
		event.Currency = "SAR"
	}
	if strings.HasPrefix(body.Type, "invoice_") {
		event.ProviderInvoiceID = obj.ID
	} else {
		event.ProviderPaymentID = obj.ID
		event.ProviderInvoiceID = obj.InvoiceID
	}

	meta := obj.Metadata
	event.Type = domain.Type(meta["payment_type"])
	event.UserID = parseID(meta["user_id"])
	event.SubscriptionID = parseID(meta["subscription_id"])
	event.OrderID = parseID(meta["order_id"])
	event.Date = meta["date"]
	event.PremiumCount = parseInt(meta["premium_count"])
	for _, part := range strings.Split(meta["addon_ids"], ",") {
		if id := parseID(part); id != 0 {
			event.AddonIDs = append(event.AddonIDs, id)
		}
	}
	return event, nil
}

func normalizeStatus(status string) domain.Status {
	switch strings.ToLower(status) {
	case "paid", "captured":
		return domain.StatusPaid
	case "failed", "canceled", "cancelled", "expired", "voided":
		return domain.StatusFailed
	default:
		return domain.StatusInitiated
	}
}

func parseID(s string) snowflake.ID {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return 0
	}
	return snowflake.ID(n)
}

func parseInt(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
