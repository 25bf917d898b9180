package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sufrahq/sufra/internal/activitylog"
	"github.com/sufrahq/sufra/internal/clock"
	ledgerdomain "github.com/sufrahq/sufra/internal/ledger/domain"
	"github.com/sufrahq/sufra/internal/metrics"
	"github.com/sufrahq/sufra/internal/order"
	"github.com/sufrahq/sufra/internal/payment/domain"
	"github.com/sufrahq/sufra/internal/payment/moyasar"
	subdomain "github.com/sufrahq/sufra/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Node     *snowflake.Node
	Repo     domain.Repository
	Ledger   ledgerdomain.Service
	Subs     subdomain.Service
	Orders   *order.Repository
	Moyasar  *moyasar.Client
	Activity *activitylog.Service
	Metrics  *metrics.Metrics
	Clock    clock.Clock
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	node     *snowflake.Node
	repo     domain.Repository
	ledger   ledgerdomain.Service
	subs     subdomain.Service
	orders   *order.Repository
	moyasar  *moyasar.Client
	activity *activitylog.Service
	metrics  *metrics.Metrics
	clock    clock.Clock
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("payment.service"),
		node:     p.Node,
		repo:     p.Repo,
		ledger:   p.Ledger,
		subs:     p.Subs,
		orders:   p.Orders,
		moyasar:  p.Moyasar,
		activity: p.Activity,
		metrics:  p.Metrics,
		clock:    p.Clock,
	}
}

func (s *Service) IngestWebhook(ctx context.Context, secretToken string, payload []byte) error {
	if err := s.moyasar.VerifySecretToken(secretToken); err != nil {
		s.metrics.WebhooksRejected.Inc()
		return err
	}
	event, err := moyasar.ParseWebhook(payload)
	if err != nil {
		s.metrics.WebhooksRejected.Inc()
		return err
	}
	if event.Status == domain.StatusPaid && event.Amount <= 0 {
		s.metrics.WebhooksRejected.Inc()
		return domain.ErrInvalidEvent
	}

	var (
		applied bool
		reason  string
		stored  *domain.Payment
	)
	err = s.db.Transaction(func(tx *gorm.DB) error {
		stored, err = s.resolvePayment(ctx, tx, event, payload)
		if err != nil {
			return err
		}

		// Non-paid statuses only move the record; effects wait for paid. A
		// failed charge for a one-time order also flags the order so it does
		// not sit in the created state forever.
		if event.Status != domain.StatusPaid {
			if stored.Applied {
				return nil
			}
			if event.Status == domain.StatusFailed && stored.Type == domain.TypeOneTimeOrder && stored.OrderID != nil {
				if err := s.orders.MarkPaymentFailed(ctx, tx, *stored.OrderID); err != nil {
					return err
				}
			}
			return s.repo.SetStatus(ctx, tx, stored.ID, event.Status, nil)
		}

		claimed, err := s.repo.ClaimApplied(ctx, tx, stored.ID)
		if err != nil {
			return err
		}
		if !claimed {
			// Replay of an already-applied charge.
			return nil
		}
		applied = true

		now := s.clock.Now().UTC()
		reason, err = s.applyEffects(ctx, tx, stored, event, now)
		if err != nil {
			return err
		}
		if err := s.repo.SetStatus(ctx, tx, stored.ID, domain.StatusPaid, &now); err != nil {
			return err
		}
		if reason != "" {
			return s.repo.RecordUnappliedReason(ctx, tx, stored.ID, reason)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if applied {
		s.metrics.PaymentsApplied.WithLabelValues(string(stored.Type)).Inc()
		meta := map[string]any{"amount": stored.Amount, "type": string(stored.Type)}
		if reason != "" {
			meta["unapplied_reason"] = reason
			s.log.Warn("payment claimed but effect refused",
				zap.String("payment_id", stored.ID.String()),
				zap.String("type", string(stored.Type)),
				zap.String("reason", reason),
			)
		}
		s.activity.Record(ctx, "payment", stored.ID, "payment.applied", "system", nil, meta)
	}
	return nil
}

func (s *Service) resolvePayment(ctx context.Context, tx *gorm.DB, event *domain.WebhookEvent, payload []byte) (*domain.Payment, error) {
	if event.ProviderPaymentID == "" && event.ProviderInvoiceID == "" {
		return nil, domain.ErrInvalidEvent
	}
	record := &domain.Payment{
		ID:       s.node.Generate(),
		Provider: moyasar.Provider,
		Type:     event.Type,
		Status:   event.Status,
		Amount:   event.Amount,
		Currency: event.Currency,
		Metadata: payload,
	}
	if event.ProviderPaymentID != "" {
		record.ProviderPaymentID = &event.ProviderPaymentID
	}
	if event.ProviderInvoiceID != "" {
		record.ProviderInvoiceID = &event.ProviderInvoiceID
	}
	if event.UserID != 0 {
		record.UserID = &event.UserID
	}
	if event.SubscriptionID != 0 {
		record.SubscriptionID = &event.SubscriptionID
	}
	if event.OrderID != 0 {
		record.OrderID = &event.OrderID
	}
	if !json.Valid(record.Metadata) {
		record.Metadata = nil
	}
	return s.repo.ResolveOrCreate(ctx, tx, record)
}

// applyEffects runs the paid payment's one effect. A returned reason means
// the effect was refused on business grounds; the claim stays latched so the
// refusal is final. Infrastructure errors roll the claim back for a retry.
func (s *Service) applyEffects(ctx context.Context, tx *gorm.DB, p *domain.Payment, event *domain.WebhookEvent, now time.Time) (string, error) {
	switch p.Type {
	case domain.TypeSubscriptionActivation:
		if p.SubscriptionID == nil {
			return "missing_subscription", nil
		}
		activated, err := s.subs.Activate(ctx, tx, *p.SubscriptionID, now)
		if err != nil {
			if errors.Is(err, subdomain.ErrSubscriptionNotFound) || errors.Is(err, subdomain.ErrPlanNotFound) {
				return err.Error(), nil
			}
			return "", err
		}
		if !activated {
			return "already_active", nil
		}
		return "", nil

	case domain.TypePremiumTopup:
		if p.SubscriptionID == nil {
			return "missing_subscription", nil
		}
		if event.PremiumCount <= 0 {
			return "invalid_premium_count", nil
		}
		if err := s.ledger.CreditPremium(ctx, tx, *p.SubscriptionID, event.PremiumCount); err != nil {
			if errors.Is(err, ledgerdomain.ErrSubscriptionNotFound) {
				return "subscription_not_found", nil
			}
			return "", err
		}
		return "", nil

	case domain.TypeOneTimeAddon:
		if p.SubscriptionID == nil {
			return "missing_subscription", nil
		}
		if event.Date == "" || len(event.AddonIDs) == 0 {
			return "missing_addon_target", nil
		}
		if _, err := s.subs.SetDayAddons(ctx, tx, *p.SubscriptionID, event.Date, event.AddonIDs); err != nil {
			if isAddonRefusal(err) {
				return err.Error(), nil
			}
			return "", err
		}
		return "", nil

	case domain.TypeOneTimeOrder:
		if p.OrderID == nil {
			return "missing_order", nil
		}
		confirmed, err := s.orders.Confirm(ctx, tx, *p.OrderID, p.ID, now)
		if err != nil {
			return "", err
		}
		if !confirmed {
			return "order_not_pending", nil
		}
		return "", nil

	default:
		return "unknown_payment_type", nil
	}
}

func isAddonRefusal(err error) bool {
	for _, refusal := range []error{
		subdomain.ErrSubscriptionNotFound,
		subdomain.ErrDayNotFound,
		subdomain.ErrDayLocked,
		subdomain.ErrDaySkipped,
		subdomain.ErrDayFulfilled,
		subdomain.ErrAddonNotFound,
	} {
		if errors.Is(err, refusal) {
			return true
		}
	}
	return false
}
