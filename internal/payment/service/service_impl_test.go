package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sufrahq/sufra/internal/activitylog"
	"github.com/sufrahq/sufra/internal/catalog"
	"github.com/sufrahq/sufra/internal/clock"
	"github.com/sufrahq/sufra/internal/config"
	"github.com/sufrahq/sufra/internal/ksatime"
	ledgerservice "github.com/sufrahq/sufra/internal/ledger/service"
	"github.com/sufrahq/sufra/internal/metrics"
	"github.com/sufrahq/sufra/internal/order"
	"github.com/sufrahq/sufra/internal/payment/domain"
	"github.com/sufrahq/sufra/internal/payment/moyasar"
	"github.com/sufrahq/sufra/internal/payment/repository"
	"github.com/sufrahq/sufra/internal/salad"
	"github.com/sufrahq/sufra/internal/settings"
	subdomain "github.com/sufrahq/sufra/internal/subscription/domain"
	subrepository "github.com/sufrahq/sufra/internal/subscription/repository"
	subservice "github.com/sufrahq/sufra/internal/subscription/service"
	"github.com/sufrahq/sufra/internal/testutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const webhookSecret = "whsec_test"

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, ksatime.Location)

type fixture struct {
	db      *gorm.DB
	svc     domain.Service
	repo    domain.Repository
	subRepo subdomain.Repository
	orders  *order.Repository
	node    *snowflake.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.OpenDB(t)
	node := testutil.Node(t)
	log := zap.NewNop()
	fixed := clock.Fixed(testNow)

	subRepo := subrepository.Provide()
	cat := catalog.Provide()
	set := settings.NewService(settings.Params{DB: db, Log: log})
	ledger := ledgerservice.NewService(ledgerservice.Params{Log: log})
	salads := salad.NewBuilder(salad.Params{Catalog: cat, Settings: set})
	subs := subservice.NewService(subservice.Params{
		DB: db, Repo: subRepo, Ledger: ledger, Settings: set,
		Catalog: cat, Salads: salads, Node: node, Clock: fixed, Log: log,
	})

	repo := repository.Provide()
	orders := order.Provide()
	client := moyasar.NewClient(moyasar.Params{
		Cfg: config.Config{MoyasarWebhookSecret: webhookSecret, AppURL: "https://app.test"},
		Log: log,
	})
	activity := activitylog.NewService(activitylog.Params{DB: db, Node: node, Log: log})

	svc := NewService(Params{
		DB:       db,
		Log:      log,
		Node:     node,
		Repo:     repo,
		Ledger:   ledger,
		Subs:     subs,
		Orders:   orders,
		Moyasar:  client,
		Activity: activity,
		Metrics:  metrics.NewWith(prometheus.NewRegistry()),
		Clock:    fixed,
	})
	return &fixture{db: db, svc: svc, repo: repo, subRepo: subRepo, orders: orders, node: node}
}

func webhookPayload(invoiceID, status string, amount int64, metadata map[string]string) []byte {
	data := map[string]any{
		"id":       invoiceID,
		"status":   status,
		"amount":   amount,
		"currency": "SAR",
		"metadata": metadata,
	}
	body := map[string]any{
		"id":           "evt_" + invoiceID,
		"type":         "invoice_paid",
		"secret_token": webhookSecret,
		"data":         data,
	}
	raw, _ := json.Marshal(body)
	return raw
}

func (f *fixture) ingest(t *testing.T, payload []byte) error {
	t.Helper()
	return f.svc.IngestWebhook(context.Background(), moyasar.SecretToken(payload), payload)
}

func (f *fixture) seedPlan(t *testing.T, daysCount int) *subdomain.Plan {
	t.Helper()
	plan := &subdomain.Plan{
		ID:          f.node.Generate(),
		Name:        "Lite 5",
		DaysCount:   daysCount,
		MealsPerDay: 1,
		Price:       45000,
		IsActive:    true,
	}
	if err := f.db.Create(plan).Error; err != nil {
		t.Fatalf("seed plan: %v", err)
	}
	return plan
}

func (f *fixture) seedPendingSub(t *testing.T, plan *subdomain.Plan) *subdomain.Subscription {
	t.Helper()
	sub := &subdomain.Subscription{
		ID:             f.node.Generate(),
		UserID:         f.node.Generate(),
		PlanID:         plan.ID,
		Status:         subdomain.SubscriptionStatusPendingPayment,
		TotalMeals:     plan.DaysCount,
		RemainingMeals: plan.DaysCount,
		DeliveryMode:   subdomain.DeliveryModeDelivery,
	}
	if err := f.db.Create(sub).Error; err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	return sub
}

func (f *fixture) paymentByInvoice(t *testing.T, invoiceID string) *domain.Payment {
	t.Helper()
	var p domain.Payment
	if err := f.db.First(&p, "provider_invoice_id = ?", invoiceID).Error; err != nil {
		t.Fatalf("load payment: %v", err)
	}
	return &p
}

func TestActivationWebhookAppliesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	plan := f.seedPlan(t, 5)
	sub := f.seedPendingSub(t, plan)
	payload := webhookPayload("inv_1", "paid", plan.Price, map[string]string{
		"payment_type":    string(domain.TypeSubscriptionActivation),
		"subscription_id": sub.ID.String(),
	})

	if err := f.ingest(t, payload); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	fresh, err := f.subRepo.FindSubscription(ctx, f.db, sub.ID)
	if err != nil {
		t.Fatalf("reload sub: %v", err)
	}
	if fresh.Status != subdomain.SubscriptionStatusActive {
		t.Fatalf("status = %s, want active", fresh.Status)
	}
	days, _ := f.subRepo.ListDays(ctx, f.db, sub.ID)
	if len(days) != 5 {
		t.Fatalf("calendar = %d days, want 5", len(days))
	}
	p := f.paymentByInvoice(t, "inv_1")
	if !p.Applied || p.Status != domain.StatusPaid {
		t.Errorf("payment = (applied=%v, status=%s), want applied paid", p.Applied, p.Status)
	}

	// Provider retries are absorbed without re-running effects.
	if err := f.ingest(t, payload); err != nil {
		t.Fatalf("replay: %v", err)
	}
	days, _ = f.subRepo.ListDays(ctx, f.db, sub.ID)
	if len(days) != 5 {
		t.Errorf("replay duplicated calendar: %d days", len(days))
	}
	var count int64
	f.db.Model(&domain.Payment{}).Count(&count)
	if count != 1 {
		t.Errorf("payments = %d, want 1", count)
	}
}

func TestPremiumTopupCreditsBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	plan := f.seedPlan(t, 5)
	sub := f.seedPendingSub(t, plan)
	if err := f.db.Exec(`UPDATE subscriptions SET status = 'active' WHERE id = ?`, sub.ID).Error; err != nil {
		t.Fatalf("activate: %v", err)
	}

	payload := webhookPayload("inv_topup", "paid", 6000, map[string]string{
		"payment_type":    string(domain.TypePremiumTopup),
		"subscription_id": sub.ID.String(),
		"premium_count":   "3",
	})
	if err := f.ingest(t, payload); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	fresh, err := f.subRepo.FindSubscription(ctx, f.db, sub.ID)
	if err != nil {
		t.Fatalf("reload sub: %v", err)
	}
	if fresh.PremiumRemaining != 3 {
		t.Errorf("premium = %d, want 3", fresh.PremiumRemaining)
	}

	if err := f.ingest(t, payload); err != nil {
		t.Fatalf("replay: %v", err)
	}
	fresh, _ = f.subRepo.FindSubscription(ctx, f.db, sub.ID)
	if fresh.PremiumRemaining != 3 {
		t.Errorf("replay changed premium: %d, want 3", fresh.PremiumRemaining)
	}
}

func TestNonPaidStatusRecordsWithoutEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	plan := f.seedPlan(t, 5)
	sub := f.seedPendingSub(t, plan)
	meta := map[string]string{
		"payment_type":    string(domain.TypeSubscriptionActivation),
		"subscription_id": sub.ID.String(),
	}

	if err := f.ingest(t, webhookPayload("inv_2", "failed", plan.Price, meta)); err != nil {
		t.Fatalf("ingest failed status: %v", err)
	}
	p := f.paymentByInvoice(t, "inv_2")
	if p.Applied || p.Status != domain.StatusFailed {
		t.Fatalf("payment = (applied=%v, status=%s), want unapplied failed", p.Applied, p.Status)
	}
	fresh, _ := f.subRepo.FindSubscription(ctx, f.db, sub.ID)
	if fresh.Status != subdomain.SubscriptionStatusPendingPayment {
		t.Fatalf("failed charge must not activate, status = %s", fresh.Status)
	}

	// The same invoice later settling as paid applies on the same row.
	if err := f.ingest(t, webhookPayload("inv_2", "paid", plan.Price, meta)); err != nil {
		t.Fatalf("ingest paid: %v", err)
	}
	p = f.paymentByInvoice(t, "inv_2")
	if !p.Applied || p.Status != domain.StatusPaid {
		t.Fatalf("payment = (applied=%v, status=%s), want applied paid", p.Applied, p.Status)
	}
	fresh, _ = f.subRepo.FindSubscription(ctx, f.db, sub.ID)
	if fresh.Status != subdomain.SubscriptionStatusActive {
		t.Errorf("status = %s, want active", fresh.Status)
	}
	var count int64
	f.db.Model(&domain.Payment{}).Count(&count)
	if count != 1 {
		t.Errorf("payments = %d, want 1", count)
	}
}

func TestBadSecretRejected(t *testing.T) {
	f := newFixture(t)
	payload := webhookPayload("inv_3", "paid", 1000, map[string]string{
		"payment_type": string(domain.TypePremiumTopup),
	})
	err := f.svc.IngestWebhook(context.Background(), "wrong-secret", payload)
	if !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("got %v, want ErrInvalidSignature", err)
	}
	var count int64
	f.db.Model(&domain.Payment{}).Count(&count)
	if count != 0 {
		t.Errorf("rejected webhook persisted %d payments", count)
	}
}

func TestAddonOnLockedDayLatchesWithReason(t *testing.T) {
	f := newFixture(t)
	plan := f.seedPlan(t, 5)
	sub := f.seedPendingSub(t, plan)
	if err := f.db.Exec(`UPDATE subscriptions SET status = 'active' WHERE id = ?`, sub.ID).Error; err != nil {
		t.Fatalf("activate: %v", err)
	}
	day := &subdomain.SubscriptionDay{
		ID:             f.node.Generate(),
		SubscriptionID: sub.ID,
		Date:           "2026-03-11",
		Status:         subdomain.DayStatusLocked,
	}
	if err := f.db.Create(day).Error; err != nil {
		t.Fatalf("seed day: %v", err)
	}
	addon := &catalog.Addon{ID: f.node.Generate(), Name: "Juice", Type: catalog.AddonTypeOneTime, Price: 700, IsActive: true}
	if err := f.db.Create(addon).Error; err != nil {
		t.Fatalf("seed addon: %v", err)
	}

	payload := webhookPayload("inv_addon", "paid", 700, map[string]string{
		"payment_type":    string(domain.TypeOneTimeAddon),
		"subscription_id": sub.ID.String(),
		"date":            "2026-03-11",
		"addon_ids":       addon.ID.String(),
	})
	if err := f.ingest(t, payload); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	p := f.paymentByInvoice(t, "inv_addon")
	if !p.Applied {
		t.Fatal("refused effect must still latch the claim")
	}
	var meta map[string]any
	if err := json.Unmarshal(p.Metadata, &meta); err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta["unapplied_reason"] != subdomain.ErrDayLocked.Error() {
		t.Errorf("unapplied_reason = %v, want %q", meta["unapplied_reason"], subdomain.ErrDayLocked.Error())
	}

	fresh, err := f.subRepo.FindDayByID(context.Background(), f.db, day.ID)
	if err != nil {
		t.Fatalf("reload day: %v", err)
	}
	if len(fresh.AddonOneTimeIDs()) != 0 {
		t.Errorf("locked day gained addons: %v", fresh.AddonOneTimeIDs())
	}
}

func TestAddonPurchasesAccumulate(t *testing.T) {
	f := newFixture(t)
	plan := f.seedPlan(t, 5)
	sub := f.seedPendingSub(t, plan)
	if err := f.db.Exec(`UPDATE subscriptions SET status = 'active' WHERE id = ?`, sub.ID).Error; err != nil {
		t.Fatalf("activate: %v", err)
	}
	day := &subdomain.SubscriptionDay{
		ID:             f.node.Generate(),
		SubscriptionID: sub.ID,
		Date:           "2026-03-11",
		Status:         subdomain.DayStatusOpen,
	}
	if err := f.db.Create(day).Error; err != nil {
		t.Fatalf("seed day: %v", err)
	}
	juice := &catalog.Addon{ID: f.node.Generate(), Name: "Juice", Type: catalog.AddonTypeOneTime, Price: 700, IsActive: true}
	dessert := &catalog.Addon{ID: f.node.Generate(), Name: "Dessert", Type: catalog.AddonTypeOneTime, Price: 900, IsActive: true}
	for _, addon := range []*catalog.Addon{juice, dessert} {
		if err := f.db.Create(addon).Error; err != nil {
			t.Fatalf("seed addon: %v", err)
		}
	}

	// Two separate purchases on the same day; the second must not erase the
	// first.
	for i, addon := range []*catalog.Addon{juice, dessert} {
		payload := webhookPayload(fmt.Sprintf("inv_addon_%d", i), "paid", addon.Price, map[string]string{
			"payment_type":    string(domain.TypeOneTimeAddon),
			"subscription_id": sub.ID.String(),
			"date":            "2026-03-11",
			"addon_ids":       addon.ID.String(),
		})
		if err := f.ingest(t, payload); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}

	fresh, err := f.subRepo.FindDayByID(context.Background(), f.db, day.ID)
	if err != nil {
		t.Fatalf("reload day: %v", err)
	}
	got := fresh.AddonOneTimeIDs()
	if len(got) != 2 || got[0] != juice.ID || got[1] != dessert.ID {
		t.Errorf("day addons = %v, want [%v %v]", got, juice.ID, dessert.ID)
	}
}

func TestFailedOrderPaymentFlagsOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := &order.Order{
		ID:     f.node.Generate(),
		UserID: f.node.Generate(),
		Total:  3200,
	}
	if err := f.orders.Create(ctx, f.db, o); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	meta := map[string]string{
		"payment_type": string(domain.TypeOneTimeOrder),
		"order_id":     o.ID.String(),
	}

	if err := f.ingest(t, webhookPayload("inv_order_failed", "failed", o.Total, meta)); err != nil {
		t.Fatalf("ingest failed charge: %v", err)
	}
	fresh, err := f.orders.FindByID(ctx, f.db, o.ID)
	if err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if fresh.PaymentStatus != order.PaymentFailed || fresh.Status != order.StatusCreated {
		t.Fatalf("order = (%s, %s), want created with failed payment", fresh.Status, fresh.PaymentStatus)
	}

	// A retried charge that goes through still confirms the order.
	if err := f.ingest(t, webhookPayload("inv_order_failed", "paid", o.Total, meta)); err != nil {
		t.Fatalf("ingest paid charge: %v", err)
	}
	fresh, err = f.orders.FindByID(ctx, f.db, o.ID)
	if err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if fresh.Status != order.StatusConfirmed || fresh.PaymentStatus != order.PaymentPaid {
		t.Errorf("order = (%s, %s), want confirmed paid", fresh.Status, fresh.PaymentStatus)
	}
}

func TestOneTimeOrderConfirms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := &order.Order{
		ID:     f.node.Generate(),
		UserID: f.node.Generate(),
		Total:  3200,
	}
	if err := f.orders.Create(ctx, f.db, o); err != nil {
		t.Fatalf("seed order: %v", err)
	}

	payload := webhookPayload("inv_order", "paid", o.Total, map[string]string{
		"payment_type": string(domain.TypeOneTimeOrder),
		"order_id":     o.ID.String(),
	})
	if err := f.ingest(t, payload); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	fresh, err := f.orders.FindByID(ctx, f.db, o.ID)
	if err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if fresh.Status != order.StatusConfirmed || fresh.PaymentStatus != order.PaymentPaid {
		t.Fatalf("order = (%s, %s), want confirmed paid", fresh.Status, fresh.PaymentStatus)
	}
	if fresh.ConfirmedAt == nil || fresh.PaymentID == nil {
		t.Error("confirmation fields missing")
	}

	if err := f.ingest(t, payload); err != nil {
		t.Fatalf("replay: %v", err)
	}
	again, _ := f.orders.FindByID(ctx, f.db, o.ID)
	if !again.ConfirmedAt.Equal(*fresh.ConfirmedAt) {
		t.Error("replay re-confirmed the order")
	}
}

func TestUnknownTypeLatchesWithReason(t *testing.T) {
	f := newFixture(t)
	payload := webhookPayload("inv_mystery", "paid", 500, map[string]string{
		"payment_type": "gift_card",
	})
	if err := f.ingest(t, payload); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	p := f.paymentByInvoice(t, "inv_mystery")
	if !p.Applied {
		t.Fatal("unknown type must still latch")
	}
	var meta map[string]any
	if err := json.Unmarshal(p.Metadata, &meta); err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta["unapplied_reason"] != "unknown_payment_type" {
		t.Errorf("unapplied_reason = %v", meta["unapplied_reason"])
	}
}

func TestConcurrentDuplicateResolvesToOneRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	invoiceID := "inv_dup"
	for i := 0; i < 3; i++ {
		record := &domain.Payment{
			ID:                f.node.Generate(),
			Provider:          moyasar.Provider,
			Type:              domain.TypePremiumTopup,
			Status:            domain.StatusInitiated,
			Amount:            1000,
			Currency:          "SAR",
			ProviderInvoiceID: &invoiceID,
		}
		resolved, err := f.repo.ResolveOrCreate(ctx, f.db, record)
		if err != nil {
			t.Fatalf("resolve %d: %v", i, err)
		}
		if resolved == nil {
			t.Fatalf("resolve %d returned nil", i)
		}
	}
	var count int64
	f.db.Model(&domain.Payment{}).Where("provider_invoice_id = ?", invoiceID).Count(&count)
	if count != 1 {
		t.Errorf("rows = %d, want 1", count)
	}
}
