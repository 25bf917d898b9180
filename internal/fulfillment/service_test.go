package fulfillment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sufrahq/sufra/internal/catalog"
	"github.com/sufrahq/sufra/internal/clock"
	"github.com/sufrahq/sufra/internal/delivery"
	"github.com/sufrahq/sufra/internal/ksatime"
	ledgerdomain "github.com/sufrahq/sufra/internal/ledger/domain"
	ledgerservice "github.com/sufrahq/sufra/internal/ledger/service"
	"github.com/sufrahq/sufra/internal/metrics"
	"github.com/sufrahq/sufra/internal/notify"
	"github.com/sufrahq/sufra/internal/salad"
	"github.com/sufrahq/sufra/internal/settings"
	subdomain "github.com/sufrahq/sufra/internal/subscription/domain"
	"github.com/sufrahq/sufra/internal/subscription/repository"
	subservice "github.com/sufrahq/sufra/internal/subscription/service"
	"github.com/sufrahq/sufra/internal/testutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 3, 10, 14, 0, 0, 0, ksatime.Location)

type fixture struct {
	db         *gorm.DB
	svc        Service
	repo       subdomain.Repository
	deliveries *delivery.Repository
	node       *snowflake.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.OpenDB(t)
	node := testutil.Node(t)
	log := zap.NewNop()
	fixed := clock.Fixed(testNow)

	repo := repository.Provide()
	cat := catalog.Provide()
	set := settings.NewService(settings.Params{DB: db, Log: log})
	ledger := ledgerservice.NewService(ledgerservice.Params{Log: log})
	salads := salad.NewBuilder(salad.Params{Catalog: cat, Settings: set})
	subs := subservice.NewService(subservice.Params{
		DB: db, Repo: repo, Ledger: ledger, Settings: set,
		Catalog: cat, Salads: salads, Node: node, Clock: fixed, Log: log,
	})
	deliveries := delivery.Provide()
	notifier := notify.NewDispatcher(notify.Params{DB: db, Node: node, Log: log})

	svc := NewService(Params{
		DB:         db,
		Repo:       repo,
		Subs:       subs,
		Ledger:     ledger,
		Deliveries: deliveries,
		Catalog:    cat,
		Notifier:   notifier,
		Metrics:    metrics.NewWith(prometheus.NewRegistry()),
		Node:       node,
		Clock:      fixed,
		Log:        log,
	})
	return &fixture{db: db, svc: svc, repo: repo, deliveries: deliveries, node: node}
}

func tptr(t time.Time) *time.Time { return &t }

func (f *fixture) seed(t *testing.T, mode subdomain.DeliveryMode, remaining int, dayStatus subdomain.DayStatus) (*subdomain.Subscription, *subdomain.SubscriptionDay) {
	t.Helper()
	plan := &subdomain.Plan{
		ID:          f.node.Generate(),
		Name:        "Daily 1",
		DaysCount:   10,
		MealsPerDay: 1,
		Price:       80000,
		IsActive:    true,
	}
	if err := f.db.Create(plan).Error; err != nil {
		t.Fatalf("seed plan: %v", err)
	}
	end := time.Date(2026, 3, 19, 0, 0, 0, 0, ksatime.Location)
	sub := &subdomain.Subscription{
		ID:              f.node.Generate(),
		UserID:          f.node.Generate(),
		PlanID:          plan.ID,
		Status:          subdomain.SubscriptionStatusActive,
		EndDate:         tptr(end),
		ValidityEndDate: tptr(end),
		TotalMeals:      10,
		RemainingMeals:  remaining,
		DeliveryMode:    mode,
		DeliveryWindow:  "12:00-15:00",
	}
	if err := f.db.Create(sub).Error; err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	day := &subdomain.SubscriptionDay{
		ID:             f.node.Generate(),
		SubscriptionID: sub.ID,
		Date:           "2026-03-10",
		Status:         dayStatus,
	}
	if err := f.db.Create(day).Error; err != nil {
		t.Fatalf("seed day: %v", err)
	}
	return sub, day
}

func (f *fixture) remaining(t *testing.T, id snowflake.ID) int {
	t.Helper()
	sub, err := f.repo.FindSubscription(context.Background(), f.db, id)
	if err != nil {
		t.Fatalf("reload subscription: %v", err)
	}
	return sub.RemainingMeals
}

func TestFulfillOutForDeliveryDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub, day := f.seed(t, subdomain.DeliveryModeDelivery, 5, subdomain.DayStatusOutForDelivery)

	got, err := f.svc.FulfillDay(ctx, day.ID)
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if got.Status != subdomain.DayStatusFulfilled {
		t.Fatalf("status = %s, want fulfilled", got.Status)
	}
	snap := got.DecodeFulfilledSnapshot()
	if snap == nil {
		t.Fatal("fulfilled snapshot missing")
	}
	if snap.DeductedCredits != 1 {
		t.Errorf("deducted = %d, want 1", snap.DeductedCredits)
	}
	if got := f.remaining(t, sub.ID); got != 4 {
		t.Errorf("remaining = %d, want 4", got)
	}
}

func TestFulfillDayReplayIsFree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub, day := f.seed(t, subdomain.DeliveryModeDelivery, 5, subdomain.DayStatusOutForDelivery)

	if _, err := f.svc.FulfillDay(ctx, day.ID); err != nil {
		t.Fatalf("first fulfill: %v", err)
	}
	got, err := f.svc.FulfillDay(ctx, day.ID)
	if err != nil {
		t.Fatalf("replay fulfill: %v", err)
	}
	if got.Status != subdomain.DayStatusFulfilled {
		t.Fatalf("status = %s, want fulfilled", got.Status)
	}
	if got := f.remaining(t, sub.ID); got != 4 {
		t.Errorf("replay changed balance: remaining = %d, want 4", got)
	}
}

func TestFulfillPickupDayDoesNotDoubleCharge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub, day := f.seed(t, subdomain.DeliveryModePickup, 5, subdomain.DayStatusReadyForPickup)
	// Pickup days are charged when the claim locks them.
	if err := f.db.Exec(`UPDATE subscription_days SET credits_deducted = ?, pickup_requested = ? WHERE id = ?`, true, true, day.ID).Error; err != nil {
		t.Fatalf("seed deducted flag: %v", err)
	}

	got, err := f.svc.FulfillDay(ctx, day.ID)
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if snap := got.DecodeFulfilledSnapshot(); snap == nil || snap.DeductedCredits != 0 {
		t.Errorf("snapshot deducted = %+v, want 0", snap)
	}
	if got := f.remaining(t, sub.ID); got != 5 {
		t.Errorf("remaining = %d, want untouched 5", got)
	}
}

func TestFulfillRefusals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, openDay := f.seed(t, subdomain.DeliveryModeDelivery, 5, subdomain.DayStatusOpen)
	if _, err := f.svc.FulfillDay(ctx, openDay.ID); !errors.Is(err, subdomain.ErrInvalidTransition) {
		t.Errorf("open day: got %v, want ErrInvalidTransition", err)
	}

	// Locked days have to pass through dispatch before they can settle.
	_, lockedDay := f.seed(t, subdomain.DeliveryModeDelivery, 5, subdomain.DayStatusLocked)
	if _, err := f.svc.FulfillDay(ctx, lockedDay.ID); !errors.Is(err, subdomain.ErrInvalidTransition) {
		t.Errorf("locked day: got %v, want ErrInvalidTransition", err)
	}

	_, skippedDay := f.seed(t, subdomain.DeliveryModeDelivery, 5, subdomain.DayStatusSkipped)
	if _, err := f.svc.FulfillDay(ctx, skippedDay.ID); !errors.Is(err, subdomain.ErrDaySkipped) {
		t.Errorf("skipped day: got %v, want ErrDaySkipped", err)
	}
}

func TestMarkFulfilledLeavesTerminalDays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, day := f.seed(t, subdomain.DeliveryModeDelivery, 5, subdomain.DayStatusSkipped)

	// A skip that lands just before settlement keeps its terminal state.
	claimed, err := f.repo.MarkFulfilled(ctx, f.db, day.ID, nil, testNow.UTC())
	if err != nil {
		t.Fatalf("mark fulfilled: %v", err)
	}
	if claimed {
		t.Fatal("skipped day must not settle")
	}
	fresh, err := f.repo.FindDayByID(ctx, f.db, day.ID)
	if err != nil {
		t.Fatalf("reload day: %v", err)
	}
	if fresh.Status != subdomain.DayStatusSkipped {
		t.Errorf("status = %s, want skipped", fresh.Status)
	}
}

func TestFulfillInsufficientCreditsAborts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub, day := f.seed(t, subdomain.DeliveryModeDelivery, 0, subdomain.DayStatusOutForDelivery)

	_, err := f.svc.FulfillDay(ctx, day.ID)
	if !errors.Is(err, ledgerdomain.ErrInsufficientCredits) {
		t.Fatalf("got %v, want ErrInsufficientCredits", err)
	}
	fresh, err := f.repo.FindDayByID(ctx, f.db, day.ID)
	if err != nil {
		t.Fatalf("reload day: %v", err)
	}
	if fresh.Status != subdomain.DayStatusOutForDelivery || len(fresh.FulfilledSnapshot) != 0 {
		t.Errorf("day = (%s, snapshot=%d bytes), want untouched dispatched day", fresh.Status, len(fresh.FulfilledSnapshot))
	}
	if got := f.remaining(t, sub.ID); got != 0 {
		t.Errorf("remaining = %d, want 0", got)
	}
}

func TestTransitionToOutForDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub, day := f.seed(t, subdomain.DeliveryModeDelivery, 5, subdomain.DayStatusLocked)

	got, err := f.svc.TransitionDay(ctx, day.ID, subdomain.DayStatusOutForDelivery)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if got.Status != subdomain.DayStatusOutForDelivery {
		t.Fatalf("status = %s, want out_for_delivery", got.Status)
	}
	if len(got.LockedSnapshot) == 0 {
		t.Error("leaving locked must pin the snapshot")
	}

	run, err := f.deliveries.FindByDay(ctx, f.db, day.ID)
	if err != nil {
		t.Fatalf("delivery record: %v", err)
	}
	if run.SubscriptionID != sub.ID || run.Status != delivery.StatusOutForDelivery {
		t.Errorf("delivery = %+v", run)
	}

	// Fulfillment closes the courier run.
	if _, err := f.svc.FulfillDay(ctx, day.ID); err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	run, err = f.deliveries.FindByDay(ctx, f.db, day.ID)
	if err != nil {
		t.Fatalf("delivery record: %v", err)
	}
	if run.Status != delivery.StatusDelivered || run.DeliveredAt == nil {
		t.Errorf("delivery after fulfill = %+v, want delivered", run)
	}
}

func TestTransitionModeGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, pickupDay := f.seed(t, subdomain.DeliveryModePickup, 5, subdomain.DayStatusLocked)
	if _, err := f.svc.TransitionDay(ctx, pickupDay.ID, subdomain.DayStatusOutForDelivery); !errors.Is(err, subdomain.ErrNotDeliveryMode) {
		t.Errorf("pickup sub out for delivery: got %v, want ErrNotDeliveryMode", err)
	}

	_, deliveryDay := f.seed(t, subdomain.DeliveryModeDelivery, 5, subdomain.DayStatusLocked)
	if _, err := f.svc.TransitionDay(ctx, deliveryDay.ID, subdomain.DayStatusReadyForPickup); !errors.Is(err, subdomain.ErrNotPickupMode) {
		t.Errorf("delivery sub ready for pickup: got %v, want ErrNotPickupMode", err)
	}

	_, openDay := f.seed(t, subdomain.DeliveryModeDelivery, 5, subdomain.DayStatusOpen)
	if _, err := f.svc.TransitionDay(ctx, openDay.ID, subdomain.DayStatusOutForDelivery); !errors.Is(err, subdomain.ErrInvalidTransition) {
		t.Errorf("open day dispatch: got %v, want ErrInvalidTransition", err)
	}
}

func TestCancelDeliverySkipsDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub, day := f.seed(t, subdomain.DeliveryModeDelivery, 5, subdomain.DayStatusLocked)
	if _, err := f.svc.TransitionDay(ctx, day.ID, subdomain.DayStatusOutForDelivery); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	result, err := f.svc.CancelDelivery(ctx, day.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if result.Outcome != subdomain.SkipOutcomeSkipped {
		t.Fatalf("outcome = %s, want skipped", result.Outcome)
	}

	fresh, err := f.repo.FindDayByID(ctx, f.db, day.ID)
	if err != nil {
		t.Fatalf("reload day: %v", err)
	}
	if fresh.Status != subdomain.DayStatusSkipped {
		t.Errorf("day status = %s, want skipped", fresh.Status)
	}
	run, err := f.deliveries.FindByDay(ctx, f.db, day.ID)
	if err != nil {
		t.Fatalf("delivery record: %v", err)
	}
	if run.Status != delivery.StatusCancelled {
		t.Errorf("delivery status = %s, want cancelled", run.Status)
	}
	// The forfeited meal still debits.
	subFresh, err := f.repo.FindSubscription(ctx, f.db, sub.ID)
	if err != nil {
		t.Fatalf("reload sub: %v", err)
	}
	if subFresh.RemainingMeals != 4 {
		t.Errorf("remaining = %d, want 4", subFresh.RemainingMeals)
	}
}

func TestAssignMeals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, day := f.seed(t, subdomain.DeliveryModeDelivery, 5, subdomain.DayStatusLocked)
	meal := &catalog.Meal{ID: f.node.Generate(), Name: "Grilled chicken", Type: catalog.MealTypeRegular, IsActive: true}
	if err := f.db.Create(meal).Error; err != nil {
		t.Fatalf("seed meal: %v", err)
	}

	got, err := f.svc.AssignMeals(ctx, day.ID, []snowflake.ID{meal.ID})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if !got.AssignedByKitchen {
		t.Error("expected assigned_by_kitchen")
	}
	if ids := got.SelectionIDs(); len(ids) != 1 || ids[0] != meal.ID {
		t.Errorf("selections = %v", ids)
	}
}
