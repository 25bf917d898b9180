// Package fulfillment drives the kitchen and courier side of the day
// lifecycle: status transitions after lock, delivery dispatch and the
// idempotent fulfillment settlement.
package fulfillment

import (
	"context"
	"encoding/json"

	"github.com/bwmarrin/snowflake"
	"github.com/sufrahq/sufra/internal/catalog"
	"github.com/sufrahq/sufra/internal/clock"
	"github.com/sufrahq/sufra/internal/delivery"
	ledgerdomain "github.com/sufrahq/sufra/internal/ledger/domain"
	"github.com/sufrahq/sufra/internal/metrics"
	"github.com/sufrahq/sufra/internal/notify"
	subdomain "github.com/sufrahq/sufra/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service is the post-lock day engine.
type Service interface {
	// FulfillDay settles a day: terminal status, fulfilled snapshot and the
	// credit debit commit together, exactly once.
	FulfillDay(ctx context.Context, dayID snowflake.ID) (*subdomain.SubscriptionDay, error)

	// TransitionDay moves a day along the kitchen/courier path.
	TransitionDay(ctx context.Context, dayID snowflake.ID, to subdomain.DayStatus) (*subdomain.SubscriptionDay, error)

	// AssignMeals lets the kitchen fill a day the subscriber never chose.
	AssignMeals(ctx context.Context, dayID snowflake.ID, mealIDs []snowflake.ID) (*subdomain.SubscriptionDay, error)

	// CancelDelivery aborts a dispatched day; the day is skipped with the
	// locked-state override and the courier run marked cancelled.
	CancelDelivery(ctx context.Context, dayID snowflake.ID) (*subdomain.SkipResult, error)

	Board(ctx context.Context, date string, statuses []subdomain.DayStatus) ([]subdomain.SubscriptionDay, error)
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Repo       subdomain.Repository
	Subs       subdomain.Service
	Ledger     ledgerdomain.Service
	Deliveries *delivery.Repository
	Catalog    *catalog.Repository
	Notifier   notify.Dispatcher
	Metrics    *metrics.Metrics
	Node       *snowflake.Node
	Clock      clock.Clock
	Log        *zap.Logger
}

type service struct {
	db         *gorm.DB
	repo       subdomain.Repository
	subs       subdomain.Service
	ledger     ledgerdomain.Service
	deliveries *delivery.Repository
	catalog    *catalog.Repository
	notifier   notify.Dispatcher
	metrics    *metrics.Metrics
	node       *snowflake.Node
	clock      clock.Clock
	log        *zap.Logger
}

func NewService(p Params) Service {
	return &service{
		db:         p.DB,
		repo:       p.Repo,
		subs:       p.Subs,
		ledger:     p.Ledger,
		deliveries: p.Deliveries,
		catalog:    p.Catalog,
		notifier:   p.Notifier,
		metrics:    p.Metrics,
		node:       p.Node,
		clock:      p.Clock,
		log:        p.Log.Named("fulfillment"),
	}
}

var Module = fx.Module("fulfillment",
	fx.Provide(NewService),
)

func (s *service) FulfillDay(ctx context.Context, dayID snowflake.ID) (*subdomain.SubscriptionDay, error) {
	day, err := s.repo.FindDayByID(ctx, s.db, dayID)
	if err != nil {
		return nil, err
	}
	if day.Status == subdomain.DayStatusSkipped {
		return nil, subdomain.ErrDaySkipped
	}
	// A fulfilled snapshot is the settlement receipt; its presence means all
	// effects already happened and the call is a replay.
	if day.DecodeFulfilledSnapshot() != nil || day.Status == subdomain.DayStatusFulfilled {
		return day, nil
	}
	if !subdomain.CanTransition(day.Status, subdomain.DayStatusFulfilled) {
		return nil, subdomain.ErrInvalidTransition
	}

	sub, err := s.repo.FindSubscription(ctx, s.db, day.SubscriptionID)
	if err != nil {
		return nil, err
	}
	plan, err := s.repo.FindPlan(ctx, s.db, sub.PlanID)
	if err != nil {
		return nil, err
	}

	deducted := 0
	if !day.CreditsDeducted {
		deducted = plan.MealsPerDay
	}

	// The locked snapshot, when present, is what the kitchen actually made.
	selections := day.SelectionIDs()
	premium := day.PremiumSelectionIDs()
	addons := day.AddonOneTimeIDs()
	if snap := day.DecodeLockedSnapshot(); snap != nil {
		selections = snap.Selections
		premium = snap.PremiumSelections
		addons = snap.AddonsOneTime
	}
	raw, err := json.Marshal(subdomain.FulfilledSnapshotData{
		Selections:        selections,
		PremiumSelections: premium,
		AddonsOneTime:     addons,
		DeductedCredits:   deducted,
	})
	if err != nil {
		return nil, err
	}

	priorStatus := day.Status
	now := s.clock.Now().UTC()
	var settled *subdomain.SubscriptionDay
	err = s.db.Transaction(func(tx *gorm.DB) error {
		claimed, err := s.repo.MarkFulfilled(ctx, tx, day.ID, raw, now)
		if err != nil {
			return err
		}
		if !claimed {
			winner, err := s.repo.FindDayByID(ctx, tx, day.ID)
			if err != nil {
				return err
			}
			// A skip that landed after the pre-image read keeps its terminal
			// state; only a finished fulfillment reads as a replay.
			if winner.Status == subdomain.DayStatusSkipped {
				return subdomain.ErrDaySkipped
			}
			settled = winner
			return nil
		}
		if deducted > 0 {
			if err := s.ledger.DebitMeals(ctx, tx, sub.ID, deducted); err != nil {
				return err
			}
		}
		if priorStatus == subdomain.DayStatusOutForDelivery {
			if _, err := s.deliveries.SetStatus(ctx, tx, day.ID, delivery.StatusOutForDelivery, delivery.StatusDelivered, &now); err != nil {
				return err
			}
		}
		day.Status = subdomain.DayStatusFulfilled
		day.CreditsDeducted = true
		day.FulfilledSnapshot = raw
		day.FulfilledAt = &now
		settled = day
		return nil
	})
	if err != nil {
		return nil, err
	}

	if settled.Status == subdomain.DayStatusFulfilled && settled == day {
		s.metrics.DaysFulfilled.Inc()
		s.notifier.Notify(ctx, sub.UserID, "Your meals are delivered",
			"Today's order is complete. Enjoy!",
			map[string]any{"date": day.Date})
		s.log.Info("day fulfilled",
			zap.String("day_id", day.ID.String()),
			zap.String("date", day.Date),
			zap.Int("deducted", deducted),
		)
	}
	return settled, nil
}

func (s *service) TransitionDay(ctx context.Context, dayID snowflake.ID, to subdomain.DayStatus) (*subdomain.SubscriptionDay, error) {
	if to == subdomain.DayStatusFulfilled {
		return s.FulfillDay(ctx, dayID)
	}
	switch to {
	case subdomain.DayStatusInPreparation, subdomain.DayStatusOutForDelivery, subdomain.DayStatusReadyForPickup:
	default:
		return nil, subdomain.ErrInvalidTransition
	}

	day, err := s.repo.FindDayByID(ctx, s.db, dayID)
	if err != nil {
		return nil, err
	}
	if day.Status == to {
		return day, nil
	}
	if !subdomain.CanTransition(day.Status, to) {
		return nil, subdomain.ErrInvalidTransition
	}

	sub, err := s.repo.FindSubscription(ctx, s.db, day.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if to == subdomain.DayStatusOutForDelivery && sub.DeliveryMode != subdomain.DeliveryModeDelivery {
		return nil, subdomain.ErrNotDeliveryMode
	}
	if to == subdomain.DayStatusReadyForPickup && sub.DeliveryMode != subdomain.DeliveryModePickup {
		return nil, subdomain.ErrNotPickupMode
	}
	plan, err := s.repo.FindPlan(ctx, s.db, sub.PlanID)
	if err != nil {
		return nil, err
	}

	// Leaving locked means the kitchen started working; the billable content
	// must be pinned first.
	day, err = s.subs.EnsureLockedSnapshot(ctx, s.db, sub, plan, day)
	if err != nil {
		return nil, err
	}

	from := day.Status
	claimed, err := s.repo.TransitionStatus(ctx, s.db, day.ID, from, to)
	if err != nil {
		return nil, err
	}
	if !claimed {
		fresh, err := s.repo.FindDayByID(ctx, s.db, day.ID)
		if err != nil {
			return nil, err
		}
		if fresh.Status == to {
			return fresh, nil
		}
		return nil, subdomain.ErrInvalidTransition
	}
	day.Status = to

	switch to {
	case subdomain.DayStatusOutForDelivery:
		address, window := subdomain.EffectiveDelivery(sub, day)
		if snap := day.DecodeLockedSnapshot(); snap != nil {
			address = snap.Address
			window = snap.DeliveryWindow
		}
		addressRaw, err := json.Marshal(address)
		if err != nil {
			return nil, err
		}
		if err := s.deliveries.Create(ctx, s.db, &delivery.Delivery{
			ID:             s.node.Generate(),
			SubscriptionID: sub.ID,
			DayID:          day.ID,
			Address:        addressRaw,
			Window:         window,
		}); err != nil {
			return nil, err
		}
		s.notifier.Notify(ctx, sub.UserID, "Your order is on the way",
			"The courier has picked up today's meals.",
			map[string]any{"date": day.Date, "window": window})
	case subdomain.DayStatusReadyForPickup:
		s.notifier.Notify(ctx, sub.UserID, "Your order is ready for pickup",
			"Today's meals are packed and waiting at the branch.",
			map[string]any{"date": day.Date})
	}

	s.log.Info("day transitioned",
		zap.String("day_id", day.ID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return day, nil
}

func (s *service) AssignMeals(ctx context.Context, dayID snowflake.ID, mealIDs []snowflake.ID) (*subdomain.SubscriptionDay, error) {
	day, err := s.repo.FindDayByID(ctx, s.db, dayID)
	if err != nil {
		return nil, err
	}
	switch day.Status {
	case subdomain.DayStatusSkipped:
		return nil, subdomain.ErrDaySkipped
	case subdomain.DayStatusFulfilled:
		return nil, subdomain.ErrDayFulfilled
	}

	meals, err := s.catalog.FindMeals(ctx, s.db, mealIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[snowflake.ID]catalog.Meal, len(meals))
	for _, meal := range meals {
		byID[meal.ID] = meal
	}
	for _, id := range mealIDs {
		meal, ok := byID[id]
		if !ok || !meal.IsActive {
			return nil, subdomain.ErrMealNotFound
		}
		if meal.IsPremium() {
			return nil, subdomain.ErrMealTypeMismatch
		}
	}

	if err := s.repo.MarkAssignedByKitchen(ctx, s.db, day.ID, subdomain.EncodeIDs(mealIDs)); err != nil {
		return nil, err
	}
	day.Selections = subdomain.EncodeIDs(mealIDs)
	day.AssignedByKitchen = true
	return day, nil
}

func (s *service) CancelDelivery(ctx context.Context, dayID snowflake.ID) (*subdomain.SkipResult, error) {
	day, err := s.repo.FindDayByID(ctx, s.db, dayID)
	if err != nil {
		return nil, err
	}
	sub, err := s.repo.FindSubscription(ctx, s.db, day.SubscriptionID)
	if err != nil {
		return nil, err
	}
	plan, err := s.repo.FindPlan(ctx, s.db, sub.PlanID)
	if err != nil {
		return nil, err
	}

	var result *subdomain.SkipResult
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		result, txErr = s.subs.ApplySkipForDate(ctx, tx, sub, plan, day.Date, true)
		if txErr != nil {
			return txErr
		}
		_, txErr = s.deliveries.SetStatus(ctx, tx, day.ID, delivery.StatusOutForDelivery, delivery.StatusCancelled, nil)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	if result.Outcome == subdomain.SkipOutcomeSkipped {
		s.metrics.DaysSkipped.Inc()
		s.notifier.Notify(ctx, sub.UserID, "Delivery cancelled",
			"Today's delivery was cancelled. The day has been marked skipped.",
			map[string]any{"date": day.Date})
	}
	return result, nil
}

func (s *service) Board(ctx context.Context, date string, statuses []subdomain.DayStatus) ([]subdomain.SubscriptionDay, error) {
	return s.repo.ListDaysForDate(ctx, s.db, date, statuses)
}
