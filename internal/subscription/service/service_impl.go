package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sufrahq/sufra/internal/catalog"
	"github.com/sufrahq/sufra/internal/clock"
	"github.com/sufrahq/sufra/internal/ksatime"
	ledgerdomain "github.com/sufrahq/sufra/internal/ledger/domain"
	"github.com/sufrahq/sufra/internal/salad"
	"github.com/sufrahq/sufra/internal/settings"
	"github.com/sufrahq/sufra/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// maxSkipRangeDays bounds a single skip-range request.
const maxSkipRangeDays = 31

type Params struct {
	fx.In

	DB       *gorm.DB
	Repo     domain.Repository
	Ledger   ledgerdomain.Service
	Settings *settings.Service
	Catalog  *catalog.Repository
	Salads   *salad.Builder
	Node     *snowflake.Node
	Clock    clock.Clock
	Log      *zap.Logger
}

type Service struct {
	db       *gorm.DB
	repo     domain.Repository
	ledger   ledgerdomain.Service
	settings *settings.Service
	catalog  *catalog.Repository
	salads   *salad.Builder
	node     *snowflake.Node
	clock    clock.Clock
	log      *zap.Logger
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		repo:     p.Repo,
		ledger:   p.Ledger,
		settings: p.Settings,
		catalog:  p.Catalog,
		salads:   p.Salads,
		node:     p.Node,
		clock:    p.Clock,
		log:      p.Log.Named("subscription.service"),
	}
}

func (s *Service) Get(ctx context.Context, subscriptionID snowflake.ID) (*domain.Subscription, error) {
	return s.repo.FindSubscription(ctx, s.db, subscriptionID)
}

func (s *Service) Days(ctx context.Context, subscriptionID snowflake.ID) ([]domain.SubscriptionDay, error) {
	if _, err := s.repo.FindSubscription(ctx, s.db, subscriptionID); err != nil {
		return nil, err
	}
	return s.repo.ListDays(ctx, s.db, subscriptionID)
}

func (s *Service) Preview(ctx context.Context, input domain.CheckoutInput) (*domain.Quote, error) {
	plan, refs, err := s.resolveCheckout(ctx, input)
	if err != nil {
		return nil, err
	}
	return buildQuote(plan, refs), nil
}

func (s *Service) Checkout(ctx context.Context, input domain.CheckoutInput) (*domain.CheckoutResult, error) {
	plan, refs, err := s.resolveCheckout(ctx, input)
	if err != nil {
		return nil, err
	}
	quote := buildQuote(plan, refs)

	addonsRaw, err := json.Marshal(refs)
	if err != nil {
		return nil, err
	}
	var addressRaw datatypes.JSON
	if input.Address != nil {
		addressRaw, err = json.Marshal(input.Address)
		if err != nil {
			return nil, err
		}
	}

	premiumHalalas := int64(s.settings.GetFloat(ctx, settings.KeyPremiumPrice, 20) * 100)
	now := s.clock.Now().UTC()
	sub := &domain.Subscription{
		ID:                 s.node.Generate(),
		UserID:             input.UserID,
		PlanID:             plan.ID,
		Status:             domain.SubscriptionStatusPendingPayment,
		TotalMeals:         plan.DaysCount * plan.MealsPerDay,
		RemainingMeals:     plan.DaysCount * plan.MealsPerDay,
		PremiumPrice:       premiumHalalas,
		AddonSubscriptions: addonsRaw,
		DeliveryMode:       input.DeliveryMode,
		DeliveryAddress:    addressRaw,
		DeliveryWindow:     input.DeliveryWindow,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repo.CreateSubscription(ctx, s.db, sub); err != nil {
		return nil, err
	}

	s.log.Info("subscription checkout",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("plan_id", plan.ID.String()),
		zap.Int64("total", quote.Total),
	)
	return &domain.CheckoutResult{Subscription: sub, Quote: quote}, nil
}

func (s *Service) resolveCheckout(ctx context.Context, input domain.CheckoutInput) (*domain.Plan, []domain.AddonRef, error) {
	plan, err := s.repo.FindPlan(ctx, s.db, input.PlanID)
	if err != nil {
		return nil, nil, err
	}
	if !plan.IsActive {
		return nil, nil, domain.ErrPlanInactive
	}

	switch input.DeliveryMode {
	case domain.DeliveryModeDelivery:
		if input.Address == nil {
			return nil, nil, domain.ErrMissingAddress
		}
		if err := s.validateWindow(ctx, input.DeliveryWindow); err != nil {
			return nil, nil, err
		}
	case domain.DeliveryModePickup:
	default:
		return nil, nil, domain.ErrInvalidDeliveryMode
	}

	addons, err := s.catalog.FindAddons(ctx, s.db, input.AddonIDs)
	if err != nil {
		return nil, nil, err
	}
	byID := make(map[snowflake.ID]catalog.Addon, len(addons))
	for _, addon := range addons {
		byID[addon.ID] = addon
	}
	refs := make([]domain.AddonRef, 0, len(input.AddonIDs))
	for _, id := range input.AddonIDs {
		addon, ok := byID[id]
		if !ok || !addon.IsActive || addon.Type != catalog.AddonTypeSubscription {
			return nil, nil, domain.ErrAddonNotFound
		}
		refs = append(refs, domain.AddonRef{
			AddonID: addon.ID,
			Name:    addon.Name,
			Price:   addon.Price,
			Type:    addon.Type,
		})
	}
	return plan, refs, nil
}

func buildQuote(plan *domain.Plan, refs []domain.AddonRef) *domain.Quote {
	quote := &domain.Quote{
		PlanID:      plan.ID,
		PlanName:    plan.Name,
		PlanPrice:   plan.Price,
		DaysCount:   plan.DaysCount,
		MealsPerDay: plan.MealsPerDay,
		Addons:      refs,
		Currency:    "SAR",
	}
	for _, ref := range refs {
		quote.AddonsTotal += ref.Price * int64(plan.DaysCount)
	}
	quote.Total = plan.Price + quote.AddonsTotal
	return quote
}

func (s *Service) Activate(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, now time.Time) (bool, error) {
	sub, err := s.repo.FindSubscription(ctx, db, subscriptionID)
	if err != nil {
		return false, err
	}
	plan, err := s.repo.FindPlan(ctx, db, sub.PlanID)
	if err != nil {
		return false, err
	}

	startDate := ksatime.Tomorrow(now)
	endDate, err := ksatime.AddDays(startDate, plan.DaysCount-1)
	if err != nil {
		return false, err
	}
	start, err := time.ParseInLocation(ksatime.DateLayout, startDate, ksatime.Location)
	if err != nil {
		return false, err
	}
	end, err := time.ParseInLocation(ksatime.DateLayout, endDate, ksatime.Location)
	if err != nil {
		return false, err
	}

	claimed, err := s.repo.ActivateSubscription(ctx, db, subscriptionID, start, end)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	days := make([]domain.SubscriptionDay, 0, plan.DaysCount)
	createdAt := s.clock.Now().UTC()
	for i := 0; i < plan.DaysCount; i++ {
		date, err := ksatime.AddDays(startDate, i)
		if err != nil {
			return false, err
		}
		days = append(days, domain.SubscriptionDay{
			ID:             s.node.Generate(),
			SubscriptionID: subscriptionID,
			Date:           date,
			Status:         domain.DayStatusOpen,
			CreatedAt:      createdAt,
			UpdatedAt:      createdAt,
		})
	}
	if err := s.repo.CreateDays(ctx, db, days); err != nil {
		return false, err
	}

	s.log.Info("subscription activated",
		zap.String("subscription_id", subscriptionID.String()),
		zap.String("start_date", startDate),
		zap.String("end_date", endDate),
	)
	return true, nil
}

func (s *Service) SkipDay(ctx context.Context, subscriptionID snowflake.ID, date string) (*domain.SkipResult, error) {
	sub, err := s.repo.FindSubscription(ctx, s.db, subscriptionID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if err := ensureActive(sub, now); err != nil {
		return nil, err
	}
	if err := s.validateEditableDate(ctx, date, now); err != nil {
		return nil, err
	}
	plan, err := s.repo.FindPlan(ctx, s.db, sub.PlanID)
	if err != nil {
		return nil, err
	}

	var result *domain.SkipResult
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		result, txErr = s.ApplySkipForDate(ctx, tx, sub, plan, date, false)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) SkipRange(ctx context.Context, subscriptionID snowflake.ID, from, to string) ([]domain.SkipResult, error) {
	if !ksatime.IsValidDate(from) || !ksatime.IsValidDate(to) || ksatime.Compare(from, to) > 0 {
		return nil, domain.ErrInvalidDate
	}

	dates := []string{from}
	for cursor := from; ksatime.Compare(cursor, to) < 0; {
		next, err := ksatime.AddDays(cursor, 1)
		if err != nil {
			return nil, domain.ErrInvalidDate
		}
		dates = append(dates, next)
		cursor = next
		if len(dates) > maxSkipRangeDays {
			return nil, domain.ErrInvalidDate
		}
	}

	results := make([]domain.SkipResult, 0, len(dates))
	for _, date := range dates {
		result, err := s.SkipDay(ctx, subscriptionID, date)
		if err != nil {
			return results, err
		}
		results = append(results, *result)
	}
	return results, nil
}

// ApplySkipForDate runs inside the caller's transaction. The ledger debit and
// skipped-count update both touch the subscription row, so concurrent skips
// serialize on the row lock and the re-read below observes committed state.
func (s *Service) ApplySkipForDate(ctx context.Context, db *gorm.DB, sub *domain.Subscription, plan *domain.Plan, date string, allowLocked bool) (*domain.SkipResult, error) {
	day, err := s.repo.FindDay(ctx, db, sub.ID, date)
	if err != nil {
		return nil, err
	}

	switch day.Status {
	case domain.DayStatusSkipped:
		return &domain.SkipResult{Outcome: domain.SkipOutcomeAlreadySkipped, Day: day}, nil
	case domain.DayStatusFulfilled:
		return nil, domain.ErrDayFulfilled
	}
	if !allowLocked && day.Status != domain.DayStatusOpen {
		return nil, domain.ErrDayLocked
	}

	claimed, err := s.repo.MarkSkipped(ctx, db, day.ID, !allowLocked)
	if err != nil {
		return nil, err
	}
	if !claimed {
		fresh, err := s.repo.FindDayByID(ctx, db, day.ID)
		if err != nil {
			return nil, err
		}
		switch fresh.Status {
		case domain.DayStatusSkipped:
			return &domain.SkipResult{Outcome: domain.SkipOutcomeAlreadySkipped, Day: fresh}, nil
		case domain.DayStatusFulfilled:
			return nil, domain.ErrDayFulfilled
		default:
			return nil, domain.ErrDayLocked
		}
	}

	if !day.CreditsDeducted {
		if err := s.ledger.DebitMeals(ctx, db, sub.ID, plan.MealsPerDay); err != nil {
			return nil, err
		}
	}
	if err := s.repo.IncrementSkippedCount(ctx, db, sub.ID); err != nil {
		return nil, err
	}

	fresh, err := s.repo.FindSubscription(ctx, db, sub.ID)
	if err != nil {
		return nil, err
	}

	compensated := ""
	if fresh.SkippedCount <= plan.SkipAllowance {
		end := fresh.ValidityEnd()
		if end == nil {
			s.log.Warn("active subscription without validity end, skipping compensation",
				zap.String("subscription_id", sub.ID.String()))
		} else {
			compensated, err = ksatime.AddDays(ksatime.DateString(*end), 1)
			if err != nil {
				return nil, err
			}
			newEnd, err := time.ParseInLocation(ksatime.DateLayout, compensated, ksatime.Location)
			if err != nil {
				return nil, err
			}
			if err := s.repo.ExtendValidity(ctx, db, sub.ID, newEnd); err != nil {
				return nil, err
			}
			now := s.clock.Now().UTC()
			if err := s.repo.CreateDay(ctx, db, &domain.SubscriptionDay{
				ID:             s.node.Generate(),
				SubscriptionID: sub.ID,
				Date:           compensated,
				Status:         domain.DayStatusOpen,
				CreatedAt:      now,
				UpdatedAt:      now,
			}); err != nil {
				return nil, err
			}
		}
	}

	day.Status = domain.DayStatusSkipped
	day.CreditsDeducted = true
	s.log.Info("day skipped",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("date", date),
		zap.Int("skipped_count", fresh.SkippedCount),
		zap.String("compensated_date", compensated),
	)
	return &domain.SkipResult{
		Outcome:         domain.SkipOutcomeSkipped,
		Day:             day,
		CompensatedDate: compensated,
	}, nil
}

func (s *Service) UpdateDaySelections(ctx context.Context, subscriptionID snowflake.ID, date string, selections, premiumSelections []snowflake.ID) (*domain.SubscriptionDay, error) {
	sub, err := s.repo.FindSubscription(ctx, s.db, subscriptionID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if err := ensureActive(sub, now); err != nil {
		return nil, err
	}
	if err := s.validateEditableDate(ctx, date, now); err != nil {
		return nil, err
	}
	plan, err := s.repo.FindPlan(ctx, s.db, sub.PlanID)
	if err != nil {
		return nil, err
	}
	if len(selections)+len(premiumSelections) > plan.MealsPerDay {
		return nil, domain.ErrDailyCapExceeded
	}
	if err := s.validateMeals(ctx, selections, premiumSelections); err != nil {
		return nil, err
	}

	var updated *domain.SubscriptionDay
	err = s.db.Transaction(func(tx *gorm.DB) error {
		day, err := s.findOrCreateDay(ctx, tx, sub, date)
		if err != nil {
			return err
		}
		if err := requireOpen(day); err != nil {
			return err
		}

		if sameIDSet(day.SelectionIDs(), selections) && sameIDSet(day.PremiumSelectionIDs(), premiumSelections) {
			updated = day
			return nil
		}

		delta := len(premiumSelections) - len(day.PremiumSelectionIDs())
		if delta > 0 {
			if err := s.ledger.DebitPremium(ctx, tx, sub.ID, delta); err != nil {
				return err
			}
		} else if delta < 0 {
			if err := s.ledger.CreditPremium(ctx, tx, sub.ID, -delta); err != nil {
				return err
			}
		}

		if err := s.repo.UpdateDaySelections(ctx, tx, day.ID,
			domain.EncodeIDs(selections), domain.EncodeIDs(premiumSelections)); err != nil {
			return err
		}
		day.Selections = domain.EncodeIDs(selections)
		day.PremiumSelections = domain.EncodeIDs(premiumSelections)
		updated = day
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) SetDayAddons(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, date string, addonIDs []snowflake.ID) (*domain.SubscriptionDay, error) {
	sub, err := s.repo.FindSubscription(ctx, db, subscriptionID)
	if err != nil {
		return nil, err
	}
	addons, err := s.catalog.FindAddons(ctx, db, addonIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[snowflake.ID]catalog.Addon, len(addons))
	for _, addon := range addons {
		byID[addon.ID] = addon
	}
	for _, id := range addonIDs {
		addon, ok := byID[id]
		if !ok || !addon.IsActive || addon.Type != catalog.AddonTypeOneTime {
			return nil, domain.ErrAddonNotFound
		}
	}

	day, err := s.repo.FindDay(ctx, db, sub.ID, date)
	if err != nil {
		return nil, err
	}
	// Each purchase adds to the day's set; an earlier add-on must survive a
	// later one landing on the same day.
	merged := day.AddonOneTimeIDs()
	seen := make(map[snowflake.ID]struct{}, len(merged)+len(addonIDs))
	for _, id := range merged {
		seen[id] = struct{}{}
	}
	for _, id := range addonIDs {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			merged = append(merged, id)
		}
	}
	encoded := domain.EncodeIDs(merged)
	claimed, err := s.repo.UpdateDayAddons(ctx, db, day.ID, encoded)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, domain.ErrDayLocked
	}
	day.AddonsOneTime = encoded
	return day, nil
}

func (s *Service) AttachCustomSalad(ctx context.Context, subscriptionID snowflake.ID, date string, items []salad.Item) (*domain.SubscriptionDay, error) {
	sub, err := s.repo.FindSubscription(ctx, s.db, subscriptionID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if err := ensureActive(sub, now); err != nil {
		return nil, err
	}
	if err := s.validateEditableDate(ctx, date, now); err != nil {
		return nil, err
	}

	var updated *domain.SubscriptionDay
	err = s.db.Transaction(func(tx *gorm.DB) error {
		day, err := s.findOrCreateDay(ctx, tx, sub, date)
		if err != nil {
			return err
		}
		if err := requireOpen(day); err != nil {
			return err
		}

		snapshot, err := s.salads.Build(ctx, tx, items)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(snapshot)
		if err != nil {
			return err
		}
		claimed, err := s.repo.UpdateDayCustomSalads(ctx, tx, day.ID, raw)
		if err != nil {
			return err
		}
		if !claimed {
			return domain.ErrDayLocked
		}
		day.CustomSalads = raw
		updated = day
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) PreparePickup(ctx context.Context, subscriptionID snowflake.ID, date string) (*domain.SubscriptionDay, error) {
	sub, err := s.repo.FindSubscription(ctx, s.db, subscriptionID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if err := ensureActive(sub, now); err != nil {
		return nil, err
	}
	if sub.DeliveryMode != domain.DeliveryModePickup {
		return nil, domain.ErrNotPickupMode
	}
	if err := s.validateEditableDate(ctx, date, now); err != nil {
		return nil, err
	}
	plan, err := s.repo.FindPlan(ctx, s.db, sub.PlanID)
	if err != nil {
		return nil, err
	}

	day, err := s.repo.FindDay(ctx, s.db, sub.ID, date)
	if err != nil {
		return nil, err
	}
	switch day.Status {
	case domain.DayStatusSkipped:
		return nil, domain.ErrDaySkipped
	case domain.DayStatusFulfilled:
		return nil, domain.ErrDayFulfilled
	}
	if day.PickupRequested && day.CreditsDeducted {
		return day, nil
	}

	// Pickup charges at lock time. The claim, the snapshot and the debit
	// commit together, so a failed debit leaves the day open with no stale
	// snapshot and the subscriber can top up, change the day and retry.
	var prepared *domain.SubscriptionDay
	err = s.db.Transaction(func(tx *gorm.DB) error {
		claimed, err := s.repo.MarkLockedForPickup(ctx, tx, day.ID)
		if err != nil {
			return err
		}
		if !claimed {
			fresh, err := s.repo.FindDayByID(ctx, tx, day.ID)
			if err != nil {
				return err
			}
			if fresh.PickupRequested {
				prepared = fresh
				return nil
			}
			return domain.ErrDayLocked
		}
		day.Status = domain.DayStatusLocked
		day.PickupRequested = true
		day.CreditsDeducted = true

		day, err = s.EnsureLockedSnapshot(ctx, tx, sub, plan, day)
		if err != nil {
			return err
		}
		if err := s.ledger.DebitMeals(ctx, tx, sub.ID, plan.MealsPerDay); err != nil {
			return err
		}
		prepared = day
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("pickup prepared",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("date", date),
	)
	return prepared, nil
}

func (s *Service) EnsureLockedSnapshot(ctx context.Context, db *gorm.DB, sub *domain.Subscription, plan *domain.Plan, day *domain.SubscriptionDay) (*domain.SubscriptionDay, error) {
	if len(day.LockedSnapshot) > 0 {
		return day, nil
	}

	address, window := domain.EffectiveDelivery(sub, day)
	snap := domain.LockedSnapshotData{
		Selections:         day.SelectionIDs(),
		PremiumSelections:  day.PremiumSelectionIDs(),
		AddonsOneTime:      day.AddonOneTimeIDs(),
		SubscriptionAddons: sub.Addons(),
		Address:            address,
		DeliveryWindow:     window,
		Pricing: domain.PricingRef{
			PlanID:       plan.ID,
			PremiumPrice: sub.PremiumPrice,
			Addons:       sub.Addons(),
		},
		MealsPerDay: plan.MealsPerDay,
	}
	if len(day.CustomSalads) > 0 {
		snap.CustomSalads = json.RawMessage(day.CustomSalads)
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}

	lockedAt := s.clock.Now().UTC()
	claimed, err := s.repo.SetLockedSnapshot(ctx, db, day.ID, raw, lockedAt)
	if err != nil {
		return nil, err
	}
	if !claimed {
		// A concurrent writer captured the snapshot first; theirs wins.
		return s.repo.FindDayByID(ctx, db, day.ID)
	}
	day.LockedSnapshot = raw
	day.LockedAt = &lockedAt
	return day, nil
}

func (s *Service) UpdateDeliveryDetails(ctx context.Context, subscriptionID snowflake.ID, address *domain.Address, window string) (*domain.Subscription, error) {
	sub, err := s.repo.FindSubscription(ctx, s.db, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.DeliveryMode != domain.DeliveryModeDelivery {
		return nil, domain.ErrNotDeliveryMode
	}
	if address == nil {
		return nil, domain.ErrMissingAddress
	}
	if err := s.validateWindow(ctx, window); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(address)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateDeliveryDetails(ctx, s.db, sub.ID, raw, window); err != nil {
		return nil, err
	}
	sub.DeliveryAddress = raw
	sub.DeliveryWindow = window
	return sub, nil
}

func (s *Service) UpdateDayDelivery(ctx context.Context, subscriptionID snowflake.ID, date string, address *domain.Address, window string) (*domain.SubscriptionDay, error) {
	sub, err := s.repo.FindSubscription(ctx, s.db, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.DeliveryMode != domain.DeliveryModeDelivery {
		return nil, domain.ErrNotDeliveryMode
	}
	now := s.clock.Now()
	if err := ensureActive(sub, now); err != nil {
		return nil, err
	}
	if err := s.validateEditableDate(ctx, date, now); err != nil {
		return nil, err
	}
	if window != "" {
		if err := s.validateWindow(ctx, window); err != nil {
			return nil, err
		}
	}

	var addressRaw datatypes.JSON
	if address != nil {
		raw, err := json.Marshal(address)
		if err != nil {
			return nil, err
		}
		addressRaw = raw
	}

	var updated *domain.SubscriptionDay
	err = s.db.Transaction(func(tx *gorm.DB) error {
		day, err := s.findOrCreateDay(ctx, tx, sub, date)
		if err != nil {
			return err
		}
		claimed, err := s.repo.UpdateDayDeliveryOverride(ctx, tx, day.ID, addressRaw, window)
		if err != nil {
			return err
		}
		if !claimed {
			return domain.ErrDayLocked
		}
		day.DeliveryAddressOverride = addressRaw
		day.DeliveryWindowOverride = window
		updated = day
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ensureActive rejects non-active subscriptions and active ones whose
// validity window already ended in the KSA calendar.
func ensureActive(sub *domain.Subscription, now time.Time) error {
	if sub.Status != domain.SubscriptionStatusActive {
		return domain.ErrSubscriptionInactive
	}
	end := sub.ValidityEnd()
	if end != nil && ksatime.Compare(ksatime.Today(now), ksatime.DateString(*end)) > 0 {
		return domain.ErrSubscriptionExpired
	}
	return nil
}

// validateEditableDate enforces the cutoff rule: client edits reach no
// earlier than tomorrow, and tomorrow itself closes at today's cutoff time.
// Days dated today or earlier belong to the kitchen.
func (s *Service) validateEditableDate(ctx context.Context, date string, now time.Time) error {
	if !ksatime.IsValidDate(date) {
		return domain.ErrInvalidDate
	}
	switch ksatime.Compare(date, ksatime.Tomorrow(now)) {
	case -1:
		return domain.ErrCutoffPassed
	case 0:
		cutoff := s.settings.GetString(ctx, settings.KeyCutoffTime, "00:00")
		before, err := ksatime.BeforeCutoff(now, cutoff)
		if err != nil {
			return err
		}
		if !before {
			return domain.ErrCutoffPassed
		}
	}
	return nil
}

func (s *Service) validateWindow(ctx context.Context, window string) error {
	if window == "" {
		return domain.ErrInvalidWindow
	}
	windows := s.settings.GetStrings(ctx, settings.KeyDeliveryWindows, []string{"08:00-11:00", "12:00-15:00"})
	for _, w := range windows {
		if w == window {
			return nil
		}
	}
	return domain.ErrInvalidWindow
}

func (s *Service) validateMeals(ctx context.Context, selections, premiumSelections []snowflake.ID) error {
	unique := make(map[snowflake.ID]struct{}, len(selections)+len(premiumSelections))
	ids := make([]snowflake.ID, 0, len(selections)+len(premiumSelections))
	for _, id := range append(append([]snowflake.ID{}, selections...), premiumSelections...) {
		if _, seen := unique[id]; !seen {
			unique[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	meals, err := s.catalog.FindMeals(ctx, s.db, ids)
	if err != nil {
		return err
	}
	byID := make(map[snowflake.ID]catalog.Meal, len(meals))
	for _, meal := range meals {
		byID[meal.ID] = meal
	}
	for _, id := range selections {
		meal, ok := byID[id]
		if !ok || !meal.IsActive {
			return domain.ErrMealNotFound
		}
		if meal.IsPremium() {
			return domain.ErrMealTypeMismatch
		}
	}
	for _, id := range premiumSelections {
		meal, ok := byID[id]
		if !ok || !meal.IsActive {
			return domain.ErrMealNotFound
		}
		if !meal.IsPremium() {
			return domain.ErrMealTypeMismatch
		}
	}
	return nil
}

// findOrCreateDay returns the day row for the date, creating an open one when
// the date sits inside the validity window but has no row yet. A create that
// loses a unique-index race falls back to reading the winner.
func (s *Service) findOrCreateDay(ctx context.Context, db *gorm.DB, sub *domain.Subscription, date string) (*domain.SubscriptionDay, error) {
	day, err := s.repo.FindDay(ctx, db, sub.ID, date)
	if err == nil {
		return day, nil
	}
	if !errors.Is(err, domain.ErrDayNotFound) {
		return nil, err
	}

	end := sub.ValidityEnd()
	if end == nil || ksatime.Compare(date, ksatime.DateString(*end)) > 0 {
		return nil, domain.ErrDayNotFound
	}
	if sub.StartDate != nil && ksatime.Compare(date, ksatime.DateString(*sub.StartDate)) < 0 {
		return nil, domain.ErrDayNotFound
	}

	now := s.clock.Now().UTC()
	created := &domain.SubscriptionDay{
		ID:             s.node.Generate(),
		SubscriptionID: sub.ID,
		Date:           date,
		Status:         domain.DayStatusOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.CreateDay(ctx, db, created); err != nil {
		if existing, findErr := s.repo.FindDay(ctx, db, sub.ID, date); findErr == nil {
			return existing, nil
		}
		return nil, err
	}
	return created, nil
}

func requireOpen(day *domain.SubscriptionDay) error {
	switch day.Status {
	case domain.DayStatusOpen:
		return nil
	case domain.DayStatusSkipped:
		return domain.ErrDaySkipped
	case domain.DayStatusFulfilled:
		return domain.ErrDayFulfilled
	default:
		return domain.ErrDayLocked
	}
}

func sameIDSet(a, b []snowflake.ID) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]snowflake.ID{}, a...)
	bs := append([]snowflake.ID{}, b...)
	sort.Slice(as, func(i, j int) bool { return as[i] < as[j] })
	sort.Slice(bs, func(i, j int) bool { return bs[i] < bs[j] })
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
