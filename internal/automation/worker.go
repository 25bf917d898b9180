// Package automation runs the daily cutoff sweep: once per KSA calendar day,
// at or after the configured cutoff time, every still-open day dated tomorrow
// on an active subscription is filled, snapshotted and locked.
package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sufrahq/sufra/internal/catalog"
	"github.com/sufrahq/sufra/internal/clock"
	"github.com/sufrahq/sufra/internal/ksatime"
	"github.com/sufrahq/sufra/internal/metrics"
	"github.com/sufrahq/sufra/internal/notify"
	"github.com/sufrahq/sufra/internal/settings"
	subdomain "github.com/sufrahq/sufra/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const sweepTimeout = 5 * time.Minute

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Repo     subdomain.Repository
	Subs     subdomain.Service
	Catalog  *catalog.Repository
	Settings *settings.Service
	Notifier notify.Dispatcher
	Metrics  *metrics.Metrics
	Clock    clock.Clock
}

type Worker struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     subdomain.Repository
	subs     subdomain.Service
	catalog  *catalog.Repository
	settings *settings.Service
	notifier notify.Dispatcher
	metrics  *metrics.Metrics
	clock    clock.Clock
}

func NewWorker(p Params) *Worker {
	return &Worker{
		db:       p.DB,
		log:      p.Log.Named("automation"),
		repo:     p.Repo,
		subs:     p.Subs,
		catalog:  p.Catalog,
		settings: p.Settings,
		notifier: p.Notifier,
		metrics:  p.Metrics,
		clock:    p.Clock,
	}
}

var Module = fx.Module("automation",
	fx.Provide(NewWorker),
	fx.Invoke(runWorker),
)

// runWorker ticks every minute; RunSweep decides whether the cutoff has fired.
func runWorker(lc fx.Lifecycle, w *Worker) error {
	c := cron.New()
	_, err := c.AddFunc("* * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()
		if err := w.RunSweep(ctx); err != nil {
			w.log.Error("cutoff sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			c.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			stopped := c.Stop()
			select {
			case <-stopped.Done():
			case <-ctx.Done():
			}
			return nil
		},
	})
	return nil
}

// RunSweep runs the sweep at most once per successful KSA calendar day. The
// checkpoint lives in the settings store, so it survives restarts.
func (w *Worker) RunSweep(ctx context.Context) error {
	now := w.clock.Now()
	cutoff := w.settings.GetString(ctx, settings.KeyCutoffTime, "00:00")
	before, err := ksatime.BeforeCutoff(now, cutoff)
	if err != nil {
		return err
	}
	if before {
		return nil
	}

	today := ksatime.Today(now)
	if w.settings.GetString(ctx, settings.KeyCutoffLastRun, "") == today {
		return nil
	}
	if err := w.sweep(ctx, ksatime.Tomorrow(now)); err != nil {
		return err
	}

	// The checkpoint records only a completed sweep, so a failed run is
	// retried on the next tick. Concurrent replicas may both sweep once; the
	// per-day status claims keep that harmless.
	_, err = w.settings.ClaimDailyRun(ctx, settings.KeyCutoffLastRun, today)
	return err
}

func (w *Worker) sweep(ctx context.Context, date string) error {
	days, err := w.repo.ListOpenDaysForDate(ctx, w.db, date)
	if err != nil {
		return err
	}
	w.log.Info("cutoff sweep start", zap.String("date", date), zap.Int("open_days", len(days)))

	locked, failed := 0, 0
	for i := range days {
		if err := w.lockDay(ctx, &days[i]); err != nil {
			w.log.Warn("cutoff sweep skipped a day",
				zap.String("day_id", days[i].ID.String()),
				zap.Error(err),
			)
			failed++
			continue
		}
		locked++
	}

	w.metrics.CutoffSweepRuns.Inc()
	w.log.Info("cutoff sweep finished", zap.String("date", date), zap.Int("locked", locked), zap.Int("failed", failed))
	if failed > 0 {
		return fmt.Errorf("cutoff sweep left %d of %d days unlocked", failed, len(days))
	}
	return nil
}

func (w *Worker) lockDay(ctx context.Context, day *subdomain.SubscriptionDay) error {
	sub, err := w.repo.FindSubscription(ctx, w.db, day.SubscriptionID)
	if err != nil {
		return err
	}
	if sub.Status != subdomain.SubscriptionStatusActive {
		return nil
	}
	plan, err := w.repo.FindPlan(ctx, w.db, sub.PlanID)
	if err != nil {
		return err
	}

	// Subscribers who never chose get the kitchen's default meal set.
	if len(day.SelectionIDs())+len(day.PremiumSelectionIDs()) == 0 {
		defaults, err := w.catalog.DefaultMealIDs(ctx, w.db, plan.MealsPerDay)
		if err != nil {
			return err
		}
		encoded := subdomain.EncodeIDs(defaults)
		if err := w.repo.MarkAssignedByKitchen(ctx, w.db, day.ID, encoded); err != nil {
			return err
		}
		day.Selections = encoded
		day.AssignedByKitchen = true
	}

	day, err = w.subs.EnsureLockedSnapshot(ctx, w.db, sub, plan, day)
	if err != nil {
		return err
	}

	claimed, err := w.repo.TransitionStatus(ctx, w.db, day.ID, subdomain.DayStatusOpen, subdomain.DayStatusLocked)
	if err != nil {
		return err
	}
	if !claimed {
		// A manual lock or skip won the race; leave it alone.
		return nil
	}

	w.metrics.DaysLockedBySweep.Inc()
	w.notifier.Notify(ctx, sub.UserID, "Your meals are locked in",
		"Tomorrow's menu is confirmed and headed to the kitchen.",
		map[string]any{"date": day.Date, "day_id": day.ID.String()},
	)
	return nil
}
