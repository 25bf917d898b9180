package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sufrahq/sufra/internal/ledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Log *zap.Logger
}

type Service struct {
	log *zap.Logger
}

func NewService(p Params) domain.Service {
	return &Service{log: p.Log.Named("ledger.service")}
}

func (s *Service) DebitMeals(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, amount int) error {
	return s.debit(ctx, db, subscriptionID, amount, "remaining_meals", domain.ErrInsufficientCredits)
}

func (s *Service) CreditMeals(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, amount int) error {
	return s.credit(ctx, db, subscriptionID, amount, "remaining_meals")
}

func (s *Service) DebitPremium(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, amount int) error {
	return s.debit(ctx, db, subscriptionID, amount, "premium_remaining", domain.ErrInsufficientPremium)
}

func (s *Service) CreditPremium(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, amount int) error {
	return s.credit(ctx, db, subscriptionID, amount, "premium_remaining")
}

// debit decrements the balance column only when the guard holds. Zero rows
// affected means the balance was short (or the subscription is gone) and the
// caller must treat the debit as not having happened.
func (s *Service) debit(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, amount int, column string, short error) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	result := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET `+column+` = `+column+` - ?, updated_at = ?
		 WHERE id = ? AND `+column+` >= ?`,
		amount,
		time.Now().UTC(),
		subscriptionID,
		amount,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		s.log.Debug("ledger debit guard failed",
			zap.String("subscription_id", subscriptionID.String()),
			zap.String("balance", column),
			zap.Int("amount", amount),
		)
		return short
	}
	return nil
}

func (s *Service) credit(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, amount int, column string) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	result := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET `+column+` = `+column+` + ?, updated_at = ?
		 WHERE id = ?`,
		amount,
		time.Now().UTC(),
		subscriptionID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrSubscriptionNotFound
	}
	return nil
}
