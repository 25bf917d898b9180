package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Service is the credit ledger: atomic debit/credit of a subscription's meal
// and premium balances. Debits are guarded conditional updates — a failed
// guard means nothing happened, never a partial effect.
//
// Each method takes an explicit db handle so callers can run the ledger
// inside a wider transaction (day status + balance must commit together) or
// standalone (a plain top-up needs no transaction).
type Service interface {
	DebitMeals(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, amount int) error
	CreditMeals(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, amount int) error
	DebitPremium(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, amount int) error
	CreditPremium(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, amount int) error
}

var (
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrInsufficientCredits  = errors.New("insufficient_credits")
	ErrInsufficientPremium  = errors.New("insufficient_premium")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
)
