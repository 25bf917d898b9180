package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Service interface {
	// IngestWebhook verifies, records and applies one provider webhook call.
	// Replays and out-of-order retries are absorbed by the payment row's
	// applied latch.
	IngestWebhook(ctx context.Context, secretToken string, payload []byte) error
}

// Repository is the storage surface for the payment application ledger.
type Repository interface {
	// ResolveOrCreate finds the payment matching the event's provider
	// identifiers, creating the row when the charge is first seen. A create
	// losing the unique-index race falls back to the winner's row.
	ResolveOrCreate(ctx context.Context, db *gorm.DB, p *Payment) (*Payment, error)

	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)

	// ClaimApplied latches applied false→true; false means another call
	// already owns the effects.
	ClaimApplied(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)

	SetStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status Status, paidAt *time.Time) error

	// RecordUnappliedReason notes why a claimed payment's effect was refused.
	// The claim stays latched: a refused effect is final, not retryable.
	RecordUnappliedReason(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string) error
}

var (
	ErrInvalidSignature   = errors.New("invalid_signature")
	ErrInvalidPayload     = errors.New("invalid_payload")
	ErrInvalidEvent       = errors.New("invalid_event")
	ErrUnknownPaymentType = errors.New("unknown_payment_type")
	ErrPaymentNotFound    = errors.New("payment_not_found")
)
