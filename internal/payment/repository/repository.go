package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sufrahq/sufra/internal/payment/domain"
	"gorm.io/gorm"
)

type Repository struct{}

func Provide() domain.Repository {
	return &Repository{}
}

func (r *Repository) ResolveOrCreate(ctx context.Context, db *gorm.DB, p *domain.Payment) (*domain.Payment, error) {
	if existing, err := r.findByProviderIDs(ctx, db, p.Provider, p.ProviderPaymentID, p.ProviderInvoiceID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		// A concurrent webhook call may have inserted the same charge; the
		// partial unique indexes on provider ids make the winner findable.
		existing, findErr := r.findByProviderIDs(ctx, db, p.Provider, p.ProviderPaymentID, p.ProviderInvoiceID)
		if findErr == nil && existing != nil {
			return existing, nil
		}
		return nil, err
	}
	return p, nil
}

func (r *Repository) findByProviderIDs(ctx context.Context, db *gorm.DB, provider string, paymentID, invoiceID *string) (*domain.Payment, error) {
	if paymentID != nil && *paymentID != "" {
		var p domain.Payment
		err := db.WithContext(ctx).First(&p, "provider = ? AND provider_payment_id = ?", provider, *paymentID).Error
		if err == nil {
			return &p, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if invoiceID != nil && *invoiceID != "" {
		var p domain.Payment
		err := db.WithContext(ctx).First(&p, "provider = ? AND provider_invoice_id = ?", provider, *invoiceID).Error
		if err == nil {
			return &p, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

func (r *Repository) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	var p domain.Payment
	err := db.WithContext(ctx).First(&p, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *Repository) ClaimApplied(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET applied = ?, updated_at = ?
		 WHERE id = ? AND applied = ?`,
		true,
		time.Now().UTC(),
		id,
		false,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *Repository) SetStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.Status, paidAt *time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, paid_at = ?, updated_at = ?
		 WHERE id = ?`,
		status,
		paidAt,
		time.Now().UTC(),
		id,
	).Error
}

func (r *Repository) RecordUnappliedReason(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string) error {
	p, err := r.FindByID(ctx, db, id)
	if err != nil {
		return err
	}
	meta := map[string]any{}
	if len(p.Metadata) > 0 {
		_ = json.Unmarshal(p.Metadata, &meta)
	}
	meta["unapplied_reason"] = reason
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET metadata = ?, updated_at = ?
		 WHERE id = ?`,
		raw,
		time.Now().UTC(),
		id,
	).Error
}
