package settings

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Setting is a DB-backed key→value runtime tunable.
type Setting struct {
	Key       string         `gorm:"primaryKey;type:text"`
	Value     datatypes.JSON `gorm:"type:jsonb;not null"`
	UpdatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Setting) TableName() string { return "settings" }

// Well-known keys.
const (
	KeyCutoffTime           = "cutoff_time"
	KeyDeliveryWindows      = "delivery_windows"
	KeySkipAllowance        = "skip_allowance"
	KeyPremiumPrice         = "premium_price"
	KeyOneTimeMealPrice     = "one_time_meal_price"
	KeyCustomSaladBasePrice = "custom_salad_base_price"
	KeyCutoffLastRun        = "cutoff_last_run"
)

// Defaults returned when a key is unset.
var defaults = map[string]any{
	KeyCutoffTime:           "00:00",
	KeyDeliveryWindows:      []string{"08:00-11:00", "12:00-15:00"},
	KeySkipAllowance:        3,
	KeyPremiumPrice:         20.0,
	KeyOneTimeMealPrice:     25.0,
	KeyCustomSaladBasePrice: 0.0,
}

const cacheTTL = 30 * time.Second

type cachedValue struct {
	raw       datatypes.JSON
	missing   bool
	expiresAt time.Time
}

// Service reads and writes settings with a short read-through cache. The
// cache only serves hot-path reads; the cutoff checkpoint bypasses it.
type Service struct {
	db  *gorm.DB
	log *zap.Logger

	mu    sync.Mutex
	cache map[string]cachedValue
}

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

func NewService(p Params) *Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("settings"),
		cache: make(map[string]cachedValue),
	}
}

var Module = fx.Module("settings",
	fx.Provide(NewService),
)

func (s *Service) raw(ctx context.Context, key string) (datatypes.JSON, bool, error) {
	s.mu.Lock()
	entry, ok := s.cache[key]
	s.mu.Unlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.raw, !entry.missing, nil
	}

	var setting Setting
	err := s.db.WithContext(ctx).First(&setting, "key = ?", key).Error
	missing := errors.Is(err, gorm.ErrRecordNotFound)
	if err != nil && !missing {
		return nil, false, err
	}

	s.mu.Lock()
	s.cache[key] = cachedValue{raw: setting.Value, missing: missing, expiresAt: time.Now().Add(cacheTTL)}
	s.mu.Unlock()

	return setting.Value, !missing, nil
}

// GetString returns the setting or the registered/provided fallback.
func (s *Service) GetString(ctx context.Context, key, fallback string) string {
	raw, ok, err := s.raw(ctx, key)
	if err != nil || !ok {
		if v, has := defaults[key].(string); has && fallback == "" {
			return v
		}
		return fallback
	}
	var v string
	if json.Unmarshal(raw, &v) != nil {
		return fallback
	}
	return v
}

// GetInt returns the setting as an int, falling back on absence or shape
// mismatch.
func (s *Service) GetInt(ctx context.Context, key string, fallback int) int {
	raw, ok, err := s.raw(ctx, key)
	if err != nil || !ok {
		return fallback
	}
	var v float64
	if json.Unmarshal(raw, &v) != nil {
		return fallback
	}
	return int(v)
}

// GetFloat returns the setting as a float64.
func (s *Service) GetFloat(ctx context.Context, key string, fallback float64) float64 {
	raw, ok, err := s.raw(ctx, key)
	if err != nil || !ok {
		return fallback
	}
	var v float64
	if json.Unmarshal(raw, &v) != nil {
		return fallback
	}
	return v
}

// GetStrings returns the setting as a string slice.
func (s *Service) GetStrings(ctx context.Context, key string, fallback []string) []string {
	raw, ok, err := s.raw(ctx, key)
	if err != nil || !ok {
		return fallback
	}
	var v []string
	if json.Unmarshal(raw, &v) != nil {
		return fallback
	}
	return v
}

// Set upserts a setting and invalidates its cache entry.
func (s *Service) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Exec(
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key,
		datatypes.JSON(raw),
		time.Now().UTC(),
	).Error
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()
	return nil
}

// All returns every stored setting merged over the defaults.
func (s *Service) All(ctx context.Context) (map[string]any, error) {
	var rows []Setting
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]any, len(defaults)+len(rows))
	for key, value := range defaults {
		out[key] = value
	}
	for _, row := range rows {
		var v any
		if json.Unmarshal(row.Value, &v) == nil {
			out[row.Key] = v
		}
	}
	return out, nil
}

// ClaimDailyRun records that a named daily job ran for the given date. It is
// a conditional upsert: exactly one caller per date observes true, so the
// checkpoint survives process restarts and concurrent sweeps.
func (s *Service) ClaimDailyRun(ctx context.Context, key, date string) (bool, error) {
	raw, err := json.Marshal(date)
	if err != nil {
		return false, err
	}
	result := s.db.WithContext(ctx).Exec(
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		 WHERE settings.value <> excluded.value`,
		key,
		datatypes.JSON(raw),
		time.Now().UTC(),
	)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected > 0 {
		s.mu.Lock()
		delete(s.cache, key)
		s.mu.Unlock()
		return true, nil
	}
	return false, nil
}
