// Package activitylog records who did what to which entity. Entries are an
// append-only trail for support and dispute resolution; writing one is best
// effort and never fails the action it describes.
package activitylog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Entry struct {
	ID         snowflake.ID   `gorm:"primaryKey"`
	EntityType string         `gorm:"type:text;not null"`
	EntityID   string         `gorm:"type:text;not null;index:ix_activity_logs_entity,priority:2"`
	Action     string         `gorm:"type:text;not null"`
	ByUserID   *snowflake.ID  `gorm:"column:by_user_id"`
	ByRole     string         `gorm:"type:text;not null;default:''"`
	Meta       datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt  time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Entry) TableName() string { return "activity_logs" }

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	log  *zap.Logger
}

type Params struct {
	fx.In

	DB   *gorm.DB
	Node *snowflake.Node
	Log  *zap.Logger
}

func NewService(p Params) *Service {
	return &Service{db: p.DB, node: p.Node, log: p.Log.Named("activitylog")}
}

var Module = fx.Module("activitylog",
	fx.Provide(NewService),
)

func (s *Service) Record(ctx context.Context, entityType string, entityID snowflake.ID, action, byRole string, byUserID *snowflake.ID, meta map[string]any) {
	var raw datatypes.JSON
	if len(meta) > 0 {
		encoded, err := json.Marshal(meta)
		if err != nil {
			s.log.Warn("activity meta not serializable", zap.Error(err))
		} else {
			raw = encoded
		}
	}
	entry := &Entry{
		ID:         s.node.Generate(),
		EntityType: entityType,
		EntityID:   entityID.String(),
		Action:     action,
		ByUserID:   byUserID,
		ByRole:     byRole,
		Meta:       raw,
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		s.log.Warn("activity entry dropped",
			zap.String("entity_type", entityType),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}

// ListForEntity returns the newest entries first.
func (s *Service) ListForEntity(ctx context.Context, entityType string, entityID snowflake.ID, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var entries []Entry
	err := s.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID.String()).
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}
