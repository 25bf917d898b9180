// Package notify dispatches user-facing notifications. Delivery is best
// effort: a failed notification is logged and dropped, never surfaced to the
// flow that triggered it.
package notify

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

type Log struct {
	ID        snowflake.ID   `gorm:"primaryKey"`
	UserID    snowflake.ID   `gorm:"not null"`
	Title     string         `gorm:"type:text;not null"`
	Body      string         `gorm:"type:text;not null"`
	Data      datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Log) TableName() string { return "notification_logs" }

type Dispatcher interface {
	Notify(ctx context.Context, userID snowflake.ID, title, body string, data map[string]any)
}

type dbDispatcher struct {
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

func NewDispatcher(p Params) Dispatcher {
	return &dbDispatcher{db: p.DB, node: p.Node, log: p.Log.Named("notify")}
}

var Module = fx.Module("notify",
	fx.Provide(NewDispatcher),
)

func (d *dbDispatcher) Notify(ctx context.Context, userID snowflake.ID, title, body string, data map[string]any) {
	var raw datatypes.JSON
	if len(data) > 0 {
		encoded, err := json.Marshal(data)
		if err != nil {
			d.log.Warn("notification payload not serializable", zap.Error(err))
		} else {
			raw = encoded
		}
	}
	entry := &Log{
		ID:     d.node.Generate(),
		UserID: userID,
		Title:  title,
		Body:   body,
		Data:   raw,
	}
	if err := d.db.WithContext(ctx).Create(entry).Error; err != nil {
		d.log.Warn("notification dropped",
			zap.String("user_id", userID.String()),
			zap.String("title", title),
			zap.Error(err),
		)
	}
}
