package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sufrahq/sufra/internal/ksatime"
	"github.com/sufrahq/sufra/internal/settings"
)

// PublicSettings exposes the client-relevant tunables; internal checkpoints
// stay hidden.
func (s *Server) PublicSettings(c *gin.Context) {
	all, err := s.settings.All(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	delete(all, settings.KeyCutoffLastRun)
	c.JSON(http.StatusOK, gin.H{"data": all})
}

// ListSettings godoc
// @Summary List runtime settings merged over defaults
// @Produce json
// @Router /admin/settings [get]
func (s *Server) ListSettings(c *gin.Context) {
	all, err := s.settings.All(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": all})
}

type updateSettingRequest struct {
	Value any `json:"value"`
}

// UpdateSetting godoc
// @Summary Upsert one runtime setting
// @Accept json
// @Produce json
// @Router /admin/settings/{key} [put]
func (s *Server) UpdateSetting(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	if key == "" || key == settings.KeyCutoffLastRun {
		AbortWithError(c, invalidRequestError())
		return
	}
	var req updateSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Value == nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if key == settings.KeyCutoffTime {
		cutoff, ok := req.Value.(string)
		if !ok {
			AbortWithError(c, ksatime.ErrInvalidCutoff)
			return
		}
		if _, err := ksatime.BeforeCutoff(s.clock.Now(), cutoff); err != nil {
			AbortWithError(c, err)
			return
		}
	}

	if err := s.settings.Set(c.Request.Context(), key, req.Value); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"key": key, "value": req.Value}})
}

// ListActivity godoc
// @Summary List an entity's activity trail, newest first
// @Produce json
// @Router /admin/activity/{type}/{id} [get]
func (s *Server) ListActivity(c *gin.Context) {
	entityType := strings.TrimSpace(c.Param("type"))
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	entries, err := s.activity.ListForEntity(c.Request.Context(), entityType, id, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	out := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		h := gin.H{
			"id":          entry.ID.String(),
			"entity_type": entry.EntityType,
			"entity_id":   entry.EntityID,
			"action":      entry.Action,
			"by_role":     entry.ByRole,
			"created_at":  entry.CreatedAt,
		}
		if entry.ByUserID != nil {
			h["by_user_id"] = entry.ByUserID.String()
		}
		if len(entry.Meta) > 0 {
			h["meta"] = json.RawMessage(entry.Meta)
		}
		out = append(out, h)
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}
