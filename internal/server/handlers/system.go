package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mantonx/vvf/internal/database"
	apperrors "github.com/mantonx/vvf/internal/errors"
	"github.com/mantonx/vvf/internal/icons"
	"github.com/mantonx/vvf/internal/origins/installed"
	"github.com/mantonx/vvf/internal/updates"
	"gorm.io/gorm"
)

// SystemHandler serves diagnostics around the extension runtime. Every
// dependency is optional; routes for a missing one answer 503.
type SystemHandler struct {
	extensions *ExtensionsHandler
	db         *gorm.DB
	icons      *icons.Cache
	launcher   *installed.Launcher
	updates    *updates.Checker
	started    time.Time
}

// NewSystemHandler creates a system handler.
func NewSystemHandler(extensions *ExtensionsHandler, db *gorm.DB, iconCache *icons.Cache, launcher *installed.Launcher, checker *updates.Checker) *SystemHandler {
	return &SystemHandler{
		extensions: extensions,
		db:         db,
		icons:      iconCache,
		launcher:   launcher,
		updates:    checker,
		started:    time.Now(),
	}
}

func unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": what + " not configured"})
}

// Health reports liveness.
func (h *SystemHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
		"kinds":  h.extensions.manager.Kinds(),
	})
}

// Statuses lists the recorded load states, optionally for ?kind=.
func (h *SystemHandler) Statuses(c *gin.Context) {
	if h.db == nil {
		unavailable(c, "database")
		return
	}
	statuses, err := database.ListStatuses(c.Request.Context(), h.db, c.Query("kind"))
	if err != nil {
		apperrors.HandleDatabaseError(c, "list statuses", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"statuses": statuses, "count": len(statuses)})
}

// Processes lists running extension processes.
func (h *SystemHandler) Processes(c *gin.Context) {
	if h.launcher == nil {
		unavailable(c, "process launcher")
		return
	}
	procs := h.launcher.Processes()
	c.JSON(http.StatusOK, gin.H{"processes": procs, "count": len(procs)})
}

// Icon serves the cached icon of an extension.
func (h *SystemHandler) Icon(c *gin.Context) {
	if h.icons == nil {
		unavailable(c, "icon cache")
		return
	}
	rt, ok := h.extensions.runtime(c)
	if !ok {
		return
	}
	e, ok := known(c.Request.Context(), rt, c.Param("id"))
	if !ok {
		apperrors.HandleNotFound(c, "extension", c.Param("id"))
		return
	}
	if e.Metadata.IconURL == "" {
		apperrors.HandleNotFound(c, "icon", e.Metadata.ID)
		return
	}
	icon, err := h.icons.Get(c.Request.Context(), e.Metadata.IconURL)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "icon unavailable", "details": err.Error()})
		return
	}
	c.Header("Content-Type", icon.ContentType)
	c.Header("Cache-Control", "public, max-age=86400")
	c.File(icon.Path)
}

// Updates returns the result of the last update check.
func (h *SystemHandler) Updates(c *gin.Context) {
	if h.updates == nil {
		unavailable(c, "update checker")
		return
	}
	latest := h.updates.Latest()
	c.JSON(http.StatusOK, gin.H{"updates": latest, "count": len(latest)})
}

// CheckUpdates runs an update check over every known extension.
func (h *SystemHandler) CheckUpdates(c *gin.Context) {
	if h.updates == nil {
		unavailable(c, "update checker")
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), refreshTimeout)
	defer cancel()
	found := h.updates.Check(ctx, h.extensions.manager.KnownMetadata(ctx))
	c.JSON(http.StatusOK, gin.H{"updates": found, "count": len(found)})
}
