// Package handlers provides HTTP handlers for the extension runtime.
package handlers

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	apperrors "github.com/mantonx/vvf/internal/errors"
	"github.com/mantonx/vvf/internal/modules/pluginmodule"
	plugins "github.com/mantonx/vvf/sdk"
)

const refreshTimeout = 2 * time.Minute

// ExtensionsHandler exposes the per kind runtimes.
type ExtensionsHandler struct {
	manager *pluginmodule.Manager
}

// NewExtensionsHandler creates a handler over manager.
func NewExtensionsHandler(manager *pluginmodule.Manager) *ExtensionsHandler {
	return &ExtensionsHandler{manager: manager}
}

// runtime resolves the :kind parameter, writing the error response itself.
func (h *ExtensionsHandler) runtime(c *gin.Context) (*pluginmodule.Runtime, bool) {
	kind, err := plugins.ParseCapabilityKind(c.Param("kind"))
	if err != nil {
		apperrors.HandleValidationError(c, err.Error(), "kind")
		return nil, false
	}
	rt, err := h.manager.Runtime(kind)
	if err != nil {
		apperrors.HandleNotFound(c, "capability kind", string(kind))
		return nil, false
	}
	return rt, true
}

func known(ctx context.Context, rt *pluginmodule.Runtime, id string) (pluginmodule.Entry, bool) {
	for _, e := range rt.Known(ctx) {
		if e.Metadata.ID == id {
			return e, true
		}
	}
	return pluginmodule.Entry{}, false
}

// ListKinds returns a summary of every managed kind.
func (h *ExtensionsHandler) ListKinds(c *gin.Context) {
	kinds := make([]gin.H, 0)
	for _, kind := range h.manager.Kinds() {
		rt, err := h.manager.Runtime(kind)
		if err != nil {
			continue
		}
		view := rt.View()
		summary := gin.H{
			"kind":    kind,
			"active":  view.IDs(),
			"version": view.Version,
			"stale":   view.Stale,
		}
		if e, ok := view.Selected(); ok {
			summary["selected"] = e.Metadata.ID
		}
		kinds = append(kinds, summary)
	}
	c.JSON(http.StatusOK, gin.H{"kinds": kinds, "count": len(kinds)})
}

// GetView returns the current active list of a kind.
func (h *ExtensionsHandler) GetView(c *gin.Context) {
	rt, ok := h.runtime(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rt.View())
}

// GetKnown returns every composed extension including disabled ones.
func (h *ExtensionsHandler) GetKnown(c *gin.Context) {
	rt, ok := h.runtime(c)
	if !ok {
		return
	}
	entries := rt.Known(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"kind": rt.Kind(), "extensions": entries, "count": len(entries)})
}

// GetSelected returns the highest priority active extension.
func (h *ExtensionsHandler) GetSelected(c *gin.Context) {
	rt, ok := h.runtime(c)
	if !ok {
		return
	}
	e, ok := rt.Selected()
	if !ok {
		apperrors.HandleNotFound(c, "selected extension", string(rt.Kind()))
		return
	}
	c.JSON(http.StatusOK, e)
}

// GetExtension returns one known extension.
func (h *ExtensionsHandler) GetExtension(c *gin.Context) {
	rt, ok := h.runtime(c)
	if !ok {
		return
	}
	e, ok := known(c.Request.Context(), rt, c.Param("id"))
	if !ok {
		apperrors.HandleNotFound(c, "extension", c.Param("id"))
		return
	}
	_, active := rt.Lookup(e.Metadata.ID)
	c.JSON(http.StatusOK, gin.H{"extension": e, "active": active})
}

// EnableExtension sets the stored enabled flag.
func (h *ExtensionsHandler) EnableExtension(c *gin.Context) { h.setEnabled(c, true) }

// DisableExtension clears the stored enabled flag.
func (h *ExtensionsHandler) DisableExtension(c *gin.Context) { h.setEnabled(c, false) }

func (h *ExtensionsHandler) setEnabled(c *gin.Context, enabled bool) {
	rt, ok := h.runtime(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if err := rt.SetEnabled(c.Request.Context(), id, enabled); err != nil {
		respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "enabled": enabled, "active": rt.View().IDs()})
}

type priorityRequest struct {
	IDs []string `json:"ids"`
}

// SetPriority stores a new order for the kind.
func (h *ExtensionsHandler) SetPriority(c *gin.Context) {
	rt, ok := h.runtime(c)
	if !ok {
		return
	}
	var req priorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleValidationError(c, "invalid priority body: "+err.Error(), "ids")
		return
	}
	if err := rt.SetPriority(c.Request.Context(), req.IDs); err != nil {
		respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"kind": rt.Kind(), "priority": req.IDs, "active": rt.View().IDs()})
}

// GetSettings returns the effective init settings of an extension.
func (h *ExtensionsHandler) GetSettings(c *gin.Context) {
	rt, ok := h.runtime(c)
	if !ok {
		return
	}
	e, ok := known(c.Request.Context(), rt, c.Param("id"))
	if !ok {
		apperrors.HandleNotFound(c, "extension", c.Param("id"))
		return
	}
	settings, err := h.manager.Settings().Resolve(c.Request.Context(), rt.Kind(), e.Metadata)
	if err != nil {
		apperrors.HandleDatabaseError(c, "resolve settings", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": e.Metadata.ID, "settings": settings})
}

// UpdateSettings stores setting overrides. They apply from the next scan.
func (h *ExtensionsHandler) UpdateSettings(c *gin.Context) {
	rt, ok := h.runtime(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if _, ok := known(c.Request.Context(), rt, id); !ok {
		apperrors.HandleNotFound(c, "extension", id)
		return
	}
	var values map[string]string
	if err := c.ShouldBindJSON(&values); err != nil {
		apperrors.HandleValidationError(c, "invalid settings body: "+err.Error(), "settings")
		return
	}
	for key, value := range values {
		if err := h.manager.Settings().Set(c.Request.Context(), rt.Kind(), id, key, value); err != nil {
			respond(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "updated": len(values)})
}

// RefreshKind rescans one kind.
func (h *ExtensionsHandler) RefreshKind(c *gin.Context) {
	rt, ok := h.runtime(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), refreshTimeout)
	defer cancel()
	if err := rt.Refresh(ctx); err != nil {
		apperrors.HandleInternalError(c, "refresh failed", err)
		return
	}
	c.JSON(http.StatusOK, rt.View())
}

// RefreshAll rescans every kind.
func (h *ExtensionsHandler) RefreshAll(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), refreshTimeout)
	defer cancel()
	if err := h.manager.Refresh(ctx); err != nil {
		apperrors.HandleInternalError(c, "refresh failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "extensions refreshed"})
}

// respond writes err as a structured response, keeping VVFError codes.
func respond(c *gin.Context, err error) {
	var e *apperrors.VVFError
	if stderrors.As(err, &e) {
		e.ToGinResponse(c)
		return
	}
	apperrors.HandleInternalError(c, "request failed", err)
}
