package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/ferryman/internal/services"
)

// SyncHandler exposes manual sync and the reload history.
type SyncHandler struct {
	sync     Syncer
	reloader *services.Reloader
}

func NewSyncHandler(sync Syncer, reloader *services.Reloader) *SyncHandler {
	return &SyncHandler{sync: sync, reloader: reloader}
}

func (h *SyncHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/sync", h.Sync)
	router.GET("/reloads", h.History)
}

// Sync rewrites every config file from the database and reloads once.
func (h *SyncHandler) Sync(c *gin.Context) {
	if err := h.sync.Sync(c.Request.Context()); err != nil {
		applyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "configuration applied"})
}

// History lists the most recent reload attempts, newest first.
func (h *SyncHandler) History(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	audits, err := h.reloader.History(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, audits)
}
